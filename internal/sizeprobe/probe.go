// Package sizeprobe discovers a remote file's byte length via a HEAD
// request, tolerating header-name variants, redirects, and vendor
// extensions used by CDNs that resolve storage-backed artifacts.
package sizeprobe

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modelfetch/modelfetch/internal/engerr"
)

const (
	// DefaultTimeout bounds a single HEAD probe.
	DefaultTimeout = 30 * time.Second
	// DefaultBatchTimeout bounds each probe within a ProbeAll fan-out.
	DefaultBatchTimeout = 45 * time.Second
	// DefaultUserAgent is sent on probe requests; callers may override it.
	DefaultUserAgent = "modelfetch/1.0 (+https://github.com/modelfetch/modelfetch)"

	// linkedSizeHeader carries the post-resolution size on CDNs that proxy
	// storage-backed artifacts (e.g. LFS-style pointers); it takes priority
	// over Content-Length because Content-Length may describe a redirect
	// or pointer response rather than the final artifact.
	linkedSizeHeader = "X-Linked-Size"
)

// Result is the outcome of probing a single URL.
type Result struct {
	TotalBytes  int64
	ResolvedURL string
}

// Prober issues HEAD requests to resolve artifact byte sizes.
type Prober struct {
	Client       *http.Client
	UserAgent    string
	Timeout      time.Duration
	BatchTimeout time.Duration
}

// New creates a Prober with the package defaults. The supplied client's
// CheckRedirect is left untouched so the client follows redirects
// transparently per the default net/http policy; the probe result then
// reports the post-redirect URL so range requests skip the hop.
func New(client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{
		Client:       client,
		UserAgent:    DefaultUserAgent,
		Timeout:      DefaultTimeout,
		BatchTimeout: DefaultBatchTimeout,
	}
}

// Probe issues a HEAD request for url and returns the resolved byte size.
func (p *Prober) Probe(ctx context.Context, url string) (Result, error) {
	if err := ValidateURL(url); err != nil {
		return Result{}, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Result{}, &engerr.InvalidURLError{URL: url}
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", p.userAgent())

	resp, err := p.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, &engerr.TimeoutError{Op: "probe " + url}
		}
		return Result{}, &engerr.NetworkLostError{Cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
	default:
		return Result{}, &engerr.HTTPError{StatusCode: resp.StatusCode}
	}

	size, ok := sizeFromHeaders(resp.Header)
	if !ok {
		return Result{}, &engerr.FileSizeNotAvailableError{URL: url}
	}

	resolvedURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		resolvedURL = resp.Request.URL.String()
	}

	return Result{TotalBytes: size, ResolvedURL: resolvedURL}, nil
}

func (p *Prober) userAgent() string {
	if p.UserAgent != "" {
		return p.UserAgent
	}
	return DefaultUserAgent
}

// ProbeAll probes every url in parallel, bounding each attempt with
// BatchTimeout. If at least one probe succeeds the batch is considered
// successful: successes are returned in the results map and failures in
// the errs map. If every probe fails, the first encountered error is
// returned as err.
func (p *Prober) ProbeAll(ctx context.Context, urls []string) (results map[string]Result, errs map[string]error, err error) {
	batchTimeout := p.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}

	type outcome struct {
		url string
		res Result
		err error
	}
	outcomes := make([]outcome, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, batchTimeout)
			defer cancel()
			res, perr := p.Probe(probeCtx, u)
			outcomes[i] = outcome{url: u, res: res, err: perr}
			return nil
		})
	}
	// errgroup's ctx cancellation on first error is unused here deliberately:
	// a single URL's failure must not abort sibling probes (batch semantics).
	_ = g.Wait()

	results = make(map[string]Result)
	errs = make(map[string]error)
	var firstErr error
	for _, o := range outcomes {
		if o.err != nil {
			errs[o.url] = o.err
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		results[o.url] = o.res
	}

	if len(results) == 0 && len(urls) > 0 {
		return results, errs, firstErr
	}
	return results, errs, nil
}

// sizeFromHeaders searches, in priority order, for a positive body-size
// value among the vendor-extension header, Content-Length, and the total
// field of a Content-Range header. Header lookups via http.Header.Get are
// already case-insensitive (net/http canonicalizes header keys), which is
// what lets "x-linked-size", "X-Linked-Size", and "Content-length" all
// resolve identically.
func sizeFromHeaders(h http.Header) (int64, bool) {
	if v := h.Get(linkedSizeHeader); v != "" {
		if n, ok := parsePositiveInt64(v); ok {
			return n, true
		}
	}
	if v := h.Get("Content-Length"); v != "" {
		if n, ok := parsePositiveInt64(v); ok {
			return n, true
		}
	}
	if v := h.Get("Content-Range"); v != "" {
		if n, ok := parseContentRangeTotal(v); ok {
			return n, true
		}
	}
	return 0, false
}

func parsePositiveInt64(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// parseContentRangeTotal extracts C from "bytes A-B/C".
func parseContentRangeTotal(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, "/")
	if idx < 0 || idx == len(s)-1 {
		return 0, false
	}
	return parsePositiveInt64(s[idx+1:])
}

// ValidateURL performs the minimal sanity check Probe runs before any
// request is built, surfacing an invalid URL early rather than as an
// opaque transport error.
func ValidateURL(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return &engerr.InvalidURLError{URL: raw}
	}
	return nil
}
