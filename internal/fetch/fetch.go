// Package fetch performs a single chunk's byte-range HTTP GET against
// the origin and streams it to a writer, classifying failures into the
// engine's tagged error kinds.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/modelfetch/modelfetch/internal/engerr"
)

const (
	// DefaultUserAgent mirrors the Size Prober's identification string.
	DefaultUserAgent = "modelfetch/1.0 (+https://github.com/modelfetch/modelfetch)"
	// rateLimiterBurstChunk bounds how much of a write is released per
	// WaitN call when a bandwidth cap is configured, so a single large
	// write doesn't stall waiting for the whole burst at once.
	rateLimiterBurstChunk = 16 * 1024
)

// ProgressFunc is invoked with the number of bytes written by the most
// recent Write call, so callers can aggregate per-chunk progress into a
// session-wide snapshot without the fetcher knowing about sessions.
type ProgressFunc func(n int)

// Fetcher issues ranged GET requests for one chunk at a time.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	// Limiter, if non-nil, caps aggregate write throughput across all
	// chunks sharing it (bytes/sec). Shared by reference so the cap
	// applies session-wide, not per chunk.
	Limiter *rate.Limiter
}

// New creates a Fetcher using client (or a default one if nil).
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{Client: client, UserAgent: DefaultUserAgent}
}

// FetchRange issues a single GET for the half-open byte range
// [start, end) and streams the response body to dst, reporting progress
// via onProgress if non-nil. It accepts a 206 Partial Content response,
// or a 200 OK response whose body length exactly matches the requested
// range (some origins ignore Range for small or already-cached bodies).
func (f *Fetcher) FetchRange(ctx context.Context, url string, start, end int64, dst io.Writer, onProgress ProgressFunc) error {
	want := end - start
	if want <= 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &engerr.InvalidURLError{URL: url}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", f.userAgent())

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &engerr.CanceledError{}
		}
		return &engerr.NetworkLostError{Cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if resp.ContentLength >= 0 && resp.ContentLength != want {
			return &engerr.RangeNotHonoredError{Requested: want, Got: resp.ContentLength}
		}
	default:
		return &engerr.HTTPError{StatusCode: resp.StatusCode}
	}

	w := io.Writer(dst)
	if f.Limiter != nil {
		w = &rateLimitedWriter{w: dst, limiter: f.Limiter, ctx: ctx}
	}
	if onProgress != nil {
		w = &progressWriter{w: w, onProgress: onProgress}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return &engerr.CanceledError{}
		}
		return &engerr.NetworkLostError{Cause: err}
	}
	if n != want {
		return &engerr.TruncatedError{Expected: want, Got: n}
	}
	return nil
}

func (f *Fetcher) userAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return DefaultUserAgent
}

// progressWriter reports the byte count of each successful Write.
type progressWriter struct {
	w          io.Writer
	onProgress ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.onProgress(n)
	}
	return n, err
}

// rateLimitedWriter throttles writes to a shared token-bucket limiter,
// releasing bytes in bounded sub-chunks so a large write can't starve
// other chunks of their share of the bucket for long stretches.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (rl *rateLimitedWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := rateLimiterBurstChunk
		if n > len(p)-written {
			n = len(p) - written
		}
		if err := rl.limiter.WaitN(rl.ctx, n); err != nil {
			return written, err
		}
		wn, err := rl.w.Write(p[written : written+n])
		written += wn
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// NewLimiter builds a rate.Limiter capped at bytesPerSecond, sized so a
// single WaitN burst up to the cap itself is permitted.
func NewLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
}

// IsRetryable reports whether err is worth retrying under the backoff
// policy: transient network conditions, timeouts, and truncated bodies
// are; terminal protocol errors (including a 200 that ignored the Range
// header) and integrity errors are not.
func IsRetryable(err error) bool {
	switch e := err.(type) {
	case *engerr.NetworkLostError, *engerr.TimeoutError:
		return true
	case *engerr.HTTPError:
		return e.Retryable()
	case *engerr.TruncatedError:
		return true
	default:
		return false
	}
}

// Backoff computes the retry delay for attempt n (0-based), per the
// engine's exponential-backoff-with-jitter policy: min(2*2^n + jitter,
// limit), where jitter is supplied by the caller so behavior stays
// deterministic under test.
func Backoff(n int, jitter time.Duration, limit time.Duration) time.Duration {
	base := time.Duration(2) * time.Second
	for i := 0; i < n; i++ {
		base *= 2
	}
	d := base + jitter
	if d > limit {
		return limit
	}
	return d
}
