// Package orchestrator owns a download session end to end: preflight
// checks, parallel size probing, per-file chunked downloads, merging,
// and verification, persisting its progress so a later run can resume.
//
// The Orchestrator is the session's single owner: all mutation of the
// in-memory Snapshot happens under its mutex, and observers only ever
// receive clones, never references into live state. Chunk workers hand
// their byte counts and outcomes back through callbacks that take that
// mutex, so no worker reaches into session state on its own.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modelfetch/modelfetch/internal/engerr"
	"github.com/modelfetch/modelfetch/internal/fetch"
	"github.com/modelfetch/modelfetch/internal/precondition"
	"github.com/modelfetch/modelfetch/internal/sizeprobe"
	"github.com/modelfetch/modelfetch/internal/state"
	"github.com/modelfetch/modelfetch/internal/tier"
)

// snapshotPublishInterval bounds how often observers are notified of
// progress, independent of how often chunks actually complete.
const snapshotPublishInterval = 500 * time.Millisecond

// Options configures a download session.
type Options struct {
	ParallelFiles  int
	ParallelChunks int   // max chunks in flight across the whole session
	ChunkSize      int64 // 0 = size-tiered default per file
	BandwidthLimit int64 // bytes/sec, 0 = unlimited
	AllowCellular  bool
	Metered        bool // the active connection is metered; requires consent
	OnSnapshot     func(state.Snapshot)
}

func (o Options) withDefaults() Options {
	if o.ParallelFiles <= 0 {
		o.ParallelFiles = 4
	}
	if o.ParallelChunks <= 0 {
		o.ParallelChunks = 4
	}
	return o
}

// Progress is one observer-facing snapshot of session progress. Values
// are computed at publish time from a clone of the session state; the
// fraction is clamped so it never regresses within a session.
type Progress struct {
	OverallFraction float64
	BytesPerSecond  float64
	ETASeconds      int64 // -1 when no rate estimate exists yet
	ActiveChunks    int
	CompletedChunks int
	TotalChunks     int
	ErrorMessage    string
}

// Orchestrator runs one download session for a single model tier.
type Orchestrator struct {
	opts    Options
	tier    tier.Tier
	prober  *sizeprobe.Prober
	fetcher *fetch.Fetcher
	checker *precondition.Checker
	store   *state.Store
	layout  state.Layout

	gate    *gate
	mu      sync.Mutex // guards snap and lastErr
	snap    *state.Snapshot
	lastErr string
	cancel  context.CancelFunc
	active  atomic.Int32

	obsMu     sync.Mutex
	observers []chan Progress

	// retryDelay overrides the backoff schedule; nil means the standard
	// exponential backoff with jitter.
	retryDelay func(attempt int) time.Duration
}

// New creates an Orchestrator for the given tier, rooted at rootDir, with
// the session scratch directory scoped to sessionID (callers typically
// derive sessionID once per invocation and persist it in the snapshot so
// a later resume reuses the same chunk scratch directory).
func New(rootDir string, t tier.Tier, sessionID string, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	layout := state.Layout{RootDir: rootDir, TierFolderName: t.FolderName, SessionID: sessionID}

	fetcher := fetch.New(nil)
	if opts.BandwidthLimit > 0 {
		fetcher.Limiter = fetch.NewLimiter(opts.BandwidthLimit)
	}

	return &Orchestrator{
		opts:    opts,
		tier:    t,
		prober:  sizeprobe.New(nil),
		fetcher: fetcher,
		checker: precondition.NewChecker(),
		store:   state.NewStore(layout),
		layout:  layout,
		gate:    newGate(),
	}
}

// GrantCellular records user consent for downloading over a metered
// connection.
func (o *Orchestrator) GrantCellular() { o.checker.GrantCellular() }

// Start runs preflight checks, probes artifact sizes, resumes or creates
// the session snapshot, and downloads every not-yet-complete artifact.
// It blocks until the session completes, fails, or ctx is canceled.
func (o *Orchestrator) Start(ctx context.Context) error {
	t := o.tier
	sessionID := o.layout.SessionID
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	defer cancel()

	if o.opts.AllowCellular {
		o.checker.GrantCellular()
	}
	if len(t.Artifacts) == 0 {
		return fmt.Errorf("tier %q has no artifacts", t.Name)
	}
	if err := o.checker.CheckConnectivity(ctx, originAddr(t.Artifacts[0].URL)); err != nil {
		return err
	}
	if err := o.checker.CheckMeteredConsent(o.opts.Metered); err != nil {
		return err
	}

	urls := make([]string, len(t.Artifacts))
	for i, a := range t.Artifacts {
		urls[i] = a.URL
	}
	results, probeErrs, err := o.prober.ProbeAll(ctx, urls)
	if err != nil {
		return fmt.Errorf("probe artifact sizes: %w", err)
	}

	snap, err := o.store.Load()
	if err != nil {
		return err
	}
	// A snapshot left behind by another tier is overwritten: only one
	// session exists at a time, and its chunks are useless to this one.
	if snap == nil || snap.Tier != t.Name {
		snap = state.NewSnapshot(sessionID, t.Name)
	}

	var totalRequired int64
	for _, a := range t.Artifacts {
		res, ok := results[a.URL]
		if !ok {
			return fmt.Errorf("resolve size for %s: %w", a.FileName, probeErrs[a.URL])
		}
		totalRequired += res.TotalBytes

		fp := snap.FileByName(a.FileName)
		if fp == nil {
			snap.Files = append(snap.Files, state.FileProgress{
				FileName:  a.FileName,
				URL:       res.ResolvedURL,
				TotalSize: res.TotalBytes,
			})
		} else {
			fp.URL = res.ResolvedURL
		}
	}
	snap.Recompute()
	o.mu.Lock()
	o.snap = snap
	o.mu.Unlock()

	if err := o.checker.CheckDiskSpace(o.layout.RootDir, totalRequired); err != nil {
		return err
	}
	if err := o.layout.EnsureDirs(); err != nil {
		return err
	}
	if err := o.store.Save(snap); err != nil {
		return err
	}

	stopPublish := o.startPublishing(ctx)

	runErr := o.downloadAll(ctx)

	o.mu.Lock()
	o.snap.Recompute()
	saveErr := o.store.Save(o.snap)
	o.mu.Unlock()

	stopPublish()

	if runErr != nil {
		return runErr
	}
	return saveErr
}

// Snapshot returns a clone of the current session state, or nil before
// Start has initialized one.
func (o *Orchestrator) Snapshot() *state.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.snap == nil {
		return nil
	}
	return o.snap.Clone()
}

func (o *Orchestrator) downloadAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	fileSem := make(chan struct{}, o.opts.ParallelFiles)
	// One chunk semaphore shared by every file keeps total in-flight
	// range requests at or under the per-host connection cap, no matter
	// how many files are downloading at once.
	chunkSem := make(chan struct{}, o.opts.ParallelChunks)

	// Collect pending files under the lock; the Files slice is not
	// appended to after preflight, so the pointers stay valid.
	o.mu.Lock()
	var pendingFiles []*state.FileProgress
	for i := range o.snap.Files {
		if !o.snap.Files[i].IsCompleted {
			pendingFiles = append(pendingFiles, &o.snap.Files[i])
		}
	}
	o.mu.Unlock()

	var failMu sync.Mutex
	var fileErrs []error

	for _, fp := range pendingFiles {
		fp := fp
		g.Go(func() error {
			if err := o.gate.wait(gctx); err != nil {
				return &engerr.CanceledError{}
			}
			select {
			case fileSem <- struct{}{}:
				defer func() { <-fileSem }()
			case <-gctx.Done():
				return &engerr.CanceledError{}
			}

			runner := &fileRunner{
				layout:     o.layout,
				fetcher:    o.fetcher,
				chunkSize:  o.opts.ChunkSize,
				gate:       o.gate,
				sem:        chunkSem,
				mu:         &o.mu,
				active:     &o.active,
				persist:    o.persist,
				onError:    o.recordError,
				retryDelay: o.retryDelay,
			}
			err := runner.run(gctx, fp)
			if err == nil {
				return nil
			}
			// Only cancellation tears down the session. A single file's
			// terminal error (non-retryable chunk, integrity mismatch)
			// marks that file Failed and lets its siblings run to
			// completion; the collected errors surface from Start once
			// every file has finished.
			if gctx.Err() != nil || isCanceled(err) {
				return err
			}
			o.mu.Lock()
			fp.Failed = true
			o.mu.Unlock()
			o.recordError(err)
			failMu.Lock()
			fileErrs = append(fileErrs, fmt.Errorf("%s: %w", fp.FileName, err))
			failMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	failMu.Lock()
	defer failMu.Unlock()
	return errors.Join(fileErrs...)
}

// isCanceled reports whether err stems from cooperative cancellation
// rather than a failure of the work itself.
func isCanceled(err error) bool {
	var canceled *engerr.CanceledError
	return errors.As(err, &canceled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// persist recomputes the snapshot summary and writes it to disk. Called
// after every chunk state transition; a failed write here only degrades
// resumability, so it does not abort the transfer in progress (the final
// save in Start still surfaces persistent write failures).
func (o *Orchestrator) persist() {
	o.mu.Lock()
	o.snap.Recompute()
	_ = o.store.Save(o.snap)
	o.mu.Unlock()
}

func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	o.lastErr = err.Error()
	o.mu.Unlock()
}

// Observe registers a progress observer and returns its channel. Each
// observer gets an independent rate-limited stream of Progress values;
// a slow observer only ever misses intermediate updates, never the most
// recent one. The channel is closed when the session's publisher stops.
func (o *Orchestrator) Observe() <-chan Progress {
	ch := make(chan Progress, 1)
	o.obsMu.Lock()
	o.observers = append(o.observers, ch)
	o.obsMu.Unlock()
	return ch
}

// startPublishing launches a goroutine that emits progress to observers
// and opts.OnSnapshot at most once per snapshotPublishInterval. The
// returned stop func emits one final update (so observers always see the
// terminal state) and closes observer channels.
func (o *Orchestrator) startPublishing(ctx context.Context) func() {
	done := make(chan struct{})

	var pubMu sync.Mutex
	var prevBytes int64
	var prevTime time.Time
	var prevFraction float64

	emit := func() {
		pubMu.Lock()
		defer pubMu.Unlock()

		o.mu.Lock()
		o.snap.Recompute()
		cp := o.snap.Clone()
		errMsg := o.lastErr
		o.mu.Unlock()

		now := time.Now()
		var rate float64
		if !prevTime.IsZero() {
			if dt := now.Sub(prevTime).Seconds(); dt > 0 {
				rate = float64(cp.CompletedSize-prevBytes) / dt
				if rate < 0 {
					rate = 0
				}
			}
		}
		prevBytes = cp.CompletedSize
		prevTime = now

		p := Progress{
			BytesPerSecond: rate,
			ETASeconds:     -1,
			ActiveChunks:   int(o.active.Load()),
			ErrorMessage:   errMsg,
		}
		for _, f := range cp.Files {
			p.TotalChunks += len(f.Chunks)
			for _, c := range f.Chunks {
				if c.IsCompleted {
					p.CompletedChunks++
				}
			}
		}
		if cp.TotalSize > 0 {
			p.OverallFraction = float64(cp.CompletedSize) / float64(cp.TotalSize)
			if rate > 0 {
				p.ETASeconds = int64(float64(cp.TotalSize-cp.CompletedSize) / rate)
			}
		} else if cp.IsCompleted {
			p.OverallFraction = 1
		}
		// Racing chunk updates can make a clone observe slightly less
		// than a previous one; clamp so the published fraction is
		// monotonic within the session.
		if p.OverallFraction < prevFraction {
			p.OverallFraction = prevFraction
		}
		prevFraction = p.OverallFraction

		if o.opts.OnSnapshot != nil {
			o.opts.OnSnapshot(*cp)
		}
		o.obsMu.Lock()
		for _, ch := range o.observers {
			select {
			case ch <- p:
			default:
				// Replace the stale pending value with the fresh one.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- p:
				default:
				}
			}
		}
		o.obsMu.Unlock()
	}

	go func() {
		ticker := time.NewTicker(snapshotPublishInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				emit()
			}
		}
	}()

	return func() {
		close(done)
		emit()
		o.obsMu.Lock()
		for _, ch := range o.observers {
			close(ch)
		}
		o.observers = nil
		o.obsMu.Unlock()
	}
}

// Pause suspends dispatch of new chunk work; in-flight chunk fetches run
// to completion.
func (o *Orchestrator) Pause() { o.gate.pause() }

// Resume lifts a prior Pause.
func (o *Orchestrator) Resume() { o.gate.resume() }

// Cancel stops the active session. Start returns promptly once in-flight
// chunk fetches observe context cancellation; completed chunks stay on
// disk until Reset.
func (o *Orchestrator) Cancel() {
	if o.cancel != nil {
		o.cancel()
	}
}

// Reset deletes this tier's merged artifacts, all chunk scratch
// directories, and the persisted snapshot.
func (o *Orchestrator) Reset() error {
	return o.layout.Reset()
}

// originAddr derives the host:port dial target for the connectivity
// preflight from an artifact URL.
func originAddr(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return u.Host + ":80"
	}
	return u.Host + ":443"
}
