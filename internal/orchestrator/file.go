package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modelfetch/modelfetch/internal/chunkplan"
	"github.com/modelfetch/modelfetch/internal/engerr"
	"github.com/modelfetch/modelfetch/internal/fetch"
	"github.com/modelfetch/modelfetch/internal/state"
	"github.com/modelfetch/modelfetch/internal/verify"
)

// fileRunner drives one artifact through its state machine: plan chunks
// (if not already planned from a resumed snapshot), download them,
// merge, and verify the merged length.
type fileRunner struct {
	layout     state.Layout
	fetcher    *fetch.Fetcher
	chunkSize  int64
	gate       *gate
	sem        chan struct{} // session-wide chunk slot semaphore
	mu         *sync.Mutex   // the orchestrator's session mutex
	active     *atomic.Int32
	persist    func()
	onError    func(error)
	retryDelay func(attempt int) time.Duration
}

// ensurePlanned initializes progress.Chunks from the chunk planner if the
// file has no chunks yet (first run, not a resume).
func (r *fileRunner) ensurePlanned(progress *state.FileProgress) {
	if len(progress.Chunks) > 0 {
		return
	}
	ranges := chunkplan.PlanFile(progress.TotalSize)
	if r.chunkSize > 0 {
		ranges = chunkplan.Plan(progress.TotalSize, r.chunkSize)
	}
	for _, rg := range ranges {
		progress.Chunks = append(progress.Chunks, state.Chunk{
			ID:        state.ChunkID(progress.FileName, rg.Index),
			Index:     rg.Index,
			StartByte: rg.Start,
			EndByte:   rg.End - 1,
		})
	}
}

// run downloads every pending chunk of progress, then merges and verifies
// the result. If the artifact already exists at its final path with the
// expected size, the file is treated as complete without re-downloading
// (the existing-file short-circuit).
func (r *fileRunner) run(ctx context.Context, progress *state.FileProgress) error {
	finalPath := r.layout.ArtifactPath(progress.FileName)

	if info, err := os.Stat(finalPath); err == nil && info.Size() == progress.TotalSize {
		r.mu.Lock()
		progress.IsCompleted = true
		for i := range progress.Chunks {
			progress.Chunks[i].IsCompleted = true
			progress.Chunks[i].DownloadedBytes = progress.Chunks[i].Size()
		}
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	r.ensurePlanned(progress)
	pending := progress.PendingChunks()
	r.mu.Unlock()

	if len(pending) > 0 {
		if err := r.downloadPending(ctx, progress, pending); err != nil {
			return err
		}
	}

	r.mu.Lock()
	chunks := append([]state.Chunk(nil), progress.Chunks...)
	r.mu.Unlock()

	if err := mergeChunks(r.layout, progress.FileName, chunks, finalPath); err != nil {
		return fmt.Errorf("merge %s: %w", progress.FileName, err)
	}
	if err := verify.VerifyLength(finalPath, progress.TotalSize); err != nil {
		return err
	}

	r.mu.Lock()
	progress.IsCompleted = true
	r.mu.Unlock()
	if r.persist != nil {
		r.persist()
	}
	r.cleanupParts(progress.FileName, chunks)
	return nil
}

func (r *fileRunner) downloadPending(ctx context.Context, progress *state.FileProgress, pending []*state.Chunk) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, chunk := range pending {
		chunk := chunk
		g.Go(func() error {
			if err := r.gate.wait(ctx); err != nil {
				return &engerr.CanceledError{}
			}
			select {
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			case <-ctx.Done():
				return &engerr.CanceledError{}
			}
			r.active.Add(1)
			defer r.active.Add(-1)

			d := &chunkDownloader{
				fetcher:    r.fetcher,
				layout:     r.layout,
				fileName:   progress.FileName,
				url:        progress.URL,
				mu:         r.mu,
				retryDelay: r.retryDelay,
			}
			err := d.download(ctx, chunk)
			if err != nil {
				if _, canceled := err.(*engerr.CanceledError); !canceled {
					if r.onError != nil {
						r.onError(err)
					}
					if r.persist != nil {
						r.persist()
					}
				}
				return err
			}
			if r.persist != nil {
				r.persist()
			}
			return nil
		})
	}

	return g.Wait()
}

func (r *fileRunner) cleanupParts(fileName string, chunks []state.Chunk) {
	for _, c := range chunks {
		_ = os.Remove(r.layout.ChunkPartPath(fileName, c.Index))
	}
	// Best-effort removal of the now-possibly-empty chunk scratch dir;
	// sibling files in the same session may still be using it.
	_ = os.Remove(filepath.Clean(r.layout.ChunksDir()))
}
