package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/modelfetch/modelfetch/internal/engerr"
	"github.com/modelfetch/modelfetch/internal/fetch"
	"github.com/modelfetch/modelfetch/internal/state"
)

const (
	// maxChunkRetries is the maximum number of retry attempts per chunk,
	// beyond the initial attempt.
	maxChunkRetries = 3
	backoffCap      = 60 * time.Second
)

// chunkDownloader fetches one chunk, resuming from whatever partial bytes
// already sit in its .part scratch file. All chunk mutations happen under
// the session mutex so the publisher's clones never race them.
type chunkDownloader struct {
	fetcher    *fetch.Fetcher
	layout     state.Layout
	fileName   string
	url        string
	mu         *sync.Mutex
	retryDelay func(attempt int) time.Duration
}

// download runs the chunk to completion, retrying retryable failures with
// exponential backoff and jitter.
func (d *chunkDownloader) download(ctx context.Context, chunk *state.Chunk) error {
	if chunk.Size() <= 0 {
		return d.writeEmptyChunk(chunk)
	}

	var lastErr error
	for attempt := 0; attempt <= maxChunkRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &engerr.CanceledError{}
			case <-time.After(d.delay(attempt - 1)):
			}
		}

		lastErr = d.attempt(ctx, chunk)
		if lastErr == nil {
			d.mu.Lock()
			chunk.IsCompleted = true
			chunk.LastError = ""
			d.mu.Unlock()
			return nil
		}
		if _, ok := lastErr.(*engerr.CanceledError); ok {
			return lastErr
		}

		retryable := fetch.IsRetryable(lastErr)
		d.mu.Lock()
		chunk.LastError = lastErr.Error()
		if retryable {
			chunk.RetryCount++
		}
		d.mu.Unlock()
		if !retryable {
			return lastErr
		}
	}

	return fmt.Errorf("chunk %s failed after %d retries: %w", chunk.ID, maxChunkRetries, lastErr)
}

// delay computes the backoff before retry n (0-based): 2s, 4s, 8s, ...
// plus up to a second of jitter, capped at 60s.
func (d *chunkDownloader) delay(n int) time.Duration {
	if d.retryDelay != nil {
		return d.retryDelay(n)
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return fetch.Backoff(n, jitter, backoffCap)
}

// writeEmptyChunk materializes the part file for a chunk covering no
// bytes, so the merge step finds a file at every index.
func (d *chunkDownloader) writeEmptyChunk(chunk *state.Chunk) error {
	path := d.layout.ChunkPartPath(d.fileName, chunk.Index)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	f.Close()
	d.mu.Lock()
	chunk.IsCompleted = true
	chunk.DownloadedBytes = 0
	d.mu.Unlock()
	return nil
}

// attempt performs a single fetch attempt, resuming from any bytes
// already present in the chunk's part file.
func (d *chunkDownloader) attempt(ctx context.Context, chunk *state.Chunk) error {
	partPath := d.layout.ChunkPartPath(d.fileName, chunk.Index)
	if err := os.MkdirAll(filepath.Dir(partPath), 0755); err != nil {
		return fmt.Errorf("create chunk directory: %w", err)
	}

	var existing int64
	if info, err := os.Stat(partPath); err == nil {
		existing = info.Size()
	}
	expected := chunk.Size()
	d.mu.Lock()
	chunk.DownloadedBytes = existing
	d.mu.Unlock()
	if existing >= expected {
		return nil
	}

	f, err := os.OpenFile(partPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	rangeStart := chunk.StartByte + existing
	rangeEnd := chunk.StartByte + expected

	onProgress := func(n int) {
		d.mu.Lock()
		chunk.DownloadedBytes += int64(n)
		d.mu.Unlock()
	}

	return d.fetcher.FetchRange(ctx, d.url, rangeStart, rangeEnd, f, onProgress)
}
