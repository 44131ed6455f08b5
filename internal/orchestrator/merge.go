package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/modelfetch/modelfetch/internal/state"
)

// mergeChunks concatenates a file's chunk part files, in chunk order,
// into outputPath. It writes to a temp file alongside the destination
// and renames into place so a crash mid-merge never leaves a partial
// artifact at the final path.
func mergeChunks(layout state.Layout, fileName string, chunks []state.Chunk, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmpPath := outputPath + ".merging"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp output file: %w", err)
	}

	success := false
	defer func() {
		out.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	for _, c := range chunks {
		partPath := layout.ChunkPartPath(fileName, c.Index)
		if err := appendFile(out, partPath); err != nil {
			return fmt.Errorf("merge chunk %s: %w", c.ID, err)
		}
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync output file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("rename output file: %w", err)
	}

	success = true
	return nil
}

func appendFile(dst *os.File, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open chunk %s: %w", srcPath, err)
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy chunk %s: %w", srcPath, err)
	}
	return nil
}
