// Package verify performs the post-merge integrity checks applied to a
// completed artifact: a mandatory length check, and an optional SHA-256
// digest for callers that supply one to compare against.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/modelfetch/modelfetch/internal/engerr"
)

// VerifyLength confirms the file at filePath has exactly expected bytes.
// This check is mandatory for every merged artifact; a mismatch is
// reported via engerr.IntegrityMismatchError so callers can classify it
// without string matching.
func VerifyLength(filePath string, expected int64) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat merged file: %w", err)
	}
	if info.Size() != expected {
		return &engerr.IntegrityMismatchError{Expected: expected, Actual: info.Size()}
	}
	return nil
}

// ComputeHash returns the hex-encoded SHA-256 digest of the file at
// filePath. Hashing is opt-in and diagnostic: nothing in the engine
// requires a digest to consider a file complete, but callers that have
// an expected value available (e.g. from a manifest) may compare here.
func ComputeHash(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file for hash: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyHash compares the file's SHA-256 digest against expected,
// case-insensitively.
func VerifyHash(filePath string, expected string) error {
	actual, err := ComputeHash(filePath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return &engerr.IntegrityMismatchError{}
	}
	return nil
}
