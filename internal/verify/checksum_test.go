package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/modelfetch/modelfetch/internal/engerr"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifyLengthMatch(t *testing.T) {
	path := writeTempFile(t, "hello world")
	if err := VerifyLength(path, 11); err != nil {
		t.Errorf("expected match, got %v", err)
	}
}

func TestVerifyLengthMismatch(t *testing.T) {
	path := writeTempFile(t, "hello world")
	err := VerifyLength(path, 999)
	if err == nil {
		t.Fatal("expected a mismatch error")
	}
	mismatch, ok := err.(*engerr.IntegrityMismatchError)
	if !ok {
		t.Fatalf("expected *engerr.IntegrityMismatchError, got %T", err)
	}
	if mismatch.Expected != 999 || mismatch.Actual != 11 {
		t.Errorf("unexpected mismatch detail: %+v", mismatch)
	}
}

func TestComputeAndVerifyHash(t *testing.T) {
	path := writeTempFile(t, "the quick brown fox")
	digest, err := ComputeHash(path)
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	if err := VerifyHash(path, digest); err != nil {
		t.Errorf("expected matching digest to verify, got %v", err)
	}
	if err := VerifyHash(path, "0000000000000000000000000000000000000000000000000000000000000000"); err == nil {
		t.Error("expected mismatched digest to fail verification")
	}
}
