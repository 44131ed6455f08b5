package sizeprobe

import (
	"net/http"
	"testing"
)

func TestSizeFromHeadersPrefersLinkedSize(t *testing.T) {
	h := http.Header{}
	h.Set("X-Linked-Size", "12345")
	h.Set("Content-Length", "999")

	size, ok := sizeFromHeaders(h)
	if !ok || size != 12345 {
		t.Fatalf("got (%d, %v), want (12345, true)", size, ok)
	}
}

func TestSizeFromHeadersIsCaseInsensitive(t *testing.T) {
	h := http.Header{}
	h.Set("x-linked-size", "54321")

	size, ok := sizeFromHeaders(h)
	if !ok || size != 54321 {
		t.Fatalf("got (%d, %v), want (54321, true)", size, ok)
	}
}

func TestSizeFromHeadersFallsBackToContentLength(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "42")

	size, ok := sizeFromHeaders(h)
	if !ok || size != 42 {
		t.Fatalf("got (%d, %v), want (42, true)", size, ok)
	}
}

func TestSizeFromHeadersFallsBackToContentRange(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Range", "bytes 0-99/7340032")

	size, ok := sizeFromHeaders(h)
	if !ok || size != 7340032 {
		t.Fatalf("got (%d, %v), want (7340032, true)", size, ok)
	}
}

func TestSizeFromHeadersNoneAvailable(t *testing.T) {
	h := http.Header{}
	if _, ok := sizeFromHeaders(h); ok {
		t.Fatal("expected no size to be resolved")
	}
}

func TestSizeFromHeadersRejectsNonPositive(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "0")
	if _, ok := sizeFromHeaders(h); ok {
		t.Fatal("expected a zero Content-Length to be rejected")
	}
}

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("https://example.com/model.bin"); err != nil {
		t.Errorf("expected valid https URL to pass, got %v", err)
	}
	if err := ValidateURL("ftp://example.com/model.bin"); err == nil {
		t.Error("expected non-http(s) scheme to be rejected")
	}
}
