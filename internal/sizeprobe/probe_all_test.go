package sizeprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeAllMixedSuccessAndFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	p := New(nil)
	results, errs, err := p.ProbeAll(context.Background(), []string{good.URL, bad.URL})
	if err != nil {
		t.Fatalf("expected batch to succeed overall, got %v", err)
	}
	if len(results) != 1 || results[good.URL].TotalBytes != 100 {
		t.Errorf("expected one successful result of 100 bytes, got %+v", results)
	}
	if len(errs) != 1 {
		t.Errorf("expected one error recorded, got %+v", errs)
	}
}

func TestProbeAllAllFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	p := New(nil)
	_, _, err := p.ProbeAll(context.Background(), []string{bad.URL})
	if err == nil {
		t.Fatal("expected an error when every probe fails")
	}
}

func TestProbeResolvesRedirect(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "55")
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirector.Close()

	p := New(nil)
	res, err := p.Probe(context.Background(), redirector.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalBytes != 55 {
		t.Errorf("expected resolved size 55, got %d", res.TotalBytes)
	}
	if res.ResolvedURL != final.URL {
		t.Errorf("expected resolved URL %s, got %s", final.URL, res.ResolvedURL)
	}
}
