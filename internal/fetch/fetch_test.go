package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelfetch/modelfetch/internal/engerr"
)

func TestFetchRangeHonoredPartialContent(t *testing.T) {
	body := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=2-5" {
			t.Errorf("unexpected Range header: %s", r.Header.Get("Range"))
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[2:6])
	}))
	defer srv.Close()

	f := New(nil)
	var buf bytes.Buffer
	if err := f.FetchRange(context.Background(), srv.URL, 2, 6, &buf, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "2345" {
		t.Errorf("got %q, want %q", buf.String(), "2345")
	}
}

func TestFetchRangeAccepts200WithMatchingLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("abcd"))
	}))
	defer srv.Close()

	f := New(nil)
	var buf bytes.Buffer
	if err := f.FetchRange(context.Background(), srv.URL, 0, 4, &buf, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchRangeRejects200WithMismatchedLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ab"))
	}))
	defer srv.Close()

	f := New(nil)
	var buf bytes.Buffer
	err := f.FetchRange(context.Background(), srv.URL, 0, 10, &buf, nil)
	if _, ok := err.(*engerr.RangeNotHonoredError); !ok {
		t.Fatalf("expected RangeNotHonoredError, got %T (%v)", err, err)
	}
}

func TestFetchRangeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(nil)
	var buf bytes.Buffer
	err := f.FetchRange(context.Background(), srv.URL, 0, 4, &buf, nil)
	httpErr, ok := err.(*engerr.HTTPError)
	if !ok {
		t.Fatalf("expected HTTPError, got %T", err)
	}
	if !httpErr.Retryable() {
		t.Error("expected a 500 to be retryable")
	}
}

func TestFetchRangeReportsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("xyz"))
	}))
	defer srv.Close()

	f := New(nil)
	var buf bytes.Buffer
	var total int
	err := f.FetchRange(context.Background(), srv.URL, 0, 3, &buf, func(n int) { total += n })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected progress callback to report 3 bytes total, got %d", total)
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	cap := 60 * time.Second
	if d := Backoff(0, 0, cap); d != 2*time.Second {
		t.Errorf("Backoff(0) = %v, want 2s", d)
	}
	if d := Backoff(1, 0, cap); d != 4*time.Second {
		t.Errorf("Backoff(1) = %v, want 4s", d)
	}
	if d := Backoff(2, 0, cap); d != 8*time.Second {
		t.Errorf("Backoff(2) = %v, want 8s", d)
	}
	if d := Backoff(10, 0, cap); d != cap {
		t.Errorf("Backoff(10) = %v, want cap %v", d, cap)
	}
	if d := Backoff(0, 900*time.Millisecond, cap); d != 2*time.Second+900*time.Millisecond {
		t.Errorf("Backoff with jitter = %v, want 2.9s", d)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&engerr.NetworkLostError{}, true},
		{&engerr.TimeoutError{}, true},
		{&engerr.HTTPError{StatusCode: 503}, true},
		{&engerr.HTTPError{StatusCode: 404}, false},
		{&engerr.IntegrityMismatchError{}, false},
		{&engerr.CanceledError{}, false},
	}
	for _, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Errorf("IsRetryable(%T) = %v, want %v", c.err, got, c.want)
		}
	}
}
