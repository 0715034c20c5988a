package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// countingAcquirer wraps a StaticAcquirer and counts releases.
type countingAcquirer struct {
	url      string
	releases int
}

func (a *countingAcquirer) Acquire(ctx context.Context) (string, func(), error) {
	return a.url, func() { a.releases++ }, nil
}

func newSessionServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "sess-1"}`)
	})
	mux.HandleFunc("POST /sessions/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type": "result", "result": {"text": "ok"}}`)
		fmt.Fprintln(w, `{"type": "done"}`)
	})
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

func TestSessionLifecycle(t *testing.T) {
	server := newSessionServer(t)
	defer server.Close()

	acq := &countingAcquirer{url: server.URL}
	session, err := Open(context.Background(), acq, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	artifacts, err := session.Execute(context.Background(), "1+1", ExecOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Text != "ok" {
		t.Errorf("artifacts = %+v, want one text artifact", artifacts)
	}

	if err := session.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if acq.releases != 1 {
		t.Errorf("releases = %d, want 1", acq.releases)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	server := newSessionServer(t)
	defer server.Close()

	acq := &countingAcquirer{url: server.URL}
	session, err := Open(context.Background(), acq, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		session.Close(context.Background())
	}
	if acq.releases != 1 {
		t.Errorf("releases = %d, want exactly 1", acq.releases)
	}
}

func TestOpenReleasesOnSessionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	acq := &countingAcquirer{url: server.URL}
	if _, err := Open(context.Background(), acq, Options{}); err == nil {
		t.Fatal("expected error, got nil")
	}
	if acq.releases != 1 {
		t.Errorf("releases = %d, want 1 after failed open", acq.releases)
	}
}

func TestStaticAcquirer(t *testing.T) {
	acq := &StaticAcquirer{URL: "http://sandbox:8090"}
	url, release, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if url != "http://sandbox:8090" {
		t.Errorf("url = %q", url)
	}
	release()

	empty := &StaticAcquirer{}
	if _, _, err := empty.Acquire(context.Background()); err == nil {
		t.Error("expected error for empty URL, got nil")
	}
}
