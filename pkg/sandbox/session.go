package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kreide-dev/kreide/pkg/observability"
)

// Acquirer provides a sandbox server URL on demand. Acquire blocks until
// a sandbox is available (or ctx is cancelled) and returns the base URL
// plus a release function that must be called exactly once when the
// sandbox is no longer needed.
type Acquirer interface {
	Acquire(ctx context.Context) (url string, release func(), err error)
}

// StaticAcquirer returns a fixed sandbox URL. Used when a sandbox server
// is already running at a known address.
type StaticAcquirer struct {
	URL string
}

// Acquire returns the configured URL with a no-op release.
func (a *StaticAcquirer) Acquire(ctx context.Context) (string, func(), error) {
	if a.URL == "" {
		return "", nil, fmt.Errorf("sandbox URL not configured")
	}
	return a.URL, func() {}, nil
}

// Options configures session establishment.
type Options struct {
	// Token is an optional bearer token for the sandbox server.
	Token string
}

// Session is one live remote interpreter. Cells executed through it share
// interpreter state: a variable defined in one cell is visible to the next.
type Session struct {
	client    *Client
	sessionID string
	release   func()
	closeOnce sync.Once
}

// Open acquires a sandbox through acq and starts a fresh interpreter
// session on it. The caller must Close the session to terminate the
// interpreter and release the sandbox.
func Open(ctx context.Context, acq Acquirer, opts Options) (*Session, error) {
	url, release, err := acq.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sandbox: %w", err)
	}

	client := NewClient(url, opts.Token)
	sessionID, err := client.CreateSession(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("Sandbox session opened", "url", url, "session", sessionID)
	return &Session{
		client:    client,
		sessionID: sessionID,
		release:   release,
	}, nil
}

// Execute runs code as the next cell in this session and returns its
// result artifacts. Execution is bounded only by ctx.
func (s *Session) Execute(ctx context.Context, code string, opts ExecOptions) ([]Artifact, error) {
	start := time.Now()
	artifacts, err := s.client.Execute(ctx, s.sessionID, code, opts)
	observability.ExecutionLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			observability.ExecutionsTotal.WithLabelValues("error").Inc()
		} else {
			observability.ExecutionsTotal.WithLabelValues("transport_error").Inc()
		}
		return nil, err
	}

	observability.ExecutionsTotal.WithLabelValues("success").Inc()
	for _, a := range artifacts {
		switch {
		case a.PNG != "":
			observability.ArtifactsTotal.WithLabelValues("png").Inc()
		case a.Text != "":
			observability.ArtifactsTotal.WithLabelValues("text").Inc()
		}
	}
	return artifacts, nil
}

// Close terminates the remote interpreter and releases the underlying
// sandbox. It is safe to call multiple times; the sandbox is released
// exactly once.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.client.CloseSession(ctx, s.sessionID)
		if err != nil {
			slog.Warn("Closing sandbox session failed", "session", s.sessionID, "error", err)
		}
		s.release()
	})
	return err
}
