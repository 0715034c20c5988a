// Command sandbox-server runs a notebook-style code execution service.
// Each session owns one persistent Python interpreter; cells executed in
// a session share interpreter state. Execution output is streamed back as
// newline-delimited JSON events.
//
// Configuration:
//
//	SANDBOX_PORT         - Listen port (default: 8090)
//	SANDBOX_SECRET       - Shared secret for bearer token auth (default: none)
//	SANDBOX_MAX_SESSIONS - Max concurrent sessions (default: 8)
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kreide-dev/kreide/pkg/auth"
)

// kernelScript is the Python driver fed to each session's interpreter.
// It reads one JSON request per line from stdin, executes the code in a
// shared namespace, and emits NDJSON events on stdout. Matplotlib figures
// open after a cell are captured as base64 PNG result artifacts.
const kernelScript = `
import sys, json, io, base64, traceback

ns = {}

def emit(obj):
    sys.__stdout__.write(json.dumps(obj) + "\n")
    sys.__stdout__.flush()

class LineWriter:
    def __init__(self, kind):
        self.kind = kind
        self.buf = ""
    def write(self, text):
        self.buf += text
        while "\n" in self.buf:
            line, self.buf = self.buf.split("\n", 1)
            emit({"type": self.kind, "line": line})
    def flush(self):
        pass

for raw in sys.stdin:
    try:
        req = json.loads(raw)
    except ValueError:
        continue
    code = req.get("code", "")
    sys.stdout = LineWriter("stdout")
    sys.stderr = LineWriter("stderr")
    try:
        exec(compile(code, "<cell>", "exec"), ns)
        try:
            import matplotlib.pyplot as plt
            for num in plt.get_fignums():
                buf = io.BytesIO()
                plt.figure(num).savefig(buf, format="png")
                png = base64.b64encode(buf.getvalue()).decode()
                emit({"type": "result", "result": {"png": png}})
            plt.close("all")
        except ImportError:
            pass
        emit({"type": "done"})
    except BaseException as e:
        tb = traceback.format_exception(type(e), e, e.__traceback__)
        emit({"type": "error", "error": {"name": type(e).__name__, "value": str(e), "traceback": tb}})
    finally:
        sys.stdout = sys.__stdout__
        sys.stderr = sys.__stderr__
`

func main() {
	port := envOr("SANDBOX_PORT", "8090")
	secret := os.Getenv("SANDBOX_SECRET")
	maxSessions := envOrInt("SANDBOX_MAX_SESSIONS", 8)

	if _, err := exec.LookPath("python3"); err != nil {
		slog.Error("python3 not found in PATH")
		os.Exit(1)
	}

	srv := &sessionServer{
		sessions:    make(map[string]*session),
		maxSessions: maxSessions,
		secret:      []byte(secret),
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", srv.auth(srv.handleCreateSession))
	mux.HandleFunc("POST /sessions/{id}/execute", srv.auth(srv.handleExecute))
	mux.HandleFunc("DELETE /sessions/{id}", srv.auth(srv.handleDeleteSession))
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No write timeout: execution streams run until the cell finishes.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandbox server starting", "port", port, "max_sessions", maxSessions, "auth", secret != "")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	srv.closeAll()
}

// --- Server ---

type sessionServer struct {
	mu          sync.Mutex
	sessions    map[string]*session
	maxSessions int
	secret      []byte
	startTime   time.Time
}

// session wraps one persistent Python interpreter. Cells are serialized
// per session; the interpreter handles one request at a time.
type session struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu     sync.Mutex
	closed bool
}

// auth wraps a handler with bearer token verification when a secret is
// configured.
func (s *sessionServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if len(s.secret) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.FromHeader(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := auth.Verify(s.secret, token); err != nil {
			slog.Debug("token verification failed", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

// --- Session lifecycle ---

func (s *sessionServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d sessions)", s.maxSessions))
		return
	}
	s.mu.Unlock()

	sess, err := startSession()
	if err != nil {
		slog.Error("starting interpreter failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start interpreter: "+err.Error())
		return
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	slog.Info("session created", "id", sess.id, "pid", sess.cmd.Process.Pid)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": sess.id})
}

func (s *sessionServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	sess.close()
	slog.Info("session closed", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Execute handler ---

type executeRequest struct {
	Code string `json:"code"`
}

func (s *sessionServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10*1024*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	codePreview := req.Code
	if len(codePreview) > 120 {
		codePreview = codePreview[:120] + "..."
	}
	slog.Info("execute request", "session", id, "code", codePreview)

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	start := time.Now()
	if err := sess.run(req.Code, func(line []byte) {
		w.Write(line)
		w.Write([]byte("\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}); err != nil {
		// The interpreter died mid-cell. The stream is already partially
		// written, so just log and cut the connection.
		slog.Error("execution stream failed", "session", id, "error", err)
		return
	}

	slog.Info("execute complete", "session", id, "duration_ms", time.Since(start).Milliseconds())
}

// --- Session internals ---

// startSession launches a Python interpreter running the kernel driver.
func startSession() (*session, error) {
	id, err := randomID()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("python3", "-u", "-c", kernelScript)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting python3: %w", err)
	}

	return &session{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
	}, nil
}

// run submits one cell to the interpreter and relays its NDJSON events
// through emit until a terminal done or error event.
func (sess *session) run(code string, emit func(line []byte)) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return fmt.Errorf("session closed")
	}

	reqLine, err := json.Marshal(executeRequest{Code: code})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := sess.stdin.Write(append(reqLine, '\n')); err != nil {
		return fmt.Errorf("writing to interpreter: %w", err)
	}

	for {
		line, err := sess.stdout.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("reading from interpreter: %w", err)
		}
		line = line[:len(line)-1]
		if len(line) == 0 {
			continue
		}

		emit(line)

		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.Type == "done" || ev.Type == "error" {
			return nil
		}
	}
}

// close terminates the interpreter process.
func (sess *session) close() {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return
	}
	sess.closed = true

	sess.stdin.Close()
	done := make(chan struct{})
	go func() {
		sess.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		sess.cmd.Process.Kill()
		<-done
	}
}

// closeAll terminates every live session during shutdown.
func (s *sessionServer) closeAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// --- Health handler ---

type healthResponse struct {
	Status     string `json:"status"`
	Sessions   int    `json:"sessions"`
	Capacity   int    `json:"capacity"`
	UptimeSecs int64  `json:"uptime_seconds"`
}

func (s *sessionServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	count := len(s.sessions)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:     "healthy",
		Sessions:   count,
		Capacity:   s.maxSessions,
		UptimeSecs: int64(time.Since(s.startTime).Seconds()),
	})
}

// --- Helpers ---

func randomID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return "sess-" + hex.EncodeToString(b), nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
