package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kreide-dev/kreide/pkg/chat"
	"github.com/kreide-dev/kreide/pkg/config"
	"github.com/kreide-dev/kreide/pkg/driver"
	"github.com/kreide-dev/kreide/pkg/sandbox"
	"github.com/kreide-dev/kreide/pkg/store/memory"
)

// testPNG is a tiny valid PNG payload (1x1 transparent pixel).
var testPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// newChatStub serves a single completion response with one execute_python
// tool call carrying the given code.
func newChatStub(t *testing.T, code string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		arguments, _ := json.Marshal(map[string]string{"code": code})
		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role": "assistant",
						"tool_calls": []map[string]any{
							{
								"id":   "call_1",
								"type": "function",
								"function": map[string]any{
									"name":      "execute_python",
									"arguments": string(arguments),
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

// newSandboxStub serves the session lifecycle endpoints and answers every
// execute with one PNG result artifact.
func newSandboxStub(t *testing.T, pngB64 string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "sess-test"})
	})
	mux.HandleFunc("POST /sessions/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"type":"stdout","line":"rendering"}`)
		fmt.Fprintf(w, `{"type":"result","result":{"png":%q}}`+"\n", pngB64)
		fmt.Fprintln(w, `{"type":"done"}`)
	})
	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

// Full path: completion with a tool call, execution against the sandbox
// stub, and the PNG artifact written to disk.
func TestRunEndToEnd(t *testing.T) {
	pngB64 := base64.StdEncoding.EncodeToString(testPNG)

	chatSrv := newChatStub(t, "import matplotlib.pyplot as plt\nplt.plot([1,2,3])")
	defer chatSrv.Close()
	sandboxSrv := newSandboxStub(t, pngB64)
	defer sandboxSrv.Close()

	ctx := context.Background()

	chatClient := chat.NewClient(chatSrv.URL, "test-key", 10*time.Second)
	defer chatClient.Close()

	session, err := sandbox.Open(ctx, &sandbox.StaticAcquirer{URL: sandboxSrv.URL}, sandbox.Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close(ctx)

	d := driver.New(chatClient, &sessionExecutor{session: session}, "test-model")
	outcome := d.Chat(ctx, "Plot a chart of sin(x)", "")

	if len(outcome.Cells) != 1 {
		t.Fatalf("got %d cells, want 1", len(outcome.Cells))
	}
	if outcome.Cells[0].Err != nil {
		t.Fatalf("cell error = %v", outcome.Cells[0].Err)
	}

	png, ok := outcome.FirstPNG()
	if !ok {
		t.Fatal("expected a PNG artifact")
	}

	path := filepath.Join(t.TempDir(), "image.png")
	if err := writeImage(path, png); err != nil {
		t.Fatalf("writeImage() error = %v", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written image: %v", err)
	}
	if string(written) != string(testPNG) {
		t.Errorf("written image does not match the artifact payload")
	}
}

func TestWriteImageInvalidBase64(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.png")
	if err := writeImage(path, "not-base64!!!"); err == nil {
		t.Error("expected error for invalid base64 payload")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("no file should be written for an invalid payload")
	}
}

func TestArchiveRun(t *testing.T) {
	runStore := memory.New()
	defer runStore.Close()

	outcome := &driver.Outcome{
		Cells: []driver.CellResult{
			{Code: "print(1)", Artifacts: []sandbox.Artifact{{Text: "1"}}},
			{Code: "boom()", Err: errors.New("name 'boom' is not defined")},
		},
	}
	archiveRun(runStore, "test-model", "compute things", outcome, "image.png")

	runs, err := runStore.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}

	run := runs[0]
	if run.Prompt != "compute things" || run.Model != "test-model" {
		t.Errorf("unexpected run fields: %+v", run)
	}
	if len(run.Cells) != 2 {
		t.Fatalf("got %d cells, want 2", len(run.Cells))
	}
	if run.Cells[0].Status != "success" || run.Cells[0].Artifacts != 1 {
		t.Errorf("first cell = %+v, want success with 1 artifact", run.Cells[0])
	}
	if run.Cells[1].Status != "error" || run.Cells[1].Error == "" {
		t.Errorf("second cell = %+v, want recorded error", run.Cells[1])
	}
}

func TestArchiveRunEmptyOutcome(t *testing.T) {
	runStore := memory.New()
	defer runStore.Close()

	archiveRun(runStore, "test-model", "just chatting", &driver.Outcome{Reply: "Hello"}, "")

	runs, err := runStore.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Reply != "Hello" {
		t.Errorf("Reply = %q, want %q", runs[0].Reply, "Hello")
	}
	if runs[0].Cells != nil {
		t.Errorf("Cells = %+v, want nil", runs[0].Cells)
	}
}

func TestBuildAcquirerStatic(t *testing.T) {
	cfg := config.Defaults()
	acq, err := buildAcquirer(&cfg)
	if err != nil {
		t.Fatalf("buildAcquirer() error = %v", err)
	}
	static, ok := acq.(*sandbox.StaticAcquirer)
	if !ok {
		t.Fatalf("got %T, want *sandbox.StaticAcquirer", acq)
	}
	if static.URL != cfg.Sandbox.URL {
		t.Errorf("URL = %q, want %q", static.URL, cfg.Sandbox.URL)
	}
}

func TestBuildStoreMemory(t *testing.T) {
	cfg := config.Defaults()
	s, err := buildStore(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("buildStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("got %T, want *memory.Store", s)
	}
}
