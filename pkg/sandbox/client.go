package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kreide-dev/kreide/pkg/debug"
)

// Client calls the sandbox server's REST API to manage interpreter
// sessions and execute cells.
type Client struct {
	// httpClient handles session lifecycle requests.
	httpClient *http.Client

	// streamClient handles cell executions. It has no timeout because a
	// cell runs until it finishes or the context is cancelled; the NDJSON
	// event stream keeps the connection live.
	streamClient *http.Client

	baseURL string
	token   string
}

// NewClient creates a sandbox client for the server at baseURL. token is
// an optional bearer token attached to every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
	}
}

// CreateSession starts a new interpreter session and returns its ID.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("sandbox at capacity (HTTP 429)")
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var created createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("sandbox returned empty session id")
	}

	debug.Log("sandbox", "session created", "id", created.ID, "url", c.baseURL)
	return created.ID, nil
}

// Execute runs code as a cell in the given session. Stdout and stderr
// lines are delivered through opts callbacks as they arrive; the returned
// artifacts are the cell's results in arrival order. When the remote cell
// fails, Execute returns an *ExecutionError and no artifacts.
func (c *Client) Execute(ctx context.Context, sessionID, code string, opts ExecOptions) ([]Artifact, error) {
	body, err := json.Marshal(executeRequest{Code: code})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s/execute", c.baseURL, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	debug.Log("sandbox", "executing cell", "session", sessionID, "code_len", len(code))
	debug.Raw("sandbox", code)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return parseEventStream(resp.Body, opts)
}

// CloseSession terminates the session and discards its interpreter state.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/sessions/%s", c.baseURL, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	debug.Log("sandbox", "session closed", "id", sessionID)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// parseEventStream reads NDJSON events until a done event or EOF.
// Stream lines are dispatched to the callbacks immediately; results are
// collected and returned. An error event aborts the stream and discards
// any results collected before it.
func parseEventStream(r io.Reader, opts ExecOptions) ([]Artifact, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var artifacts []Artifact
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var ev event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}

		switch ev.Type {
		case "stdout":
			if opts.OnStdout != nil {
				opts.OnStdout(ev.Line)
			}
		case "stderr":
			if opts.OnStderr != nil {
				opts.OnStderr(ev.Line)
			}
		case "result":
			if ev.Result != nil {
				artifacts = append(artifacts, *ev.Result)
			}
		case "error":
			if ev.Error == nil {
				return nil, fmt.Errorf("sandbox sent error event without payload")
			}
			return nil, &ExecutionError{
				Name:      ev.Error.Name,
				Value:     ev.Error.Value,
				Traceback: ev.Error.Traceback,
			}
		case "done":
			return artifacts, nil
		default:
			debug.Log("sandbox", "ignoring unknown event", "type", ev.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}

	return nil, fmt.Errorf("event stream ended without done event")
}
