package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kreide-dev/kreide/pkg/debug"
)

// Client performs HTTP requests against an OpenAI-compatible Chat
// Completions backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a Client for the given backend base URL.
// An empty apiKey omits the Authorization header.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Complete performs a single non-streaming completion call.
// The call is not retried on failure.
func (c *Client) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	reqCopy := *req
	reqCopy.Stream = false
	if reqCopy.N == 0 {
		reqCopy.N = 1
	}

	body, err := json.Marshal(&reqCopy)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	debug.Log("chat", "completion request",
		"model", reqCopy.Model,
		"messages", len(reqCopy.Messages),
		"tools", len(reqCopy.Tools),
	)
	debug.Raw("chat", string(body))

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var resp CompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &Error{Type: ErrorTypeServer, Message: "parse backend response: " + err.Error()}
	}

	debug.Log("chat", "completion response",
		"id", resp.ID,
		"choices", len(resp.Choices),
	)

	return &resp, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
