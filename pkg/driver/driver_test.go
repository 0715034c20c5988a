package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kreide-dev/kreide/pkg/chat"
	"github.com/kreide-dev/kreide/pkg/sandbox"
)

// stubCompleter returns a canned response and records the request.
type stubCompleter struct {
	resp *chat.CompletionResponse
	err  error
	got  *chat.CompletionRequest
}

func (s *stubCompleter) Complete(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error) {
	s.got = req
	return s.resp, s.err
}

// stubExecutor records executed code and returns configured artifacts.
type stubExecutor struct {
	mu        sync.Mutex
	executed  []string
	artifacts map[string][]sandbox.Artifact
	errs      map[string]error
}

func (s *stubExecutor) Execute(ctx context.Context, code string) ([]sandbox.Artifact, error) {
	s.mu.Lock()
	s.executed = append(s.executed, code)
	s.mu.Unlock()
	if err, ok := s.errs[code]; ok {
		return nil, err
	}
	return s.artifacts[code], nil
}

func toolCallResponse(calls ...chat.ToolCall) *chat.CompletionResponse {
	return &chat.CompletionResponse{
		Choices: []chat.Choice{
			{Message: chat.Message{Role: "assistant", ToolCalls: calls}},
		},
	}
}

func executePythonCall(id, args string) chat.ToolCall {
	return chat.ToolCall{
		ID:   id,
		Type: "function",
		Function: chat.FunctionCall{
			Name:      "execute_python",
			Arguments: args,
		},
	}
}

func TestChatBuildsMessagesWithoutImage(t *testing.T) {
	completer := &stubCompleter{resp: &chat.CompletionResponse{}}
	d := New(completer, &stubExecutor{}, "test-model")

	d.Chat(context.Background(), "plot a sine wave", "")

	req := completer.got
	if req == nil {
		t.Fatal("no completion request sent")
	}
	if req.Model != "test-model" {
		t.Errorf("model = %q, want test-model", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != "system" {
		t.Errorf("messages[0].Role = %q, want system", req.Messages[0].Role)
	}
	if req.Messages[0].Content != systemPrompt {
		t.Errorf("messages[0].Content is not the fixed system prompt")
	}
	if req.Messages[1].Role != "user" || req.Messages[1].Content != "plot a sine wave" {
		t.Errorf("messages[1] = %+v, want text-only user turn", req.Messages[1])
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "execute_python" {
		t.Errorf("tools = %+v, want single execute_python declaration", req.Tools)
	}
	if req.ToolChoice != "auto" {
		t.Errorf("tool_choice = %v, want auto", req.ToolChoice)
	}
}

func TestChatBuildsMessagesWithImage(t *testing.T) {
	completer := &stubCompleter{resp: &chat.CompletionResponse{}}
	d := New(completer, &stubExecutor{}, "test-model")

	d.Chat(context.Background(), "what is in this picture", "aWFtYXBuZw==")

	req := completer.got
	if len(req.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(req.Messages))
	}
	parts, ok := req.Messages[1].Content.([]chat.ContentPart)
	if !ok {
		t.Fatalf("user content type = %T, want []chat.ContentPart", req.Messages[1].Content)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d content parts, want 2", len(parts))
	}
	if parts[0].Type != "text" || parts[0].Text != "what is in this picture" {
		t.Errorf("parts[0] = %+v, want the text part", parts[0])
	}
	if parts[1].Type != "image_url" || parts[1].ImageURL == nil {
		t.Fatalf("parts[1] = %+v, want an image_url part", parts[1])
	}
	if parts[1].ImageURL.URL != "data:image/png;base64,aWFtYXBuZw==" {
		t.Errorf("image URL = %q, want the data URL", parts[1].ImageURL.URL)
	}
}

func TestChatCollectsResultsInCallOrder(t *testing.T) {
	exec := &stubExecutor{
		artifacts: map[string][]sandbox.Artifact{
			"a=1": {{Text: "first"}},
			"b=2": {{PNG: "cGxvdA=="}},
		},
	}
	completer := &stubCompleter{resp: toolCallResponse(
		executePythonCall("call-1", `{"code":"a=1"}`),
		executePythonCall("call-2", `{"code":"b=2"}`),
	)}
	d := New(completer, exec, "test-model")

	outcome := d.Chat(context.Background(), "run both", "")

	if len(outcome.Cells) != 2 {
		t.Fatalf("got %d cells, want 2", len(outcome.Cells))
	}
	if outcome.Cells[0].Code != "a=1" || outcome.Cells[1].Code != "b=2" {
		t.Errorf("cell order = [%q %q], want call order", outcome.Cells[0].Code, outcome.Cells[1].Code)
	}
	if len(outcome.Cells[0].Artifacts) != 1 || outcome.Cells[0].Artifacts[0].Text != "first" {
		t.Errorf("cells[0].Artifacts = %+v", outcome.Cells[0].Artifacts)
	}
	png, ok := outcome.FirstPNG()
	if !ok || png != "cGxvdA==" {
		t.Errorf("FirstPNG() = %q, %v; want the second cell's image", png, ok)
	}
}

func TestChatIgnoresUnknownTools(t *testing.T) {
	exec := &stubExecutor{}
	completer := &stubCompleter{resp: toolCallResponse(
		chat.ToolCall{
			ID:   "call-1",
			Type: "function",
			Function: chat.FunctionCall{
				Name:      "get_current_weather",
				Arguments: `{"location":"Berlin"}`,
			},
		},
	)}
	d := New(completer, exec, "test-model")

	outcome := d.Chat(context.Background(), "weather please", "")

	if len(exec.executed) != 0 {
		t.Errorf("executor invoked %d times for unknown tool, want 0", len(exec.executed))
	}
	if len(outcome.Cells) != 0 {
		t.Errorf("cells = %+v, want none", outcome.Cells)
	}
}

func TestChatSurfacesTextReply(t *testing.T) {
	completer := &stubCompleter{resp: &chat.CompletionResponse{
		Choices: []chat.Choice{
			{Message: chat.Message{Role: "assistant", Content: "just a plain answer"}},
		},
	}}
	d := New(completer, &stubExecutor{}, "test-model")

	outcome := d.Chat(context.Background(), "say something", "")

	if outcome.Reply != "just a plain answer" {
		t.Errorf("Reply = %q, want the assistant text", outcome.Reply)
	}
	if len(outcome.Cells) != 0 {
		t.Errorf("cells = %+v, want none", outcome.Cells)
	}
}

func TestChatSwallowsCompletionError(t *testing.T) {
	completer := &stubCompleter{err: errors.New("connection refused")}
	d := New(completer, &stubExecutor{}, "test-model")

	outcome := d.Chat(context.Background(), "hello", "")

	if outcome == nil {
		t.Fatal("Chat() returned nil on completion error, want empty outcome")
	}
	if outcome.Reply != "" || len(outcome.Cells) != 0 {
		t.Errorf("outcome = %+v, want empty", outcome)
	}
}

func TestChatRecordsExecutionError(t *testing.T) {
	execErr := &sandbox.ExecutionError{Name: "NameError", Value: "name 'x' is not defined"}
	exec := &stubExecutor{
		errs: map[string]error{"x": execErr},
		artifacts: map[string][]sandbox.Artifact{
			"y=2": {{Text: "ok"}},
		},
	}
	completer := &stubCompleter{resp: toolCallResponse(
		executePythonCall("call-1", `{"code":"x"}`),
		executePythonCall("call-2", `{"code":"y=2"}`),
	)}
	d := New(completer, exec, "test-model")

	outcome := d.Chat(context.Background(), "run", "")

	if len(outcome.Cells) != 2 {
		t.Fatalf("got %d cells, want 2", len(outcome.Cells))
	}
	if !errors.Is(outcome.Cells[0].Err, execErr) {
		t.Errorf("cells[0].Err = %v, want the execution error", outcome.Cells[0].Err)
	}
	if len(outcome.Cells[0].Artifacts) != 0 {
		t.Errorf("failed cell carries artifacts: %+v", outcome.Cells[0].Artifacts)
	}
	// The failing cell must not stop the other one.
	if outcome.Cells[1].Err != nil || len(outcome.Cells[1].Artifacts) != 1 {
		t.Errorf("cells[1] = %+v, want successful result", outcome.Cells[1])
	}
}

func TestChatRecordsDecodingError(t *testing.T) {
	exec := &stubExecutor{}
	completer := &stubCompleter{resp: toolCallResponse(
		executePythonCall("call-1", `{"source":"x=1"}`),
	)}
	d := New(completer, exec, "test-model")

	outcome := d.Chat(context.Background(), "run", "")

	if len(outcome.Cells) != 1 {
		t.Fatalf("got %d cells, want 1", len(outcome.Cells))
	}
	if outcome.Cells[0].Err == nil {
		t.Error("cells[0].Err = nil, want decoding error")
	}
	if len(exec.executed) != 0 {
		t.Errorf("executor invoked for undecodable arguments")
	}
}

func TestChatRawStringArgumentsPassedVerbatim(t *testing.T) {
	exec := &stubExecutor{}
	completer := &stubCompleter{resp: toolCallResponse(
		executePythonCall("call-1", "print('hello')"),
	)}
	d := New(completer, exec, "test-model")

	d.Chat(context.Background(), "run", "")

	if len(exec.executed) != 1 || exec.executed[0] != "print('hello')" {
		t.Errorf("executed = %v, want the raw string verbatim", exec.executed)
	}
}

func TestChatManyConcurrentCalls(t *testing.T) {
	exec := &stubExecutor{artifacts: map[string][]sandbox.Artifact{}}
	var calls []chat.ToolCall
	for i := 0; i < 16; i++ {
		code := fmt.Sprintf("v%d=%d", i, i)
		exec.artifacts[code] = []sandbox.Artifact{{Text: code}}
		calls = append(calls, executePythonCall(fmt.Sprintf("call-%d", i), fmt.Sprintf(`{"code":%q}`, code)))
	}
	completer := &stubCompleter{resp: toolCallResponse(calls...)}
	d := New(completer, exec, "test-model")

	outcome := d.Chat(context.Background(), "run all", "")

	if len(outcome.Cells) != 16 {
		t.Fatalf("got %d cells, want 16", len(outcome.Cells))
	}
	for i, cell := range outcome.Cells {
		want := fmt.Sprintf("v%d=%d", i, i)
		if cell.Code != want {
			t.Errorf("cells[%d].Code = %q, want %q (call order)", i, cell.Code, want)
		}
		if len(cell.Artifacts) != 1 || cell.Artifacts[0].Text != want {
			t.Errorf("cells[%d].Artifacts = %+v", i, cell.Artifacts)
		}
	}
}
