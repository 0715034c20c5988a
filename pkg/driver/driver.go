// Package driver runs one conversation turn against a chat backend and
// dispatches the model's execute_python tool calls to a sandbox executor.
package driver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kreide-dev/kreide/pkg/chat"
	"github.com/kreide-dev/kreide/pkg/debug"
	"github.com/kreide-dev/kreide/pkg/observability"
	"github.com/kreide-dev/kreide/pkg/sandbox"
)

// systemPrompt anchors every conversation. The model is told to reach for
// the execute_python tool whenever computation or plotting is needed.
const systemPrompt = "You are a helpful assistant with access to a Python sandbox. " +
	"When a task requires computation, data processing, or plotting, call the " +
	"execute_python tool with self-contained Python code. Use matplotlib for plots."

// toolName is the single tool declared on every completion call.
const toolName = "execute_python"

// toolParameters is the JSON schema for the execute_python arguments.
// The unit field is a leftover from the schema this tool was modeled on;
// the sandbox ignores it.
var toolParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"code": {
			"type": "string",
			"description": "Python code to execute in the sandbox"
		},
		"unit": {
			"type": "string",
			"enum": ["celsius", "fahrenheit"]
		}
	},
	"required": ["code"]
}`)

// Completer is the chat backend surface the driver needs. *chat.Client
// implements it.
type Completer interface {
	Complete(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error)
}

// Executor runs one code cell and returns its result artifacts.
// sandbox.Session satisfies this through a thin adapter.
type Executor interface {
	Execute(ctx context.Context, code string) ([]sandbox.Artifact, error)
}

// CellResult is the outcome of one dispatched tool call.
type CellResult struct {
	// Code is the Python source that was dispatched.
	Code string

	// Artifacts are the cell's results. Empty when Err is set.
	Artifacts []sandbox.Artifact

	// Err records an argument decoding or execution failure.
	Err error
}

// Outcome is everything one conversation turn produced.
type Outcome struct {
	// Reply is the assistant's textual answer, empty when the model
	// answered with tool calls only.
	Reply string

	// Cells are the dispatched executions in tool-call order.
	Cells []CellResult
}

// FirstPNG returns the base64 PNG payload of the first image artifact
// across all cells, in cell order.
func (o *Outcome) FirstPNG() (string, bool) {
	for _, cell := range o.Cells {
		for _, a := range cell.Artifacts {
			if a.PNG != "" {
				return a.PNG, true
			}
		}
	}
	return "", false
}

// Driver orchestrates one conversation turn.
type Driver struct {
	completer Completer
	executor  Executor
	model     string
}

// New creates a driver that talks to the given chat backend and dispatches
// code to the given executor.
func New(completer Completer, executor Executor, model string) *Driver {
	return &Driver{
		completer: completer,
		executor:  executor,
		model:     model,
	}
}

// Chat sends userMessage (plus an optional base64-encoded PNG image) to
// the chat backend and dispatches every execute_python tool call in the
// response. The completion call is made exactly once and not retried.
//
// Chat API failures are logged and yield an empty Outcome; they never
// propagate to the caller. Per-cell failures are recorded on their
// CellResult and do not stop the remaining cells.
func (d *Driver) Chat(ctx context.Context, userMessage, imageB64 string) *Outcome {
	slog.Info("User message", "text", userMessage, "has_image", imageB64 != "")

	req := &chat.CompletionRequest{
		Model:      d.model,
		Messages:   buildMessages(userMessage, imageB64),
		Tools:      []chat.Tool{toolDefinition()},
		ToolChoice: "auto",
	}

	start := time.Now()
	resp, err := d.completer.Complete(ctx, req)
	observability.ChatLatency.WithLabelValues(d.model).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ChatRequestsTotal.WithLabelValues(d.model, "error").Inc()
		slog.Error("Chat completion failed", "model", d.model, "error", err)
		return &Outcome{}
	}
	observability.ChatRequestsTotal.WithLabelValues(d.model, "success").Inc()
	if resp.Usage != nil {
		observability.ChatTokensTotal.WithLabelValues(d.model, "input").Add(float64(resp.Usage.PromptTokens))
		observability.ChatTokensTotal.WithLabelValues(d.model, "output").Add(float64(resp.Usage.CompletionTokens))
	}

	outcome := &Outcome{}
	var calls []chat.ToolCall
	for _, choice := range resp.Choices {
		if len(choice.Message.ToolCalls) == 0 {
			if text := choice.Message.ContentString(); text != "" && outcome.Reply == "" {
				outcome.Reply = text
				slog.Info("Assistant reply", "text", text)
			}
			continue
		}
		for _, call := range choice.Message.ToolCalls {
			if call.Function.Name != toolName {
				// Unknown tools are ignored on purpose.
				debug.Log("driver", "ignoring tool call", "name", call.Function.Name, "id", call.ID)
				continue
			}
			calls = append(calls, call)
		}
	}

	outcome.Cells = d.dispatch(ctx, calls)
	return outcome
}

// dispatch runs the tool calls concurrently and collects their results in
// call order. Every dispatch is joined before returning.
func (d *Driver) dispatch(ctx context.Context, calls []chat.ToolCall) []CellResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]CellResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc chat.ToolCall) {
			defer wg.Done()

			code, err := decodeCodeArgument(tc.Function.Arguments)
			if err != nil {
				slog.Warn("Tool call argument decoding failed", "call_id", tc.ID, "error", err)
				results[idx] = CellResult{Err: err}
				return
			}

			slog.Info("Executing code", "call_id", tc.ID)
			debug.Raw("driver", code)

			artifacts, err := d.executor.Execute(ctx, code)
			if err != nil {
				slog.Warn("Code execution failed", "call_id", tc.ID, "error", err)
				results[idx] = CellResult{Code: code, Err: err}
				return
			}

			slog.Info("Execution finished", "call_id", tc.ID, "artifacts", len(artifacts))
			results[idx] = CellResult{Code: code, Artifacts: artifacts}
		}(i, call)
	}

	wg.Wait()
	return results
}

// buildMessages assembles the per-call message list: the fixed system
// prompt followed by the user turn. With an image the user turn is a
// two-part content list referencing the image as an inline data URL.
func buildMessages(userMessage, imageB64 string) []chat.Message {
	messages := []chat.Message{
		{Role: "system", Content: systemPrompt},
	}

	if imageB64 == "" {
		messages = append(messages, chat.Message{Role: "user", Content: userMessage})
		return messages
	}

	messages = append(messages, chat.Message{
		Role: "user",
		Content: []chat.ContentPart{
			{Type: "text", Text: userMessage},
			{Type: "image_url", ImageURL: &chat.ImageURL{
				URL: "data:image/png;base64," + imageB64,
			}},
		},
	})
	return messages
}

func toolDefinition() chat.Tool {
	return chat.Tool{
		Type: "function",
		Function: chat.FunctionDef{
			Name:        toolName,
			Description: "Execute Python code in a sandboxed notebook session and return its results",
			Parameters:  toolParameters,
		},
	}
}
