package sandbox

// Artifact is one rendered output of a cell execution.
type Artifact struct {
	// Text is plain-text display data (e.g., the repr of a value).
	Text string `json:"text,omitempty"`

	// PNG is a base64-encoded PNG image produced by the cell.
	PNG string `json:"png,omitempty"`

	// Name is the originating file name for file-backed artifacts.
	Name string `json:"name,omitempty"`
}

// ExecOptions configures a single cell execution.
type ExecOptions struct {
	// OnStdout is invoked for each stdout line as it arrives. May be nil.
	OnStdout func(line string)

	// OnStderr is invoked for each stderr line as it arrives. May be nil.
	OnStderr func(line string)
}

// event is one NDJSON line streamed from the sandbox server during
// a cell execution.
type event struct {
	Type   string      `json:"type"` // stdout, stderr, result, error, done
	Line   string      `json:"line,omitempty"`
	Result *Artifact   `json:"result,omitempty"`
	Error  *errorEvent `json:"error,omitempty"`
}

// errorEvent carries a structured remote execution error.
type errorEvent struct {
	Name      string   `json:"name"`
	Value     string   `json:"value"`
	Traceback []string `json:"traceback,omitempty"`
}

// createSessionResponse is the body returned by POST /sessions.
type createSessionResponse struct {
	ID string `json:"id"`
}

// executeRequest is the request body for POST /sessions/{id}/execute.
type executeRequest struct {
	Code string `json:"code"`
}
