package sandbox

// ExecutionError is returned by Execute when the remote cell reports a
// structured error. No partial results accompany it.
type ExecutionError struct {
	// Name is the error class reported by the interpreter (e.g., "NameError").
	Name string

	// Value is the error message text.
	Value string

	// Traceback holds the formatted traceback lines, if the server sent them.
	Traceback []string
}

// Error returns the remote error's message text.
func (e *ExecutionError) Error() string {
	return e.Value
}
