// Package sandbox is the client side of the kreide sandbox protocol.
//
// A Session wraps one remote notebook-style interpreter: code submitted
// through Execute runs as a cell in persistent interpreter state, stdout
// and stderr lines stream back through callbacks while the cell runs, and
// result artifacts (images, text) are returned when the cell completes.
// Sessions are acquired through an Acquirer (a static URL in development,
// a Kubernetes SandboxClaim in cluster mode) and must be released exactly
// once via Close.
package sandbox
