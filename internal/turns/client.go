package turns

import "context"

// SendResult is the engine's reply to a message send. Either TurnID is set, or
// ErrorMessage carries an RPC-level error embedded in an otherwise successful
// response (surfaced as a synthesized assistant error, never retried here).
type SendResult struct {
	TurnID       string
	ErrorMessage string
}

// StartThreadOptions configures thread creation on the backend.
type StartThreadOptions struct {
	Engine Engine
	Model  string
}

// ThreadSnapshot is the engine's view of a resumed thread.
type ThreadSnapshot struct {
	ThreadID string
	Items    []map[string]any
}

// EngineClient is the abstract collaborator that performs network calls to backend
// engines. Implementations must be safe for concurrent use; the orchestration core
// only ever calls it from short-lived goroutines, never inline with notification
// handling.
type EngineClient interface {
	SendMessage(ctx context.Context, workspaceID string, threadID string, text string, images []string, opts SendOptions) (SendResult, error)
	Interrupt(ctx context.Context, workspaceID string, threadID string, turnID string) error
	StartThread(ctx context.Context, workspaceID string, opts StartThreadOptions) (string, error)
	ResumeThread(ctx context.Context, workspaceID string, threadID string) (ThreadSnapshot, error)
}
