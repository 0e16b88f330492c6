package turns

// This package implements the turn orchestration core.
//
// Design notes:
// - All inbound engine notifications funnel through Service.HandleNotification on one
//   logical event loop; shared maps (status, aliases, queue, pending memory halves) are
//   single-writer under the service mutex.
// - Backend engines are external collaborators reached through EngineClient; this package
//   never performs network I/O inline with notification handling.
// - Ordering is guaranteed per thread only. Handlers must tolerate notifications for
//   different threads interleaving arbitrarily.

import (
	"encoding/json"
	"strings"
	"time"
)

// Engine identifies one backend agent engine family.
type Engine string

const (
	// EngineCodex is the primary engine; unknown thread prefixes fall back to it.
	EngineCodex  Engine = "codex"
	EngineClaude Engine = "claude"
	EngineGemini Engine = "gemini"
	EngineAmp    Engine = "amp"
)

// Engines lists every supported engine family.
func Engines() []Engine {
	return []Engine{EngineCodex, EngineClaude, EngineGemini, EngineAmp}
}

const pendingIDInfix = "-pending-"

// EngineForThread inspects a thread id prefix and returns the owning engine.
// Unknown prefixes map to the primary engine.
func EngineForThread(threadID string) Engine {
	id := strings.TrimSpace(threadID)
	for _, eng := range Engines() {
		if strings.HasPrefix(id, string(eng)+"-") {
			return eng
		}
	}
	return EngineCodex
}

// IsPendingThreadID reports whether the id is a client-minted pending id
// (engine prefix + "-pending-" infix) that has not been backend-confirmed.
func IsPendingThreadID(threadID string) bool {
	id := strings.TrimSpace(threadID)
	for _, eng := range Engines() {
		if strings.HasPrefix(id, string(eng)+pendingIDInfix) {
			return true
		}
	}
	return false
}

// Notification is one raw frame from the transport collaborator.
//
// Params carries the decoded params object; Raw keeps the undecoded bytes so
// adapters can run path lookups without re-marshalling.
type Notification struct {
	Method string
	ID     any // correlation id (number or string); nil for pure notifications
	Params map[string]any
	Raw    json.RawMessage
}

// ThreadStatus is the per-thread processing/review snapshot.
type ThreadStatus struct {
	IsProcessing        bool
	IsReviewing         bool
	ActiveTurnID        string // empty means no turn outstanding
	ProcessingStartedAt time.Time
	LastDurationMs      int64
	HasItems            bool
}

// SendOptions carries per-send controls forwarded to the engine client.
type SendOptions struct {
	// Steer sends immediately even while a turn is processing, bypassing the queue.
	Steer bool
	Model string
}

// QueuedMessage is one user-authored message awaiting send for a thread.
type QueuedMessage struct {
	ID        string
	Text      string
	Images    []string
	CreatedAt time.Time
	Opts      SendOptions
}

// TokenUsage is the normalized token accounting for one turn or item.
type TokenUsage struct {
	Input       int64 `json:"input"`
	CachedInput int64 `json:"cached_input"`
	Output      int64 `json:"output"`
	Reasoning   int64 `json:"reasoning"`
	Total       int64 `json:"total"`
}

func (u TokenUsage) hasAnyTokens() bool {
	return u.Input > 0 || u.CachedInput > 0 || u.Output > 0 || u.Reasoning > 0 || u.Total > 0
}

// PlanEntry is one step of an engine-reported plan.
type PlanEntry struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

// ApprovalRequest is a synchronous engine request for user approval, layered over the
// notification stream with a correlation id. Replying is the embedder's responsibility.
type ApprovalRequest struct {
	RequestID any
	ThreadID  string
	ItemID    string
	Kind      string // command | fileChange
	Command   string
	Cwd       string
	Path      string
	Diff      string
	Reason    string
	Options   []string
}

// UserInputRequest is a synchronous engine request for free-form user input.
type UserInputRequest struct {
	RequestID any
	ThreadID  string
	TurnID    string
	Prompt    string
	Options   []string
}

// Callbacks is the optional observer set exposed to the embedding layer.
// Every field may be nil; unregistered callbacks are no-ops.
type Callbacks struct {
	// Observe sees every raw notification before any routing. It must never block;
	// panics are swallowed so a diagnostics consumer cannot stall the loop.
	Observe func(n Notification)

	OnConnected            func()
	OnThreadStarted        func(threadID string)
	OnThreadSessionUpdated func(oldID string, newID string)

	OnApprovalRequested  func(req ApprovalRequest)
	OnUserInputRequested func(req UserInputRequest)

	OnItemStarted   func(threadID string, item map[string]any)
	OnItemUpdated   func(threadID string, item map[string]any)
	OnItemCompleted func(threadID string, item map[string]any)

	OnAgentMessageDelta     func(threadID string, itemID string, delta string)
	OnAgentMessageCompleted func(threadID string, itemID string, text string)

	OnReasoningDelta    func(threadID string, itemID string, delta string)
	OnReasoningBoundary func(threadID string, itemID string)

	OnToolOutputDelta       func(threadID string, itemID string, chunk string)
	OnFileChangeOutputDelta func(threadID string, itemID string, chunk string)

	OnTurnStarted   func(threadID string, turnID string)
	OnTurnCompleted func(threadID string, turnID string)
	OnTurnError     func(threadID string, turnID string, message string)

	OnPlanUpdated            func(threadID string, entries []PlanEntry)
	OnDiffUpdated            func(threadID string, diff string)
	OnTokenUsageUpdated      func(threadID string, usage TokenUsage)
	OnRateLimitsUpdated      func(threadID string, limits map[string]any)
	OnHeartbeat              func(threadID string)
	OnContextCompacted       func(threadID string, turnID string)
	OnBackgroundThreadAction func(threadID string, action string)
	OnTerminalStdin          func(threadID string, data string)
}

// CanonicalOp tags one canonical event operation (see routeCanonicalEvent).
type CanonicalOp string

const (
	OpItemStarted                    CanonicalOp = "itemStarted"
	OpItemUpdated                    CanonicalOp = "itemUpdated"
	OpItemCompleted                  CanonicalOp = "itemCompleted"
	OpAppendAgentMessageDelta        CanonicalOp = "appendAgentMessageDelta"
	OpCompleteAgentMessage           CanonicalOp = "completeAgentMessage"
	OpAppendReasoningSummaryDelta    CanonicalOp = "appendReasoningSummaryDelta"
	OpAppendReasoningSummaryBoundary CanonicalOp = "appendReasoningSummaryBoundary"
	OpAppendReasoningContentDelta    CanonicalOp = "appendReasoningContentDelta"
	OpAppendToolOutputDelta          CanonicalOp = "appendToolOutputDelta"
)

// ItemKind discriminates the canonical item union.
type ItemKind string

const (
	ItemKindMessage ItemKind = "message"
	ItemKindTool    ItemKind = "tool"
	ItemKindOther   ItemKind = "other"
)

// ToolKind subtypes tool items for output routing.
type ToolKind string

const (
	ToolKindCommand  ToolKind = "command"
	ToolKindFileEdit ToolKind = "fileEdit"
	ToolKindOther    ToolKind = "other"
)

// CanonicalItem is the engine-neutral item carried by canonical events.
type CanonicalItem struct {
	Kind     ItemKind
	ID       string
	Text     string
	ToolName string
	ToolKind ToolKind
	Raw      map[string]any
}

// CanonicalEvent is one engine-neutral effect produced by an adapter.
type CanonicalEvent struct {
	Op       CanonicalOp
	ThreadID string
	TurnID   string
	Delta    string
	Item     CanonicalItem
}
