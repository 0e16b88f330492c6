package turns

// Adapter maps one engine's raw notification dialect onto canonical events.
// Implementations are pure: they must not mutate shared state. A nil return means
// "not relevant to message/item semantics" and the router falls back to the legacy
// per-method branches.
type Adapter interface {
	Engine() Engine
	MapEvent(n Notification) *CanonicalEvent
}

type adapterRegistry struct {
	byEngine map[Engine]Adapter
	primary  Adapter
}

func newAdapterRegistry() *adapterRegistry {
	primary := &codexAdapter{}
	r := &adapterRegistry{
		byEngine: map[Engine]Adapter{
			EngineCodex:  primary,
			EngineClaude: &claudeAdapter{},
			EngineGemini: &geminiAdapter{},
			EngineAmp:    &ampAdapter{},
		},
		primary: primary,
	}
	return r
}

// Select picks the adapter by the thread id's engine prefix; unknown prefixes use the
// primary engine adapter.
func (r *adapterRegistry) Select(threadID string) Adapter {
	if r == nil {
		return nil
	}
	if a := r.byEngine[EngineForThread(threadID)]; a != nil {
		return a
	}
	return r.primary
}

// --- codex (primary) ---
//
// JSON-RPC style methods with camelCase item payloads: item/agentMessageDelta,
// item/started|updated|completed, item/reasoningSummaryTextDelta, ...

type codexAdapter struct{}

func (codexAdapter) Engine() Engine { return EngineCodex }

func (codexAdapter) MapEvent(n Notification) *CanonicalEvent {
	tid := notificationThreadID(n)
	if tid == "" {
		return nil
	}
	turnID := notificationTurnID(n)

	switch n.Method {
	case "item/agentMessageDelta", "item/agent_message_delta":
		return &CanonicalEvent{
			Op:       OpAppendAgentMessageDelta,
			ThreadID: tid,
			TurnID:   turnID,
			Delta:    firstString(n.Params, "delta", "text"),
			Item:     CanonicalItem{Kind: ItemKindMessage, ID: firstString(n.Params, "itemId", "item_id")},
		}
	case "item/reasoningSummaryTextDelta", "item/reasoningSummaryDelta":
		return &CanonicalEvent{
			Op:       OpAppendReasoningSummaryDelta,
			ThreadID: tid,
			TurnID:   turnID,
			Delta:    firstString(n.Params, "delta", "text"),
			Item:     CanonicalItem{Kind: ItemKindOther, ID: firstString(n.Params, "itemId", "item_id")},
		}
	case "item/reasoningTextDelta", "item/reasoning_text_delta":
		return &CanonicalEvent{
			Op:       OpAppendReasoningContentDelta,
			ThreadID: tid,
			TurnID:   turnID,
			Delta:    firstString(n.Params, "delta", "text"),
			Item:     CanonicalItem{Kind: ItemKindOther, ID: firstString(n.Params, "itemId", "item_id")},
		}
	case "item/reasoningSummaryPartAdded":
		return &CanonicalEvent{
			Op:       OpAppendReasoningSummaryBoundary,
			ThreadID: tid,
			TurnID:   turnID,
			Item:     CanonicalItem{Kind: ItemKindOther, ID: firstString(n.Params, "itemId", "item_id")},
		}
	case "item/commandExecutionOutputDelta", "item/cmdExecOutputDelta":
		return &CanonicalEvent{
			Op:       OpAppendToolOutputDelta,
			ThreadID: tid,
			TurnID:   turnID,
			Delta:    firstString(n.Params, "delta", "chunk", "output"),
			Item: CanonicalItem{
				Kind:     ItemKindTool,
				ID:       firstString(n.Params, "itemId", "item_id"),
				ToolKind: ToolKindCommand,
			},
		}
	case "item/fileChangeOutputDelta":
		return &CanonicalEvent{
			Op:       OpAppendToolOutputDelta,
			ThreadID: tid,
			TurnID:   turnID,
			Delta:    firstString(n.Params, "delta", "chunk"),
			Item: CanonicalItem{
				Kind:     ItemKindTool,
				ID:       firstString(n.Params, "itemId", "item_id"),
				ToolKind: ToolKindFileEdit,
			},
		}
	case "item/started", "item/updated", "item/completed":
		item := firstMap(n.Params, "item")
		if item == nil {
			return nil
		}
		ci := codexCanonicalItem(item)
		op := OpItemStarted
		switch n.Method {
		case "item/updated":
			op = OpItemUpdated
		case "item/completed":
			if ci.Kind == ItemKindMessage && ci.Text != "" {
				return &CanonicalEvent{Op: OpCompleteAgentMessage, ThreadID: tid, TurnID: turnID, Item: ci}
			}
			op = OpItemCompleted
		}
		return &CanonicalEvent{Op: op, ThreadID: tid, TurnID: turnID, Item: ci}
	default:
		return nil
	}
}

func codexCanonicalItem(item map[string]any) CanonicalItem {
	ci := CanonicalItem{
		Kind: ItemKindOther,
		ID:   firstString(item, "id", "itemId", "item_id"),
		Text: firstString(item, "text", "content"),
		Raw:  item,
	}
	switch firstString(item, "type", "itemType", "item_type") {
	case "agentMessage", "agent_message", "message":
		ci.Kind = ItemKindMessage
	case "commandExecution", "command_execution":
		ci.Kind = ItemKindTool
		ci.ToolKind = ToolKindCommand
		ci.ToolName = "commandExecution"
	case "fileChange", "file_change":
		ci.Kind = ItemKindTool
		ci.ToolKind = ToolKindFileEdit
		ci.ToolName = "fileChange"
	}
	return ci
}
