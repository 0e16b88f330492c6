package turns

// Adapters for the non-primary engine dialects. These are intentionally mechanical:
// each recognizes its engine's spellings for message/item semantics and leaves
// everything else (lifecycle, usage, plans) to the legacy branches.

// --- claude ---
//
// ACP-style session/update envelope with a snake_case discriminator:
// {"method":"session/update","params":{"session_id":...,"update":{"sessionUpdate":"agent_message_chunk",...}}}

type claudeAdapter struct{}

func (claudeAdapter) Engine() Engine { return EngineClaude }

func (claudeAdapter) MapEvent(n Notification) *CanonicalEvent {
	if n.Method != "session/update" {
		return nil
	}
	tid := notificationThreadID(n)
	if tid == "" {
		return nil
	}
	update := firstMap(n.Params, "update")
	if update == nil {
		return nil
	}
	itemID := firstString(update, "toolCallId", "tool_call_id", "itemId", "item_id")

	switch firstString(update, "sessionUpdate", "session_update", "kind") {
	case "agent_message_chunk":
		return &CanonicalEvent{
			Op:       OpAppendAgentMessageDelta,
			ThreadID: tid,
			Delta:    claudeContentText(update),
			Item:     CanonicalItem{Kind: ItemKindMessage, ID: itemID},
		}
	case "agent_message_complete":
		return &CanonicalEvent{
			Op:       OpCompleteAgentMessage,
			ThreadID: tid,
			Item:     CanonicalItem{Kind: ItemKindMessage, ID: itemID, Text: claudeContentText(update), Raw: update},
		}
	case "agent_thought_chunk":
		return &CanonicalEvent{
			Op:       OpAppendReasoningContentDelta,
			ThreadID: tid,
			Delta:    claudeContentText(update),
			Item:     CanonicalItem{Kind: ItemKindOther, ID: itemID},
		}
	case "tool_call":
		return &CanonicalEvent{
			Op:       OpItemStarted,
			ThreadID: tid,
			Item:     claudeToolItem(update, itemID),
		}
	case "tool_call_update":
		status := firstString(update, "status", "state")
		item := claudeToolItem(update, itemID)
		if status == "completed" || status == "failed" {
			return &CanonicalEvent{Op: OpItemCompleted, ThreadID: tid, Item: item}
		}
		if chunk := claudeContentText(update); chunk != "" {
			return &CanonicalEvent{Op: OpAppendToolOutputDelta, ThreadID: tid, Delta: chunk, Item: item}
		}
		return &CanonicalEvent{Op: OpItemUpdated, ThreadID: tid, Item: item}
	default:
		return nil
	}
}

func claudeContentText(update map[string]any) string {
	if content := firstMap(update, "content"); content != nil {
		return firstString(content, "text", "delta")
	}
	return firstString(update, "text", "delta")
}

func claudeToolItem(update map[string]any, itemID string) CanonicalItem {
	kind := ToolKindCommand
	switch firstString(update, "kind", "toolKind", "tool_kind") {
	case "edit", "write", "patch":
		kind = ToolKindFileEdit
	case "execute", "command", "":
		kind = ToolKindCommand
	default:
		kind = ToolKindOther
	}
	return CanonicalItem{
		Kind:     ItemKindTool,
		ID:       itemID,
		ToolName: firstString(update, "title", "toolName", "tool_name"),
		ToolKind: kind,
		Raw:      update,
	}
}

// --- gemini ---
//
// Chunked streaming methods: streamAssistantMessageChunk {chunk:{text|thought}},
// toolOutputChunk, itemCompleted.

type geminiAdapter struct{}

func (geminiAdapter) Engine() Engine { return EngineGemini }

func (geminiAdapter) MapEvent(n Notification) *CanonicalEvent {
	tid := notificationThreadID(n)
	if tid == "" {
		return nil
	}
	switch n.Method {
	case "streamAssistantMessageChunk":
		chunk := firstMap(n.Params, "chunk")
		if chunk == nil {
			return nil
		}
		if thought := firstString(chunk, "thought"); thought != "" {
			return &CanonicalEvent{
				Op:       OpAppendReasoningContentDelta,
				ThreadID: tid,
				Delta:    thought,
				Item:     CanonicalItem{Kind: ItemKindOther},
			}
		}
		return &CanonicalEvent{
			Op:       OpAppendAgentMessageDelta,
			ThreadID: tid,
			Delta:    firstString(chunk, "text", "delta"),
			Item:     CanonicalItem{Kind: ItemKindMessage},
		}
	case "assistantMessageComplete":
		return &CanonicalEvent{
			Op:       OpCompleteAgentMessage,
			ThreadID: tid,
			Item: CanonicalItem{
				Kind: ItemKindMessage,
				ID:   firstString(n.Params, "messageId", "message_id"),
				Text: firstString(n.Params, "text", "content"),
				Raw:  n.Params,
			},
		}
	case "toolOutputChunk":
		kind := ToolKindCommand
		if firstString(n.Params, "toolKind", "tool_kind") == "edit" {
			kind = ToolKindFileEdit
		}
		return &CanonicalEvent{
			Op:       OpAppendToolOutputDelta,
			ThreadID: tid,
			Delta:    firstString(n.Params, "output", "chunk", "delta"),
			Item: CanonicalItem{
				Kind:     ItemKindTool,
				ID:       firstString(n.Params, "callId", "call_id", "itemId", "item_id"),
				ToolKind: kind,
			},
		}
	default:
		return nil
	}
}

// --- amp ---
//
// Dotted event names with flat snake_case payloads: message.delta, message.completed,
// reasoning.delta, tool.output.

type ampAdapter struct{}

func (ampAdapter) Engine() Engine { return EngineAmp }

func (ampAdapter) MapEvent(n Notification) *CanonicalEvent {
	tid := notificationThreadID(n)
	if tid == "" {
		return nil
	}
	itemID := firstString(n.Params, "itemId", "item_id", "messageId", "message_id")
	switch n.Method {
	case "message.delta":
		return &CanonicalEvent{
			Op:       OpAppendAgentMessageDelta,
			ThreadID: tid,
			Delta:    firstString(n.Params, "delta", "text"),
			Item:     CanonicalItem{Kind: ItemKindMessage, ID: itemID},
		}
	case "message.completed":
		return &CanonicalEvent{
			Op:       OpCompleteAgentMessage,
			ThreadID: tid,
			Item:     CanonicalItem{Kind: ItemKindMessage, ID: itemID, Text: firstString(n.Params, "text", "content"), Raw: n.Params},
		}
	case "reasoning.delta":
		return &CanonicalEvent{
			Op:       OpAppendReasoningSummaryDelta,
			ThreadID: tid,
			Delta:    firstString(n.Params, "delta", "text"),
			Item:     CanonicalItem{Kind: ItemKindOther, ID: itemID},
		}
	case "reasoning.boundary":
		return &CanonicalEvent{
			Op:       OpAppendReasoningSummaryBoundary,
			ThreadID: tid,
			Item:     CanonicalItem{Kind: ItemKindOther, ID: itemID},
		}
	case "tool.output":
		kind := ToolKindCommand
		if firstString(n.Params, "tool", "toolName", "tool_name") == "edit_file" {
			kind = ToolKindFileEdit
		}
		return &CanonicalEvent{
			Op:       OpAppendToolOutputDelta,
			ThreadID: tid,
			Delta:    firstString(n.Params, "output", "delta", "chunk"),
			Item:     CanonicalItem{Kind: ItemKindTool, ID: itemID, ToolKind: kind},
		}
	default:
		return nil
	}
}
