package turns

import (
	"strings"
)

// HandleNotification is the single entry point for raw transport frames. Behavior, in
// strict order: observe hook, connection signal, correlated approval/user-input RPCs,
// canonical adapter mapping (behind the feature flag), then the legacy method table.
//
// Malformed or irrelevant notifications are dropped silently (debug traces only):
// legacy dialects do not deliver every field on every event.
func (s *Service) HandleNotification(n Notification) {
	if s == nil {
		return
	}
	s.safeObserve(n)

	method := strings.TrimSpace(n.Method)
	if method == "" {
		return
	}

	if isConnectedMethod(method) {
		if cb := s.cb.OnConnected; cb != nil {
			cb()
		}
		return
	}

	// Approval and user-input requests are request/response RPCs layered over the
	// notification stream; they carry a correlation id and bypass event routing.
	if n.ID != nil {
		if isApprovalMethod(method) {
			s.handleApprovalRequest(n)
			return
		}
		if isUserInputMethod(method) {
			s.handleUserInputRequest(n)
			return
		}
	}

	fx := &effects{}
	s.mu.Lock()
	if s.canonicalEvents {
		if adapter := s.adapters.Select(notificationThreadID(n)); adapter != nil {
			// Adapters are advisory: a nil event or an unhandled operation falls
			// through to the legacy branches for the same notification.
			if ev := adapter.MapEvent(n); ev != nil && s.routeCanonicalLocked(*ev, fx) {
				s.mu.Unlock()
				fx.fire()
				return
			}
		}
	}
	s.routeLegacyLocked(n, method, fx)
	s.mu.Unlock()
	fx.fire()
}

func isConnectedMethod(method string) bool {
	switch method {
	case "connected", "session/connected", "connection/established":
		return true
	default:
		return false
	}
}

func isApprovalMethod(method string) bool {
	// Spellings vary per dialect: item/requestApproval, item/requestFileChangeApproval,
	// item/request_command_approval. Anything that asks for an approval qualifies.
	m := strings.ToLower(method)
	return strings.Contains(m, "request") && strings.Contains(m, "approval")
}

func isUserInputMethod(method string) bool {
	m := strings.ToLower(method)
	return strings.Contains(m, "requestuserinput") || strings.Contains(m, "request_user_input") || strings.Contains(m, "elicitation")
}

func (s *Service) handleApprovalRequest(n Notification) {
	cb := s.cb.OnApprovalRequested
	if cb == nil {
		return
	}
	m := strings.ToLower(n.Method)
	kind := "command"
	if strings.Contains(m, "filechange") || strings.Contains(m, "file_change") || strings.Contains(m, "applypatch") || strings.Contains(m, "apply_patch") {
		kind = "fileChange"
	}
	req := ApprovalRequest{
		RequestID: n.ID,
		ThreadID:  s.ResolveCanonicalThread(notificationThreadID(n)),
		ItemID:    firstString(n.Params, "itemId", "item_id", "callId", "call_id"),
		Kind:      kind,
		Command:   firstString(n.Params, "command", "cmd"),
		Cwd:       firstString(n.Params, "cwd", "workingDirectory", "working_directory"),
		Path:      firstString(n.Params, "path", "file", "fileName", "file_name"),
		Diff:      firstString(n.Params, "diff", "patch", "changes"),
		Reason:    firstString(n.Params, "reason", "reasoning", "justification"),
		Options:   firstStringSlice(n.Params, "options"),
	}
	cb(req)
}

func (s *Service) handleUserInputRequest(n Notification) {
	cb := s.cb.OnUserInputRequested
	if cb == nil {
		return
	}
	req := UserInputRequest{
		RequestID: n.ID,
		ThreadID:  s.ResolveCanonicalThread(notificationThreadID(n)),
		TurnID:    notificationTurnID(n),
		Prompt:    firstString(n.Params, "prompt", "message", "question", "text"),
		Options:   firstStringSlice(n.Params, "options", "choices"),
	}
	cb(req)
}

// routeLegacyLocked is the fixed table of historical per-method branches. A branch
// missing its required fields (empty thread id) is a silent no-op.
func (s *Service) routeLegacyLocked(n Notification, method string, fx *effects) {
	switch method {
	case "thread/started", "thread_started":
		tid := notificationThreadID(n)
		if tid == "" {
			return
		}
		tid = s.ids.ResolveCanonical(tid)
		s.status.get(tid)
		if cb := s.cb.OnThreadStarted; cb != nil {
			fx.add(func() { cb(tid) })
		}

	case "thread/sessionIdUpdated", "thread/session_id_updated", "session_configured":
		oldID := firstString(n.Params, "threadId", "thread_id", "oldThreadId", "old_thread_id", "pendingThreadId", "pending_thread_id")
		newID := firstString(n.Params, "sessionId", "session_id", "newThreadId", "new_thread_id")
		if oldID == "" || newID == "" {
			s.log.Debug("session rename missing ids", "method", method)
			return
		}
		s.handleSessionRenamed(oldID, newID, fx)

	case "turn/started", "turn_started":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		turnID := notificationTurnID(n)
		// Both duplicate-suppression flags reset together on a fresh turn.
		delete(s.deltaSeen, tid)
		delete(s.completedSeen, tid)
		delete(s.interrupted, tid)
		s.markProcessingLocked(tid, true, fx)
		s.status.SetActiveTurn(tid, turnID)
		if cb := s.cb.OnTurnStarted; cb != nil {
			fx.add(func() { cb(tid, turnID) })
		}

	case "turn/completed", "turn_completed":
		s.handleTurnCompletedLocked(n, fx)

	case "turn/failed", "turn/error", "turn_failed":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		turnID := notificationTurnID(n)
		msg := firstString(n.Params, "error", "message", "errorMessage", "error_message")
		s.markProcessingLocked(tid, false, fx)
		s.status.SetActiveTurn(tid, "")
		if cb := s.cb.OnTurnError; cb != nil {
			fx.add(func() { cb(tid, turnID, msg) })
		}

	case "item/started", "item_started":
		s.handleItemLifecycleLocked(n, s.cb.OnItemStarted, fx)

	case "item/updated", "item_updated":
		s.handleItemLifecycleLocked(n, s.cb.OnItemUpdated, fx)

	case "item/completed", "item_completed":
		s.handleItemCompletedLocked(n, fx)

	case "item/agentMessageDelta", "item/agent_message_delta", "agent_message_delta":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		if _, ok := s.interrupted[tid]; ok {
			// Late deltas from a cancelled turn must not re-open processing state.
			return
		}
		delta := firstString(n.Params, "delta", "text", "chunk")
		if delta == "" {
			return
		}
		itemID := firstString(n.Params, "itemId", "item_id")
		s.deltaSeen[tid] = true
		if cb := s.cb.OnAgentMessageDelta; cb != nil {
			fx.add(func() { cb(tid, itemID, delta) })
		}

	case "item/reasoningSummaryTextDelta", "item/reasoningSummaryDelta", "item/reasoning_summary_delta":
		s.handleReasoningDeltaLocked(n, fx)

	case "item/reasoningTextDelta", "item/reasoning_text_delta":
		s.handleReasoningDeltaLocked(n, fx)

	case "item/reasoningSummaryPartAdded", "item/reasoning_summary_part_added":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		itemID := firstString(n.Params, "itemId", "item_id")
		if cb := s.cb.OnReasoningBoundary; cb != nil {
			fx.add(func() { cb(tid, itemID) })
		}

	case "item/commandExecutionOutputDelta", "item/cmdExecOutputDelta", "item/command_execution_output_delta":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		itemID := firstString(n.Params, "itemId", "item_id")
		chunk := firstString(n.Params, "delta", "chunk", "output", "data")
		if cb := s.cb.OnToolOutputDelta; cb != nil {
			fx.add(func() { cb(tid, itemID, chunk) })
		}

	case "item/fileChangeOutputDelta", "item/file_change_output_delta":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		itemID := firstString(n.Params, "itemId", "item_id")
		chunk := firstString(n.Params, "delta", "chunk", "output")
		if cb := s.cb.OnFileChangeOutputDelta; cb != nil {
			fx.add(func() { cb(tid, itemID, chunk) })
		}

	case "terminal/stdin", "terminal_stdin":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		data := firstString(n.Params, "data", "text", "input")
		if cb := s.cb.OnTerminalStdin; cb != nil {
			fx.add(func() { cb(tid, data) })
		}

	case "turn/planUpdated", "turn/plan_updated", "plan_updated":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		entries := parsePlanEntries(n.Params)
		if cb := s.cb.OnPlanUpdated; cb != nil {
			fx.add(func() { cb(tid, entries) })
		}

	case "turn/diffUpdated", "turn/diff_updated", "diff_updated":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		diff := firstString(n.Params, "diff", "unifiedDiff", "unified_diff")
		if cb := s.cb.OnDiffUpdated; cb != nil {
			fx.add(func() { cb(tid, diff) })
		}

	case "thread/tokenUsageUpdated", "thread/token_usage_updated", "token_count":
		s.handleTokenUsageLocked(n, fx)

	case "rateLimits/updated", "rate_limits_updated":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			var ok bool
			tid, ok = s.resolvePendingThreadLocked(notificationEngine(n))
			if !ok {
				s.log.Debug("rate limits event unattributable", "method", method)
				return
			}
		}
		limits := firstMap(n.Params, "rateLimits", "rate_limits", "limits")
		if cb := s.cb.OnRateLimitsUpdated; cb != nil {
			fx.add(func() { cb(tid, limits) })
		}

	case "heartbeat", "ping":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if cb := s.cb.OnHeartbeat; cb != nil {
			fx.add(func() { cb(tid) })
		}

	case "thread/contextCompacted", "thread/context_compacted", "context_compacted":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		turnID := notificationTurnID(n)
		if cb := s.cb.OnContextCompacted; cb != nil {
			fx.add(func() { cb(tid, turnID) })
		}

	case "thread/backgroundAction", "background_thread_action":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		action := firstString(n.Params, "action", "kind", "type")
		if cb := s.cb.OnBackgroundThreadAction; cb != nil {
			fx.add(func() { cb(tid, action) })
		}

	case "review/started", "review_started":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		s.markReviewingLocked(tid, true, fx)

	case "review/completed", "review/ended", "review_completed":
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		s.markReviewingLocked(tid, false, fx)

	case "error":
		// RPC-level error: synthesized assistant error in the thread, processing off.
		tid := s.ids.ResolveCanonical(notificationThreadID(n))
		if tid == "" {
			return
		}
		msg := firstString(n.Params, "message", "error")
		turnID := s.status.Snapshot(tid).ActiveTurnID
		s.markProcessingLocked(tid, false, fx)
		s.status.SetActiveTurn(tid, "")
		if cb := s.cb.OnTurnError; cb != nil {
			fx.add(func() { cb(tid, turnID, msg) })
		}

	default:
		s.log.Debug("unhandled notification", "method", method)
	}
}

func (s *Service) handleTurnCompletedLocked(n Notification, fx *effects) {
	tid := s.ids.ResolveCanonical(notificationThreadID(n))
	if tid == "" {
		return
	}
	turnID := notificationTurnID(n)

	// Some dialects ship assembled final text on the turn-level completion. Synthesize
	// an agent-message-completed only when no delta and no completion were seen for
	// this turn; otherwise the message path already covered it.
	finalText := turnCompletedFinalText(n)
	if finalText != "" && !s.deltaSeen[tid] && !s.completedSeen[tid] {
		s.completedSeen[tid] = true
		if cb := s.cb.OnAgentMessageCompleted; cb != nil {
			fx.add(func() { cb(tid, "", finalText) })
		}
		s.noteAssistantCompletion(tid, "", finalText, fx)
	}

	// Engines may skip the start notification entirely; the completion still
	// settles any tracked send.
	s.cancelWatchdogLocked(tid)
	delete(s.inflight, tid)
	s.markProcessingLocked(tid, false, fx)
	s.status.SetActiveTurn(tid, "")

	if usageSrc := firstMap(n.Params, "usage", "tokenUsage", "token_usage"); usageSrc != nil {
		usage := extractTokenUsage(usageSrc)
		if usage.hasAnyTokens() {
			if cb := s.cb.OnTokenUsageUpdated; cb != nil {
				fx.add(func() { cb(tid, usage) })
			}
		}
	}
	if cb := s.cb.OnTurnCompleted; cb != nil {
		fx.add(func() { cb(tid, turnID) })
	}
}

func (s *Service) handleItemLifecycleLocked(n Notification, cb func(string, map[string]any), fx *effects) {
	tid := s.ids.ResolveCanonical(notificationThreadID(n))
	if tid == "" {
		return
	}
	item := firstMap(n.Params, "item")
	if item == nil {
		return
	}
	s.status.NoteItem(tid)
	if cb != nil {
		fx.add(func() { cb(tid, item) })
	}
}

func (s *Service) handleItemCompletedLocked(n Notification, fx *effects) {
	tid := s.ids.ResolveCanonical(notificationThreadID(n))
	if tid == "" {
		return
	}
	item := firstMap(n.Params, "item")
	if item == nil {
		return
	}
	s.status.NoteItem(tid)
	if cb := s.cb.OnItemCompleted; cb != nil {
		fx.add(func() { cb(tid, item) })
	}

	itemType := firstString(item, "type", "itemType", "item_type")
	if itemType == "agentMessage" || itemType == "agent_message" {
		text := firstString(item, "text", "content", "message")
		if text != "" && !s.completedSeen[tid] {
			s.completedSeen[tid] = true
			itemID := firstString(item, "id", "itemId", "item_id")
			if cb := s.cb.OnAgentMessageCompleted; cb != nil {
				fx.add(func() { cb(tid, itemID, text) })
			}
			s.noteAssistantCompletion(tid, itemID, text, fx)
		}
	}
}

func (s *Service) handleReasoningDeltaLocked(n Notification, fx *effects) {
	tid := s.ids.ResolveCanonical(notificationThreadID(n))
	if tid == "" {
		return
	}
	if _, ok := s.interrupted[tid]; ok {
		return
	}
	delta := firstString(n.Params, "delta", "text", "chunk")
	if delta == "" {
		return
	}
	itemID := firstString(n.Params, "itemId", "item_id")
	if cb := s.cb.OnReasoningDelta; cb != nil {
		fx.add(func() { cb(tid, itemID, delta) })
	}
}

func (s *Service) handleTokenUsageLocked(n Notification, fx *effects) {
	tid := s.ids.ResolveCanonical(notificationThreadID(n))
	if tid == "" {
		// Session-scoped usage reports arrive without a thread id; attribute them
		// only when disambiguation succeeds, never by guessing.
		var ok bool
		tid, ok = s.resolvePendingThreadLocked(notificationEngine(n))
		if !ok {
			s.log.Debug("token usage event unattributable", "method", n.Method)
			return
		}
	}
	src := firstMap(n.Params, "tokenUsage", "token_usage", "usage", "info")
	if src == nil {
		src = n.Params
	}
	usage := extractTokenUsage(src)
	if !usage.hasAnyTokens() {
		return
	}
	if cb := s.cb.OnTokenUsageUpdated; cb != nil {
		fx.add(func() { cb(tid, usage) })
	}
}

// notificationEngine reads an explicit engine tag when present; session-scoped events
// without one default to the primary engine.
func notificationEngine(n Notification) Engine {
	if e := firstString(n.Params, "engine", "provider", "agent"); e != "" {
		for _, eng := range Engines() {
			if string(eng) == e {
				return eng
			}
		}
	}
	return EngineCodex
}

func turnCompletedFinalText(n Notification) string {
	if text := firstString(n.Params, "finalText", "final_text", "text", "message"); text != "" {
		return text
	}
	if turn := firstMap(n.Params, "turn"); turn != nil {
		return firstString(turn, "finalText", "final_text", "text", "output")
	}
	return ""
}

func parsePlanEntries(params map[string]any) []PlanEntry {
	raw, ok := params["plan"].([]any)
	if !ok {
		if raw, ok = params["entries"].([]any); !ok {
			return nil
		}
	}
	out := make([]PlanEntry, 0, len(raw))
	for _, it := range raw {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, PlanEntry{
			Description: firstString(m, "description", "step", "text"),
			Status:      firstString(m, "status", "state"),
		})
	}
	return out
}
