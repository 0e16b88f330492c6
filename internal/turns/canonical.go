package turns

// Canonical event routing. Each operation returns a "handled" signal; false makes the
// router fall through to the legacy branches for the same raw notification, so
// adapters stay advisory rather than authoritative.

func (s *Service) routeCanonicalLocked(ev CanonicalEvent, fx *effects) bool {
	tid := s.ids.ResolveCanonical(ev.ThreadID)
	if tid == "" {
		return false
	}

	switch ev.Op {
	case OpItemStarted:
		s.status.NoteItem(tid)
		if cb := s.cb.OnItemStarted; cb != nil {
			item := ev.Item.Raw
			fx.add(func() { cb(tid, item) })
		}
		return true

	case OpItemUpdated:
		s.status.NoteItem(tid)
		if cb := s.cb.OnItemUpdated; cb != nil {
			item := ev.Item.Raw
			fx.add(func() { cb(tid, item) })
		}
		return true

	case OpItemCompleted:
		s.emitItemCompletedLocked(tid, ev.Item, fx)
		return true

	case OpAppendAgentMessageDelta:
		if ev.Delta == "" {
			// Empty deltas are not handled here; legacy parsing may still find text
			// under a historical spelling.
			return false
		}
		if _, ok := s.interrupted[tid]; ok {
			return true
		}
		s.deltaSeen[tid] = true
		if cb := s.cb.OnAgentMessageDelta; cb != nil {
			itemID := ev.Item.ID
			delta := ev.Delta
			fx.add(func() { cb(tid, itemID, delta) })
		}
		return true

	case OpCompleteAgentMessage:
		text := ev.Item.Text
		if text == "" {
			text = ev.Delta
		}
		// Idempotent under duplicate delivery: the item-completed side effects still
		// run, but a second message-completed callback is suppressed.
		duplicate := s.completedSeen[tid]
		s.completedSeen[tid] = true
		s.emitItemCompletedLocked(tid, ev.Item, fx)
		if !duplicate {
			if cb := s.cb.OnAgentMessageCompleted; cb != nil {
				itemID := ev.Item.ID
				fx.add(func() { cb(tid, itemID, text) })
			}
			s.noteAssistantCompletion(tid, ev.Item.ID, text, fx)
		}
		return true

	case OpAppendReasoningSummaryDelta, OpAppendReasoningContentDelta:
		if ev.Delta == "" {
			return false
		}
		if _, ok := s.interrupted[tid]; ok {
			return true
		}
		if cb := s.cb.OnReasoningDelta; cb != nil {
			itemID := ev.Item.ID
			delta := ev.Delta
			fx.add(func() { cb(tid, itemID, delta) })
		}
		return true

	case OpAppendReasoningSummaryBoundary:
		if cb := s.cb.OnReasoningBoundary; cb != nil {
			itemID := ev.Item.ID
			fx.add(func() { cb(tid, itemID) })
		}
		return true

	case OpAppendToolOutputDelta:
		itemID := ev.Item.ID
		chunk := ev.Delta
		if ev.Item.ToolKind == ToolKindFileEdit {
			if cb := s.cb.OnFileChangeOutputDelta; cb != nil {
				fx.add(func() { cb(tid, itemID, chunk) })
			}
			return true
		}
		if cb := s.cb.OnToolOutputDelta; cb != nil {
			fx.add(func() { cb(tid, itemID, chunk) })
		}
		return true

	default:
		return false
	}
}

// emitItemCompletedLocked fires the item-completed callback and, when the item carries
// a usage sub-object with positive counts, a token-usage update as well.
func (s *Service) emitItemCompletedLocked(tid string, item CanonicalItem, fx *effects) {
	s.status.NoteItem(tid)
	if cb := s.cb.OnItemCompleted; cb != nil {
		raw := item.Raw
		fx.add(func() { cb(tid, raw) })
	}
	if item.Raw == nil {
		return
	}
	usageSrc := firstMap(item.Raw, "usage", "tokenUsage", "token_usage")
	if usageSrc == nil {
		return
	}
	usage := extractTokenUsage(usageSrc)
	if !usage.hasAnyTokens() {
		return
	}
	if cb := s.cb.OnTokenUsageUpdated; cb != nil {
		fx.add(func() { cb(tid, usage) })
	}
}

// extractTokenUsage reads token counts under every historical spelling. Codex reports
// totals nested under "last"/"total"; others report flat input/output fields.
func extractTokenUsage(m map[string]any) TokenUsage {
	if m == nil {
		return TokenUsage{}
	}
	if last := firstMap(m, "lastTokenUsage", "last_token_usage", "last"); last != nil {
		m = last
	}
	var usage TokenUsage
	if v, ok := firstInt(m, "inputTokens", "input_tokens", "promptTokens", "prompt_tokens"); ok {
		usage.Input = v
	}
	if v, ok := firstInt(m, "cachedInputTokens", "cached_input_tokens", "cacheReadInputTokens", "cache_read_input_tokens"); ok {
		usage.CachedInput = v
	}
	if v, ok := firstInt(m, "outputTokens", "output_tokens", "completionTokens", "completion_tokens"); ok {
		usage.Output = v
	}
	if v, ok := firstInt(m, "reasoningOutputTokens", "reasoning_output_tokens", "reasoningTokens", "reasoning_tokens"); ok {
		usage.Reasoning = v
	}
	if v, ok := firstInt(m, "totalTokens", "total_tokens"); ok {
		usage.Total = v
	} else {
		usage.Total = usage.Input + usage.Output
	}
	return usage
}
