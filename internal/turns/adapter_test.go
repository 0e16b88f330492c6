package turns

import "testing"

func TestAdapterSelectionByThreadPrefix(t *testing.T) {
	t.Parallel()
	r := newAdapterRegistry()
	cases := []struct {
		threadID string
		want     Engine
	}{
		{"codex-t1", EngineCodex},
		{"claude-t1", EngineClaude},
		{"gemini-t1", EngineGemini},
		{"amp-t1", EngineAmp},
		{"unknown-prefix", EngineCodex},
	}
	for _, tc := range cases {
		if got := r.Select(tc.threadID).Engine(); got != tc.want {
			t.Fatalf("Select(%q)=%q, want %q", tc.threadID, got, tc.want)
		}
	}
}

func TestCodexAdapterMapsDeltas(t *testing.T) {
	t.Parallel()
	a := codexAdapter{}

	ev := a.MapEvent(notif("item/agentMessageDelta", "codex-t1", map[string]any{
		"delta": "hel", "itemId": "it-1", "turnId": "turn-1",
	}))
	if ev == nil || ev.Op != OpAppendAgentMessageDelta || ev.Delta != "hel" || ev.Item.ID != "it-1" {
		t.Fatalf("ev=%+v", ev)
	}

	ev = a.MapEvent(notif("item/reasoningSummaryPartAdded", "codex-t1", map[string]any{"itemId": "r-1"}))
	if ev == nil || ev.Op != OpAppendReasoningSummaryBoundary {
		t.Fatalf("boundary ev=%+v", ev)
	}

	// Irrelevant methods map to nil and fall through to legacy routing.
	if ev := a.MapEvent(notif("thread/tokenUsageUpdated", "codex-t1", nil)); ev != nil {
		t.Fatalf("lifecycle event mapped: %+v", ev)
	}
	// Missing thread id maps to nil.
	if ev := a.MapEvent(Notification{Method: "item/agentMessageDelta", Params: map[string]any{"delta": "x"}}); ev != nil {
		t.Fatalf("thread-less event mapped: %+v", ev)
	}
}

func TestCodexAdapterItemCompletion(t *testing.T) {
	t.Parallel()
	a := codexAdapter{}

	// A completed agent message with text becomes the message completion op.
	ev := a.MapEvent(notif("item/completed", "codex-t1", map[string]any{
		"item": map[string]any{"type": "agentMessage", "id": "it-1", "text": "done"},
	}))
	if ev == nil || ev.Op != OpCompleteAgentMessage || ev.Item.Text != "done" {
		t.Fatalf("ev=%+v", ev)
	}

	// A completed command execution stays a plain item completion.
	ev = a.MapEvent(notif("item/completed", "codex-t1", map[string]any{
		"item": map[string]any{"type": "commandExecution", "id": "it-2"},
	}))
	if ev == nil || ev.Op != OpItemCompleted || ev.Item.ToolKind != ToolKindCommand {
		t.Fatalf("ev=%+v", ev)
	}
}

func TestClaudeAdapterSessionUpdates(t *testing.T) {
	t.Parallel()
	a := claudeAdapter{}

	ev := a.MapEvent(Notification{Method: "session/update", Params: map[string]any{
		"session_id": "claude-s1",
		"update": map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content":       map[string]any{"text": "par"},
		},
	}})
	if ev == nil || ev.Op != OpAppendAgentMessageDelta || ev.Delta != "par" || ev.ThreadID != "claude-s1" {
		t.Fatalf("ev=%+v", ev)
	}

	ev = a.MapEvent(Notification{Method: "session/update", Params: map[string]any{
		"session_id": "claude-s1",
		"update": map[string]any{
			"sessionUpdate": "tool_call_update",
			"toolCallId":    "tc-1",
			"status":        "completed",
			"kind":          "edit",
		},
	}})
	if ev == nil || ev.Op != OpItemCompleted || ev.Item.ToolKind != ToolKindFileEdit {
		t.Fatalf("tool ev=%+v", ev)
	}

	if ev := a.MapEvent(notif("item/agentMessageDelta", "claude-s1", nil)); ev != nil {
		t.Fatalf("foreign method mapped: %+v", ev)
	}
}

func TestGeminiAdapterChunks(t *testing.T) {
	t.Parallel()
	a := geminiAdapter{}

	ev := a.MapEvent(notif("streamAssistantMessageChunk", "gemini-t1", map[string]any{
		"chunk": map[string]any{"text": "word"},
	}))
	if ev == nil || ev.Op != OpAppendAgentMessageDelta || ev.Delta != "word" {
		t.Fatalf("ev=%+v", ev)
	}

	ev = a.MapEvent(notif("streamAssistantMessageChunk", "gemini-t1", map[string]any{
		"chunk": map[string]any{"thought": "hmm"},
	}))
	if ev == nil || ev.Op != OpAppendReasoningContentDelta || ev.Delta != "hmm" {
		t.Fatalf("thought ev=%+v", ev)
	}
}

func TestAmpAdapterDottedMethods(t *testing.T) {
	t.Parallel()
	a := ampAdapter{}

	ev := a.MapEvent(notif("message.completed", "amp-t1", map[string]any{
		"itemId": "m-1", "text": "final answer",
	}))
	if ev == nil || ev.Op != OpCompleteAgentMessage || ev.Item.Text != "final answer" {
		t.Fatalf("ev=%+v", ev)
	}

	ev = a.MapEvent(notif("tool.output", "amp-t1", map[string]any{
		"tool": "edit_file", "output": "patched",
	}))
	if ev == nil || ev.Op != OpAppendToolOutputDelta || ev.Item.ToolKind != ToolKindFileEdit {
		t.Fatalf("tool ev=%+v", ev)
	}
}

func TestCanonicalRoutingDuplicateCompletion(t *testing.T) {
	t.Parallel()
	var completions, items int
	svc, err := New(Options{
		WorkspaceID:     "ws-test",
		Client:          newFakeClient(),
		CanonicalEvents: true,
		Callbacks: Callbacks{
			OnAgentMessageCompleted: func(threadID, itemID, text string) { completions++ },
			OnItemCompleted:         func(threadID string, item map[string]any) { items++ },
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := notif("item/completed", "codex-t1", map[string]any{
		"item": map[string]any{"type": "agentMessage", "id": "it-1", "text": "answer"},
	})
	svc.HandleNotification(done)
	svc.HandleNotification(done)

	// The item-completed side effects stay per delivery; the message completion
	// fires once.
	if completions != 1 {
		t.Fatalf("completions=%d, want 1", completions)
	}
	if items != 2 {
		t.Fatalf("item callbacks=%d, want 2", items)
	}
}

func TestCanonicalFallthroughToLegacy(t *testing.T) {
	t.Parallel()
	started := 0
	svc, err := New(Options{
		WorkspaceID:     "ws-test",
		Client:          newFakeClient(),
		CanonicalEvents: true,
		Callbacks: Callbacks{
			OnTurnStarted: func(threadID, turnID string) { started++ },
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// turn/started is lifecycle, not message semantics: adapters return nil and the
	// legacy branch still runs.
	svc.HandleNotification(notif("turn/started", "codex-t1", map[string]any{"turnId": "t1"}))
	if started != 1 {
		t.Fatalf("started=%d", started)
	}
	if !svc.Status("codex-t1").IsProcessing {
		t.Fatalf("processing not set via legacy branch")
	}
}
