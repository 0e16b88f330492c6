package turns

import "testing"

func TestResolvePendingSingleProcessing(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newFakeClient(), Callbacks{})
	svc.HandleNotification(notif("turn/started", "codex-pending-a", map[string]any{"turnId": "t1"}))
	svc.HandleNotification(notif("thread/started", "codex-pending-b", nil))

	got, ok := svc.ResolvePendingThreadForSession(EngineCodex)
	if !ok || got != "codex-pending-a" {
		t.Fatalf("resolved (%q, %v), want codex-pending-a", got, ok)
	}
}

func TestResolvePendingAmbiguousFails(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newFakeClient(), Callbacks{})
	// Two pending threads, both processing, neither focused: refuse to guess.
	svc.HandleNotification(notif("turn/started", "codex-pending-a", map[string]any{"turnId": "t1"}))
	svc.HandleNotification(notif("turn/started", "codex-pending-b", map[string]any{"turnId": "t2"}))

	if got, ok := svc.ResolvePendingThreadForSession(EngineCodex); ok {
		t.Fatalf("ambiguous resolution returned %q", got)
	}

	// Focus breaks the tie.
	svc.SetActiveThread("codex-pending-b")
	got, ok := svc.ResolvePendingThreadForSession(EngineCodex)
	if !ok || got != "codex-pending-b" {
		t.Fatalf("resolved (%q, %v), want focused codex-pending-b", got, ok)
	}
}

func TestResolvePendingIdleThreadsUnattributable(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newFakeClient(), Callbacks{})
	// Two opened-but-unused pending threads: no activity signal, no pick.
	svc.HandleNotification(notif("thread/started", "codex-pending-a", nil))
	svc.HandleNotification(notif("thread/started", "codex-pending-b", nil))
	if got, ok := svc.ResolvePendingThreadForSession(EngineCodex); ok {
		t.Fatalf("idle ambiguity resolved to %q", got)
	}

	// Even a single pending thread is skipped when it shows no activity at all.
	svc2 := newTestService(t, newFakeClient(), Callbacks{})
	svc2.HandleNotification(notif("thread/started", "codex-pending-solo", nil))
	if got, ok := svc2.ResolvePendingThreadForSession(EngineCodex); ok {
		t.Fatalf("inactive solo thread resolved to %q", got)
	}
}

func TestResolvePendingWithBoundTurn(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newFakeClient(), Callbacks{})
	svc.HandleNotification(notif("turn/started", "codex-pending-a", map[string]any{"turnId": "t1"}))
	svc.HandleNotification(notif("turn/completed", "codex-pending-a", map[string]any{"turnId": "t1"}))
	svc.HandleNotification(notif("thread/started", "codex-pending-b", nil))

	// The completed turn left thread a idle again; with a second pending thread
	// present the event stays unattributed.
	if got, ok := svc.ResolvePendingThreadForSession(EngineCodex); ok {
		t.Fatalf("resolved to %q, want unattributable", got)
	}
}

func TestResolvePendingIgnoresRenamedThreads(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newFakeClient(), Callbacks{})
	svc.HandleNotification(notif("turn/started", "codex-pending-a", map[string]any{"turnId": "t1"}))
	svc.HandleNotification(notif("thread/sessionIdUpdated", "codex-pending-a", map[string]any{"sessionId": "codex-real"}))

	// The pending id was confirmed away; nothing pending remains.
	if got, ok := svc.ResolvePendingThreadForSession(EngineCodex); ok {
		t.Fatalf("renamed thread still resolvable as %q", got)
	}
}

func TestResolvePendingScopedByEngine(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newFakeClient(), Callbacks{})
	svc.HandleNotification(notif("turn/started", "claude-pending-a", map[string]any{"turnId": "t1"}))

	if got, ok := svc.ResolvePendingThreadForSession(EngineCodex); ok {
		t.Fatalf("codex resolution picked foreign thread %q", got)
	}
	got, ok := svc.ResolvePendingThreadForSession(EngineClaude)
	if !ok || got != "claude-pending-a" {
		t.Fatalf("claude resolution=(%q, %v)", got, ok)
	}
}
