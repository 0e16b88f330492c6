package turns

import (
	"errors"
	"testing"
	"time"
)

func TestSendWithNoActiveThread(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, newFakeClient(), Callbacks{})
	if err := svc.HandleSend("hello", nil, SendOptions{}); !errors.Is(err, ErrNoActiveThread) {
		t.Fatalf("err=%v, want ErrNoActiveThread", err)
	}
}

func TestIdleSendGoesImmediately(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.sendResult = SendResult{TurnID: "turn-1"}
	svc := newTestService(t, client, Callbacks{})

	svc.SetActiveThread("codex-t1")
	if err := svc.HandleSend("hello", nil, SendOptions{}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	msg := <-client.sent
	if msg.ThreadID != "codex-t1" || msg.Text != "hello" {
		t.Fatalf("sent=%+v", msg)
	}
	waitFor(t, func() bool {
		return svc.Status("codex-t1").ActiveTurnID == "turn-1"
	}, "turn id bound from send result")
}

func TestMidTurnSendsQueueInOrder(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	svc := newTestService(t, client, Callbacks{})

	svc.SetActiveThread("codex-t1")
	svc.HandleNotification(notif("turn/started", "codex-t1", map[string]any{"turnId": "turn-1"}))

	if err := svc.HandleSend("first", nil, SendOptions{}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if err := svc.HandleSend("second", nil, SendOptions{}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if got := svc.QueueLength("codex-t1"); got != 2 {
		t.Fatalf("queue length=%d, want 2", got)
	}
	if got := len(client.sentMessages()); got != 0 {
		t.Fatalf("sent %d messages while processing", got)
	}

	// Turn completion drains exactly one message.
	svc.HandleNotification(notif("turn/completed", "codex-t1", map[string]any{"turnId": "turn-1"}))
	msg := <-client.sent
	if msg.Text != "first" {
		t.Fatalf("drained %q, want first", msg.Text)
	}
	if got := svc.QueueLength("codex-t1"); got != 1 {
		t.Fatalf("queue length after drain=%d, want 1", got)
	}

	// The next idle transition sends the second message.
	svc.HandleNotification(notif("turn/started", "codex-t1", map[string]any{"turnId": "turn-2"}))
	svc.HandleNotification(notif("turn/completed", "codex-t1", map[string]any{"turnId": "turn-2"}))
	msg = <-client.sent
	if msg.Text != "second" {
		t.Fatalf("drained %q, want second", msg.Text)
	}
}

func TestSteerBypassesQueue(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	svc := newTestService(t, client, Callbacks{})

	svc.SetActiveThread("codex-t1")
	svc.HandleNotification(notif("turn/started", "codex-t1", map[string]any{"turnId": "turn-1"}))

	if err := svc.HandleSend("steer me", nil, SendOptions{Steer: true}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	msg := <-client.sent
	if msg.Text != "steer me" {
		t.Fatalf("sent=%q", msg.Text)
	}
	if got := svc.QueueLength("codex-t1"); got != 0 {
		t.Fatalf("queue length=%d, want 0 after steer", got)
	}
}

func TestTransportErrorRequeuesAtFront(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.sendErrs = []error{errors.New("connection reset")}
	svc := newTestService(t, client, Callbacks{})

	svc.SetActiveThread("codex-t1")
	if err := svc.HandleSend("retry me", nil, SendOptions{}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	<-client.sent
	waitFor(t, func() bool {
		return svc.QueueLength("codex-t1") == 1
	}, "message requeued after transport error")

	// The retry happens on the next idle transition, not in a tight loop.
	if got := len(client.sentMessages()); got != 1 {
		t.Fatalf("sent %d times before retry trigger", got)
	}
	svc.HandleNotification(notif("turn/started", "codex-t1", map[string]any{"turnId": "t"}))
	svc.HandleNotification(notif("turn/completed", "codex-t1", map[string]any{"turnId": "t"}))
	msg := <-client.sent
	if msg.Text != "retry me" {
		t.Fatalf("retried %q", msg.Text)
	}
}

func TestSendResultErrorSynthesizesTurnError(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.sendResult = SendResult{ErrorMessage: "model overloaded"}

	var gotThread, gotMsg string
	svc := newTestService(t, client, Callbacks{
		OnTurnError: func(threadID, turnID, message string) {
			gotThread, gotMsg = threadID, message
		},
	})

	svc.SetActiveThread("codex-t1")
	if err := svc.HandleSend("doomed", nil, SendOptions{}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	<-client.sent
	waitFor(t, func() bool { return gotMsg != "" }, "turn error callback")
	if gotThread != "codex-t1" || gotMsg != "model overloaded" {
		t.Fatalf("turn error=(%q, %q)", gotThread, gotMsg)
	}
	// The message is consumed, not retried.
	if got := svc.QueueLength("codex-t1"); got != 0 {
		t.Fatalf("queue length=%d, want 0", got)
	}
}

func TestWatchdogRequeuesStalledSend(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.sendResult = SendResult{TurnID: "turn-1"}
	svc := newTestService(t, client, Callbacks{})
	svc.watchdogTO = 20 * time.Millisecond

	svc.SetActiveThread("codex-t1")
	if err := svc.HandleSend("stalled", nil, SendOptions{}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	first := <-client.sent
	if first.Text != "stalled" {
		t.Fatalf("sent=%q", first.Text)
	}

	// No processing-start arrives; the watchdog requeues and reconciliation retries
	// immediately because the thread is still idle.
	second := <-client.sent
	if second.Text != "stalled" {
		t.Fatalf("watchdog retry sent %q", second.Text)
	}
}

func TestWatchdogNotArmedForNonCodexThreads(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	svc := newTestService(t, client, Callbacks{})
	svc.watchdogTO = 10 * time.Millisecond

	svc.SetActiveThread("claude-t1")
	if err := svc.HandleSend("no watchdog", nil, SendOptions{}); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	<-client.sent

	select {
	case msg := <-client.sent:
		t.Fatalf("unexpected retry %q for non-codex thread", msg.Text)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestInactiveThreadQueueDoesNotDrain(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	svc := newTestService(t, client, Callbacks{})

	svc.SetActiveThread("codex-a")
	svc.Enqueue("codex-b", QueuedMessage{Text: "for b"})

	// Thread B is idle but not active, so completion events elsewhere never drain it.
	svc.HandleNotification(notif("turn/started", "codex-b", map[string]any{"turnId": "t"}))
	svc.HandleNotification(notif("turn/completed", "codex-b", map[string]any{"turnId": "t"}))
	if got := svc.QueueLength("codex-b"); got != 1 {
		t.Fatalf("queue length=%d, want 1 while inactive", got)
	}

	// Switching focus drains it.
	svc.SetActiveThread("codex-b")
	msg := <-client.sent
	if msg.Text != "for b" || msg.ThreadID != "codex-b" {
		t.Fatalf("drained=%+v", msg)
	}
}
