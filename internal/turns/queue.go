package turns

import (
	"context"
	"strings"
	"time"
)

// Outbound queue: one FIFO of user-authored messages per thread, drained only while
// that thread is active and idle, with at most one in-flight send per thread.

// Enqueue appends a message to the thread's queue without attempting a send.
func (s *Service) Enqueue(threadID string, msg QueuedMessage) {
	if s == nil {
		return
	}
	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.mu.Lock()
	tid := s.ids.ResolveCanonical(threadID)
	if tid != "" {
		s.queued[tid] = append(s.queued[tid], msg)
	}
	s.mu.Unlock()
}

// QueueLength reports the number of messages waiting (not in flight) for a thread.
func (s *Service) QueueLength(threadID string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued[s.ids.ResolveCanonical(threadID)])
}

// HandleSend is the user-action entry point for the active thread. Slash commands
// route to dedicated handlers; otherwise the message is sent immediately when the
// thread is idle (or steer is enabled), and queued when a turn is still processing.
func (s *Service) HandleSend(text string, images []string, opts SendOptions) error {
	if s == nil {
		return ErrNotConfigured
	}
	if cmd, rest, ok := matchSlashCommand(text); ok {
		// Commands never carry images.
		return s.dispatchCommand(cmd, rest)
	}

	s.mu.Lock()
	tid := s.activeThreadID
	if tid == "" {
		s.mu.Unlock()
		return ErrNoActiveThread
	}
	msg := QueuedMessage{
		ID:        newMessageID(),
		Text:      text,
		Images:    images,
		CreatedAt: s.now(),
		Opts:      opts,
	}
	st := s.status.Snapshot(tid)
	midTurn := st.IsProcessing || st.IsReviewing || st.ActiveTurnID != ""
	steer := opts.Steer || s.steerEnabled
	switch {
	case midTurn && !steer:
		s.queued[tid] = append(s.queued[tid], msg)
	case midTurn && steer:
		// Steer bypasses the queue and in-flight tracking entirely.
		go s.performSend(tid, msg, false)
	default:
		s.startSendLocked(tid, msg)
	}
	s.mu.Unlock()
	return nil
}

// reconcileLocked runs on every (isProcessing, isReviewing) change and on active
// thread switches: an idle active thread with no in-flight message and a non-empty
// queue dequeues its head and sends it.
func (s *Service) reconcileLocked(threadID string, fx *effects) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" || threadID != s.activeThreadID {
		// Never drain thread A's queue while a different thread is active.
		return
	}
	st := s.status.Snapshot(threadID)
	if st.IsProcessing || st.IsReviewing {
		return
	}
	if s.inflight[threadID] != nil {
		return
	}
	queue := s.queued[threadID]
	if len(queue) == 0 {
		return
	}
	head := queue[0]
	s.queued[threadID] = queue[1:]
	s.startSendLocked(threadID, head)
}

// startSendLocked marks the message in flight, arms the processing-start watchdog for
// the codex engine family, and issues the send off the event loop.
func (s *Service) startSendLocked(threadID string, msg QueuedMessage) {
	m := msg
	s.inflight[threadID] = &m
	if EngineForThread(threadID) == EngineCodex {
		s.armWatchdogLocked(threadID, msg.ID)
	}
	go s.performSend(threadID, msg, true)
}

// armWatchdogLocked starts the stall-recovery timer: if the thread never transitions
// to processing while this message is in flight, the message is returned to the front
// of the queue so the next idle transition retries it.
func (s *Service) armWatchdogLocked(threadID string, msgID string) {
	s.cancelWatchdogLocked(threadID)
	s.watchdogs[threadID] = time.AfterFunc(s.watchdogTO, func() {
		s.onWatchdogFired(threadID, msgID)
	})
}

func (s *Service) cancelWatchdogLocked(threadID string) {
	if t := s.watchdogs[threadID]; t != nil {
		t.Stop()
		delete(s.watchdogs, threadID)
	}
}

func (s *Service) onWatchdogFired(threadID string, msgID string) {
	fx := &effects{}
	s.mu.Lock()
	// A rename may have migrated the in-flight entry while the timer was pending.
	tid := s.ids.ResolveCanonical(threadID)
	delete(s.watchdogs, tid)
	inflight := s.inflight[tid]
	if inflight == nil || inflight.ID != msgID {
		s.mu.Unlock()
		return
	}
	if s.status.Snapshot(tid).IsProcessing {
		s.mu.Unlock()
		return
	}
	s.log.Warn("send never reached processing, requeueing", "thread_id", tid, "message_id", msgID)
	delete(s.inflight, tid)
	s.queued[tid] = append([]QueuedMessage{*inflight}, s.queued[tid]...)
	s.reconcileLocked(tid, fx)
	s.mu.Unlock()
	fx.fire()
}

// performSend runs off the event loop. tracked sends update in-flight bookkeeping on
// completion; steer sends do not.
func (s *Service) performSend(threadID string, msg QueuedMessage, tracked bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	res, err := s.client.SendMessage(ctx, s.workspaceID, threadID, msg.Text, msg.Images, msg.Opts)
	cancel()
	s.onSendResult(threadID, msg, tracked, res, err)
}

func (s *Service) onSendResult(threadID string, msg QueuedMessage, tracked bool, res SendResult, err error) {
	fx := &effects{}
	s.mu.Lock()
	tid := s.ids.ResolveCanonical(threadID)

	if err != nil {
		s.log.Warn("send failed", "thread_id", tid, "message_id", msg.ID, "err", err)
		if tracked {
			// Return to the front so retry preserves original ordering. The retry
			// itself waits for the next idle transition; no tight loop here.
			s.clearInflightLocked(tid, msg.ID)
			s.queued[tid] = append([]QueuedMessage{msg}, s.queued[tid]...)
		}
		s.mu.Unlock()
		fx.fire()
		return
	}

	if strings.TrimSpace(res.ErrorMessage) != "" {
		// RPC-level error embedded in the response: synthesized assistant error,
		// processing off, no automatic retry.
		turnID := s.status.Snapshot(tid).ActiveTurnID
		if tracked {
			s.clearInflightLocked(tid, msg.ID)
			s.cancelWatchdogLocked(tid)
		}
		s.markProcessingLocked(tid, false, fx)
		s.status.SetActiveTurn(tid, "")
		if cb := s.cb.OnTurnError; cb != nil {
			errMsg := strings.TrimSpace(res.ErrorMessage)
			fx.add(func() { cb(tid, turnID, errMsg) })
		}
		s.mu.Unlock()
		fx.fire()
		return
	}

	// Success: the message stays in flight until the engine reports processing
	// start (or the watchdog gives up), so the queue cannot leapfrog a send the
	// engine accepted but has not begun.
	if turnID := strings.TrimSpace(res.TurnID); turnID != "" {
		s.status.SetActiveTurn(tid, turnID)
	}
	s.mu.Unlock()
	fx.fire()
}

func (s *Service) clearInflightLocked(threadID string, msgID string) {
	if cur := s.inflight[threadID]; cur != nil && cur.ID == msgID {
		delete(s.inflight, threadID)
	}
}

// Interrupt cancels the thread's outstanding turn immediately: processing off, turn
// cleared, and the thread joins the interrupted set so late deltas from the cancelled
// turn are dropped instead of re-opening processing state.
func (s *Service) Interrupt(threadID string) {
	if s == nil {
		return
	}
	fx := &effects{}
	s.mu.Lock()
	tid := s.ids.ResolveCanonical(threadID)
	if tid == "" {
		s.mu.Unlock()
		return
	}
	turnID := s.status.Snapshot(tid).ActiveTurnID
	s.interrupted[tid] = struct{}{}
	s.cancelWatchdogLocked(tid)
	delete(s.inflight, tid)
	s.markProcessingLocked(tid, false, fx)
	s.status.SetActiveTurn(tid, "")
	s.mu.Unlock()
	fx.fire()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()
		if err := s.client.Interrupt(ctx, s.workspaceID, tid, turnID); err != nil {
			s.log.Warn("interrupt failed", "thread_id", tid, "err", err)
		}
	}()
}

// StartThread mints a pending id for the engine, makes it the active thread and asks
// the backend to confirm it. The confirmed id arrives as a session rename.
func (s *Service) StartThread(engine Engine, opts StartThreadOptions) string {
	if s == nil {
		return ""
	}
	pendingID := NewPendingThreadID(engine)
	s.mu.Lock()
	s.status.get(pendingID)
	s.activeThreadID = pendingID
	s.mu.Unlock()

	opts.Engine = engine
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()
		confirmed, err := s.client.StartThread(ctx, s.workspaceID, opts)
		if err != nil {
			s.log.Warn("start thread failed", "pending_thread_id", pendingID, "err", err)
			return
		}
		if strings.TrimSpace(confirmed) == "" || confirmed == pendingID {
			return
		}
		fx := &effects{}
		s.mu.Lock()
		s.handleSessionRenamed(pendingID, confirmed, fx)
		s.mu.Unlock()
		fx.fire()
	}()
	return pendingID
}

// ResumeThread asks the backend for the thread snapshot and seeds item history so the
// pending-thread resolver can treat the thread as active.
func (s *Service) ResumeThread(threadID string) {
	if s == nil {
		return
	}
	tid := s.ResolveCanonicalThread(threadID)
	if tid == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()
		snap, err := s.client.ResumeThread(ctx, s.workspaceID, tid)
		if err != nil {
			s.log.Warn("resume thread failed", "thread_id", tid, "err", err)
			return
		}
		s.mu.Lock()
		if len(snap.Items) > 0 {
			s.status.NoteItem(tid)
		}
		s.mu.Unlock()
	}()
}
