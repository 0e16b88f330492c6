package turns

import (
	"context"
	"strings"
	"time"
)

// Memory race resolver. The user-input capture and the assistant completion for the
// same exchange arrive on independent paths in either order; each side parks in a
// per-thread mailbox until its counterpart shows up, then the later arrival merges.

// MemoryRecord is the persisted shape of one remembered exchange.
type MemoryRecord struct {
	WorkspaceID string
	ThreadID    string
	TurnID      string
	Kind        string
	Importance  string
	Summary     string
	Detail      string
	CreatedAt   time.Time
}

// MemoryStore persists memory records. Implementations must be safe for concurrent
// use; the service calls them off the event loop.
type MemoryStore interface {
	CreateMemory(ctx context.Context, rec MemoryRecord) (string, error)
	UpdateMemory(ctx context.Context, id string, rec MemoryRecord) error
}

// PendingMemoryCapture is a user input waiting for its assistant completion.
type PendingMemoryCapture struct {
	WorkspaceID string
	ThreadID    string
	TurnID      string
	InputText   string
	MemoryID    string
	CreatedAt   time.Time
}

// PendingAssistantCompletion is an assistant completion waiting for its capture.
type PendingAssistantCompletion struct {
	WorkspaceID string
	ThreadID    string
	ItemID      string
	Text        string
	CreatedAt   time.Time
}

// OnInputCaptured records a user input for the thread. If the matching assistant
// completion already arrived it merges immediately; otherwise the capture parks and
// waits for the completion side.
func (s *Service) OnInputCaptured(threadID, turnID, inputText, memoryID string) {
	if s == nil || s.memories == nil {
		return
	}
	inputText = strings.TrimSpace(inputText)
	if inputText == "" {
		return
	}
	s.mu.Lock()
	tid := s.ids.ResolveCanonical(threadID)
	cap := PendingMemoryCapture{
		WorkspaceID: s.workspaceID,
		ThreadID:    tid,
		TurnID:      turnID,
		InputText:   inputText,
		MemoryID:    memoryID,
		CreatedAt:   s.now(),
	}
	done, found := s.completions[tid]
	if found {
		delete(s.completions, tid)
		if s.now().Sub(done.CreatedAt) < s.mergeWindow {
			s.mu.Unlock()
			go s.mergeMemory(cap, done)
			return
		}
		// A stale completion belongs to some earlier exchange; drop it and let
		// this capture wait for its own completion.
		s.log.Warn("discarding stale assistant completion", "thread_id", tid, "age", s.now().Sub(done.CreatedAt))
	}
	s.captures[tid] = cap
	s.mu.Unlock()
}

// OnAssistantCompleted records the assistant's final text for the thread. A parked
// capture that is still fresh merges now; a stale capture is discarded along with
// this completion rather than producing a cross-exchange record.
func (s *Service) OnAssistantCompleted(threadID, itemID, text string) {
	if s == nil || s.memories == nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	tid := s.ids.ResolveCanonical(threadID)
	done := PendingAssistantCompletion{
		WorkspaceID: s.workspaceID,
		ThreadID:    tid,
		ItemID:      itemID,
		Text:        text,
		CreatedAt:   s.now(),
	}
	cap, found := s.captures[tid]
	if found {
		delete(s.captures, tid)
		if s.now().Sub(cap.CreatedAt) < s.mergeWindow {
			s.mu.Unlock()
			go s.mergeMemory(cap, done)
			return
		}
		// The capture aged out, so this completion cannot be its answer. Both
		// sides are dropped rather than parking the completion for some future
		// unrelated capture.
		s.log.Warn("discarding stale memory capture", "thread_id", tid, "age", s.now().Sub(cap.CreatedAt))
		s.mu.Unlock()
		return
	}
	s.completions[tid] = done
	s.mu.Unlock()
}

// noteAssistantCompletion defers the completion-side mailbox update until the event
// loop releases the mutex. Routing branches call this alongside the agent-message
// completed callback.
func (s *Service) noteAssistantCompletion(tid, itemID, text string, fx *effects) {
	if s.memories == nil {
		return
	}
	fx.add(func() { s.OnAssistantCompleted(tid, itemID, text) })
}

// migratePendingMemoryLocked moves parked mailbox entries when a session is renamed,
// so a capture parked under the pending id still meets its completion arriving under
// the confirmed id.
func (s *Service) migratePendingMemoryLocked(oldID, newID string) {
	if cap, ok := s.captures[oldID]; ok {
		delete(s.captures, oldID)
		if _, exists := s.captures[newID]; !exists {
			cap.ThreadID = newID
			s.captures[newID] = cap
		}
	}
	if done, ok := s.completions[oldID]; ok {
		delete(s.completions, oldID)
		if _, exists := s.completions[newID]; !exists {
			done.ThreadID = newID
			s.completions[newID] = done
		}
	}
}

// mergeMemory composes the final record from a matched capture/completion pair and
// persists it. Runs off the event loop; persistence failures are logged, not surfaced.
func (s *Service) mergeMemory(cap PendingMemoryCapture, done PendingAssistantCompletion) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	assistant := normalizeAssistantText(done.Text)
	summary := s.summarize(ctx, cap.InputText, assistant)
	class := s.classify(ctx, cap.InputText, assistant)

	rec := MemoryRecord{
		WorkspaceID: cap.WorkspaceID,
		ThreadID:    cap.ThreadID,
		TurnID:      cap.TurnID,
		Kind:        class.Kind,
		Importance:  class.Importance,
		Summary:     summary,
		Detail:      composeDetail(cap.InputText, summary, assistant),
		CreatedAt:   cap.CreatedAt,
	}

	if cap.MemoryID != "" {
		if err := s.memories.UpdateMemory(ctx, cap.MemoryID, rec); err == nil {
			return
		} else {
			s.log.Warn("memory update failed, creating instead", "memory_id", cap.MemoryID, "err", err)
		}
	}
	if _, err := s.memories.CreateMemory(ctx, rec); err != nil {
		s.log.Warn("memory create failed", "thread_id", cap.ThreadID, "err", err)
	}
}

// summarize produces a one-line digest of the exchange; without a summarizer it
// falls back to the first sentence of the assistant text.
func (s *Service) summarize(ctx context.Context, input, assistant string) string {
	if s.summarizer != nil {
		if out, err := s.summarizer.Summarize(ctx, input, assistant); err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out)
		} else if err != nil {
			s.log.Warn("summarizer failed", "err", err)
		}
	}
	sentences := splitSentences(assistant)
	if len(sentences) > 0 {
		return sentences[0]
	}
	return assistant
}

func (s *Service) classify(ctx context.Context, input, assistant string) Classification {
	fallback := Classification{Kind: "fact", Importance: "medium"}
	if s.classifier == nil {
		return fallback
	}
	class, err := s.classifier.Classify(ctx, input, assistant)
	if err != nil {
		s.log.Warn("classifier failed", "err", err)
		return fallback
	}
	if class.Kind == "" {
		class.Kind = fallback.Kind
	}
	if class.Importance == "" {
		class.Importance = fallback.Importance
	}
	return class
}
