package turns

import (
	"strings"
	"time"
)

// statusStore holds one ThreadStatus per thread id, created lazily on first
// reference. Transitions are strictly per-key: no transition reads another thread's
// status, which keeps replay order-insensitive across threads.
//
// Not internally locked; owned by the service and mutated only under its mutex.
type statusStore struct {
	byThread map[string]*ThreadStatus
	now      func() time.Time
}

func newStatusStore(now func() time.Time) *statusStore {
	if now == nil {
		now = time.Now
	}
	return &statusStore{
		byThread: make(map[string]*ThreadStatus),
		now:      now,
	}
}

func (s *statusStore) get(threadID string) *ThreadStatus {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return &ThreadStatus{}
	}
	st := s.byThread[threadID]
	if st == nil {
		st = &ThreadStatus{}
		s.byThread[threadID] = st
	}
	return st
}

// Snapshot returns a copy of the thread's status (zero value if never referenced).
func (s *statusStore) Snapshot(threadID string) ThreadStatus {
	threadID = strings.TrimSpace(threadID)
	if s == nil || threadID == "" {
		return ThreadStatus{}
	}
	if st := s.byThread[threadID]; st != nil {
		return *st
	}
	return ThreadStatus{}
}

// MarkProcessing flips isProcessing. A true->false transition computes the last turn
// duration from processingStartedAt when set.
func (s *statusStore) MarkProcessing(threadID string, processing bool) {
	st := s.get(threadID)
	if st.IsProcessing == processing {
		return
	}
	if processing {
		st.IsProcessing = true
		st.ProcessingStartedAt = s.now()
		return
	}
	st.IsProcessing = false
	if !st.ProcessingStartedAt.IsZero() {
		st.LastDurationMs = s.now().Sub(st.ProcessingStartedAt).Milliseconds()
		st.ProcessingStartedAt = time.Time{}
	}
}

func (s *statusStore) MarkReviewing(threadID string, reviewing bool) {
	s.get(threadID).IsReviewing = reviewing
}

func (s *statusStore) SetActiveTurn(threadID string, turnID string) {
	s.get(threadID).ActiveTurnID = strings.TrimSpace(turnID)
}

// NoteItem records that the thread has item history (an activity signal consulted by
// pending-thread disambiguation).
func (s *statusStore) NoteItem(threadID string) {
	s.get(threadID).HasItems = true
}

// Rename moves status state from an old id to its canonical replacement. The merged
// record keeps whichever side shows activity.
func (s *statusStore) Rename(oldID string, newID string) {
	oldID = strings.TrimSpace(oldID)
	newID = strings.TrimSpace(newID)
	if s == nil || oldID == "" || newID == "" || oldID == newID {
		return
	}
	old := s.byThread[oldID]
	if old == nil {
		return
	}
	delete(s.byThread, oldID)
	cur := s.byThread[newID]
	if cur == nil {
		s.byThread[newID] = old
		return
	}
	cur.IsProcessing = cur.IsProcessing || old.IsProcessing
	cur.IsReviewing = cur.IsReviewing || old.IsReviewing
	if cur.ActiveTurnID == "" {
		cur.ActiveTurnID = old.ActiveTurnID
	}
	if cur.ProcessingStartedAt.IsZero() {
		cur.ProcessingStartedAt = old.ProcessingStartedAt
	}
	cur.HasItems = cur.HasItems || old.HasItems
}

// ThreadIDs returns every thread id the store has seen.
func (s *statusStore) ThreadIDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.byThread))
	for id := range s.byThread {
		out = append(out, id)
	}
	return out
}
