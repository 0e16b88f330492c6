package turns

import (
	"sort"
	"strings"
)

// ResolvePendingThreadForSession disambiguates which pending thread a session-scoped
// event (one arriving without a thread id, e.g. a token-count report) belongs to.
//
// Precedence is strict and never guesses:
//  1. exactly one pending thread processing -> that one
//  2. several processing -> the focused one, else unattributable
//  3. exactly one with a bound turn -> that one; several -> focused or unattributable
//  4. exactly one pending thread total, showing any activity signal -> that one
//  5. otherwise unattributable (empty id, ok=false)
//
// Callers receiving ok=false must drop the event rather than attribute it arbitrarily.
func (s *Service) ResolvePendingThreadForSession(engine Engine) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolvePendingThreadLocked(engine)
}

func (s *Service) resolvePendingThreadLocked(engine Engine) (string, bool) {
	prefix := string(engine) + pendingIDInfix
	pending := make([]string, 0, 4)
	for _, id := range s.status.ThreadIDs() {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if s.ids.IsRenamed(id) {
			continue
		}
		pending = append(pending, id)
	}
	sort.Strings(pending)
	if len(pending) == 0 {
		return "", false
	}

	pickFocusedOf := func(ids []string) (string, bool) {
		for _, id := range ids {
			if id == s.activeThreadID {
				return id, true
			}
		}
		return "", false
	}

	processing := make([]string, 0, len(pending))
	for _, id := range pending {
		if s.status.Snapshot(id).IsProcessing {
			processing = append(processing, id)
		}
	}
	if len(processing) == 1 {
		return processing[0], true
	}
	if len(processing) > 1 {
		return pickFocusedOf(processing)
	}

	withTurn := make([]string, 0, len(pending))
	for _, id := range pending {
		if s.status.Snapshot(id).ActiveTurnID != "" {
			withTurn = append(withTurn, id)
		}
	}
	if len(withTurn) == 1 {
		return withTurn[0], true
	}
	if len(withTurn) > 1 {
		return pickFocusedOf(withTurn)
	}

	if len(pending) == 1 {
		st := s.status.Snapshot(pending[0])
		// A single pending thread the user merely opened but never used is not picked.
		if st.IsProcessing || st.ActiveTurnID != "" || st.HasItems {
			return pending[0], true
		}
	}
	return "", false
}
