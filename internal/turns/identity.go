package turns

import (
	"sort"
	"strings"
)

// identityResolver maintains alias edges from pending thread ids to their
// backend-confirmed replacements. Edges are never deleted: late duplicate events may
// still reference an id that was renamed long ago.
//
// Not internally locked; owned by the service and mutated only under its mutex.
type identityResolver struct {
	alias map[string]string // sourceId -> targetId
}

func newIdentityResolver() *identityResolver {
	return &identityResolver{alias: make(map[string]string)}
}

// ResolveCanonical follows the alias chain to a fixed point. Resolving an
// already-canonical id returns it unchanged. Traversal is capped at the table size to
// defend against accidental cycles.
func (r *identityResolver) ResolveCanonical(id string) string {
	id = strings.TrimSpace(id)
	if r == nil || id == "" {
		return id
	}
	cur := id
	for i := 0; i <= len(r.alias); i++ {
		next, ok := r.alias[cur]
		if !ok || next == "" || next == cur {
			return cur
		}
		cur = next
	}
	return cur
}

// RememberAlias records oldId -> canonical(newId). Recording an alias onto itself is
// a no-op so a backend echoing the same rename twice cannot create a cycle.
func (r *identityResolver) RememberAlias(oldID string, newID string) {
	oldID = strings.TrimSpace(oldID)
	newID = strings.TrimSpace(newID)
	if r == nil || oldID == "" || newID == "" || oldID == newID {
		return
	}
	target := r.ResolveCanonical(newID)
	if target == oldID {
		return
	}
	r.alias[oldID] = target
}

// CollectRelated returns the canonical id plus every id that resolves to it, so
// lookups under either the old or new identity find matching records.
func (r *identityResolver) CollectRelated(id string) []string {
	canonical := r.ResolveCanonical(id)
	if canonical == "" {
		return nil
	}
	related := []string{canonical}
	if r == nil {
		return related
	}
	for src := range r.alias {
		if src != canonical && r.ResolveCanonical(src) == canonical {
			related = append(related, src)
		}
	}
	sort.Strings(related[1:])
	return related
}

// IsRenamed reports whether the id has been aliased away to another identity.
func (r *identityResolver) IsRenamed(id string) bool {
	id = strings.TrimSpace(id)
	if r == nil || id == "" {
		return false
	}
	return r.ResolveCanonical(id) != id
}
