package turns

import (
	"reflect"
	"testing"
)

func TestResolveCanonicalFollowsChains(t *testing.T) {
	t.Parallel()
	r := newIdentityResolver()
	r.RememberAlias("codex-pending-1", "codex-pending-2")
	r.RememberAlias("codex-pending-2", "codex-session-x")

	for _, id := range []string{"codex-pending-1", "codex-pending-2", "codex-session-x"} {
		if got := r.ResolveCanonical(id); got != "codex-session-x" {
			t.Fatalf("ResolveCanonical(%q)=%q, want codex-session-x", id, got)
		}
	}
	if got := r.ResolveCanonical("unrelated"); got != "unrelated" {
		t.Fatalf("ResolveCanonical(unrelated)=%q", got)
	}
}

func TestRememberAliasRefusesCycles(t *testing.T) {
	t.Parallel()
	r := newIdentityResolver()
	r.RememberAlias("a", "b")
	// b -> a would close a cycle; the resolver refuses the edge.
	r.RememberAlias("b", "a")
	if got := r.ResolveCanonical("a"); got != "b" {
		t.Fatalf("ResolveCanonical(a)=%q, want b", got)
	}
	if r.IsRenamed("b") {
		t.Fatalf("b should remain canonical")
	}

	// Self-alias is a no-op.
	r.RememberAlias("c", "c")
	if r.IsRenamed("c") {
		t.Fatalf("self alias recorded")
	}
}

func TestCollectRelated(t *testing.T) {
	t.Parallel()
	r := newIdentityResolver()
	r.RememberAlias("codex-pending-1", "codex-pending-2")
	r.RememberAlias("codex-pending-2", "codex-session-x")
	r.RememberAlias("other", "elsewhere")

	got := r.CollectRelated("codex-pending-1")
	want := []string{"codex-session-x", "codex-pending-1", "codex-pending-2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CollectRelated=%v, want %v", got, want)
	}
}

func TestEngineForThread(t *testing.T) {
	t.Parallel()
	cases := []struct {
		id   string
		want Engine
	}{
		{"codex-abc", EngineCodex},
		{"claude-pending-1", EngineClaude},
		{"gemini-99", EngineGemini},
		{"amp-x", EngineAmp},
		{"mystery-1", EngineCodex},
		{"", EngineCodex},
	}
	for _, tc := range cases {
		if got := EngineForThread(tc.id); got != tc.want {
			t.Fatalf("EngineForThread(%q)=%q, want %q", tc.id, got, tc.want)
		}
	}
	if !IsPendingThreadID("amp-pending-123") {
		t.Fatalf("amp pending id not recognized")
	}
	if IsPendingThreadID("amp-confirmed-123") {
		t.Fatalf("confirmed id recognized as pending")
	}
}
