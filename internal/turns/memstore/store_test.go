package memstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftlock/turnbridge/internal/turns"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memories.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetMemory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateMemory(ctx, turns.MemoryRecord{
		WorkspaceID: "ws-1",
		ThreadID:    "codex-t1",
		TurnID:      "turn-1",
		Kind:        "decision",
		Importance:  "high",
		Summary:     "Use spaces",
		Detail:      "User: tabs or spaces?\n\nAssistant: Use spaces",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if id == "" {
		t.Fatalf("empty memory id")
	}

	got, err := s.GetMemory(ctx, id)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got == nil || got.Summary != "Use spaces" || got.Kind != "decision" {
		t.Fatalf("got=%+v", got)
	}

	if missing, err := s.GetMemory(ctx, "mem-nope"); err != nil || missing != nil {
		t.Fatalf("missing lookup=(%+v, %v)", missing, err)
	}
}

func TestUpdateMemory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateMemory(ctx, turns.MemoryRecord{
		WorkspaceID: "ws-1",
		ThreadID:    "codex-t1",
		Summary:     "draft",
	})
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	err = s.UpdateMemory(ctx, id, turns.MemoryRecord{
		ThreadID:   "codex-t1",
		Kind:       "fact",
		Importance: "low",
		Summary:    "final",
	})
	if err != nil {
		t.Fatalf("UpdateMemory: %v", err)
	}
	got, err := s.GetMemory(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetMemory: (%+v, %v)", got, err)
	}
	if got.Summary != "final" || got.Kind != "fact" {
		t.Fatalf("got=%+v", got)
	}

	if err := s.UpdateMemory(ctx, "mem-nope", turns.MemoryRecord{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v, want ErrNotFound", err)
	}
}

func TestListByThread(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := s.CreateMemory(ctx, turns.MemoryRecord{
			WorkspaceID: "ws-1",
			ThreadID:    "codex-t1",
			Summary:     "rec",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}
	_, err := s.CreateMemory(ctx, turns.MemoryRecord{
		WorkspaceID: "ws-1",
		ThreadID:    "codex-other",
		Summary:     "foreign",
	})
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	got, err := s.ListByThread(ctx, "codex-t1", 0)
	if err != nil {
		t.Fatalf("ListByThread: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}
	// Newest first.
	if got[0].CreatedAtUnixMs < got[2].CreatedAtUnixMs {
		t.Fatalf("order: %d before %d", got[0].CreatedAtUnixMs, got[2].CreatedAtUnixMs)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open("   "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
