package session

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestRememberKeepsMostRecentTen(t *testing.T) {
	sc := &Context{ID: "s1"}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 13; i++ {
		sc.Remember(QueryHistoryItem{Query: fmt.Sprintf("q%d", i), IntentType: "single", Timestamp: base.Add(time.Duration(i) * time.Minute)}, HistoryLimit)
	}
	if len(sc.History) != HistoryLimit {
		t.Fatalf("expected %d items, got %d", HistoryLimit, len(sc.History))
	}
	if sc.History[0].Query != "q3" || sc.History[9].Query != "q12" {
		t.Fatalf("unexpected ring contents: first=%s last=%s", sc.History[0].Query, sc.History[9].Query)
	}
	if !sc.UpdatedAt.Equal(base.Add(12 * time.Minute)) {
		t.Fatalf("unexpected updatedAt: %v", sc.UpdatedAt)
	}
}

func TestMemoryStoreExpiresEntries(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := context.Background()
	if err := store.Save(ctx, &Context{ID: "s1", History: []QueryHistoryItem{{Query: "hello"}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded.History[0].Query = "mutated"

	again, _ := store.Load(ctx, "s1")
	if again.History[0].Query != "hello" {
		t.Fatalf("store must hand out copies")
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Load(ctx, "s1"); !stdErrors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	if err := NewMemoryStore(0).Save(context.Background(), &Context{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
