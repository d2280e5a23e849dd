package redis

import (
	"context"
	stdErrors "errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"ContentFlow/internal/session"
)

// 需要真实的 Redis，设置 CONTENTFLOW_TEST_REDIS=host:port 后运行。
func TestSessionStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("CONTENTFLOW_TEST_REDIS")
	if addr == "" {
		t.Skip("CONTENTFLOW_TEST_REDIS not set")
	}

	ctx := context.Background()
	store, err := NewSessionStore(ctx, Config{Address: addr, Prefix: "contentflow:test:", TTL: time.Minute})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	id := uuid.NewString()
	if _, err := store.Load(ctx, id); !stdErrors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	sc := &session.Context{ID: id, UserID: "u1"}
	sc.Remember(session.QueryHistoryItem{Query: "list pages", IntentType: "single", Timestamp: time.Now().UTC()}, session.HistoryLimit)
	if err := store.Save(ctx, sc); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.History) != 1 || loaded.History[0].Query != "list pages" {
		t.Fatalf("unexpected session: %+v", loaded)
	}
}

func TestSessionStoreKeyPrefix(t *testing.T) {
	store := NewSessionStoreWithClient(nil, "", 0)
	if got := store.key("abc"); got != "contentflow:session:abc" {
		t.Fatalf("unexpected key: %s", got)
	}
	if store.ttl != 24*time.Hour {
		t.Fatalf("unexpected default ttl: %v", store.ttl)
	}
}

func TestNewSessionStoreRequiresAddress(t *testing.T) {
	if _, err := NewSessionStore(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without address")
	}
}
