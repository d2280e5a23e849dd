package rag

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"
	"time"

	"ContentFlow/internal/retrieval"
	"ContentFlow/internal/storage/mysql"
)

type slowEmbedder struct {
	delay time.Duration
}

// Embed ignores ctx to mimic a cold-starting service.
func (s slowEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	time.Sleep(s.delay)
	return []float32{1, 0}, nil
}

type fixedEmbedder []float32

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f, nil }

type brokenInsights struct{}

func (brokenInsights) TopContent(context.Context, string, int) ([]mysql.ContentScore, error) {
	return nil, stdErrors.New("scores table missing")
}

func (brokenInsights) BottomContent(context.Context, string, int) ([]mysql.ContentScore, error) {
	return nil, nil
}

func seededRepository(t *testing.T) *mysql.MemoryRepository {
	t.Helper()
	repo, err := mysql.NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx := context.Background()
	_ = repo.SaveAction(ctx, mysql.Action{UserID: "u1", ProjectID: "p1", ToolName: "create_page", Status: "success", Result: "created /pricing", CreatedAt: 1_700_000_000})
	_ = repo.UpsertPreference(ctx, mysql.Preference{UserID: "u1", Key: "tone", Value: "formal"})
	_ = repo.UpsertProject(ctx, mysql.Project{ID: "p1", Name: "Marketing site", Description: "Public website"})
	_ = repo.UpsertContentScore(ctx, mysql.ContentScore{ProjectID: "p1", Path: "/", Title: "Home", Score: 0.9})
	_ = repo.UpsertContentScore(ctx, mysql.ContentScore{ProjectID: "p1", Path: "/legal", Title: "Legal", Score: 0.1})
	return repo
}

func TestAssembleAllSources(t *testing.T) {
	index := retrieval.NewMemoryIndex(
		retrieval.Document{ID: "d1", Vector: []float32{1, 0}, Metadata: map[string]string{"projectId": "p1", "title": "Pricing", "path": "/pricing", "snippet": "Plans and\nprices"}},
		retrieval.Document{ID: "d2", Vector: []float32{1, 0}, Metadata: map[string]string{"projectId": "other", "title": "Foreign"}},
	)
	a := New(FromRepository(seededRepository(t)), WithSemanticSearch(fixedEmbedder{1, 0}, index))

	got := a.Assemble(context.Background(), Query{UserID: "u1", ProjectID: "p1", Text: "update pricing"})

	if !strings.Contains(got.RecentActions, "create_page [success]: created /pricing") {
		t.Fatalf("unexpected recent actions: %q", got.RecentActions)
	}
	if got.UserContext != "- tone: formal" {
		t.Fatalf("unexpected user context: %q", got.UserContext)
	}
	if !strings.HasPrefix(got.ProjectInfo, "Project: Marketing site (p1)") {
		t.Fatalf("unexpected project info: %q", got.ProjectInfo)
	}
	if got.SemanticContext != "1. Pricing (/pricing, 1.00): Plans and prices" {
		t.Fatalf("unexpected semantic context: %q", got.SemanticContext)
	}
	if !strings.Contains(got.ValueInsights, "Top performing content:\n- Home (/): 0.90") ||
		!strings.Contains(got.ValueInsights, "Needs improvement:\n- Legal (/legal): 0.10") {
		t.Fatalf("unexpected value insights: %q", got.ValueInsights)
	}
}

func TestSlowEmbeddingBlanksOnlySemanticContext(t *testing.T) {
	a := New(FromRepository(seededRepository(t)),
		WithSemanticSearch(slowEmbedder{delay: 300 * time.Millisecond}, retrieval.NewMemoryIndex()),
		WithSemanticTimeout(30*time.Millisecond))

	started := time.Now()
	got := a.Assemble(context.Background(), Query{UserID: "u1", ProjectID: "p1", Text: "anything"})
	if elapsed := time.Since(started); elapsed > 250*time.Millisecond {
		t.Fatalf("semantic timeout not enforced, took %s", elapsed)
	}
	if got.SemanticContext != "" {
		t.Fatalf("expected empty semantic context, got %q", got.SemanticContext)
	}
	if got.RecentActions == "" || got.UserContext == "" || got.ProjectInfo == "" || got.ValueInsights == "" {
		t.Fatalf("expected other fields populated: %+v", got)
	}
}

func TestFailingLookupBlanksOnlyItsField(t *testing.T) {
	sources := FromRepository(seededRepository(t))
	sources.Insights = brokenInsights{}
	got := New(sources).Assemble(context.Background(), Query{UserID: "u1", ProjectID: "p1"})

	if got.ValueInsights != "" {
		t.Fatalf("expected empty insights, got %q", got.ValueInsights)
	}
	if got.ProjectInfo == "" || got.RecentActions == "" {
		t.Fatalf("expected other fields populated: %+v", got)
	}
	if got.SemanticContext != "" {
		t.Fatalf("semantic search without embedder must be empty")
	}
}

func TestMissingProjectYieldsEmptyProjectInfo(t *testing.T) {
	got := New(FromRepository(seededRepository(t))).Assemble(context.Background(), Query{UserID: "u1", ProjectID: "missing"})
	if got.ProjectInfo != "" || got.ValueInsights != "" {
		t.Fatalf("unexpected context for unknown project: %+v", got)
	}
}

func TestEmptySourcesProduceEmptyContext(t *testing.T) {
	got := New(FromRepository(nil)).Assemble(context.Background(), Query{UserID: "u", ProjectID: "p", Text: "x"})
	if got != (Context{}) {
		t.Fatalf("expected zero context, got %+v", got)
	}
}
