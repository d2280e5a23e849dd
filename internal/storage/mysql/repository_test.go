package mysql

import (
	"context"
	stdErrors "errors"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteRepository(t *testing.T) *SQLRepository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "contentflow.db")
	repo, err := NewSQLRepository(context.Background(), Config{Driver: DriverSQLite, DSN: dsn}, true,
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	if err != nil {
		t.Fatalf("open sqlite repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	for i, tool := range []string{"create_page", "configure_seo", "publish"} {
		err := repo.SaveAction(ctx, Action{
			RequestID: "req-1",
			UserID:    "u1",
			ProjectID: "p1",
			ToolName:  tool,
			Input:     `{"title":"Home"}`,
			Status:    "success",
			Result:    "ok",
			CreatedAt: int64(100 + i),
		})
		if err != nil {
			t.Fatalf("save action %s: %v", tool, err)
		}
	}
	if err := repo.SaveAction(ctx, Action{UserID: "u2", ProjectID: "p1", ToolName: "other", Status: "error", CreatedAt: 500}); err != nil {
		t.Fatalf("save foreign action: %v", err)
	}

	actions, err := repo.ListRecentActions(ctx, "u1", "p1", 2)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 2 || actions[0].ToolName != "publish" || actions[1].ToolName != "configure_seo" {
		t.Fatalf("unexpected recent actions: %+v", actions)
	}

	if err := repo.UpsertPreference(ctx, Preference{UserID: "u1", Key: "tone", Value: "casual"}); err != nil {
		t.Fatalf("upsert preference: %v", err)
	}
	if err := repo.UpsertPreference(ctx, Preference{UserID: "u1", Key: "tone", Value: "formal"}); err != nil {
		t.Fatalf("overwrite preference: %v", err)
	}
	if err := repo.UpsertPreference(ctx, Preference{UserID: "u1", Key: "language", Value: "de"}); err != nil {
		t.Fatalf("upsert preference: %v", err)
	}
	prefs, err := repo.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if len(prefs) != 2 || prefs[0].Key != "language" || prefs[1].Value != "formal" {
		t.Fatalf("unexpected preferences: %+v", prefs)
	}

	if _, err := repo.GetProject(ctx, "missing"); !stdErrors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
	if err := repo.UpsertProject(ctx, Project{ID: "p1", Name: "Marketing site", Description: "Public website", DefaultLocale: "en"}); err != nil {
		t.Fatalf("upsert project: %v", err)
	}
	project, err := repo.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if project.Name != "Marketing site" || project.UpdatedAt == 0 {
		t.Fatalf("unexpected project: %+v", project)
	}

	scores := map[string]float64{"/": 0.9, "/pricing": 0.8, "/blog": 0.4, "/legal": 0.1, "/about": 0.6}
	for path, score := range scores {
		if err := repo.UpsertContentScore(ctx, ContentScore{ProjectID: "p1", Path: path, Title: path, Score: score}); err != nil {
			t.Fatalf("upsert score: %v", err)
		}
	}
	top, err := repo.TopContent(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("top content: %v", err)
	}
	if len(top) != 2 || top[0].Path != "/" || top[1].Path != "/pricing" {
		t.Fatalf("unexpected top content: %+v", top)
	}
	bottom, err := repo.BottomContent(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("bottom content: %v", err)
	}
	if len(bottom) != 2 || bottom[0].Path != "/legal" || bottom[1].Path != "/blog" {
		t.Fatalf("unexpected bottom content: %+v", bottom)
	}

	if err := repo.UpsertProject(ctx, Project{}); err == nil {
		t.Fatalf("expected validation error for empty project id")
	}
}

func TestSQLiteRepository(t *testing.T) {
	exerciseRepository(t, newSQLiteRepository(t))
}

func TestMemoryRepository(t *testing.T) {
	repo, err := NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new memory repository: %v", err)
	}
	exerciseRepository(t, repo)
}

func TestMemoryRepositoryRestoresActions(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("new memory repository: %v", err)
	}
	ctx := context.Background()
	_ = repo.SaveAction(ctx, Action{UserID: "u1", ProjectID: "p1", ToolName: "create_page", CreatedAt: 1})
	_ = repo.SaveAction(ctx, Action{UserID: "u1", ProjectID: "p1", ToolName: "publish", CreatedAt: 2})

	reopened, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	actions, _ := reopened.ListRecentActions(ctx, "u1", "p1", 10)
	if len(actions) != 2 || actions[0].ToolName != "publish" {
		t.Fatalf("unexpected restored actions: %+v", actions)
	}
	if err := reopened.SaveAction(ctx, Action{UserID: "u1", ProjectID: "p1", ToolName: "third"}); err != nil {
		t.Fatalf("save after reopen: %v", err)
	}
	actions, _ = reopened.ListRecentActions(ctx, "u1", "p1", 1)
	if actions[0].ID != 3 {
		t.Fatalf("expected ids to continue after restore, got %d", actions[0].ID)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	repo := newSQLiteRepository(t)
	applied, err := repo.Migrate(context.Background())
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected no new migrations, got %d", applied)
	}
}

func TestLoadMigrationFilesPerDialect(t *testing.T) {
	for _, dialect := range []string{DriverMySQL, DriverSQLite} {
		files, err := loadMigrationFiles(dialect)
		if err != nil {
			t.Fatalf("load %s migrations: %v", dialect, err)
		}
		if len(files) == 0 || files[0].version != "0001" {
			t.Fatalf("unexpected %s migrations: %+v", dialect, files)
		}
	}
}

func TestOpenDatabaseRequiresDSN(t *testing.T) {
	if _, err := NewSQLRepository(context.Background(), Config{Driver: DriverMySQL}, false); err == nil {
		t.Fatalf("expected error without dsn")
	}
}
