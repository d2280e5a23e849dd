package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type keywordEmbedder struct{}

// Embed 把是否包含 pricing / blog 映射成二维向量。
func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	text = strings.ToLower(text)
	var v [2]float32
	if strings.Contains(text, "pricing") {
		v[0] = 1
	}
	if strings.Contains(text, "blog") {
		v[1] = 1
	}
	return v[:], nil
}

func TestSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	content := `[
		{"id":"pricing","projectId":"p1","title":"Pricing","path":"/pricing","content":"Our pricing plans"},
		{"projectId":"p1","title":"Blog","path":"/blog","content":"Latest blog posts"},
		{"id":"empty","projectId":"p1","content":"   "}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	entries, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	idx := NewMemoryIndex()
	written, err := idx.Seed(context.Background(), keywordEmbedder{}, entries)
	if err != nil || written != 2 {
		t.Fatalf("seed: written=%d err=%v", written, err)
	}

	matches, err := idx.Query(context.Background(), []float32{0, 1}, QueryOptions{TopK: 1, Filter: map[string]string{"projectId": "p1"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "p1:/blog" || matches[0].Metadata["snippet"] != "Latest blog posts" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestLoadSeedFileErrors(t *testing.T) {
	if _, err := LoadSeedFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
