package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SeedEntry 是种子文件中的一条内容。
type SeedEntry struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// LoadSeedFile 从 JSON 文件读取种子内容。
func LoadSeedFile(path string) ([]SeedEntry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("种子文件路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析种子文件路径失败: %w", err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取种子文件失败: %w", err)
	}
	defer file.Close()

	var entries []SeedEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析种子文件失败: %w", err)
	}
	return entries, nil
}

// Seed 为每条内容生成向量并写入索引，返回写入条数。内容为空的条目会被跳过。
func (m *MemoryIndex) Seed(ctx context.Context, embedder Embedder, entries []SeedEntry) (int, error) {
	written := 0
	for _, entry := range entries {
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			continue
		}
		vector, err := embedder.Embed(ctx, content)
		if err != nil {
			return written, fmt.Errorf("生成 %s 的向量失败: %w", entry.ID, err)
		}
		id := entry.ID
		if id == "" {
			id = entry.ProjectID + ":" + entry.Path
		}
		m.Upsert(Document{
			ID:     id,
			Vector: vector,
			Metadata: map[string]string{
				"projectId": entry.ProjectID,
				"title":     entry.Title,
				"path":      entry.Path,
				"snippet":   content,
			},
		})
		written++
	}
	return written, nil
}
