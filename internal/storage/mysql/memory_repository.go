package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	xerrors "ContentFlow/internal/errors"
)

const memoryActionLimit = 512

// MemoryRepository 把动作记录追加写入本地文件，其余数据只保存在内存中，方便本地开发。
type MemoryRepository struct {
	mu          sync.RWMutex
	dataFile    string
	actions     []Action
	nextID      int64
	preferences map[string]map[string]Preference
	projects    map[string]Project
	scores      map[string]map[string]ContentScore
	now         func() time.Time
}

// NewMemoryRepository 创建内存仓库并从 actions.log 恢复动作记录。
func NewMemoryRepository(dataDir string) (*MemoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryRepository{
		dataFile:    filepath.Join(dataDir, "actions.log"),
		preferences: make(map[string]map[string]Preference),
		projects:    make(map[string]Project),
		scores:      make(map[string]map[string]ContentScore),
		now:         time.Now,
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// SaveAction 以追加写的方式记录动作。
func (m *MemoryRepository) SaveAction(_ context.Context, action Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	action.ID = m.nextID
	if action.CreatedAt == 0 {
		action.CreatedAt = m.now().Unix()
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开动作日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("序列化动作记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入动作日志失败")
	}

	m.actions = append([]Action{action}, m.actions...)
	if len(m.actions) > memoryActionLimit {
		m.actions = m.actions[:memoryActionLimit]
	}
	return nil
}

// ListRecentActions 按时间倒序返回用户在项目内的最近动作。
func (m *MemoryRepository) ListRecentActions(_ context.Context, userID, projectID string, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Action
	for _, a := range m.actions {
		if a.UserID != userID || a.ProjectID != projectID {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetPreferences 返回用户的全部偏好，按键排序。
func (m *MemoryRepository) GetPreferences(_ context.Context, userID string) ([]Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefs := m.preferences[userID]
	out := make([]Preference, 0, len(prefs))
	for _, p := range prefs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetProject 返回项目信息。
func (m *MemoryRepository) GetProject(_ context.Context, projectID string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return &p, nil
}

// TopContent 返回评分最高的内容。
func (m *MemoryRepository) TopContent(_ context.Context, projectID string, limit int) ([]ContentScore, error) {
	return m.rankContent(projectID, limit, true), nil
}

// BottomContent 返回评分最低的内容。
func (m *MemoryRepository) BottomContent(_ context.Context, projectID string, limit int) ([]ContentScore, error) {
	return m.rankContent(projectID, limit, false), nil
}

func (m *MemoryRepository) rankContent(projectID string, limit int, descending bool) []ContentScore {
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ContentScore, 0, len(m.scores[projectID]))
	for _, c := range m.scores[projectID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Path < out[j].Path
		}
		if descending {
			return out[i].Score > out[j].Score
		}
		return out[i].Score < out[j].Score
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UpsertPreference 写入或覆盖一条偏好。
func (m *MemoryRepository) UpsertPreference(_ context.Context, pref Preference) error {
	if pref.UserID == "" || pref.Key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "偏好的 user_id 与 key 不能为空")
	}
	if pref.UpdatedAt == 0 {
		pref.UpdatedAt = m.now().Unix()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.preferences[pref.UserID] == nil {
		m.preferences[pref.UserID] = make(map[string]Preference)
	}
	m.preferences[pref.UserID][pref.Key] = pref
	return nil
}

// UpsertProject 写入或覆盖项目信息。
func (m *MemoryRepository) UpsertProject(_ context.Context, project Project) error {
	if project.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "项目 ID 不能为空")
	}
	if project.UpdatedAt == 0 {
		project.UpdatedAt = m.now().Unix()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[project.ID] = project
	return nil
}

// UpsertContentScore 写入或覆盖内容评分。
func (m *MemoryRepository) UpsertContentScore(_ context.Context, score ContentScore) error {
	if score.ProjectID == "" || score.Path == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "内容评分的 project_id 与 path 不能为空")
	}
	if score.UpdatedAt == 0 {
		score.UpdatedAt = m.now().Unix()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scores[score.ProjectID] == nil {
		m.scores[score.ProjectID] = make(map[string]ContentScore)
	}
	m.scores[score.ProjectID][score.Path] = score
	return nil
}

// Close 对内存仓库无操作。
func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取动作日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var restored []Action
	for scanner.Scan() {
		var a Action
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			continue
		}
		if a.ID > m.nextID {
			m.nextID = a.ID
		}
		restored = append([]Action{a}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析动作日志失败: %w", err)
	}

	if len(restored) > memoryActionLimit {
		restored = restored[:memoryActionLimit]
	}
	m.actions = restored
	return nil
}
