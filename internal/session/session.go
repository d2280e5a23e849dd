package session

import (
	"context"
	"sync"
	"time"

	xerrors "ContentFlow/internal/errors"
)

// HistoryLimit 是会话中保留的查询条数上限。
const HistoryLimit = 10

// QueryHistoryItem 记录一次已处理的请求。
type QueryHistoryItem struct {
	Query      string    `json:"query"`
	IntentType string    `json:"intentType"`
	Timestamp  time.Time `json:"timestamp"`
}

// Context 是跨请求保存的短期会话记忆。
type Context struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId,omitempty"`
	ProjectID string             `json:"projectId,omitempty"`
	History   []QueryHistoryItem `json:"history"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Remember 追加一条记录，超过上限时丢弃最旧的记录。
func (c *Context) Remember(item QueryHistoryItem, limit int) {
	if limit <= 0 {
		limit = HistoryLimit
	}
	c.History = append(c.History, item)
	if overflow := len(c.History) - limit; overflow > 0 {
		c.History = append([]QueryHistoryItem(nil), c.History[overflow:]...)
	}
	c.UpdatedAt = item.Timestamp
}

// Store 是按会话 ID 读写上下文的 TTL 键值存储。
type Store interface {
	Load(ctx context.Context, id string) (*Context, error)
	Save(ctx context.Context, sc *Context) error
	Close() error
}

// ErrNotFound 表示会话不存在或已过期。
var ErrNotFound = xerrors.New(xerrors.CodeNotFound, "session not found")

type memoryEntry struct {
	value     Context
	expiresAt time.Time
}

// MemoryStore 是进程内的会话存储，适合单实例部署和测试。
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

// Load 返回会话的副本。
func (s *MemoryStore) Load(_ context.Context, id string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	clone := entry.value
	clone.History = append([]QueryHistoryItem(nil), entry.value.History...)
	return &clone, nil
}

// Save 写入会话并刷新过期时间。
func (s *MemoryStore) Save(_ context.Context, sc *Context) error {
	if sc == nil || sc.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *sc
	clone.History = append([]QueryHistoryItem(nil), sc.History...)
	s.entries[sc.ID] = memoryEntry{value: clone, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Close 清空存储。
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	return nil
}
