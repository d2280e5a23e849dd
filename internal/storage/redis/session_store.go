package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ContentFlow/internal/errors"
	"ContentFlow/internal/session"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// SessionStore 以 JSON 形式把会话上下文保存到 Redis，并依赖键过期实现 TTL。
type SessionStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewSessionStore 连接 Redis 并创建会话存储。
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return NewSessionStoreWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewSessionStoreWithClient 基于已有客户端创建会话存储。
func NewSessionStoreWithClient(client goredis.UniversalClient, prefix string, ttl time.Duration) *SessionStore {
	if prefix == "" {
		prefix = "contentflow:session:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *SessionStore) key(id string) string {
	return s.prefix + id
}

// Load 读取会话上下文，不存在时返回 session.ErrNotFound。
func (s *SessionStore) Load(ctx context.Context, id string) (*session.Context, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, session.ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败", xerrors.WithMetadata("session_id", id))
	}
	var sc session.Context
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话失败", xerrors.WithMetadata("session_id", id))
	}
	return &sc, nil
}

// Save 写入会话上下文并刷新过期时间。
func (s *SessionStore) Save(ctx context.Context, sc *session.Context) error {
	if sc == nil || sc.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sc.ID), payload, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败", xerrors.WithMetadata("session_id", sc.ID))
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *SessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
