package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	xerrors "ContentFlow/internal/errors"
)

// Action 是一次已执行的工具动作。
type Action struct {
	ID        int64  `json:"id"`
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId"`
	ToolName  string `json:"toolName"`
	Input     string `json:"input"`
	Status    string `json:"status"`
	Result    string `json:"result"`
	CreatedAt int64  `json:"createdAt"`
}

// Preference 是用户的一条偏好设置。
type Preference struct {
	UserID    string `json:"userId"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Project 是项目注册表中的一条记录。
type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	SiteURL       string `json:"siteUrl"`
	DefaultLocale string `json:"defaultLocale"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// ContentScore 是内容页面的综合质量评分。
type ContentScore struct {
	ProjectID string  `json:"projectId"`
	Path      string  `json:"path"`
	Title     string  `json:"title"`
	Score     float64 `json:"score"`
	UpdatedAt int64   `json:"updatedAt"`
}

// Repository 抽象编排上下文所需的持久化接口。
type Repository interface {
	SaveAction(ctx context.Context, action Action) error
	ListRecentActions(ctx context.Context, userID, projectID string, limit int) ([]Action, error)
	GetPreferences(ctx context.Context, userID string) ([]Preference, error)
	GetProject(ctx context.Context, projectID string) (*Project, error)
	TopContent(ctx context.Context, projectID string, limit int) ([]ContentScore, error)
	BottomContent(ctx context.Context, projectID string, limit int) ([]ContentScore, error)
	UpsertPreference(ctx context.Context, pref Preference) error
	UpsertProject(ctx context.Context, project Project) error
	UpsertContentScore(ctx context.Context, score ContentScore) error
	Close() error
}

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// ErrProjectNotFound 表示项目不存在。
var ErrProjectNotFound = xerrors.New(xerrors.CodeNotFound, "project not found")

// SQLRepository 使用 MySQL 或 SQLite 存储数据。
type SQLRepository struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Option 用于自定义 SQLRepository。
type Option func(*SQLRepository)

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(r *SQLRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewSQLRepository 创建连接池。autoMigrate 为 true 时同时执行迁移。
func NewSQLRepository(ctx context.Context, cfg Config, autoMigrate bool, opts ...Option) (*SQLRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化数据库失败")
	}
	repo := &SQLRepository{db: db, dialect: cfg.dialect(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	if autoMigrate {
		if _, err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return repo, nil
}

// Migrate 执行内置的 SQL 迁移，返回新应用的文件数。
func (s *SQLRepository) Migrate(ctx context.Context) (int, error) {
	count, err := runMigrations(ctx, s.db, s.dialect)
	if err != nil {
		return count, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return count, nil
}

// SaveAction 写入一条动作记录。
func (s *SQLRepository) SaveAction(ctx context.Context, action Action) error {
	if action.CreatedAt == 0 {
		action.CreatedAt = s.now().Unix()
	}
	const stmt = `INSERT INTO actions
        (request_id, user_id, project_id, tool_name, input, status, result, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		action.RequestID,
		action.UserID,
		action.ProjectID,
		action.ToolName,
		action.Input,
		action.Status,
		action.Result,
		action.CreatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入动作记录失败")
	}
	return nil
}

// ListRecentActions 按时间倒序返回用户在项目内的最近动作。
func (s *SQLRepository) ListRecentActions(ctx context.Context, userID, projectID string, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, request_id, user_id, project_id, tool_name, input, status, result, created_at
        FROM actions WHERE user_id = ? AND project_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, projectID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询动作记录失败")
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.RequestID, &a.UserID, &a.ProjectID, &a.ToolName, &a.Input, &a.Status, &a.Result, &a.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析动作记录失败")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历动作记录失败")
	}
	return out, nil
}

// GetPreferences 返回用户的全部偏好，按键排序。
func (s *SQLRepository) GetPreferences(ctx context.Context, userID string) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, pref_key, pref_value, updated_at
        FROM user_preferences WHERE user_id = ? ORDER BY pref_key`, userID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户偏好失败")
	}
	defer rows.Close()

	var out []Preference
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.UserID, &p.Key, &p.Value, &p.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析用户偏好失败")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历用户偏好失败")
	}
	return out, nil
}

// GetProject 返回项目信息，不存在时返回 ErrProjectNotFound。
func (s *SQLRepository) GetProject(ctx context.Context, projectID string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, description, site_url, default_locale, updated_at
        FROM projects WHERE id = ?`, projectID)
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.SiteURL, &p.DefaultLocale, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询项目失败")
	}
	return &p, nil
}

// TopContent 返回评分最高的内容。
func (s *SQLRepository) TopContent(ctx context.Context, projectID string, limit int) ([]ContentScore, error) {
	return s.rankContent(ctx, projectID, limit, "DESC")
}

// BottomContent 返回评分最低的内容。
func (s *SQLRepository) BottomContent(ctx context.Context, projectID string, limit int) ([]ContentScore, error) {
	return s.rankContent(ctx, projectID, limit, "ASC")
}

func (s *SQLRepository) rankContent(ctx context.Context, projectID string, limit int, direction string) ([]ContentScore, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`SELECT project_id, path, title, score, updated_at
        FROM content_scores WHERE project_id = ? ORDER BY score %s, path ASC LIMIT ?`, direction)
	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询内容评分失败")
	}
	defer rows.Close()

	var out []ContentScore
	for rows.Next() {
		var c ContentScore
		if err := rows.Scan(&c.ProjectID, &c.Path, &c.Title, &c.Score, &c.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析内容评分失败")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历内容评分失败")
	}
	return out, nil
}

// UpsertPreference 写入或覆盖一条偏好。
func (s *SQLRepository) UpsertPreference(ctx context.Context, pref Preference) error {
	if strings.TrimSpace(pref.UserID) == "" || strings.TrimSpace(pref.Key) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "偏好的 user_id 与 key 不能为空")
	}
	if pref.UpdatedAt == 0 {
		pref.UpdatedAt = s.now().Unix()
	}
	if _, err := s.db.ExecContext(ctx, `REPLACE INTO user_preferences (user_id, pref_key, pref_value, updated_at) VALUES (?, ?, ?, ?)`,
		pref.UserID, pref.Key, pref.Value, pref.UpdatedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入用户偏好失败")
	}
	return nil
}

// UpsertProject 写入或覆盖项目信息。
func (s *SQLRepository) UpsertProject(ctx context.Context, project Project) error {
	if strings.TrimSpace(project.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "项目 ID 不能为空")
	}
	if project.UpdatedAt == 0 {
		project.UpdatedAt = s.now().Unix()
	}
	if _, err := s.db.ExecContext(ctx, `REPLACE INTO projects (id, name, description, site_url, default_locale, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.Description, project.SiteURL, project.DefaultLocale, project.UpdatedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入项目失败")
	}
	return nil
}

// UpsertContentScore 写入或覆盖内容评分。
func (s *SQLRepository) UpsertContentScore(ctx context.Context, score ContentScore) error {
	if strings.TrimSpace(score.ProjectID) == "" || strings.TrimSpace(score.Path) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "内容评分的 project_id 与 path 不能为空")
	}
	if score.UpdatedAt == 0 {
		score.UpdatedAt = s.now().Unix()
	}
	if _, err := s.db.ExecContext(ctx, `REPLACE INTO content_scores (project_id, path, title, score, updated_at) VALUES (?, ?, ?, ?, ?)`,
		score.ProjectID, score.Path, score.Title, score.Score, score.UpdatedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入内容评分失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
