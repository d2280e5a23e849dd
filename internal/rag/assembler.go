package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/plan"
	"ContentFlow/internal/retrieval"
	"ContentFlow/internal/storage/mysql"
	"ContentFlow/pkg/logger"
)

const (
	defaultBudget          = 8 * time.Second
	defaultSemanticTimeout = 3 * time.Second

	actionHistoryLimit = 10
	semanticTopK       = 5
	topContentLimit    = 5
	bottomContentLimit = 3
	snippetLimit       = 200
)

// ActionHistory 提供用户在项目内的近期动作。
type ActionHistory interface {
	ListRecentActions(ctx context.Context, userID, projectID string, limit int) ([]mysql.Action, error)
}

// PreferenceSource 提供用户偏好。
type PreferenceSource interface {
	GetPreferences(ctx context.Context, userID string) ([]mysql.Preference, error)
}

// ProjectRegistry 提供项目信息。
type ProjectRegistry interface {
	GetProject(ctx context.Context, projectID string) (*mysql.Project, error)
}

// InsightSource 提供按综合评分排序的内容。
type InsightSource interface {
	TopContent(ctx context.Context, projectID string, limit int) ([]mysql.ContentScore, error)
	BottomContent(ctx context.Context, projectID string, limit int) ([]mysql.ContentScore, error)
}

// Sources 汇总上下文组装所需的数据源，任一为空时对应字段留空。
type Sources struct {
	Actions     ActionHistory
	Preferences PreferenceSource
	Projects    ProjectRegistry
	Insights    InsightSource
}

// FromRepository 用同一个仓库满足全部数据源。
func FromRepository(repo mysql.Repository) Sources {
	if repo == nil {
		return Sources{}
	}
	return Sources{Actions: repo, Preferences: repo, Projects: repo, Insights: repo}
}

// Query 描述一次上下文组装请求。
type Query struct {
	UserID    string
	ProjectID string
	Text      string
}

// Context 是交给推理模型的五段背景文本，失败的段落为空字符串。
type Context struct {
	RecentActions   string `json:"recentActions"`
	UserContext     string `json:"userContext"`
	ProjectInfo     string `json:"projectInfo"`
	SemanticContext string `json:"semanticContext"`
	ValueInsights   string `json:"valueInsights"`
}

// Assembler 并发执行五项互相独立的查询。
type Assembler struct {
	sources         Sources
	embedder        retrieval.Embedder
	index           retrieval.Index
	budget          time.Duration
	semanticTimeout time.Duration
	logger          *slog.Logger
}

// Option 定义可选配置。
type Option func(*Assembler)

// WithBudget 设置整体耗时上限。
func WithBudget(d time.Duration) Option {
	return func(a *Assembler) {
		if d > 0 {
			a.budget = d
		}
	}
}

// WithSemanticTimeout 设置语义检索的硬超时。
func WithSemanticTimeout(d time.Duration) Option {
	return func(a *Assembler) {
		if d > 0 {
			a.semanticTimeout = d
		}
	}
}

// WithSemanticSearch 配置向量化服务与向量索引。
func WithSemanticSearch(embedder retrieval.Embedder, index retrieval.Index) Option {
	return func(a *Assembler) {
		a.embedder = embedder
		a.index = index
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// New 创建 Assembler。
func New(sources Sources, opts ...Option) *Assembler {
	a := &Assembler{
		sources:         sources,
		budget:          defaultBudget,
		semanticTimeout: defaultSemanticTimeout,
		logger:          logger.Named("rag"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Assemble 在预算内收集上下文。超出预算时返回已完成的字段，其余为空。
func (a *Assembler) Assemble(ctx context.Context, q Query) Context {
	started := time.Now()
	defer func() { metrics.ObservePhase("context", time.Since(started)) }()

	ctx, cancel := context.WithTimeout(ctx, a.budget)
	defer cancel()

	var (
		mu  sync.Mutex
		out Context
	)
	set := func(field *string, value string) {
		mu.Lock()
		*field = value
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error { set(&out.RecentActions, a.recentActions(ctx, q)); return nil })
	g.Go(func() error { set(&out.UserContext, a.userContext(ctx, q)); return nil })
	g.Go(func() error { set(&out.ProjectInfo, a.projectInfo(ctx, q)); return nil })
	g.Go(func() error { set(&out.SemanticContext, a.semanticContext(ctx, q)); return nil })
	g.Go(func() error { set(&out.ValueInsights, a.valueInsights(ctx, q)); return nil })

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.With(ctx, a.logger).Warn("上下文组装超出预算，返回部分结果", slog.Duration("budget", a.budget))
	}

	mu.Lock()
	defer mu.Unlock()
	return out
}

func (a *Assembler) warn(ctx context.Context, lookup string, err error) {
	logger.With(ctx, a.logger).Warn("上下文查询失败", slog.String("lookup", lookup), slog.Any("error", err))
}

func (a *Assembler) recentActions(ctx context.Context, q Query) string {
	if a.sources.Actions == nil || q.UserID == "" {
		return ""
	}
	actions, err := a.sources.Actions.ListRecentActions(ctx, q.UserID, q.ProjectID, actionHistoryLimit)
	if err != nil {
		a.warn(ctx, "recent_actions", err)
		return ""
	}
	lines := make([]string, 0, len(actions))
	for _, act := range actions {
		line := fmt.Sprintf("- %s %s [%s]", time.Unix(act.CreatedAt, 0).UTC().Format(time.RFC3339), act.ToolName, act.Status)
		if act.Result != "" {
			line += ": " + plan.Excerpt(oneLine(act.Result), 120)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) userContext(ctx context.Context, q Query) string {
	if a.sources.Preferences == nil || q.UserID == "" {
		return ""
	}
	prefs, err := a.sources.Preferences.GetPreferences(ctx, q.UserID)
	if err != nil {
		a.warn(ctx, "user_preferences", err)
		return ""
	}
	lines := make([]string, 0, len(prefs))
	for _, p := range prefs {
		lines = append(lines, fmt.Sprintf("- %s: %s", p.Key, p.Value))
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) projectInfo(ctx context.Context, q Query) string {
	if a.sources.Projects == nil || q.ProjectID == "" {
		return ""
	}
	project, err := a.sources.Projects.GetProject(ctx, q.ProjectID)
	if err != nil {
		a.warn(ctx, "project_registry", err)
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s (%s)", project.Name, project.ID)
	if project.Description != "" {
		fmt.Fprintf(&b, "\nDescription: %s", project.Description)
	}
	if project.SiteURL != "" {
		fmt.Fprintf(&b, "\nSite: %s", project.SiteURL)
	}
	if project.DefaultLocale != "" {
		fmt.Fprintf(&b, "\nDefault locale: %s", project.DefaultLocale)
	}
	return b.String()
}

type semanticResult struct {
	matches []retrieval.Match
	err     error
}

// semanticContext 在独立的硬超时内完成，即使下游不响应 ctx 也会按时返回。
func (a *Assembler) semanticContext(ctx context.Context, q Query) string {
	if a.embedder == nil || a.index == nil || strings.TrimSpace(q.Text) == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, a.semanticTimeout)
	defer cancel()

	ch := make(chan semanticResult, 1)
	go func() {
		vector, err := a.embedder.Embed(ctx, q.Text)
		if err != nil {
			ch <- semanticResult{err: err}
			return
		}
		opts := retrieval.QueryOptions{TopK: semanticTopK}
		if q.ProjectID != "" {
			opts.Filter = map[string]string{"projectId": q.ProjectID}
		}
		matches, err := a.index.Query(ctx, vector, opts)
		ch <- semanticResult{matches: matches, err: err}
	}()

	select {
	case <-ctx.Done():
		a.warn(ctx, "semantic_search", ctx.Err())
		return ""
	case res := <-ch:
		if res.err != nil {
			a.warn(ctx, "semantic_search", res.err)
			return ""
		}
		return renderMatches(res.matches)
	}
}

func renderMatches(matches []retrieval.Match) string {
	if len(matches) > semanticTopK {
		matches = matches[:semanticTopK]
	}
	lines := make([]string, 0, len(matches))
	for i, m := range matches {
		title := firstNonEmpty(m.Metadata["title"], m.ID)
		path := firstNonEmpty(m.Metadata["path"], m.Metadata["url"])
		snippet := firstNonEmpty(m.Metadata["snippet"], m.Metadata["text"])
		lines = append(lines, fmt.Sprintf("%d. %s (%s, %.2f): %s", i+1, title, path, m.Score, plan.Excerpt(oneLine(snippet), snippetLimit)))
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) valueInsights(ctx context.Context, q Query) string {
	if a.sources.Insights == nil || q.ProjectID == "" {
		return ""
	}
	top, err := a.sources.Insights.TopContent(ctx, q.ProjectID, topContentLimit)
	if err != nil {
		a.warn(ctx, "value_insights", err)
		return ""
	}
	bottom, err := a.sources.Insights.BottomContent(ctx, q.ProjectID, bottomContentLimit)
	if err != nil {
		a.warn(ctx, "value_insights", err)
		return ""
	}
	if len(top) == 0 && len(bottom) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Top performing content:")
	writeScores(&b, top)
	b.WriteString("\nNeeds improvement:")
	writeScores(&b, bottom)
	return b.String()
}

func writeScores(b *strings.Builder, scores []mysql.ContentScore) {
	if len(scores) == 0 {
		b.WriteString("\n- (none)")
		return
	}
	for _, s := range scores {
		fmt.Fprintf(b, "\n- %s (%s): %.2f", firstNonEmpty(s.Title, s.Path), s.Path, s.Score)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
