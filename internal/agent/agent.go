package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ContentFlow/internal/actionlog"
	"ContentFlow/internal/classifier"
	xerrors "ContentFlow/internal/errors"
	"ContentFlow/internal/llm"
	"ContentFlow/internal/observability/alerting"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/plan"
	"ContentFlow/internal/progress"
	"ContentFlow/internal/rag"
	"ContentFlow/internal/session"
	"ContentFlow/internal/tools"
	"ContentFlow/pkg/logger"
)

// State 是编排状态机的状态。
type State string

const (
	StateModeClassify State = "MODE_CLASSIFY"
	StateSingleLoop   State = "SINGLE_LOOP"
	StatePlan         State = "PLAN"
	StateExecute      State = "EXECUTE"
	StateValidate     State = "VALIDATE"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

const (
	defaultMaxIterations = 10
	defaultFlushDelay    = 150 * time.Millisecond
)

// ModeClassifier 判断请求模式。
type ModeClassifier interface {
	Classify(ctx context.Context, text string) classifier.Mode
}

// ContextAssembler 收集规划所需的背景信息。
type ContextAssembler interface {
	Assemble(ctx context.Context, q rag.Query) rag.Context
}

// Planner 生成执行计划。
type Planner interface {
	Plan(ctx context.Context, text string, rc rag.Context, catalog []tools.Spec) (*plan.Plan, error)
}

// Executor 执行计划。
type Executor interface {
	Execute(ctx context.Context, p *plan.Plan, tc *tools.Context, sink progress.Sink) []plan.StepResult
}

// Validator 评审执行结果。
type Validator interface {
	Validate(ctx context.Context, p *plan.Plan, results []plan.StepResult) plan.ValidationResult
}

// Request 是一次用户请求。
type Request struct {
	ID          string            `json:"requestId,omitempty"`
	SessionID   string            `json:"sessionId,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	ProjectID   string            `json:"projectId,omitempty"`
	Query       string            `json:"query"`
	Credentials map[string]string `json:"-"`
}

// Response 汇总一次请求的处理结果。
type Response struct {
	RequestID  string                 `json:"requestId"`
	SessionID  string                 `json:"sessionId"`
	Mode       classifier.Mode        `json:"mode"`
	State      State                  `json:"state"`
	Text       string                 `json:"text"`
	Iterations int                    `json:"iterations,omitempty"`
	Plan       *plan.Plan             `json:"plan,omitempty"`
	Results    []plan.StepResult      `json:"results,omitempty"`
	Validation *plan.ValidationResult `json:"validation,omitempty"`
}

// Dependencies 汇总编排器的协作方。为空的组件使用默认实现。
type Dependencies struct {
	Client     llm.Client
	Dispatcher tools.Dispatcher
	Classifier ModeClassifier
	Assembler  ContextAssembler
	Planner    Planner
	Executor   Executor
	Validator  Validator
	Sessions   session.Store
}

// Agent 是请求编排的状态机，负责把分类、规划、执行和校验串联起来。
type Agent struct {
	deps          Dependencies
	maxIterations int
	maxTokens     int64
	flushDelay    time.Duration
	historyLimit  int
	alerter       alerting.Dispatcher
	actions       actionlog.Producer
	tracer        trace.Tracer
	logger        *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMaxIterations 设置单步模式下的最大往返次数。
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithMaxTokens 设置单步模式下每次调用的输出上限。
func WithMaxTokens(n int64) Option {
	return func(a *Agent) {
		a.maxTokens = n
	}
}

// WithFlushDelay 设置关闭进度流前的等待时间，0 表示立即关闭。
func WithFlushDelay(d time.Duration) Option {
	return func(a *Agent) {
		if d >= 0 {
			a.flushDelay = d
		}
	}
}

// WithHistoryLimit 设置会话中保留的查询条数。
func WithHistoryLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// WithAlertDispatcher 配置请求失败时的告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerter = d
	}
}

// WithActionLog 把单步模式下的工具调用投递到动作队列。
func WithActionLog(p actionlog.Producer) Option {
	return func(a *Agent) {
		a.actions = p
	}
}

// WithTracer 指定链路追踪器。
func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) {
		if t != nil {
			a.tracer = t
		}
	}
}

// New 创建一个 Agent。
func New(deps Dependencies, opts ...Option) *Agent {
	a := &Agent{
		deps:          deps,
		maxIterations: defaultMaxIterations,
		flushDelay:    defaultFlushDelay,
		historyLimit:  session.HistoryLimit,
		tracer:        otel.Tracer("ContentFlow/internal/agent"),
		logger:        logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.deps.Classifier == nil {
		a.deps.Classifier = classifier.New(nil)
	}
	return a
}

// Handle 处理一次请求，并保证 sink 在所有路径上恰好关闭一次。
// 模型与工具调用不随 ctx 取消而中断，调用方断开后事件写入会被丢弃。
func (a *Agent) Handle(ctx context.Context, req Request, sink progress.Sink) (*Response, error) {
	if sink == nil {
		sink = &progress.Recorder{}
	}
	defer a.closeSink(sink)

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	started := time.Now()
	ctx = logger.WithContext(context.WithoutCancel(ctx),
		slog.String("request_id", req.ID),
		slog.String("session_id", req.SessionID))
	ctx, span := a.tracer.Start(ctx, "agent.Handle", trace.WithAttributes(
		attribute.String("contentflow.request_id", req.ID),
		attribute.String("contentflow.session_id", req.SessionID),
	))
	defer span.End()

	resp := &Response{RequestID: req.ID, SessionID: req.SessionID, State: StateModeClassify}
	if strings.TrimSpace(req.Query) == "" {
		err := xerrors.New(xerrors.CodeInvalidArgument, "query must not be empty")
		a.fail(ctx, span, sink, resp, err, "validate_request")
		return resp, err
	}

	sc := a.loadSession(ctx, req)
	if sc.ID != req.SessionID {
		req.SessionID = sc.ID
		resp.SessionID = sc.ID
		span.SetAttributes(attribute.String("contentflow.session_id", sc.ID))
	}

	resp.Mode = a.deps.Classifier.Classify(ctx, req.Query)
	span.SetAttributes(attribute.String("contentflow.mode", string(resp.Mode)))
	a.write(sink, progress.EventMode, map[string]any{"mode": resp.Mode})

	tc := &tools.Context{
		UserID:      req.UserID,
		ProjectID:   req.ProjectID,
		SessionID:   req.SessionID,
		RequestID:   req.ID,
		Credentials: req.Credentials,
	}
	rc := a.assemble(ctx, req)

	var err error
	if resp.Mode == classifier.ModeMulti {
		err = a.runMulti(ctx, req, rc, tc, sink, resp)
	} else {
		err = a.runSingle(ctx, req, rc, sc, tc, sink, resp)
	}

	a.saveSession(ctx, sc, req, resp.Mode)
	if err != nil {
		a.fail(ctx, span, sink, resp, err, strings.ToLower(string(resp.State)))
		return resp, err
	}

	a.transition(ctx, resp, StateDone)
	a.write(sink, progress.EventResponse, map[string]any{"text": resp.Text, "mode": resp.Mode})
	a.write(sink, progress.EventDone, map[string]any{"requestId": resp.RequestID, "sessionId": resp.SessionID, "state": resp.State})
	metrics.ObserveRequest(string(resp.Mode), "done")
	logger.Audit().Info("请求处理完成",
		slog.String("request_id", req.ID),
		slog.String("user_id", req.UserID),
		slog.String("project_id", req.ProjectID),
		slog.String("mode", string(resp.Mode)),
		slog.Int("steps", len(resp.Results)),
		slog.Duration("elapsed", time.Since(started)))
	return resp, nil
}

func (a *Agent) assemble(ctx context.Context, req Request) rag.Context {
	if a.deps.Assembler == nil {
		return rag.Context{}
	}
	ctx, span := a.tracer.Start(ctx, "agent.assemble")
	defer span.End()
	return a.deps.Assembler.Assemble(ctx, rag.Query{UserID: req.UserID, ProjectID: req.ProjectID, Text: req.Query})
}

func (a *Agent) transition(ctx context.Context, resp *Response, next State) {
	logger.With(ctx, a.logger).Debug("状态切换", slog.String("from", string(resp.State)), slog.String("to", string(next)))
	resp.State = next
}

// fail 写出 error 与 done 事件并触发告警。phase 是失败时所处的阶段。
func (a *Agent) fail(ctx context.Context, span trace.Span, sink progress.Sink, resp *Response, err error, phase string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, xerrors.PublicMessage(err))
	a.transition(ctx, resp, StateFailed)

	code := xerrors.CodeOf(err)
	a.write(sink, progress.EventError, map[string]any{
		"code":    code,
		"message": xerrors.PublicMessage(err),
		"phase":   phase,
	})
	a.write(sink, progress.EventDone, map[string]any{"requestId": resp.RequestID, "sessionId": resp.SessionID, "state": resp.State})
	metrics.ObserveRequest(string(resp.Mode), "failed")
	logger.With(ctx, a.logger).Error("请求处理失败", slog.String("phase", phase), slog.Any("error", err))

	if a.alerter != nil && xerrors.ShouldAlert(err) {
		if notifyErr := a.alerter.Notify(ctx, alerting.FromError(err, resp.RequestID, phase)); notifyErr != nil {
			logger.With(ctx, a.logger).Error("告警通知失败", slog.Any("error", notifyErr))
		}
	}
}

func (a *Agent) write(sink progress.Sink, name string, data any) {
	if err := sink.Write(progress.Event{Event: name, Data: data}); err != nil && !stdErrors.Is(err, progress.ErrClosed) {
		a.logger.Warn("写入进度事件失败", slog.String("event", name), slog.Any("error", err))
	}
}

func (a *Agent) closeSink(sink progress.Sink) {
	if a.flushDelay > 0 {
		time.Sleep(a.flushDelay)
	}
	if err := sink.Close(); err != nil && !stdErrors.Is(err, progress.ErrClosed) {
		a.logger.Warn("关闭进度流失败", slog.Any("error", err))
	}
}

func (a *Agent) loadSession(ctx context.Context, req Request) *session.Context {
	fresh := &session.Context{ID: req.SessionID, UserID: req.UserID, ProjectID: req.ProjectID}
	if a.deps.Sessions == nil {
		return fresh
	}
	sc, err := a.deps.Sessions.Load(ctx, req.SessionID)
	if err != nil {
		if !stdErrors.Is(err, session.ErrNotFound) {
			logger.With(ctx, a.logger).Warn("加载会话失败", slog.Any("error", err))
		}
		return fresh
	}
	if sc.UserID != "" && sc.UserID != req.UserID {
		logger.With(ctx, a.logger).Warn("会话归属其他用户，改用新会话",
			slog.String("user_id", req.UserID))
		fresh.ID = uuid.NewString()
		return fresh
	}
	return sc
}

func (a *Agent) saveSession(ctx context.Context, sc *session.Context, req Request, mode classifier.Mode) {
	if a.deps.Sessions == nil || sc == nil {
		return
	}
	sc.Remember(session.QueryHistoryItem{Query: req.Query, IntentType: string(mode), Timestamp: time.Now().UTC()}, a.historyLimit)
	if err := a.deps.Sessions.Save(ctx, sc); err != nil {
		logger.With(ctx, a.logger).Warn("保存会话失败", slog.Any("error", err))
	}
}
