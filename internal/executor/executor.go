package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ContentFlow/internal/actionlog"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/plan"
	"ContentFlow/internal/progress"
	"ContentFlow/internal/tools"
	"ContentFlow/pkg/logger"
)

// Policy 决定依赖失败后下游步骤的处理方式。
type Policy string

const (
	// ContinueOnFailure 依赖失败时下游步骤仍然执行，只有不可达的步骤被跳过。
	ContinueOnFailure Policy = "continue"
	// SkipDependents 依赖失败或被跳过时下游步骤直接标记为 skipped。
	SkipDependents Policy = "skip_dependents"
)

const (
	defaultMaxParallel = 4
	excerptLimit       = 280
)

// StepUpdate 是每个步骤结束后写入进度流的数据。
type StepUpdate struct {
	StepID        string      `json:"stepId"`
	ToolName      string      `json:"toolName,omitempty"`
	Status        plan.Status `json:"status"`
	ResultExcerpt string      `json:"resultExcerpt"`
}

// Executor 按依赖顺序执行计划，互不依赖的步骤并发运行。
type Executor struct {
	dispatcher  tools.Dispatcher
	maxParallel int
	policy      Policy
	actions     actionlog.Producer
	logger      *slog.Logger
}

// Option 定义可选配置。
type Option func(*Executor)

// WithMaxParallel 设置同时执行的步骤上限。
func WithMaxParallel(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithPolicy 设置失败处理策略。
func WithPolicy(p Policy) Option {
	return func(e *Executor) {
		if p == ContinueOnFailure || p == SkipDependents {
			e.policy = p
		}
	}
}

// WithActionLog 把每次工具调用投递到动作队列。
func WithActionLog(producer actionlog.Producer) Option {
	return func(e *Executor) {
		e.actions = producer
	}
}

// New 创建 Executor。
func New(dispatcher tools.Dispatcher, opts ...Option) *Executor {
	e := &Executor{
		dispatcher:  dispatcher,
		maxParallel: defaultMaxParallel,
		policy:      ContinueOnFailure,
		logger:      logger.Named("executor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Policy 返回当前失败处理策略。
func (e *Executor) Policy() Policy {
	return e.policy
}

type completion struct {
	index  int
	result plan.StepResult
}

// Execute 运行计划并按声明顺序返回每个步骤的结果。进度事件按完成顺序写入 sink。
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, tc *tools.Context, sink progress.Sink) []plan.StepResult {
	if p == nil || len(p.Steps) == 0 {
		return nil
	}
	started := time.Now()
	defer func() { metrics.ObservePhase("execute", time.Since(started)) }()

	steps := p.Steps
	results := make([]plan.StepResult, len(steps))
	graph := plan.NewGraph(steps)
	position := make(map[string]int, len(steps))
	for i, step := range steps {
		if _, dup := position[step.ID]; !dup {
			position[step.ID] = i
		}
	}

	resolve := func(i int, res plan.StepResult) {
		results[i] = res
		metrics.ObserveStep(string(res.Status))
		e.emit(sink, res)
	}

	for i, step := range steps {
		switch {
		case position[step.ID] != i:
			resolve(i, skipped(step, "duplicate step id"))
		case !graph.Reachable(step.ID):
			resolve(i, skipped(step, "unreachable: dependency cycle or unknown dependency"))
		}
	}

	pending := make(map[string]int, len(steps))
	for _, step := range steps {
		if graph.Reachable(step.ID) {
			pending[step.ID] = len(graph.Dependencies(step.ID))
		}
	}

	var g errgroup.Group
	g.SetLimit(e.maxParallel)
	done := make(chan completion, len(steps))
	ready := graph.Roots()
	inflight := 0

	for len(ready) > 0 || inflight > 0 {
		for len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]
			i := position[id]
			step := steps[i]
			if reason, skip := e.blocked(graph, position, results, id); skip {
				resolve(i, skipped(step, reason))
				ready = append(ready, e.release(graph, pending, id)...)
				continue
			}
			inflight++
			g.Go(func() error {
				done <- completion{index: i, result: e.runStep(ctx, step, tc)}
				return nil
			})
		}
		if inflight == 0 {
			break
		}
		c := <-done
		inflight--
		resolve(c.index, c.result)
		ready = append(ready, e.release(graph, pending, steps[c.index].ID)...)
	}
	_ = g.Wait()
	return results
}

// blocked 在 SkipDependents 策略下检查依赖是否全部成功。
func (e *Executor) blocked(graph *plan.Graph, position map[string]int, results []plan.StepResult, id string) (string, bool) {
	if e.policy != SkipDependents {
		return "", false
	}
	for _, dep := range graph.Dependencies(id) {
		if status := results[position[dep]].Status; status != plan.StatusSuccess {
			return fmt.Sprintf("dependency %s finished with status %s", dep, status), true
		}
	}
	return "", false
}

func (e *Executor) release(graph *plan.Graph, pending map[string]int, id string) []string {
	var ready []string
	for _, next := range graph.Dependents(id) {
		if !graph.Reachable(next) {
			continue
		}
		pending[next]--
		if pending[next] == 0 {
			ready = append(ready, next)
		}
	}
	return ready
}

func (e *Executor) runStep(ctx context.Context, step plan.Step, tc *tools.Context) plan.StepResult {
	if strings.TrimSpace(step.ToolName) == "" {
		return plan.StepResult{StepID: step.ID, Status: plan.StatusSuccess, Result: step.Description}
	}
	res := plan.StepResult{StepID: step.ID, ToolName: step.ToolName}
	if e.dispatcher == nil {
		res.Status = plan.StatusError
		res.Result = step.ToolName + ": no tool dispatcher configured"
		return res
	}

	output, err := e.dispatcher.Execute(ctx, step.ToolName, tools.Input(step.ToolInput), tc)
	if err != nil {
		res.Status = plan.StatusError
		res.Result = err.Error()
		logger.With(ctx, e.logger).Warn("步骤执行失败",
			slog.String("code", string(tools.CodeDispatchFailed)),
			slog.String("step_id", step.ID),
			slog.String("tool", step.ToolName),
			slog.Any("error", err))
	} else {
		res.Status = plan.StatusSuccess
		res.Result = output
	}
	e.record(ctx, tc, step.ToolName, step.ToolInput, res)
	return res
}

// record 投递动作记录，失败只记日志。
func (e *Executor) record(ctx context.Context, tc *tools.Context, toolName string, input map[string]string, res plan.StepResult) {
	Record(ctx, e.actions, e.logger, tc, toolName, input, string(res.Status), res.Result)
}

// Record 把一次工具调用投递到动作队列，producer 为空或投递失败时不影响调用方。
func Record(ctx context.Context, producer actionlog.Producer, log *slog.Logger, tc *tools.Context, toolName string, input map[string]string, status, result string) {
	if producer == nil {
		return
	}
	encoded, _ := json.Marshal(input)
	rec := actionlog.Record{
		ToolName:  toolName,
		Input:     string(encoded),
		Status:    status,
		Result:    plan.Excerpt(result, 2000),
		CreatedAt: time.Now().Unix(),
	}
	if tc != nil {
		rec.RequestID = tc.RequestID
		rec.UserID = tc.UserID
		rec.ProjectID = tc.ProjectID
	}
	if err := producer.Publish(context.WithoutCancel(ctx), rec); err != nil {
		if log == nil {
			log = logger.L()
		}
		logger.With(ctx, log).Warn("投递动作记录失败", slog.String("tool", toolName), slog.Any("error", err))
	}
}

func (e *Executor) emit(sink progress.Sink, res plan.StepResult) {
	if sink == nil {
		return
	}
	_ = sink.Write(progress.Event{Event: progress.EventStep, Data: StepUpdate{
		StepID:        res.StepID,
		ToolName:      res.ToolName,
		Status:        res.Status,
		ResultExcerpt: plan.Excerpt(res.Result, excerptLimit),
	}})
}

func skipped(step plan.Step, reason string) plan.StepResult {
	return plan.StepResult{StepID: step.ID, ToolName: step.ToolName, Status: plan.StatusSkipped, Result: reason}
}
