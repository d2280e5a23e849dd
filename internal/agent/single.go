package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "ContentFlow/internal/errors"
	"ContentFlow/internal/executor"
	"ContentFlow/internal/llm"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/plan"
	"ContentFlow/internal/progress"
	"ContentFlow/internal/rag"
	"ContentFlow/internal/session"
	"ContentFlow/internal/tools"
	"ContentFlow/pkg/logger"
)

// ToolUpdate 是单步模式下每次工具调用后写入进度流的数据。
type ToolUpdate struct {
	Iteration     int         `json:"iteration"`
	ToolName      string      `json:"toolName"`
	Status        plan.Status `json:"status"`
	ResultExcerpt string      `json:"resultExcerpt"`
}

// IterationLimitMessage 是单步模式达到往返上限时返回的文本。
func IterationLimitMessage(limit int) string {
	return fmt.Sprintf("I reached the maximum iterations (%d) before finishing this request. "+
		"Here is where things stand; please narrow the request or ask me to continue.", limit)
}

// runSingle 运行有上限的工具调用循环。
func (a *Agent) runSingle(ctx context.Context, req Request, rc rag.Context, sc *session.Context, tc *tools.Context, sink progress.Sink, resp *Response) error {
	a.transition(ctx, resp, StateSingleLoop)
	ctx, span := a.tracer.Start(ctx, "agent.single_loop")
	defer span.End()
	started := time.Now()
	defer func() { metrics.ObservePhase("single_loop", time.Since(started)) }()

	if a.deps.Client == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置推理模型")
	}
	var specs []tools.Spec
	if a.deps.Dispatcher != nil {
		specs = a.deps.Dispatcher.ListTools()
	}
	llmReq := llm.Request{
		SystemPrompt: singlePrompt(rc, sc),
		Messages:     []llm.Message{llm.UserText(req.Query)},
		Tools:        toolDefinitions(specs),
		MaxTokens:    a.maxTokens,
	}

	for i := 1; i <= a.maxIterations; i++ {
		resp.Iterations = i
		out, err := a.deps.Client.Complete(ctx, llmReq)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "model call failed",
				xerrors.WithMetadata("iteration", fmt.Sprint(i)))
		}
		uses := out.ToolUses()
		if len(uses) == 0 {
			resp.Text = out.Text()
			return nil
		}

		llmReq.Messages = append(llmReq.Messages, llm.AssistantMessage(out.Blocks))
		results := make([]llm.Block, 0, len(uses))
		for _, use := range uses {
			results = append(results, a.dispatch(ctx, i, use, tc, sink))
		}
		llmReq.Messages = append(llmReq.Messages, llm.Message{Role: llm.RoleUser, Blocks: results})
	}

	logger.With(ctx, a.logger).Warn("单步模式达到往返上限", slog.Int("max_iterations", a.maxIterations))
	resp.Text = IterationLimitMessage(a.maxIterations)
	return nil
}

func (a *Agent) dispatch(ctx context.Context, iteration int, use llm.Block, tc *tools.Context, sink progress.Sink) llm.Block {
	update := ToolUpdate{Iteration: iteration, ToolName: use.ToolName}
	var (
		content string
		isError bool
		input   tools.Input
	)
	input, err := tools.InputFromJSON(use.Input)
	if err == nil {
		if a.deps.Dispatcher == nil {
			err = &tools.ToolError{ToolName: use.ToolName, Message: "no tool dispatcher configured"}
		} else {
			content, err = a.deps.Dispatcher.Execute(ctx, use.ToolName, input, tc)
		}
	}
	if err != nil {
		content, isError = err.Error(), true
		update.Status = plan.StatusError
		logger.With(ctx, a.logger).Warn("工具调用失败",
			slog.String("code", string(tools.CodeDispatchFailed)),
			slog.String("tool", use.ToolName),
			slog.Any("error", err))
	} else {
		update.Status = plan.StatusSuccess
	}
	update.ResultExcerpt = plan.Excerpt(content, 280)
	a.write(sink, progress.EventTool, update)
	executor.Record(ctx, a.actions, a.logger, tc, use.ToolName, input, string(update.Status), content)
	return llm.ToolResult(use.ToolUseID, content, isError)
}

// toolDefinitions 把工具目录转换为模型可用的工具定义。
func toolDefinitions(specs []tools.Spec) []llm.Tool {
	out := make([]llm.Tool, 0, len(specs))
	for _, spec := range specs {
		props := make(map[string]any, len(spec.InputSchema.Properties))
		for name, p := range spec.InputSchema.Properties {
			typ := p.Type
			if typ == "" {
				typ = "string"
			}
			prop := map[string]any{"type": typ}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			props[name] = prop
		}
		out = append(out, llm.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			Properties:  props,
			Required:    spec.InputSchema.Required,
		})
	}
	return out
}

func singlePrompt(rc rag.Context, sc *session.Context) string {
	var b strings.Builder
	b.WriteString("You are a content-management assistant. Answer the request directly or use the available tools. ")
	b.WriteString("Call tools only when needed and stop as soon as the request is satisfied.\n")
	for _, section := range []struct{ title, body string }{
		{"Recent actions", rc.RecentActions},
		{"User preferences", rc.UserContext},
		{"Project", rc.ProjectInfo},
		{"Related content", rc.SemanticContext},
	} {
		if strings.TrimSpace(section.body) != "" {
			fmt.Fprintf(&b, "\n## %s\n%s\n", section.title, section.body)
		}
	}
	if sc != nil && len(sc.History) > 0 {
		b.WriteString("\n## Earlier requests in this session\n")
		for _, item := range sc.History {
			fmt.Fprintf(&b, "- (%s) %s\n", item.IntentType, item.Query)
		}
	}
	return b.String()
}
