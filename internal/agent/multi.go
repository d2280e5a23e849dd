package agent

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	xerrors "ContentFlow/internal/errors"
	"ContentFlow/internal/executor"
	"ContentFlow/internal/plan"
	"ContentFlow/internal/planner"
	"ContentFlow/internal/progress"
	"ContentFlow/internal/rag"
	"ContentFlow/internal/tools"
	"ContentFlow/internal/validator"
)

const summaryExcerpt = 400

// runMulti 依次执行 PLAN、EXECUTE 与可选的 VALIDATE。
func (a *Agent) runMulti(ctx context.Context, req Request, rc rag.Context, tc *tools.Context, sink progress.Sink, resp *Response) error {
	var catalog []tools.Spec
	if a.deps.Dispatcher != nil {
		catalog = a.deps.Dispatcher.ListTools()
	}

	a.transition(ctx, resp, StatePlan)
	p, err := a.plan(ctx, req, rc, catalog)
	if err != nil {
		return err
	}
	resp.Plan = p
	a.write(sink, progress.EventPlan, map[string]any{
		"intent":             p.Intent,
		"requiresValidation": p.RequiresValidation,
		"steps":              p.Summaries(),
	})

	a.transition(ctx, resp, StateExecute)
	execCtx, span := a.tracer.Start(ctx, "agent.execute")
	span.SetAttributes(attribute.Int("contentflow.steps", len(p.Steps)))
	resp.Results = a.stepExecutor().Execute(execCtx, p, tc, sink)
	span.End()

	if p.RequiresValidation {
		a.transition(ctx, resp, StateValidate)
		a.write(sink, progress.EventValidationStart, map[string]any{"steps": len(resp.Results)})
		valCtx, span := a.tracer.Start(ctx, "agent.validate")
		result := a.stepValidator().Validate(valCtx, p, resp.Results)
		span.End()
		resp.Validation = &result
		a.write(sink, progress.EventValidation, result)
	}

	resp.Text = ComposeResponse(resp.Results, resp.Validation)
	return nil
}

func (a *Agent) plan(ctx context.Context, req Request, rc rag.Context, catalog []tools.Spec) (*plan.Plan, error) {
	ctx, span := a.tracer.Start(ctx, "agent.plan")
	defer span.End()
	pl := a.deps.Planner
	if pl == nil {
		if a.deps.Client == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置规划器")
		}
		pl = planner.New(a.deps.Client, planner.WithMaxTokens(a.maxTokens))
	}
	return pl.Plan(ctx, req.Query, rc, catalog)
}

func (a *Agent) stepExecutor() Executor {
	if a.deps.Executor != nil {
		return a.deps.Executor
	}
	return executor.New(a.deps.Dispatcher, executor.WithActionLog(a.actions))
}

func (a *Agent) stepValidator() Validator {
	if a.deps.Validator != nil {
		return a.deps.Validator
	}
	return validator.New(a.deps.Client, a.maxTokens)
}

// ComposeResponse 汇总成功步骤的摘要、失败步骤、未通过的校验问题和校验建议。
func ComposeResponse(results []plan.StepResult, validation *plan.ValidationResult) string {
	var (
		successes []string
		failures  []string
		skipped   []string
	)
	for _, r := range results {
		switch r.Status {
		case plan.StatusSuccess:
			if text := plan.Excerpt(r.Result, summaryExcerpt); text != "" {
				successes = append(successes, text)
			}
		case plan.StatusError:
			failures = append(failures, fmt.Sprintf("- %s: %s", stepLabel(r), plan.Excerpt(r.Result, summaryExcerpt)))
		case plan.StatusSkipped:
			skipped = append(skipped, fmt.Sprintf("- %s: %s", stepLabel(r), r.Result))
		}
	}

	var sections []string
	if len(successes) > 0 {
		sections = append(sections, strings.Join(successes, "\n\n"))
	}
	if len(failures) > 0 {
		sections = append(sections, "Errors:\n"+strings.Join(failures, "\n"))
	}
	if len(skipped) > 0 {
		sections = append(sections, "Skipped:\n"+strings.Join(skipped, "\n"))
	}
	if validation != nil && !validation.Passed && len(validation.Issues) > 0 {
		lines := make([]string, len(validation.Issues))
		for i, issue := range validation.Issues {
			lines[i] = "- " + issue
		}
		sections = append(sections, "Validation issues:\n"+strings.Join(lines, "\n"))
	}
	if validation != nil && len(validation.Suggestions) > 0 {
		lines := make([]string, len(validation.Suggestions))
		for i, s := range validation.Suggestions {
			lines[i] = "- " + s
		}
		sections = append(sections, "Suggestions:\n"+strings.Join(lines, "\n"))
	}
	if len(sections) == 0 {
		return "The plan finished without producing any output."
	}
	return strings.Join(sections, "\n\n")
}

func stepLabel(r plan.StepResult) string {
	if r.ToolName != "" {
		return fmt.Sprintf("%s (%s)", r.StepID, r.ToolName)
	}
	return r.StepID
}
