package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ContentFlow/internal/llm"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/plan"
	"ContentFlow/pkg/logger"
)

// ToolName 是强制模型调用的结构化工具。
const ToolName = "submit_validation"

const systemPrompt = `You review the outcome of an executed content-management plan.
Compare the step results with the stated intent and submit your judgment with the submit_validation tool.
Mark passed=false when any part of the intent was not achieved. Keep issues and suggestions short and actionable.`

var validationTool = llm.Tool{
	Name:        ToolName,
	Description: "Submit whether the executed plan achieved its intent.",
	Properties: map[string]any{
		"passed": map[string]any{"type": "boolean", "description": "True when the intent was fully achieved."},
		"issues": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Problems found in the outcome.",
		},
		"suggestions": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Follow-up actions for the user.",
		},
	},
	Required: []string{"passed", "issues", "suggestions"},
}

// Validator 对执行结果做一次结构化评审。
type Validator struct {
	client    llm.Client
	maxTokens int64
	logger    *slog.Logger
}

// New 创建 Validator。
func New(client llm.Client, maxTokens int64) *Validator {
	return &Validator{client: client, maxTokens: maxTokens, logger: logger.Named("validator")}
}

// Validate 评审执行结果。任何调用或解析失败都视为未通过。
func (v *Validator) Validate(ctx context.Context, p *plan.Plan, results []plan.StepResult) plan.ValidationResult {
	started := time.Now()
	defer func() { metrics.ObservePhase("validate", time.Since(started)) }()

	if v == nil || v.client == nil {
		return failed("no reasoning model configured")
	}
	resp, err := v.client.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{llm.UserText(Summarize(p, results))},
		Tools:        []llm.Tool{validationTool},
		ForcedTool:   ToolName,
		MaxTokens:    v.maxTokens,
	})
	if err != nil {
		logger.With(ctx, v.logger).Warn("校验调用失败", slog.Any("error", err))
		return failed(err.Error())
	}
	block, ok := resp.ToolUse(ToolName)
	if !ok {
		return failed("model reply has no submit_validation call")
	}
	var out struct {
		Passed      *bool    `json:"passed"`
		Issues      []string `json:"issues"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(block.Input, &out); err != nil {
		return failed("unparseable judgment: " + err.Error())
	}
	if out.Passed == nil {
		return failed("judgment is missing the passed field")
	}
	return plan.ValidationResult{
		Passed:      *out.Passed,
		Issues:      nonEmpty(out.Issues),
		Suggestions: nonEmpty(out.Suggestions),
	}
}

// Summarize 把计划意图与各步骤结果渲染成评审输入。
func Summarize(p *plan.Plan, results []plan.StepResult) string {
	var b strings.Builder
	intent := ""
	if p != nil {
		intent = p.Intent
	}
	fmt.Fprintf(&b, "Intent: %s\n\nStep results:\n", intent)
	for _, r := range results {
		tool := r.ToolName
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(&b, "- %s [%s] %s: %s\n", r.StepID, tool, r.Status, plan.Excerpt(r.Result, 500))
	}
	return strings.TrimRight(b.String(), "\n")
}

func failed(reason string) plan.ValidationResult {
	return plan.ValidationResult{
		Passed:      false,
		Issues:      []string{"validation could not be completed: " + reason},
		Suggestions: []string{},
	}
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
