package planner

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	xerrors "ContentFlow/internal/errors"
	"ContentFlow/internal/llm"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/plan"
	"ContentFlow/internal/rag"
	"ContentFlow/internal/tools"
	"ContentFlow/pkg/logger"
)

// CodePlanSynthesisFailed 表示无法从模型得到可用的执行计划。
const CodePlanSynthesisFailed xerrors.Code = "PLAN_SYNTHESIS_FAILED"

// ToolName 是强制模型调用的结构化工具。
const ToolName = "create_plan"

func init() {
	xerrors.Register(CodePlanSynthesisFailed, xerrors.Attributes{
		Message:  "failed to synthesize an execution plan",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

var planTool = llm.Tool{
	Name:        ToolName,
	Description: "Submit the execution plan for the user's request.",
	Properties: map[string]any{
		"intent": llm.StringProperty("One sentence describing what the user wants to achieve."),
		"steps": llm.StringProperty(`JSON-encoded array of steps. Each step: {"id": string, "description": string, ` +
			`"toolName"?: string, "toolInput"?: {string: string}, "dependsOn"?: [string], "validation"?: string}.`),
		"requiresValidation": map[string]any{
			"type":        "string",
			"enum":        []string{"true", "false"},
			"description": "Whether the outcome should be validated after execution.",
		},
	},
	Required: []string{"intent", "steps", "requiresValidation"},
}

// Planner 通过一次强制工具调用把请求转换为执行计划。
type Planner struct {
	client    llm.Client
	maxTokens int64
	logger    *slog.Logger
}

// Option 定义可选配置。
type Option func(*Planner)

// WithMaxTokens 设置单次调用的输出上限。
func WithMaxTokens(n int64) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// New 创建 Planner。
func New(client llm.Client, opts ...Option) *Planner {
	p := &Planner{client: client, logger: logger.Named("planner")}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

type planInput struct {
	Intent             string          `json:"intent"`
	Steps              json.RawMessage `json:"steps"`
	RequiresValidation json.RawMessage `json:"requiresValidation"`
}

// Plan 生成执行计划。失败时返回 PLAN_SYNTHESIS_FAILED，不提供兜底计划。
func (p *Planner) Plan(ctx context.Context, text string, rc rag.Context, catalog []tools.Spec) (*plan.Plan, error) {
	started := time.Now()
	defer func() { metrics.ObservePhase("plan", time.Since(started)) }()

	if p == nil || p.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置推理模型")
	}

	resp, err := p.client.Complete(ctx, llm.Request{
		SystemPrompt: SystemPrompt(catalog, rc),
		Messages:     []llm.Message{llm.UserText(text)},
		Tools:        []llm.Tool{planTool},
		ForcedTool:   ToolName,
		MaxTokens:    p.maxTokens,
	})
	if err != nil {
		var upstream *llm.UpstreamError
		if stdErrors.As(err, &upstream) {
			return nil, xerrors.Wrap(CodePlanSynthesisFailed, err, "planner call failed",
				xerrors.WithMetadata("http_status", strconv.Itoa(upstream.HTTPStatus)))
		}
		return nil, xerrors.Wrap(CodePlanSynthesisFailed, err, "planner call failed")
	}

	block, ok := resp.ToolUse(ToolName)
	if !ok {
		return nil, xerrors.New(CodePlanSynthesisFailed, "model reply has no create_plan call")
	}
	result, err := decode(block.Input)
	if err != nil {
		return nil, err
	}
	logger.With(ctx, p.logger).Info("执行计划已生成",
		slog.String("intent", result.Intent),
		slog.Int("steps", len(result.Steps)),
		slog.Bool("requires_validation", result.RequiresValidation))
	return result, nil
}

func decode(raw json.RawMessage) (*plan.Plan, error) {
	var in planInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, xerrors.Wrap(CodePlanSynthesisFailed, err, "create_plan input is not a JSON object")
	}
	steps, err := plan.ParseSteps(in.Steps)
	if err != nil {
		return nil, xerrors.Wrap(CodePlanSynthesisFailed, err, "create_plan steps are not valid JSON")
	}
	requiresValidation, err := parseBool(in.RequiresValidation)
	if err != nil {
		return nil, xerrors.Wrap(CodePlanSynthesisFailed, err, "create_plan requiresValidation is not a boolean")
	}
	out := &plan.Plan{
		Intent:             strings.TrimSpace(in.Intent),
		Steps:              steps,
		RequiresValidation: requiresValidation,
	}
	if err := out.Validate(); err != nil {
		return nil, xerrors.Wrap(CodePlanSynthesisFailed, err, "create_plan returned an invalid plan")
	}
	return out, nil
}

// parseBool 接受 "true"/"false" 字符串或 JSON 布尔值，字段缺失视为 false。
func parseBool(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("unexpected value %s", raw)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("unexpected value %q", s)
}

// SystemPrompt 渲染规划用的系统提示词。
func SystemPrompt(catalog []tools.Spec, rc rag.Context) string {
	var b strings.Builder
	b.WriteString("You are the planning component of a content-management assistant. ")
	b.WriteString("Break the user's request into an ordered list of steps and submit it with the create_plan tool.\n\n")
	b.WriteString("Guidelines:\n")
	b.WriteString("- Prefer the fewest steps that fully satisfy the request.\n")
	b.WriteString("- Use only tools from the catalog below. A step without toolName is commentary.\n")
	b.WriteString("- toolInput values are strings. Reference earlier steps with dependsOn using their ids.\n")
	b.WriteString("- Step ids must be unique and non-empty.\n")
	b.WriteString(`- Set requiresValidation to "true" only when the plan has at least 3 steps that change content; otherwise "false".` + "\n\n")

	b.WriteString("## Available tools\n")
	if rendered := tools.Catalog(catalog); rendered != "" {
		b.WriteString(rendered)
	} else {
		b.WriteString("(none)")
	}
	b.WriteString("\n")

	for _, section := range []struct{ title, body string }{
		{"Recent actions", rc.RecentActions},
		{"User preferences", rc.UserContext},
		{"Project", rc.ProjectInfo},
		{"Related content", rc.SemanticContext},
		{"Content performance", rc.ValueInsights},
	} {
		body := section.body
		if strings.TrimSpace(body) == "" {
			body = "(none)"
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", section.title, body)
	}
	return b.String()
}
