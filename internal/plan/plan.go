package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status 表示单个步骤的执行结果。
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Step 是计划中的一个执行单元，可以绑定一次工具调用。
type Step struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	ToolName    string            `json:"toolName,omitempty"`
	ToolInput   map[string]string `json:"toolInput,omitempty"`
	DependsOn   []string          `json:"dependsOn,omitempty"`
	Validation  string            `json:"validation,omitempty"`
}

// Plan 是推理模型为多步骤请求生成的依赖图。
type Plan struct {
	Intent             string `json:"intent"`
	Steps              []Step `json:"steps"`
	RequiresValidation bool   `json:"requiresValidation"`
}

// StepResult 记录一个步骤的最终状态。
type StepResult struct {
	StepID   string `json:"stepId"`
	ToolName string `json:"toolName,omitempty"`
	Status   Status `json:"status"`
	Result   string `json:"result"`
}

// ValidationResult 是校验阶段的结构化结论。
type ValidationResult struct {
	Passed      bool     `json:"passed"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// Summary 是计划事件中携带的步骤摘要。
type Summary struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	ToolName    string   `json:"toolName,omitempty"`
	DependsOn   []string `json:"dependsOn,omitempty"`
}

// Summaries 返回用于进度事件的步骤摘要。
func (p *Plan) Summaries() []Summary {
	if p == nil {
		return nil
	}
	out := make([]Summary, 0, len(p.Steps))
	for _, step := range p.Steps {
		out = append(out, Summary{
			ID:          step.ID,
			Description: step.Description,
			ToolName:    step.ToolName,
			DependsOn:   step.DependsOn,
		})
	}
	return out
}

// Validate 检查步骤 ID 非空且唯一。
func (p *Plan) Validate() error {
	if p == nil || len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for i, step := range p.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("step %d has an empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate step id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ParseSteps 解析模型返回的步骤列表。模型通常把数组编码成字符串，偶尔也会直接给出数组。
func ParseSteps(raw json.RawMessage) ([]Step, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("steps field is missing")
	}

	if strings.HasPrefix(trimmed, `"`) {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("decode steps string: %w", err)
		}
		trimmed = strings.TrimSpace(encoded)
	}

	var steps []Step
	if err := json.Unmarshal([]byte(trimmed), &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return steps, nil
}

// Excerpt 截断结果文本，用于进度事件和最终汇总。
func Excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
