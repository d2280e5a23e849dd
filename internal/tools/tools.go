package tools

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	xerrors "ContentFlow/internal/errors"
)

const (
	// CodeDispatchFailed 表示工具执行失败。
	CodeDispatchFailed xerrors.Code = "TOOL_DISPATCH_FAILED"
	// CodeCatalogMismatch 表示工具目录与已注册实现不一致。
	CodeCatalogMismatch xerrors.Code = "CATALOG_MISMATCH"
)

func init() {
	xerrors.Register(CodeDispatchFailed, xerrors.Attributes{Message: "tool dispatch failed", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeCatalogMismatch, xerrors.Attributes{Message: "tool catalog mismatch", Severity: xerrors.SeverityCritical, Alert: true})
}

// Property 描述工具入参中的单个字段。
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema 是工具入参的 JSON Schema 子集。
type Schema struct {
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Spec 是对模型公开的工具描述。
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

// Context 是执行工具时由调用方提供的不透明上下文。
type Context struct {
	UserID      string            `json:"userId"`
	ProjectID   string            `json:"projectId"`
	SessionID   string            `json:"sessionId,omitempty"`
	RequestID   string            `json:"requestId,omitempty"`
	Credentials map[string]string `json:"-"`
}

// ToolError 是工具执行失败时返回的错误。
type ToolError struct {
	ToolName string
	Message  string
	Cause    error
}

// Error 实现 error 接口。
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.ToolName, e.Message)
}

// Unwrap 返回底层错误。
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// Input 保留模型输出的字符串参数，只在调用边界处做类型转换。
type Input map[string]string

// InputFromJSON 把模型生成的任意 JSON 对象转换为字符串参数。
func InputFromJSON(raw json.RawMessage) (Input, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Input{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode tool input: %w", err)
	}
	input := make(Input, len(decoded))
	for key, value := range decoded {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			input[key] = v
		case bool:
			input[key] = strconv.FormatBool(v)
		case float64:
			input[key] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode tool input %s: %w", key, err)
			}
			input[key] = string(encoded)
		}
	}
	return input, nil
}

// String 返回字段值，缺失时返回 fallback。
func (in Input) String(key, fallback string) string {
	if v, ok := in[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// Int 把字段解析为整数。
func (in Input) Int(key string, fallback int) (int, error) {
	v, ok := in[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("field %s is not an integer: %q", key, v)
	}
	return n, nil
}

// Bool 把字段解析为布尔值。
func (in Input) Bool(key string, fallback bool) (bool, error) {
	v, ok := in[key]
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
	if err != nil {
		return false, fmt.Errorf("field %s is not a boolean: %q", key, v)
	}
	return b, nil
}

// Required 返回缺失或为空的必填字段。
func (in Input) Required(keys ...string) []string {
	var missing []string
	for _, key := range keys {
		if strings.TrimSpace(in[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Handler 是一个具体工具的实现。
type Handler interface {
	Spec() Spec
	Execute(ctx context.Context, input Input, tc *Context) (string, error)
}

// HandlerFunc 把函数适配为 Handler。
type HandlerFunc struct {
	Definition Spec
	Fn         func(ctx context.Context, input Input, tc *Context) (string, error)
}

// Spec 返回工具描述。
func (h HandlerFunc) Spec() Spec { return h.Definition }

// Execute 调用底层函数。
func (h HandlerFunc) Execute(ctx context.Context, input Input, tc *Context) (string, error) {
	return h.Fn(ctx, input, tc)
}

// Dispatcher 是编排层依赖的工具调度接口。
type Dispatcher interface {
	ListTools() []Spec
	Execute(ctx context.Context, name string, input Input, tc *Context) (string, error)
}

// Registry 以注册表的形式实现 Dispatcher。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry 创建注册表并注册给定的处理器。
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册一个处理器，名称重复时返回错误。
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具处理器为空")
	}
	name := strings.TrimSpace(h.Spec().Name)
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("工具 %s 已注册", name))
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	return nil
}

// ListTools 按注册顺序返回工具目录。
func (r *Registry) ListTools() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name].Spec())
	}
	return out
}

// Execute 校验必填字段后调用对应处理器。所有失败都以 *ToolError 返回。
func (r *Registry) Execute(ctx context.Context, name string, input Input, tc *Context) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", &ToolError{ToolName: name, Message: "unknown tool"}
	}
	if input == nil {
		input = Input{}
	}
	if missing := input.Required(h.Spec().InputSchema.Required...); len(missing) > 0 {
		return "", &ToolError{ToolName: name, Message: "missing required input: " + strings.Join(missing, ", ")}
	}

	result, err := h.Execute(ctx, input, tc)
	if err != nil {
		var te *ToolError
		if stdErrors.As(err, &te) {
			return "", te
		}
		return "", &ToolError{ToolName: name, Message: err.Error(), Cause: err}
	}
	return result, nil
}

// ValidateCatalog 确认所有对外公布的工具都有已注册的实现。
func (r *Registry) ValidateCatalog(catalog []Spec) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, spec := range catalog {
		if _, ok := r.handlers[spec.Name]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return xerrors.New(CodeCatalogMismatch,
		"工具目录中存在未注册的实现: "+strings.Join(missing, ", "),
		xerrors.WithMetadata("missing", strings.Join(missing, ",")))
}

// Catalog 把工具目录渲染为每行一个 "name: description" 的文本。
func Catalog(specs []Spec) string {
	var b strings.Builder
	for _, spec := range specs {
		b.WriteString("- ")
		b.WriteString(spec.Name)
		if spec.Description != "" {
			b.WriteString(": ")
			b.WriteString(spec.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
