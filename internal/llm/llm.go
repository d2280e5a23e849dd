package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role 表示会话中的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType 区分消息中的内容块。
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block 是消息中的一个内容块。
type Block struct {
	Type      BlockType
	Text      string
	ToolUseID string
	ToolName  string
	Input     json.RawMessage
	Content   string
	IsError   bool
}

// Message 是会话中的一条消息。
type Message struct {
	Role   Role
	Blocks []Block
}

// Tool 是提供给模型的工具定义。Properties 直接按 JSON Schema 传递。
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Request 描述一次推理调用。ForcedTool 非空时模型必须调用该工具。
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        []Tool
	ForcedTool   string
	MaxTokens    int64
}

// Response 是模型返回的内容块。
type Response struct {
	Blocks     []Block
	StopReason string
}

// Client 定义了调用推理模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Labeler 是快速分类模型，只返回一个简短标签。
type Labeler interface {
	Label(ctx context.Context, systemPrompt, text string) (string, error)
}

// UpstreamError 表示模型服务返回了非 2xx 状态。
type UpstreamError struct {
	HTTPStatus int
	Body       string
}

// Error 实现 error 接口。
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.HTTPStatus, e.Body)
}

// Text 拼接所有文本块。
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, b := range r.Blocks {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses 返回所有工具调用块。
func (r *Response) ToolUses() []Block {
	if r == nil {
		return nil
	}
	var out []Block
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolUse 返回指定名称的第一个工具调用块。
func (r *Response) ToolUse(name string) (Block, bool) {
	for _, b := range r.ToolUses() {
		if b.ToolName == name {
			return b, true
		}
	}
	return Block{}, false
}

// UserText 构造只包含文本的用户消息。
func UserText(text string) Message {
	return Message{Role: RoleUser, Blocks: []Block{{Type: BlockText, Text: text}}}
}

// AssistantMessage 把模型回复原样写回会话。
func AssistantMessage(blocks []Block) Message {
	return Message{Role: RoleAssistant, Blocks: append([]Block(nil), blocks...)}
}

// ToolResult 构造工具结果块。
func ToolResult(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// StringProperty 返回字符串类型的 JSON Schema 片段。
func StringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
