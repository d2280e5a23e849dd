package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ContentFlow/internal/llm"
)

const (
	defaultReasoningModel  = sdk.ModelClaudeSonnet4_5_20250929
	defaultClassifierModel = sdk.ModelClaudeHaiku4_5_20251001
	defaultMaxTokens       = 4096
	labelMaxTokens         = 16
	defaultTimeout         = 60 * time.Second
)

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey          string
	BaseURL         string
	ReasoningModel  string
	ClassifierModel string
	MaxTokens       int64
	Timeout         time.Duration
	MaxRetries      int
}

// Client 同时实现 llm.Client 与 llm.Labeler。
type Client struct {
	inner      sdk.Client
	reasoning  sdk.Model
	classifier sdk.Model
	maxTokens  int64
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	opts = append(opts, extra...)

	reasoning := sdk.Model(strings.TrimSpace(cfg.ReasoningModel))
	if reasoning == "" {
		reasoning = defaultReasoningModel
	}
	classifier := sdk.Model(strings.TrimSpace(cfg.ClassifierModel))
	if classifier == "" {
		classifier = defaultClassifierModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		inner:      sdk.NewClient(opts...),
		reasoning:  reasoning,
		classifier: classifier,
		maxTokens:  maxTokens,
	}, nil
}

// Complete 调用推理模型。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     c.reasoning,
		MaxTokens: maxTokens,
		Messages:  convertMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if req.ForcedTool != "" {
		params.ToolChoice = sdk.ToolChoiceUnionParam{
			OfTool: &sdk.ToolChoiceToolParam{Name: req.ForcedTool},
		}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return nil, upstreamError(err)
	}

	out := &llm.Response{StopReason: string(resp.StopReason)}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Blocks = append(out.Blocks, llm.Block{Type: llm.BlockText, Text: variant.Text})
		case sdk.ToolUseBlock:
			out.Blocks = append(out.Blocks, llm.Block{
				Type:      llm.BlockToolUse,
				ToolUseID: variant.ID,
				ToolName:  variant.Name,
				Input:     variant.Input,
			})
		}
	}
	return out, nil
}

// Label 调用快速模型返回简短标签。
func (c *Client) Label(ctx context.Context, systemPrompt, text string) (string, error) {
	resp, err := c.inner.Messages.New(ctx, sdk.MessageNewParams{
		Model:     c.classifier,
		MaxTokens: labelMaxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(text)),
		},
	})
	if err != nil {
		return "", upstreamError(err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(sdk.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	return b.String(), nil
}

func convertMessages(messages []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			switch b.Type {
			case llm.BlockText:
				blocks = append(blocks, sdk.NewTextBlock(b.Text))
			case llm.BlockToolUse:
				var input any = b.Input
				if len(b.Input) == 0 {
					input = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case llm.BlockToolResult:
				blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == llm.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func convertTools(tools []llm.Tool) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props := t.Properties
		if props == nil {
			props = map[string]any{}
		}
		param := &sdk.ToolParam{
			Name: t.Name,
			InputSchema: sdk.ToolInputSchemaParam{
				Properties: props,
				Required:   t.Required,
			},
		}
		if t.Description != "" {
			param.Description = sdk.String(t.Description)
		}
		out = append(out, sdk.ToolUnionParam{OfTool: param})
	}
	return out
}

func upstreamError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &llm.UpstreamError{HTTPStatus: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return &llm.UpstreamError{Body: err.Error()}
}
