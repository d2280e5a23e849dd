package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 64 * 1024

// HTTPHandler 把工具调用转发到内容管理后端的 HTTP 接口。
type HTTPHandler struct {
	spec       Spec
	endpoint   string
	token      string
	httpClient *http.Client
}

// HTTPConfig 描述一个 HTTP 工具。
type HTTPConfig struct {
	Spec     Spec
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// NewHTTPHandler 根据配置创建 HTTP 工具。
func NewHTTPHandler(cfg HTTPConfig, client *http.Client) (*HTTPHandler, error) {
	if strings.TrimSpace(cfg.Spec.Name) == "" || strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("http tool requires name and endpoint")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPHandler{
		spec:       cfg.Spec,
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		token:      cfg.Token,
		httpClient: client,
	}, nil
}

type httpRequest struct {
	Tool    string   `json:"tool"`
	Input   Input    `json:"input"`
	Context *Context `json:"context,omitempty"`
}

type httpResponse struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

// Spec 返回工具描述。
func (h *HTTPHandler) Spec() Spec { return h.spec }

// Execute 以 JSON 形式发送 {tool, input, context}，返回后端给出的 result。
func (h *HTTPHandler) Execute(ctx context.Context, input Input, tc *Context) (string, error) {
	body, err := json.Marshal(httpRequest{Tool: h.spec.Name, Input: input, Context: tc})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call tool endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read tool response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ToolError{ToolName: h.spec.Name, Message: fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var decoded httpResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// 非 JSON 响应直接作为结果文本。
		return strings.TrimSpace(string(raw)), nil
	}
	if decoded.Error != "" {
		return "", &ToolError{ToolName: h.spec.Name, Message: decoded.Error}
	}
	return decoded.Result, nil
}
