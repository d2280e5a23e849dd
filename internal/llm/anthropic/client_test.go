package anthropic

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"

	"ContentFlow/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestCompleteForcedToolCall(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5-20250929",
			"content":[{"type":"tool_use","id":"toolu_1","name":"create_plan","input":{"intent":"ship","steps":"[]","requiresValidation":"false"}}],
			"stop_reason":"tool_use","stop_sequence":null,
			"usage":{"input_tokens":10,"output_tokens":5}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: 5 * time.Second}, option.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.Complete(context.Background(), llm.Request{
		SystemPrompt: "plan",
		Messages:     []llm.Message{llm.UserText("create a page then translate it")},
		Tools:        []llm.Tool{{Name: "create_plan", Description: "d", Properties: map[string]any{"intent": llm.StringProperty("i")}, Required: []string{"intent"}}},
		ForcedTool:   "create_plan",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	block, ok := resp.ToolUse("create_plan")
	if !ok {
		t.Fatalf("expected create_plan block, got %+v", resp.Blocks)
	}
	var input map[string]string
	if err := json.Unmarshal(block.Input, &input); err != nil || input["intent"] != "ship" {
		t.Fatalf("unexpected input: %s (%v)", block.Input, err)
	}
	if resp.StopReason != "tool_use" {
		t.Fatalf("unexpected stop reason: %s", resp.StopReason)
	}

	choice, _ := captured["tool_choice"].(map[string]any)
	if choice["type"] != "tool" || choice["name"] != "create_plan" {
		t.Fatalf("tool choice not forwarded: %v", captured["tool_choice"])
	}
	if captured["model"] != string(defaultReasoningModel) {
		t.Fatalf("unexpected model: %v", captured["model"])
	}
}

func TestCompleteMapsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad prompt"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL}, option.WithMaxRetries(0))
	_, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.UserText("hi")}})

	var upstream *llm.UpstreamError
	if !stdErrors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", upstream.HTTPStatus)
	}
}

func TestLabelUsesClassifierModel(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		model, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_2","type":"message","role":"assistant","model":"claude-haiku-4-5-20251001",
			"content":[{"type":"text","text":" Multi\n"}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":3,"output_tokens":1}
		}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL}, option.WithMaxRetries(0))
	label, err := client.Label(context.Background(), "answer multi or single", "do everything")
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if label != " Multi\n" {
		t.Fatalf("label should be returned verbatim, got %q", label)
	}
	if model != string(defaultClassifierModel) {
		t.Fatalf("unexpected model: %s", model)
	}
}

func TestConvertMessagesSkipsEmpty(t *testing.T) {
	msgs := convertMessages([]llm.Message{
		{Role: llm.RoleUser},
		llm.AssistantMessage([]llm.Block{{Type: llm.BlockToolUse, ToolUseID: "t1", ToolName: "list_pages"}}),
		{Role: llm.RoleUser, Blocks: []llm.Block{llm.ToolResult("t1", "3 pages", false)}},
	})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}
