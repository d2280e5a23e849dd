package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "ContentFlow/internal/errors"
	"ContentFlow/pkg/logger"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	RequestID  string            `json:"requestId,omitempty"`
	Phase      string            `json:"phase,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// FromError 根据统一错误构造告警事件。
func FromError(err error, requestID, phase string) Event {
	code := xerrors.CodeOf(err)
	event := Event{
		Code:       code,
		Message:    xerrors.AttributesOf(code).Message,
		Severity:   xerrors.AttributesOf(code).Severity,
		RequestID:  requestID,
		Phase:      phase,
		OccurredAt: time.Now(),
	}
	if e, ok := xerrors.From(err); ok {
		event.Message = e.Message()
		event.Severity = e.Severity()
		event.Metadata = e.Metadata()
	}
	if err != nil {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string)
		}
		event.Metadata["cause"] = err.Error()
	}
	return event
}

// Notifier 负责将事件发送到一个渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，同名通知器只保留最后一个。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	byName := make(map[string]Notifier, len(notifiers))
	var order []string
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if _, seen := byName[n.Name()]; !seen {
			order = append(order, n.Name())
		}
		byName[n.Name()] = n
	}
	d := &FanoutDispatcher{}
	for _, name := range order {
		d.notifiers = append(d.notifiers, byName[name])
	}
	return d
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写入审计日志。
type LogNotifier struct{}

// Name 返回渠道名称。
func (LogNotifier) Name() string { return "log" }

// Notify 写入审计日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("request_id", event.RequestID),
		slog.String("phase", event.Phase),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for _, k := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String("meta_"+k, event.Metadata[k]))
	}
	logger.Audit().Error("告警: "+event.Message, attrs...)
	return nil
}

// WebhookNotifier 以 Slack 兼容格式把告警推送到 Webhook。
type WebhookNotifier struct {
	ChannelName string
	URL         string
	Client      *http.Client
}

// Name 返回渠道名称。
func (n *WebhookNotifier) Name() string {
	if n.ChannelName != "" {
		return n.ChannelName
	}
	return "webhook"
}

// Notify 发送告警。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("request_id", event.RequestID))
		return nil
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	payload, err := json.Marshal(map[string]any{
		"text":  formatText(event),
		"event": event,
	})
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警 Webhook 返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func formatText(event Event) string {
	text := fmt.Sprintf("*[%s]* %s - %s", event.Severity, event.Code, event.Message)
	if event.RequestID != "" {
		text += fmt.Sprintf(" (request %s", event.RequestID)
		if event.Phase != "" {
			text += ", phase " + event.Phase
		}
		text += ")"
	}
	return text
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
