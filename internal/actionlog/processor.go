package actionlog

import (
	"context"
	"log/slog"

	xerrors "ContentFlow/internal/errors"
	"ContentFlow/internal/observability/alerting"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/storage/mysql"
	"ContentFlow/pkg/logger"
)

// Store 是处理器写入动作记录的目标。
type Store interface {
	SaveAction(ctx context.Context, action mysql.Action) error
}

// Processor 从队列消费动作记录并写入仓库，供上下文组装器读取历史。
type Processor struct {
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("actionlog"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动消费循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置动作消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, record Record) error {
	if p.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	if err := p.store.SaveAction(ctx, record.Action()); err != nil {
		metrics.ObserveAction("failed")
		p.logger.Error("保存动作记录失败",
			slog.Any("error", err),
			slog.String("request_id", record.RequestID),
			slog.String("tool", record.ToolName))
		p.emitAlert(ctx, record, err)
		return err
	}
	metrics.ObserveAction("persisted")
	logger.Audit().Info("工具动作",
		slog.String("request_id", record.RequestID),
		slog.String("user_id", record.UserID),
		slog.String("project_id", record.ProjectID),
		slog.String("tool", record.ToolName),
		slog.String("status", record.Status),
	)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, record Record, cause error) {
	if p.alerter == nil {
		return
	}
	event := alerting.FromError(cause, record.RequestID, "actionlog")
	if event.Code == xerrors.CodeUnknown {
		event.Code = xerrors.CodeStorageFailure
		event.Severity = xerrors.AttributesOf(xerrors.CodeStorageFailure).Severity
	}
	event.Metadata["tool"] = record.ToolName
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("request_id", record.RequestID))
	}
}
