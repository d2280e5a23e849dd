package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ContentFlow/internal/actionlog"
	"ContentFlow/internal/agent"
	"ContentFlow/internal/api"
	"ContentFlow/internal/auth"
	"ContentFlow/internal/classifier"
	"ContentFlow/internal/config"
	"ContentFlow/internal/executor"
	"ContentFlow/internal/llm/anthropic"
	"ContentFlow/internal/llm/openai"
	"ContentFlow/internal/observability/alerting"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/planner"
	"ContentFlow/internal/rag"
	"ContentFlow/internal/retrieval"
	"ContentFlow/internal/session"
	"ContentFlow/internal/storage/mysql"
	redisstore "ContentFlow/internal/storage/redis"
	"ContentFlow/internal/tools"
	"ContentFlow/internal/validator"
	"ContentFlow/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("contentflowd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	alerter := buildAlerter(cfg)

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	sessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()

	queue, err := openActionQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭动作队列失败", slog.Any("error", err))
		}
	}()

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	processor := actionlog.NewProcessor(repo, queue,
		actionlog.WithWorkerCount(cfg.ActionLog.Workers),
		actionlog.WithAlertDispatcher(alerter),
		actionlog.WithProcessorLogger(logger.Named("actionlog").With(slog.String("driver", cfg.ActionLog.Driver))),
	)
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("动作处理器异常退出", slog.Any("error", err))
		}
	}()

	model, err := anthropic.NewClient(anthropic.Config{
		APIKey:          cfg.LLM.Anthropic.Key(),
		BaseURL:         cfg.LLM.Anthropic.BaseURL,
		ReasoningModel:  cfg.LLM.Anthropic.ReasoningModel,
		ClassifierModel: cfg.LLM.Anthropic.ClassifierModel,
		MaxTokens:       cfg.LLM.Anthropic.MaxTokens,
		Timeout:         cfg.LLM.Anthropic.Timeout(),
	})
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	assemblerOpts := []rag.Option{
		rag.WithBudget(cfg.Orchestrator.ContextBudget()),
		rag.WithSemanticTimeout(cfg.Orchestrator.SemanticTimeout()),
	}
	semantic, err := semanticSearch(ctx, cfg)
	if err != nil {
		return err
	}
	if semantic != nil {
		assemblerOpts = append(assemblerOpts, semantic)
	}

	policy := executor.ContinueOnFailure
	if !cfg.Orchestrator.ContinueOnFailure() {
		policy = executor.SkipDependents
	}

	ag := agent.New(agent.Dependencies{
		Client:     model,
		Dispatcher: registry,
		Classifier: classifier.New(model),
		Assembler:  rag.New(rag.FromRepository(repo), assemblerOpts...),
		Planner:    planner.New(model, planner.WithMaxTokens(cfg.LLM.Anthropic.MaxTokens)),
		Executor: executor.New(registry,
			executor.WithMaxParallel(cfg.Orchestrator.MaxParallelSteps),
			executor.WithPolicy(policy),
			executor.WithActionLog(queue)),
		Validator: validator.New(model, cfg.LLM.Anthropic.MaxTokens),
		Sessions:  sessions,
	},
		agent.WithMaxIterations(cfg.Orchestrator.MaxIterations),
		agent.WithMaxTokens(cfg.LLM.Anthropic.MaxTokens),
		agent.WithFlushDelay(cfg.Server.FlushDelay()),
		agent.WithHistoryLimit(cfg.Orchestrator.HistoryLimit),
		agent.WithAlertDispatcher(alerter),
		agent.WithActionLog(queue),
	)

	if addr := strings.TrimSpace(cfg.Server.MetricsAddress); addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	authenticator := auth.NewAuthenticator(auth.Config{Enabled: cfg.Auth.Enabled, Tokens: cfg.Auth.Tokens})
	server := api.NewServer(cfg.Server.Address, ag, registry, sessions, authenticator)
	log.Info("ContentFlow 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("session", cfg.Session.Driver),
		slog.String("action_log", cfg.ActionLog.Driver),
		slog.Int("tools", len(registry.ListTools())))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func storageConfig(cfg *config.Config) mysql.Config {
	return mysql.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.ConnectionString(),
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Storage.ConnMaxIdleTimeSeconds) * time.Second,
	}
}

func openRepository(ctx context.Context, cfg *config.Config) (mysql.Repository, error) {
	switch cfg.Storage.Driver {
	case "memory", "":
		return mysql.NewMemoryRepository(cfg.Runtime.DataDir)
	case mysql.DriverMySQL, mysql.DriverSQLite:
		return mysql.NewSQLRepository(ctx, storageConfig(cfg), cfg.Storage.AutoMigrate)
	default:
		return nil, fmt.Errorf("%w: %s", mysql.ErrUnsupportedDriver, cfg.Storage.Driver)
	}
}

func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Driver {
	case "memory", "":
		return session.NewMemoryStore(cfg.Session.TTL()), nil
	case "redis":
		return redisstore.NewSessionStore(ctx, redisstore.Config{
			Address:  cfg.Session.Redis.Address,
			Password: cfg.Session.Redis.Secret(),
			DB:       cfg.Session.Redis.DB,
			Prefix:   cfg.Session.Redis.Prefix,
			TTL:      cfg.Session.TTL(),
		})
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Session.Driver)
	}
}

func openActionQueue(ctx context.Context, cfg *config.Config) (actionlog.Queue, error) {
	switch cfg.ActionLog.Driver {
	case "memory", "":
		return actionlog.NewMemoryQueue(cfg.ActionLog.Buffer), nil
	case "redis":
		return actionlog.NewRedisQueue(ctx, actionlog.RedisQueueConfig{
			Address:   cfg.ActionLog.Redis.Address,
			Password:  cfg.ActionLog.Redis.Secret(),
			DB:        cfg.ActionLog.Redis.DB,
			Queue:     cfg.ActionLog.Redis.Queue,
			BlockWait: time.Duration(cfg.ActionLog.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return actionlog.NewRabbitMQQueue(actionlog.RabbitMQConfig{
			URL:        cfg.ActionLog.RabbitMQ.Endpoint(),
			Queue:      cfg.ActionLog.RabbitMQ.Queue,
			Prefetch:   cfg.ActionLog.RabbitMQ.Prefetch,
			Durable:    cfg.ActionLog.RabbitMQ.Durable,
			AutoDelete: cfg.ActionLog.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的动作队列驱动: %s", cfg.ActionLog.Driver)
	}
}

func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	registry, err := tools.NewRegistry()
	if err != nil {
		return nil, err
	}
	client := &http.Client{}
	catalog := make([]tools.Spec, 0, len(cfg.Tools))
	for _, tc := range cfg.Tools {
		spec := toolSpec(tc)
		catalog = append(catalog, spec)
		if strings.TrimSpace(tc.Endpoint) == "" {
			continue
		}
		handler, err := tools.NewHTTPHandler(tools.HTTPConfig{
			Spec:     spec,
			Endpoint: tc.Endpoint,
			Token:    strings.TrimSpace(os.Getenv(tc.TokenEnv)),
			Timeout:  tc.Timeout(),
		}, client)
		if err != nil {
			return nil, fmt.Errorf("工具 %s 配置无效: %w", tc.Name, err)
		}
		if err := registry.Register(handler); err != nil {
			return nil, err
		}
	}
	if err := registry.ValidateCatalog(catalog); err != nil {
		return nil, err
	}
	return registry, nil
}

func toolSpec(tc config.ToolConfig) tools.Spec {
	props := make(map[string]tools.Property, len(tc.Properties))
	for name, description := range tc.Properties {
		props[name] = tools.Property{Type: "string", Description: description}
	}
	return tools.Spec{
		Name:        tc.Name,
		Description: tc.Description,
		InputSchema: tools.Schema{Properties: props, Required: tc.Required},
	}
}

func semanticSearch(ctx context.Context, cfg *config.Config) (rag.Option, error) {
	if cfg.Embedding.Provider != "openai" || cfg.VectorIndex.Driver == "none" {
		return nil, nil
	}
	embedder, err := openai.NewClient(openai.Config{
		APIKey:  cfg.Embedding.OpenAI.Key(),
		BaseURL: cfg.Embedding.OpenAI.BaseURL,
		Model:   cfg.Embedding.OpenAI.Model,
		Timeout: cfg.Embedding.OpenAI.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	var index retrieval.Index
	switch cfg.VectorIndex.Driver {
	case "http":
		index, err = retrieval.NewHTTPIndex(retrieval.HTTPConfig{
			URL:       cfg.VectorIndex.URL,
			APIKey:    cfg.VectorIndex.Key(),
			Namespace: cfg.VectorIndex.Namespace,
			Timeout:   cfg.Orchestrator.SemanticTimeout(),
		}, nil)
		if err != nil {
			return nil, err
		}
	case "memory":
		memory := retrieval.NewMemoryIndex()
		if seed := strings.TrimSpace(cfg.VectorIndex.SeedFile); seed != "" {
			entries, err := retrieval.LoadSeedFile(seed)
			if err != nil {
				return nil, err
			}
			written, err := memory.Seed(ctx, embedder, entries)
			if err != nil {
				return nil, err
			}
			logger.Named("retrieval").Info("向量索引已加载种子内容", slog.Int("documents", written))
		}
		index = memory
	default:
		return nil, fmt.Errorf("未知的向量索引驱动: %s", cfg.VectorIndex.Driver)
	}
	return rag.WithSemanticSearch(embedder, index), nil
}

func buildAlerter(cfg *config.Config) alerting.Dispatcher {
	if !cfg.Alerting.Enabled {
		return nil
	}
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	for _, wh := range cfg.Alerting.Webhooks {
		endpoint := wh.Endpoint()
		if endpoint == "" {
			continue
		}
		notifiers = append(notifiers, &alerting.WebhookNotifier{ChannelName: wh.Name, URL: endpoint})
	}
	return alerting.NewFanout(notifiers...)
}
