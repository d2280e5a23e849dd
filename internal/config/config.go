package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ContentFlow/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "CONTENTFLOW_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件路径。
var DefaultPath = filepath.Join("configs", "contentflow.yaml")

// Config 描述了 ContentFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	VectorIndex  VectorIndexConfig  `yaml:"vector_index"`
	Storage      StorageConfig      `yaml:"storage"`
	Session      SessionConfig      `yaml:"session"`
	ActionLog    ActionLogConfig    `yaml:"action_log"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Tools        []ToolConfig       `yaml:"tools"`
	Logging      logger.Config      `yaml:"logging"`
	Alerting     AlertingConfig     `yaml:"alerting"`
	Auth         AuthConfig         `yaml:"auth"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `yaml:"address"`
	FlushDelayMS   int    `yaml:"flush_delay_ms"`
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `yaml:"metrics_address"`
}

// FlushDelay 返回关闭事件流前的等待时长。
func (s ServerConfig) FlushDelay() time.Duration {
	return time.Duration(s.FlushDelayMS) * time.Millisecond
}

// LLMConfig 用于配置推理模型与快速分类模型。
type LLMConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// AnthropicConfig 描述 Anthropic Messages API 的访问方式。
type AnthropicConfig struct {
	APIKey          string `yaml:"api_key"`
	APIKeyEnv       string `yaml:"api_key_env"`
	BaseURL         string `yaml:"base_url"`
	ReasoningModel  string `yaml:"reasoning_model"`
	ClassifierModel string `yaml:"classifier_model"`
	MaxTokens       int64  `yaml:"max_tokens"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// Key 返回最终生效的 API Key。
func (a AnthropicConfig) Key() string {
	return resolveSecret(a.APIKey, a.APIKeyEnv)
}

// Timeout 返回单次调用的超时时间。
func (a AnthropicConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// EmbeddingConfig 描述向量化服务。
type EmbeddingConfig struct {
	Provider string       `yaml:"provider"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容的 embeddings 接口。
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Key 返回最终生效的 API Key。
func (o OpenAIConfig) Key() string {
	return resolveSecret(o.APIKey, o.APIKeyEnv)
}

// Timeout 返回单次调用的超时时间。
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// VectorIndexConfig 描述向量检索服务。
type VectorIndexConfig struct {
	Driver    string `yaml:"driver"`
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	Namespace string `yaml:"namespace"`
	// SeedFile 仅用于 memory 驱动，启动时把其中的内容向量化后写入索引。
	SeedFile  string `yaml:"seed_file"`
}

// Key 返回最终生效的 API Key。
func (v VectorIndexConfig) Key() string {
	return resolveSecret(v.APIKey, v.APIKeyEnv)
}

// StorageConfig 描述关系型存储。
type StorageConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	DSNEnv                 string `yaml:"dsn_env"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
	AutoMigrate            bool   `yaml:"auto_migrate"`
}

// ConnectionString 返回最终生效的 DSN。
func (s StorageConfig) ConnectionString() string {
	return resolveSecret(s.DSN, s.DSNEnv)
}

// SessionConfig 描述会话上下文的存储。
type SessionConfig struct {
	Driver     string      `yaml:"driver"`
	TTLSeconds int         `yaml:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis"`
}

// TTL 返回会话过期时间。
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// RedisConfig 描述 Redis 连接信息。
type RedisConfig struct {
	Address          string `yaml:"address"`
	Password         string `yaml:"password"`
	PasswordEnv      string `yaml:"password_env"`
	DB               int    `yaml:"db"`
	Prefix           string `yaml:"prefix"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// Secret 返回最终生效的密码。
func (r RedisConfig) Secret() string {
	return resolveSecret(r.Password, r.PasswordEnv)
}

// ActionLogConfig 描述工具动作记录的异步队列。
type ActionLogConfig struct {
	Driver   string         `yaml:"driver"`
	Workers  int            `yaml:"workers"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接信息。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	URLEnv     string `yaml:"url_env"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// Endpoint 返回最终生效的连接串。
func (r RabbitMQConfig) Endpoint() string {
	return resolveSecret(r.URL, r.URLEnv)
}

// OrchestratorConfig 控制编排流程的各项上限。
type OrchestratorConfig struct {
	MaxIterations         int   `yaml:"max_iterations"`
	MaxParallelSteps      int   `yaml:"max_parallel_steps"`
	ContinueOnStepFailure *bool `yaml:"continue_on_step_failure"`
	ContextBudgetMS       int   `yaml:"context_budget_ms"`
	SemanticTimeoutMS     int   `yaml:"semantic_timeout_ms"`
	HistoryLimit          int   `yaml:"history_limit"`
}

// ContextBudget 返回上下文组装的整体时限。
func (o OrchestratorConfig) ContextBudget() time.Duration {
	return time.Duration(o.ContextBudgetMS) * time.Millisecond
}

// SemanticTimeout 返回语义检索的时限。
func (o OrchestratorConfig) SemanticTimeout() time.Duration {
	return time.Duration(o.SemanticTimeoutMS) * time.Millisecond
}

// ContinueOnFailure 报告步骤失败后是否继续执行其依赖步骤。
func (o OrchestratorConfig) ContinueOnFailure() bool {
	return o.ContinueOnStepFailure == nil || *o.ContinueOnStepFailure
}

// ToolConfig 描述工具目录中的一项。配置了 endpoint 的工具由 HTTP 处理器实现。
type ToolConfig struct {
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Endpoint       string            `yaml:"endpoint"`
	TokenEnv       string            `yaml:"token_env"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Required       []string          `yaml:"required"`
	Properties     map[string]string `yaml:"properties"`
}

// Timeout 返回工具调用的超时时间。
func (t ToolConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// AlertingConfig 控制告警通知。
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig 描述一个告警 Webhook。
type WebhookConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	URLEnv string `yaml:"url_env"`
}

// Endpoint 返回最终生效的 Webhook 地址。
func (w WebhookConfig) Endpoint() string {
	return resolveSecret(w.URL, w.URLEnv)
}

// AuthConfig 控制请求身份识别。
type AuthConfig struct {
	Enabled bool              `yaml:"enabled"`
	// Tokens 把 bearer token 映射到用户 ID。
	Tokens  map[string]string `yaml:"tokens"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ResolvePath 返回配置文件路径，优先读取环境变量。
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 YAML 或 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

// Parse 解析配置内容但不填充默认值。JSON 是 YAML 的子集，因此两种格式都可以直接解析。
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(content)) == 0 {
		return &cfg, nil
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// Default 返回只包含默认值的配置，便于在没有配置文件时启动。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.FlushDelayMS <= 0 {
		c.Server.FlushDelayMS = 150
	}

	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.Anthropic.MaxTokens <= 0 {
		c.LLM.Anthropic.MaxTokens = 4096
	}
	if c.LLM.Anthropic.TimeoutSeconds <= 0 {
		c.LLM.Anthropic.TimeoutSeconds = 60
	}

	if c.Embedding.Provider == "openai" {
		if c.Embedding.OpenAI.APIKeyEnv == "" {
			c.Embedding.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if c.Embedding.OpenAI.TimeoutSeconds <= 0 {
			c.Embedding.OpenAI.TimeoutSeconds = 10
		}
	}

	if c.VectorIndex.Driver == "" {
		c.VectorIndex.Driver = "none"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.TTLSeconds <= 0 {
		c.Session.TTLSeconds = int((24 * time.Hour).Seconds())
	}
	if c.Session.Redis.Prefix == "" {
		c.Session.Redis.Prefix = "contentflow:session:"
	}

	if c.ActionLog.Driver == "" {
		c.ActionLog.Driver = "memory"
	}
	if c.ActionLog.Workers <= 0 {
		c.ActionLog.Workers = 1
	}
	if c.ActionLog.Buffer <= 0 {
		c.ActionLog.Buffer = 256
	}
	if c.ActionLog.Redis.Queue == "" {
		c.ActionLog.Redis.Queue = "contentflow:actions"
	}
	if c.ActionLog.RabbitMQ.Queue == "" {
		c.ActionLog.RabbitMQ.Queue = "contentflow.actions"
	}

	if c.Orchestrator.MaxIterations <= 0 {
		c.Orchestrator.MaxIterations = 10
	}
	if c.Orchestrator.MaxParallelSteps <= 0 {
		c.Orchestrator.MaxParallelSteps = 4
	}
	if c.Orchestrator.ContextBudgetMS <= 0 {
		c.Orchestrator.ContextBudgetMS = 8000
	}
	if c.Orchestrator.SemanticTimeoutMS <= 0 {
		c.Orchestrator.SemanticTimeoutMS = 3000
	}
	if c.Orchestrator.HistoryLimit <= 0 {
		c.Orchestrator.HistoryLimit = 10
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" && c.Storage.DSNEnv == "" {
		c.Storage.DSN = filepath.Join(c.Runtime.DataDir, "contentflow.db")
	}
}

func resolveSecret(value, env string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
