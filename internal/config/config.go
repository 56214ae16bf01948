// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Session       SessionConfig       `mapstructure:"session"`
	Cleanup       CleanupConfig       `mapstructure:"cleanup"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	JWT           JWTConfig           `mapstructure:"jwt"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port                   string `mapstructure:"port"`
	Mode                   string `mapstructure:"mode"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver 取值 "mysql" 或 "sqlite"
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时不启用 Redis。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 允许覆盖内置的系统提示词（留空则使用内置版本）。
type LLMPromptConfig struct {
	System        string `mapstructure:"system"`
	Summarization string `mapstructure:"summarization"`
}

// SessionConfig 控制会话历史的摘要阈值、上下文窗口以及会话锁。
type SessionConfig struct {
	SummaryThreshold  int `mapstructure:"summary_threshold"`
	ContextWindowMax  int `mapstructure:"context_window_max"`
	ContextWindowKeep int `mapstructure:"context_window_keep"`
	LockTTLSeconds    int `mapstructure:"lock_ttl_seconds"`
	LockWaitSeconds   int `mapstructure:"lock_wait_seconds"`
}

// CleanupConfig 控制过期会话清理。
type CleanupConfig struct {
	RetentionDays int  `mapstructure:"retention_days"`
	Archive       bool `mapstructure:"archive"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// JWTConfig 存储管理员 token 相关的配置。
type JWTConfig struct {
	Secret                string `mapstructure:"secret"`
	AdminTokenExpireHours int    `mapstructure:"admin_token_expire_hours"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3001")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout_seconds", 5)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/toad.db")
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 2000)
	v.SetDefault("llm.prompt.system", "")
	v.SetDefault("llm.prompt.summarization", "")

	v.SetDefault("session.summary_threshold", 20)
	v.SetDefault("session.context_window_max", 15)
	v.SetDefault("session.context_window_keep", 5)
	v.SetDefault("session.lock_ttl_seconds", 300)
	v.SetDefault("session.lock_wait_seconds", 30)

	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.archive", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "toad-session-events")
	v.SetDefault("kafka.group_id", "toad-architect-stats")

	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "toad_messages")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "toad-sessions")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.admin_token_expire_hours", 24)
}

// Load 读取 .env（如果存在）、YAML 配置文件和 TOAD_ 前缀的环境变量，返回合并后的配置。
// 配置文件不存在时只使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 文件失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("检查配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	if c.Session.SummaryThreshold <= 0 {
		return errors.New("session.summary_threshold 必须大于 0")
	}
	if c.Session.ContextWindowKeep <= 0 || c.Session.ContextWindowKeep >= c.Session.ContextWindowMax {
		return errors.New("session.context_window_keep 必须大于 0 且小于 context_window_max")
	}
	// 一轮对话最多调用两次模型（上下文摘要 + 回复），锁必须比这更久
	if c.Session.LockTTLSeconds <= 2*c.LLM.TimeoutSeconds {
		return fmt.Errorf("session.lock_ttl_seconds (%d) 必须大于 2 * llm.timeout_seconds (%d)",
			c.Session.LockTTLSeconds, c.LLM.TimeoutSeconds)
	}
	if c.Session.LockWaitSeconds <= 0 {
		return errors.New("session.lock_wait_seconds 必须大于 0")
	}
	if c.Cleanup.RetentionDays <= 0 {
		return errors.New("cleanup.retention_days 必须大于 0")
	}
	return nil
}
