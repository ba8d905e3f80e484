package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"PoE-Chain/internal/api"
	"PoE-Chain/internal/auth"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/internal/events"
	"PoE-Chain/internal/storage/redisstore"
	"PoE-Chain/internal/storage/sqlstore"
	"PoE-Chain/internal/txpool"
	"PoE-Chain/internal/web3/provider"
	"PoE-Chain/pkg/logger"
)

// Config 描述了 poed 在启动阶段需要加载的全部配置。
type Config struct {
	Server  api.Config    `mapstructure:"server"`
	Auth    auth.Config   `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
	Clock   ClockConfig   `mapstructure:"clock"`
	Events  EventsConfig  `mapstructure:"events"`
	TxPool  TxPoolConfig  `mapstructure:"txpool"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     logger.Config `mapstructure:"log"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
}

// StorageConfig 选择声明存储后端。
type StorageConfig struct {
	// Driver 取值 memory、mysql、postgres、sqlite 或 redis。
	Driver   string            `mapstructure:"driver"`
	SQL      sqlstore.Config   `mapstructure:"sql"`
	Redis    redisstore.Config `mapstructure:"redis"`
	CacheTTL time.Duration     `mapstructure:"cache_ttl"`
}

// ClockConfig 选择区块高度来源。
type ClockConfig struct {
	// Driver 取值 sequence 或 ethereum。
	Driver  string          `mapstructure:"driver"`
	Chain   provider.Config `mapstructure:"chain"`
	Timeout time.Duration   `mapstructure:"timeout"`
}

// EventsConfig 配置事件输出。
type EventsConfig struct {
	// Sinks 取值 audit、redis、rabbitmq、websocket 的任意组合。
	Sinks        []string              `mapstructure:"sinks"`
	// Required 指定唯一一个投递失败会使操作回滚的输出，其余输出均为尽力而为。
	// 为空时依次选择 rabbitmq、redis、audit 中第一个已启用的输出。
	Required     string                `mapstructure:"required"`
	RecorderSize int                   `mapstructure:"recorder_size"`
	HubBuffer    int                   `mapstructure:"hub_buffer"`
	Redis        events.RedisConfig    `mapstructure:"redis"`
	RabbitMQ     events.RabbitMQConfig `mapstructure:"rabbitmq"`
}

// TxPoolConfig 配置异步交易池。
type TxPoolConfig struct {
	Enabled      bool                    `mapstructure:"enabled"`
	Queue        string                  `mapstructure:"queue"`
	QueueSize    int                     `mapstructure:"queue_size"`
	Retain       int                     `mapstructure:"retain"`
	MaxRetries   int                     `mapstructure:"max_retries"`
	RetryBackoff time.Duration           `mapstructure:"retry_backoff"`
	Redis        txpool.RedisQueueConfig `mapstructure:"redis"`
	RabbitMQ     txpool.RabbitMQConfig   `mapstructure:"rabbitmq"`
}

// MetricsConfig 控制独立的指标监听地址，为空时只在 API 端口暴露 /metrics。
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Load 解析配置文件并叠加环境变量。path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("POE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取配置文件失败")
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析配置失败")
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 0)
	v.SetDefault("auth.mode", string(auth.ModeSignature))
	v.SetDefault("auth.max_skew", 5*time.Minute)
	v.SetDefault("auth.nonce_ttl", 0)
	v.SetDefault("auth.max_body", 1<<20)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sql.dsn", "")
	v.SetDefault("storage.sql.max_open_conns", 10)
	v.SetDefault("storage.sql.max_idle_conns", 5)
	v.SetDefault("storage.sql.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("storage.redis.address", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "poe")
	v.SetDefault("storage.cache_ttl", 0)
	v.SetDefault("clock.driver", "sequence")
	v.SetDefault("clock.chain.chain_file", "")
	v.SetDefault("clock.chain.default_chain", "")
	v.SetDefault("clock.chain.rpc_url", "")
	v.SetDefault("clock.timeout", 5*time.Second)
	v.SetDefault("events.sinks", []string{"audit"})
	v.SetDefault("events.required", "")
	v.SetDefault("events.recorder_size", 1024)
	v.SetDefault("events.hub_buffer", 64)
	v.SetDefault("events.redis.address", "127.0.0.1:6379")
	v.SetDefault("events.redis.password", "")
	v.SetDefault("events.redis.list", "poe:events")
	v.SetDefault("events.redis.channel", "poe:events")
	v.SetDefault("events.redis.max_len", 10000)
	v.SetDefault("events.rabbitmq.url", "")
	v.SetDefault("events.rabbitmq.exchange", "poe.events")
	v.SetDefault("events.rabbitmq.durable", true)
	v.SetDefault("txpool.enabled", true)
	v.SetDefault("txpool.queue", "memory")
	v.SetDefault("txpool.queue_size", 1024)
	v.SetDefault("txpool.retain", 10000)
	v.SetDefault("txpool.max_retries", 3)
	v.SetDefault("txpool.retry_backoff", 100*time.Millisecond)
	v.SetDefault("txpool.redis.address", "127.0.0.1:6379")
	v.SetDefault("txpool.redis.password", "")
	v.SetDefault("txpool.redis.queue", "poe:txpool")
	v.SetDefault("txpool.rabbitmq.url", "")
	v.SetDefault("txpool.rabbitmq.queue", "poe.txpool")
	v.SetDefault("txpool.rabbitmq.durable", true)
	v.SetDefault("metrics.address", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("log.audit.enabled", false)
	v.SetDefault("log.audit.path", "")
	v.SetDefault("runtime.data_dir", "")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，并将相对路径解析到配置文件所在目录。
func (c *Config) applyDefaults(baseDir string) {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Clock.Driver = strings.ToLower(strings.TrimSpace(c.Clock.Driver))
	c.TxPool.Queue = strings.ToLower(strings.TrimSpace(c.TxPool.Queue))

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, "data")

	switch c.Storage.Driver {
	case "mysql", "postgres", "sqlite":
		c.Storage.SQL.Driver = c.Storage.Driver
	}
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.SQL.DSN) == "" {
		c.Storage.SQL.DSN = filepath.Join(c.Runtime.DataDir, "poe.db")
	}

	if c.Clock.Chain.ChainFile != "" {
		c.Clock.Chain.ChainFile = resolvePath(baseDir, c.Clock.Chain.ChainFile, "")
	}
	if c.Log.Audit.Enabled {
		c.Log.Audit.Path = resolvePath(c.Runtime.DataDir, c.Log.Audit.Path, "audit.log")
	}

	normalized := make([]string, 0, len(c.Events.Sinks))
	for _, sink := range c.Events.Sinks {
		sink = strings.ToLower(strings.TrimSpace(sink))
		if sink != "" {
			normalized = append(normalized, sink)
		}
	}
	c.Events.Sinks = normalized

	c.Events.Required = strings.ToLower(strings.TrimSpace(c.Events.Required))
	if c.Events.Required == "" {
		for _, candidate := range []string{"rabbitmq", "redis", "audit"} {
			if c.HasSink(candidate) {
				c.Events.Required = candidate
				break
			}
		}
	}
}

func resolvePath(baseDir, value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Validate 检查枚举字段是否合法。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "mysql", "postgres", "sqlite", "redis":
	default:
		return invalid("storage.driver", c.Storage.Driver)
	}
	if (c.Storage.Driver == "mysql" || c.Storage.Driver == "postgres") && strings.TrimSpace(c.Storage.SQL.DSN) == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "storage.sql.dsn 不能为空")
	}
	switch c.Clock.Driver {
	case "sequence", "ethereum":
	default:
		return invalid("clock.driver", c.Clock.Driver)
	}
	for _, sink := range c.Events.Sinks {
		switch sink {
		case "audit", "redis", "rabbitmq", "websocket":
		default:
			return invalid("events.sinks", sink)
		}
	}
	if c.Events.Required != "" {
		if c.Events.Required == "websocket" {
			return invalid("events.required", c.Events.Required)
		}
		if !c.HasSink(c.Events.Required) {
			return xerrors.New(xerrors.CodeInitializationFailure, "events.required 必须是已启用的输出: "+c.Events.Required)
		}
	}
	switch c.TxPool.Queue {
	case "memory", "redis", "rabbitmq":
	default:
		return invalid("txpool.queue", c.TxPool.Queue)
	}
	switch auth.Mode(strings.ToLower(string(c.Auth.Mode))) {
	case auth.ModeSignature, auth.ModeHeader:
	default:
		return invalid("auth.mode", string(c.Auth.Mode))
	}
	return nil
}

// HasSink 判断是否启用了指定的事件输出。
func (c *Config) HasSink(name string) bool {
	for _, sink := range c.Events.Sinks {
		if sink == name {
			return true
		}
	}
	return false
}

func invalid(field, value string) error {
	return xerrors.New(xerrors.CodeInitializationFailure, "不支持的 "+field+": "+value)
}
