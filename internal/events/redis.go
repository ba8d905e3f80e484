package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

// RedisConfig 描述 Redis 事件输出的参数。
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	List     string `mapstructure:"list"`
	Channel  string `mapstructure:"channel"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// RedisSink 将事件写入一个定长 list，并通过 PUBLISH 推送给订阅者。
type RedisSink struct {
	client  *redis.Client
	list    string
	channel string
	maxLen  int64
	owned   bool
}

var _ claims.Sink = (*RedisSink)(nil)

// NewRedisSink 连接 Redis 并创建 RedisSink。
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	sink := NewRedisSinkWithClient(client, cfg)
	sink.owned = true
	return sink, nil
}

// NewRedisSinkWithClient 复用已有客户端。
func NewRedisSinkWithClient(client *redis.Client, cfg RedisConfig) *RedisSink {
	list := strings.TrimSpace(cfg.List)
	if list == "" {
		list = "poe:events"
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "poe:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisSink{client: client, list: list, channel: channel, maxLen: maxLen}
}

// Deposit 实现 claims.Sink。
func (s *RedisSink) Deposit(ctx context.Context, event claims.Event) error {
	payload, err := Encode(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventDelivery, err, "encode event")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.list, payload)
		pipe.LTrim(ctx, s.list, 0, s.maxLen-1)
		pipe.Publish(ctx, s.channel, payload)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEventDelivery, fmt.Errorf("Redis 写入事件失败: %w", err), "")
	}
	return nil
}

// Recent 返回 list 中最近的 n 条事件，最新的在前。
func (s *RedisSink) Recent(ctx context.Context, n int) ([]claims.Event, error) {
	if n <= 0 {
		n = 20
	}
	raw, err := s.client.LRange(ctx, s.list, 0, int64(n)-1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取事件失败")
	}
	out := make([]claims.Event, 0, len(raw))
	for _, item := range raw {
		event, err := Decode([]byte(item))
		if err != nil {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

// Close 关闭自行创建的 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}
