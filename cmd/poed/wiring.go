package main

import (
	"context"
	"log/slog"

	"PoE-Chain/internal/claims"
	"PoE-Chain/internal/config"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/internal/events"
	"PoE-Chain/internal/storage/redisstore"
	"PoE-Chain/internal/storage/sqlstore"
	"PoE-Chain/internal/txpool"
	"PoE-Chain/internal/web3/ethereum"
	"PoE-Chain/internal/web3/provider"
	"PoE-Chain/pkg/logger"
)

type namedCloser struct {
	name  string
	close func() error
}

// closerStack 按注册的逆序释放资源。
type closerStack []namedCloser

func (s *closerStack) push(name string, fn func() error) {
	*s = append(*s, namedCloser{name: name, close: fn})
}

func (s *closerStack) closeAll(log *slog.Logger) {
	for i := len(*s) - 1; i >= 0; i-- {
		c := (*s)[i]
		if err := c.close(); err != nil {
			log.Warn("释放资源失败", slog.String("resource", c.name), slog.Any("error", err))
		}
	}
	*s = nil
}

func buildStore(ctx context.Context, cfg *config.Config) (claims.Store, error) {
	var store claims.Store
	switch cfg.Storage.Driver {
	case "memory":
		store = claims.NewMemoryStore()
	case "mysql", "postgres", "sqlite":
		sqlStore, err := sqlstore.New(ctx, cfg.Storage.SQL)
		if err != nil {
			return nil, err
		}
		store = sqlStore
	case "redis":
		redisStore, err := redisstore.New(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		store = redisStore
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未知的存储驱动: "+cfg.Storage.Driver)
	}
	if cfg.Storage.CacheTTL > 0 {
		store = claims.NewCachedStore(store, cfg.Storage.CacheTTL)
	}
	return store, nil
}

func buildClock(ctx context.Context, cfg *config.Config, store claims.Store, closers *closerStack) (claims.Clock, error) {
	switch cfg.Clock.Driver {
	case "ethereum":
		registry, err := provider.NewRegistry(ctx, cfg.Clock.Chain)
		if err != nil {
			return nil, err
		}
		closers.push("chains", func() error { registry.Close(); return nil })
		client, err := registry.DefaultClient()
		if err != nil {
			return nil, err
		}
		return ethereum.NewClock(client, cfg.Clock.Timeout), nil
	default:
		stats, err := store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		heights, ok := claims.HeightLogOf(store)
		if !ok {
			return claims.NewSequenceClock(stats.LatestHeight), nil
		}
		clock, err := claims.NewDurableSequenceClock(ctx, heights, stats.LatestHeight)
		if err != nil {
			return nil, err
		}
		return clock, nil
	}
}

type sinkSet struct {
	fanout   *events.Fanout
	hub      *events.Hub
	recorder *events.Recorder
	history  events.History
	names    []string
}

func buildSinks(ctx context.Context, cfg *config.Config, closers *closerStack) (sinkSet, error) {
	var targets []events.Target
	set := sinkSet{recorder: events.NewRecorder(cfg.Events.RecorderSize)}
	set.history = set.recorder

	bestEffort := func(name string) bool { return name != cfg.Events.Required }

	if cfg.HasSink("audit") {
		targets = append(targets, events.Target{Name: "audit", Sink: events.NewAuditSink(logger.Audit()), BestEffort: bestEffort("audit")})
	}
	if cfg.HasSink("redis") {
		sink, err := events.NewRedisSink(ctx, cfg.Events.Redis)
		if err != nil {
			return sinkSet{}, err
		}
		closers.push("redis-events", sink.Close)
		set.history = sink
		targets = append(targets, events.Target{Name: "redis", Sink: sink, BestEffort: bestEffort("redis")})
	}
	if cfg.HasSink("rabbitmq") {
		sink, err := events.NewRabbitMQSink(cfg.Events.RabbitMQ)
		if err != nil {
			return sinkSet{}, err
		}
		closers.push("rabbitmq-events", sink.Close)
		targets = append(targets, events.Target{Name: "rabbitmq", Sink: sink, BestEffort: bestEffort("rabbitmq")})
	}
	if cfg.HasSink("websocket") {
		set.hub = events.NewHub(cfg.Events.HubBuffer)
		closers.push("websocket", set.hub.Close)
		targets = append(targets, events.Target{Name: "websocket", Sink: set.hub, BestEffort: true})
	}
	targets = append(targets, events.Target{Name: "recorder", Sink: set.recorder, BestEffort: true})

	fanout, err := events.NewFanout(targets...)
	if err != nil {
		return sinkSet{}, err
	}
	set.fanout = fanout
	set.names = fanout.Names()
	return set, nil
}

func buildQueue(ctx context.Context, cfg *config.Config) (txpool.Queue, error) {
	switch cfg.TxPool.Queue {
	case "redis":
		return txpool.NewRedisQueue(ctx, cfg.TxPool.Redis)
	case "rabbitmq":
		return txpool.NewRabbitMQQueue(cfg.TxPool.RabbitMQ)
	default:
		return txpool.NewMemoryQueue(cfg.TxPool.QueueSize), nil
	}
}
