package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"PoE-Chain/internal/api"
	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claims"
	"PoE-Chain/internal/config"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/internal/observability/metrics"
	"PoE-Chain/internal/txpool"
	"PoE-Chain/pkg/logger"
)

// main 是 PoE 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("poed 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("POE_CONFIG")
	if configPath == "" {
		if _, err := os.Stat(filepath.Join("configs", "poe.yaml")); err == nil {
			configPath = filepath.Join("configs", "poe.yaml")
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync()
	appLog := logger.Named("poed")

	var closers closerStack
	defer closers.closeAll(appLog)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	closers.push("store", store.Close)

	clock, err := buildClock(ctx, cfg, store, &closers)
	if err != nil {
		return err
	}

	sinks, err := buildSinks(ctx, cfg, &closers)
	if err != nil {
		return err
	}

	ledger, err := claims.New(store, clock, sinks.fanout,
		claims.WithObserver(func(call claims.Call, code xerrors.Code, elapsed time.Duration) {
			metrics.ObserveClaimOperation(string(call), string(code), elapsed)
		}),
	)
	if err != nil {
		return err
	}

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}

	deps := api.Dependencies{
		Ledger:   ledger,
		Auth:     authService,
		Hub:      sinks.hub,
		History:  sinks.history,
		Metrics:  metrics.Default(),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.TxPool.Enabled {
		queue, err := buildQueue(runCtx, cfg)
		if err != nil {
			return err
		}
		txStore := txpool.NewMemoryStore(cfg.TxPool.Retain)
		service := txpool.NewService(txStore, queue, cfg.TxPool.MaxRetries)
		closers.push("txpool", service.Close)

		processor := txpool.NewProcessor(ledger, txStore, queue,
			txpool.WithRetryBackoff(cfg.TxPool.RetryBackoff),
		)
		go func() {
			if err := processor.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("交易处理器异常退出", slog.Any("error", err))
				cancel()
			}
		}()
		deps.Transactions = service
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(runCtx, cfg.Metrics.Address, metrics.Default()); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	stats, err := ledger.Stats(ctx)
	if err != nil {
		return err
	}
	appLog.Info("poed 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("clock", cfg.Clock.Driver),
		slog.Any("sinks", sinks.names),
		slog.String("required_sink", sinks.fanout.Required()),
		slog.Int("claims", stats.Total),
		slog.Uint64("latest_height", uint64(stats.LatestHeight)),
	)

	server := api.NewServer(cfg.Server, deps)
	if err := server.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
