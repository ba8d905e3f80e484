package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PoE-Chain/internal/claims"
	"PoE-Chain/internal/config"
	"PoE-Chain/internal/txpool"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("POE_RUNTIME_DATA_DIR", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildStoreVariants(t *testing.T) {
	ctx := context.Background()

	t.Run("memory with cache", func(t *testing.T) {
		cfg := loadTestConfig(t)
		cfg.Storage.CacheTTL = time.Second
		store, err := buildStore(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()
		_, ok := store.(*claims.CachedStore)
		require.True(t, ok)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := loadTestConfig(t)
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.SQL.Driver = "sqlite"
		cfg.Storage.SQL.DSN = filepath.Join(t.TempDir(), "poe.db")
		store, err := buildStore(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.Put(ctx, claims.ProofID{0x01}, claims.Record{Owner: "alice", RegisteredAt: 7}))
		clock, err := buildClock(ctx, cfg, store, &closerStack{})
		require.NoError(t, err)
		height, err := clock.Height(ctx)
		require.NoError(t, err)
		require.Equal(t, claims.BlockHeight(8), height)
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := loadTestConfig(t)
		cfg.Storage.Driver = "bolt"
		_, err := buildStore(ctx, cfg)
		require.Error(t, err)
	})
}

func TestBuildSinksAlwaysRecords(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Events.Sinks = []string{"audit", "websocket"}

	var closers closerStack
	set, err := buildSinks(context.Background(), cfg, &closers)
	require.NoError(t, err)
	defer closers.closeAll(slog.Default())

	require.NotNil(t, set.hub)
	require.Equal(t, []string{"audit", "websocket", "recorder"}, set.names)
	require.Equal(t, "audit", set.fanout.Required())

	event := claims.Event{ID: "evt-1", Kind: claims.EventClaimCreated, Who: "alice", Proof: claims.ProofID{0x02}, Height: 1}
	require.NoError(t, set.fanout.Deposit(context.Background(), event))
	require.Equal(t, 1, set.recorder.Len())

	recent, err := set.history.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "evt-1", recent[0].ID)
}

func TestBuildQueueDefaultsToMemory(t *testing.T) {
	cfg := loadTestConfig(t)
	queue, err := buildQueue(context.Background(), cfg)
	require.NoError(t, err)
	defer queue.Close()
	_, ok := queue.(*txpool.MemoryQueue)
	require.True(t, ok)
}

func TestCloserStackReleasesInReverse(t *testing.T) {
	var order []string
	var closers closerStack
	closers.push("first", func() error { order = append(order, "first"); return nil })
	closers.push("second", func() error { order = append(order, "second"); return nil })
	closers.closeAll(slog.Default())
	require.Equal(t, []string{"second", "first"}, order)
}

func TestSequenceClockResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	cfg := loadTestConfig(t)
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQL.Driver = "sqlite"
	cfg.Storage.SQL.DSN = filepath.Join(t.TempDir(), "poe.db")

	store, err := buildStore(ctx, cfg)
	require.NoError(t, err)
	clock, err := buildClock(ctx, cfg, store, &closerStack{})
	require.NoError(t, err)
	ledger, err := claims.New(store, clock, nil)
	require.NoError(t, err)

	require.NoError(t, ledger.CreateClaim(ctx, "alice", claims.ProofID{0x01}))
	require.NoError(t, ledger.CreateClaim(ctx, "alice", claims.ProofID{0x02}))
	require.NoError(t, ledger.RevokeClaim(ctx, "alice", claims.ProofID{0x02}))
	require.NoError(t, store.Close())

	reopened, err := buildStore(ctx, cfg)
	require.NoError(t, err)
	defer reopened.Close()
	clock, err = buildClock(ctx, cfg, reopened, &closerStack{})
	require.NoError(t, err)
	height, err := clock.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, claims.BlockHeight(4), height)
}
