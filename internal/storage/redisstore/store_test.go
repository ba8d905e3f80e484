package redisstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

// 需要设置 POE_TEST_REDIS_ADDR 指向可写的 Redis 实例。
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("POE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	prefix := fmt.Sprintf("poe-test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewWithClient(client, prefix)
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proof := claims.ProofID{0x01, 0x02}

	if err := store.Put(ctx, proof, claims.Record{Owner: "alice", RegisteredAt: 3}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, claims.ProofID{0x03}, claims.Record{Owner: "alice", RegisteredAt: 5}); err != nil {
		t.Fatalf("put: %v", err)
	}

	record, found, err := store.Get(ctx, proof)
	if err != nil || !found || record.Owner != "alice" || record.RegisteredAt != 3 {
		t.Fatalf("unexpected get: %+v found=%v err=%v", record, found, err)
	}

	if err := store.Put(ctx, proof, claims.Record{Owner: "bob", RegisteredAt: 6}); err != nil {
		t.Fatalf("transfer put: %v", err)
	}
	owned, err := store.List(ctx, claims.ListOptions{Owner: "alice"})
	if err != nil {
		t.Fatalf("list alice: %v", err)
	}
	if len(owned) != 1 || !owned[0].Proof.Equal(claims.ProofID{0x03}) {
		t.Fatalf("alice should only own 0x03: %+v", owned)
	}

	all, err := store.List(ctx, claims.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].RegisteredAt != 6 {
		t.Fatalf("unexpected order: %+v", all)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Owners != 2 || stats.LatestHeight != 6 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := store.Delete(ctx, proof); err != nil {
		t.Fatalf("delete: %v", err)
	}
	stats, _ = store.Stats(ctx)
	if stats.Total != 1 || stats.Owners != 1 {
		t.Fatalf("owner index not pruned: %+v", stats)
	}
}

// failCommand 让指定命令在到达 Redis 之前失败。
type failCommand string

func (f failCommand) DialHook(next redis.DialHook) redis.DialHook { return next }

func (f failCommand) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == string(f) {
			err := errors.New("injected " + string(f) + " failure")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (f failCommand) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestOwnerIndexFailureLeavesClaimUntouched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proof := claims.ProofID{0x0a}
	if err := store.Put(ctx, proof, claims.Record{Owner: "alice", RegisteredAt: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: os.Getenv("POE_TEST_REDIS_ADDR")})
	client.AddHook(failCommand("zcard"))
	defer client.Close()
	broken := NewWithClient(client, store.prefix)

	err := broken.Put(ctx, proof, claims.Record{Owner: "bob", RegisteredAt: 2})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if err := broken.Delete(ctx, proof); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure on delete, got %v", err)
	}

	record, found, err := store.Get(ctx, proof)
	if err != nil || !found || record.Owner != "alice" || record.RegisteredAt != 1 {
		t.Fatalf("failed write must not change the claim: %+v found=%v err=%v", record, found, err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Owners != 1 {
		t.Fatalf("unexpected stats after failed write: %+v", stats)
	}

	if err := store.Put(ctx, proof, claims.Record{Owner: "bob", RegisteredAt: 2}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	stats, _ = store.Stats(ctx)
	if stats.Owners != 1 {
		t.Fatalf("previous owner should be pruned with the transfer: %+v", stats)
	}
}

func TestRedisHeightLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if height, err := store.LastHeight(ctx); err != nil || height != 0 {
		t.Fatalf("fresh height = %d err=%v", height, err)
	}
	if err := store.RecordHeight(ctx, 1<<60); err != nil {
		t.Fatalf("record: %v", err)
	}
	height, err := store.LastHeight(ctx)
	if err != nil || height != 1<<60 {
		t.Fatalf("height = %d err=%v", height, err)
	}
}
