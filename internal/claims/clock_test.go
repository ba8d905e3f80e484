package claims

import (
	"context"
	"errors"
	"testing"

	xerrors "PoE-Chain/internal/errors"
)

func TestSequenceClockStartsAfterSeed(t *testing.T) {
	clock := NewSequenceClock(41)
	for _, want := range []BlockHeight{42, 43, 44} {
		got, err := clock.Height(context.Background())
		if err != nil {
			t.Fatalf("height: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
	if clock.Last() != 44 {
		t.Fatalf("unexpected last height %d", clock.Last())
	}
}

func TestMonotonicClockNeverGoesBackwards(t *testing.T) {
	readings := []BlockHeight{10, 12, 11, 15}
	idx := 0
	clock := Monotonic(ClockFunc(func(context.Context) (BlockHeight, error) {
		h := readings[idx]
		idx++
		return h, nil
	}))

	want := []BlockHeight{10, 12, 12, 15}
	for i, expected := range want {
		got, err := clock.Height(context.Background())
		if err != nil {
			t.Fatalf("height %d: %v", i, err)
		}
		if got != expected {
			t.Fatalf("reading %d: expected %d, got %d", i, expected, got)
		}
	}
}

func TestMonotonicClockWrapsFailures(t *testing.T) {
	clock := Monotonic(ClockFunc(func(context.Context) (BlockHeight, error) {
		return 0, errors.New("dial tcp: refused")
	}))
	_, err := clock.Height(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeClockFailure {
		t.Fatalf("expected clock failure, got %v", err)
	}
}

type failingHeightLog struct{ *MemoryStore }

func (f *failingHeightLog) RecordHeight(context.Context, BlockHeight) error {
	return errors.New("disk full")
}

func TestDurableSequenceClockResumesAfterRevocation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	clock, err := NewDurableSequenceClock(ctx, store, 0)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	ledger, err := New(store, clock, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	for _, b := range []byte{0x01, 0x02, 0x03} {
		if err := ledger.CreateClaim(ctx, "alice", ProofID{b}); err != nil {
			t.Fatalf("create %x: %v", b, err)
		}
	}
	if err := ledger.RevokeClaim(ctx, "alice", ProofID{0x03}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := ledger.RevokeClaim(ctx, "alice", ProofID{0x02}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	stats, _ := store.Stats(ctx)
	restarted, err := NewDurableSequenceClock(ctx, store, stats.LatestHeight)
	if err != nil {
		t.Fatalf("restart clock: %v", err)
	}
	got, err := restarted.Height(ctx)
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if got != 6 {
		t.Fatalf("expected height 6 after restart, got %d (latest stored %d)", got, stats.LatestHeight)
	}
}

func TestDurableSequenceClockHonoursFloor(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.RecordHeight(ctx, 3)

	clock, err := NewDurableSequenceClock(ctx, store, 10)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	if got, _ := clock.Height(ctx); got != 11 {
		t.Fatalf("expected 11, got %d", got)
	}
	if stored, _ := store.LastHeight(ctx); stored != 11 {
		t.Fatalf("high-water mark not recorded: %d", stored)
	}
}

func TestDurableSequenceClockDoesNotAdvanceOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	log := &failingHeightLog{NewMemoryStore()}
	clock, err := NewDurableSequenceClock(ctx, log, 4)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	if _, err := clock.Height(ctx); xerrors.CodeOf(err) != xerrors.CodeClockFailure {
		t.Fatalf("expected clock failure, got %v", err)
	}
	if clock.Last() != 4 {
		t.Fatalf("clock advanced despite failed write: %d", clock.Last())
	}
}

func TestHeightLogOfSeesThroughCache(t *testing.T) {
	store := NewMemoryStore()
	log, ok := HeightLogOf(NewCachedStore(store, 0))
	if !ok || log != HeightLog(store) {
		t.Fatalf("cached store should expose the inner height log")
	}
}
