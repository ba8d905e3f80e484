package claims_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

const (
	alice claims.Identity = "0xA11CE00000000000000000000000000000000001"
	bob   claims.Identity = "0xB0B0000000000000000000000000000000000002"
	carol claims.Identity = "0xCA401000000000000000000000000000000000003"
)

type recordingSink struct {
	mu     sync.Mutex
	events []claims.Event
	fail   error
}

func (s *recordingSink) Deposit(_ context.Context, event claims.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) snapshot() []claims.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]claims.Event(nil), s.events...)
}

type fixture struct {
	ledger *claims.Ledger
	store  *claims.MemoryStore
	clock  *claims.SequenceClock
	sink   *recordingSink
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := claims.NewMemoryStore()
	clock := claims.NewSequenceClock(0)
	sink := &recordingSink{}
	ledger, err := claims.New(store, clock, sink)
	require.NoError(t, err)
	return fixture{ledger: ledger, store: store, clock: clock, sink: sink}
}

func TestCreateClaimRegistersOwnerAndHeight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proof := claims.ProofID{0x01}

	require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))

	record, err := f.ledger.Claim(ctx, proof)
	require.NoError(t, err)
	assert.Equal(t, claims.Record{Owner: alice, RegisteredAt: 1}, record)

	events := f.sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, claims.EventClaimCreated, events[0].Kind)
	assert.Equal(t, alice, events[0].Who)
	assert.True(t, proof.Equal(events[0].Proof))
	assert.Equal(t, claims.BlockHeight(1), events[0].Height)
	assert.NotEmpty(t, events[0].ID)
}

func TestCreateClaimRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proof := claims.ProofID{0x01}
	require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))

	for _, caller := range []claims.Identity{alice, bob} {
		err := f.ledger.CreateClaim(ctx, caller, proof)
		require.ErrorIs(t, err, claims.ErrProofAlreadyClaimed)
		assert.Equal(t, claims.CodeProofAlreadyClaimed, xerrors.CodeOf(err))
	}

	record, err := f.ledger.Claim(ctx, proof)
	require.NoError(t, err)
	assert.Equal(t, claims.Record{Owner: alice, RegisteredAt: 1}, record)
	assert.Len(t, f.sink.snapshot(), 1)
	assert.Equal(t, claims.BlockHeight(1), f.clock.Last(), "failed calls must not read the clock")
}

func TestRevokeClaim(t *testing.T) {
	ctx := context.Background()
	proof := claims.ProofID{0x0a, 0x0b}

	t.Run("owner revokes", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))
		require.NoError(t, f.ledger.RevokeClaim(ctx, alice, proof))

		_, err := f.ledger.Claim(ctx, proof)
		require.ErrorIs(t, err, claims.ErrNoSuchProof)

		events := f.sink.snapshot()
		require.Len(t, events, 2)
		assert.Equal(t, claims.EventClaimRevoked, events[1].Kind)
		assert.Equal(t, alice, events[1].Who)

		require.NoError(t, f.ledger.CreateClaim(ctx, bob, proof), "revoked proof can be claimed again")
	})

	t.Run("missing proof", func(t *testing.T) {
		f := newFixture(t)
		err := f.ledger.RevokeClaim(ctx, alice, proof)
		require.ErrorIs(t, err, claims.ErrNoSuchProof)
		assert.Empty(t, f.sink.snapshot())
	})

	t.Run("non owner", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))
		err := f.ledger.RevokeClaim(ctx, bob, proof)
		require.ErrorIs(t, err, claims.ErrNotProofOwner)

		record, err := f.ledger.Claim(ctx, proof)
		require.NoError(t, err)
		assert.Equal(t, alice, record.Owner)
		assert.Len(t, f.sink.snapshot(), 1)
	})

	t.Run("missing proof is reported before ownership", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.CreateClaim(ctx, alice, claims.ProofID{0xff}))
		err := f.ledger.RevokeClaim(ctx, bob, proof)
		require.ErrorIs(t, err, claims.ErrNoSuchProof)
	})
}

func TestTransferClaim(t *testing.T) {
	ctx := context.Background()
	proof := claims.ProofID{0xde, 0xad}

	t.Run("receiver takes over", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))
		require.NoError(t, f.ledger.TransferClaim(ctx, bob, proof))

		record, err := f.ledger.Claim(ctx, proof)
		require.NoError(t, err)
		assert.Equal(t, claims.Record{Owner: bob, RegisteredAt: 2}, record)

		events := f.sink.snapshot()
		require.Len(t, events, 2)
		assert.Equal(t, claims.EventClaimTransferred, events[1].Kind)
		assert.Equal(t, bob, events[1].Who)
		assert.Equal(t, claims.BlockHeight(2), events[1].Height)
	})

	t.Run("owner cannot transfer to self", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))
		err := f.ledger.TransferClaim(ctx, alice, proof)
		require.ErrorIs(t, err, claims.ErrOwnedClaimAlready)
		assert.Len(t, f.sink.snapshot(), 1)
	})

	t.Run("missing proof", func(t *testing.T) {
		f := newFixture(t)
		err := f.ledger.TransferClaim(ctx, alice, proof)
		require.ErrorIs(t, err, claims.ErrNoSuchProof)
		assert.Empty(t, f.sink.snapshot())
	})

	t.Run("claim jumping needs no consent", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))
		require.NoError(t, f.ledger.TransferClaim(ctx, bob, proof))
		require.NoError(t, f.ledger.TransferClaim(ctx, carol, proof))
		require.NoError(t, f.ledger.TransferClaim(ctx, alice, proof))

		record, err := f.ledger.Claim(ctx, proof)
		require.NoError(t, err)
		assert.Equal(t, claims.Record{Owner: alice, RegisteredAt: 4}, record)

		err = f.ledger.RevokeClaim(ctx, bob, proof)
		require.ErrorIs(t, err, claims.ErrNotProofOwner, "previous owners lose revoke rights")
	})
}

func TestEmptyProofIsAValidKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ledger.CreateClaim(ctx, alice, claims.ProofID{}))
	require.ErrorIs(t, f.ledger.CreateClaim(ctx, bob, nil), claims.ErrProofAlreadyClaimed)

	record, err := f.ledger.Claim(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, alice, record.Owner)
}

func TestEmptyCallerIsRejected(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.CreateClaim(context.Background(), " ", claims.ProofID{0x01})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	assert.Empty(t, f.sink.snapshot())
}

func TestSinkFailureRollsBackState(t *testing.T) {
	ctx := context.Background()
	proof := claims.ProofID{0x42}
	boom := errors.New("broker unavailable")

	t.Run("create", func(t *testing.T) {
		f := newFixture(t)
		f.sink.fail = boom

		err := f.ledger.CreateClaim(ctx, alice, proof)
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeEventDelivery, xerrors.CodeOf(err))
		require.ErrorIs(t, err, boom)

		_, err = f.ledger.Claim(ctx, proof)
		require.ErrorIs(t, err, claims.ErrNoSuchProof)
	})

	t.Run("revoke", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))
		f.sink.fail = boom

		require.Error(t, f.ledger.RevokeClaim(ctx, alice, proof))
		record, err := f.ledger.Claim(ctx, proof)
		require.NoError(t, err)
		assert.Equal(t, claims.Record{Owner: alice, RegisteredAt: 1}, record)
	})

	t.Run("transfer", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.ledger.CreateClaim(ctx, alice, proof))
		f.sink.fail = boom

		require.Error(t, f.ledger.TransferClaim(ctx, bob, proof))
		record, err := f.ledger.Claim(ctx, proof)
		require.NoError(t, err)
		assert.Equal(t, claims.Record{Owner: alice, RegisteredAt: 1}, record)
	})
}

func TestClockFailureLeavesStateUntouched(t *testing.T) {
	store := claims.NewMemoryStore()
	sink := &recordingSink{}
	clock := claims.ClockFunc(func(context.Context) (claims.BlockHeight, error) {
		return 0, errors.New("rpc timeout")
	})
	ledger, err := claims.New(store, clock, sink)
	require.NoError(t, err)

	err = ledger.CreateClaim(context.Background(), alice, claims.ProofID{0x01})
	assert.Equal(t, xerrors.CodeClockFailure, xerrors.CodeOf(err))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Empty(t, sink.snapshot())
}

func TestCancelledContextIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.ledger.CreateClaim(ctx, alice, claims.ProofID{0x01})
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	assert.Empty(t, f.sink.snapshot())
}

func TestConcurrentCreateHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proof := claims.ProofID{0x99}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := claims.Identity(fmt.Sprintf("caller-%d", i))
			err := f.ledger.CreateClaim(ctx, caller, proof)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, claims.ErrProofAlreadyClaimed):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(31), conflicts.Load())
	assert.Len(t, f.sink.snapshot(), 1)
}

func TestObserverReceivesOutcome(t *testing.T) {
	var (
		mu    sync.Mutex
		codes []xerrors.Code
	)
	ledger, err := claims.New(claims.NewMemoryStore(), claims.NewSequenceClock(0), nil,
		claims.WithObserver(func(call claims.Call, code xerrors.Code, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			codes = append(codes, code)
		}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ledger.CreateClaim(ctx, alice, claims.ProofID{0x01}))
	require.Error(t, ledger.RevokeClaim(ctx, bob, claims.ProofID{0x01}))

	assert.Equal(t, []xerrors.Code{"OK", claims.CodeNotProofOwner}, codes)
}

func TestDispatchRejectsUnknownCall(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Dispatch(context.Background(), claims.Call("burn_claim"), alice, claims.ProofID{0x01})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := claims.New(nil, claims.NewSequenceClock(0), nil)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
	_, err = claims.New(claims.NewMemoryStore(), nil, nil)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestScenarioAcrossStores(t *testing.T) {
	backends := map[string]func() claims.Store{
		"memory": func() claims.Store { return claims.NewMemoryStore() },
		"cached": func() claims.Store { return claims.NewCachedStore(claims.NewMemoryStore(), time.Minute) },
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := build()
			defer store.Close()
			sink := &recordingSink{}
			ledger, err := claims.New(store, claims.NewSequenceClock(0), sink)
			require.NoError(t, err)

			p1, p2 := claims.ProofID{0x01}, claims.ProofID{0x02}
			require.NoError(t, ledger.CreateClaim(ctx, alice, p1))
			require.NoError(t, ledger.CreateClaim(ctx, bob, p2))
			require.ErrorIs(t, ledger.CreateClaim(ctx, carol, p1), claims.ErrProofAlreadyClaimed)
			require.NoError(t, ledger.TransferClaim(ctx, carol, p1))
			require.ErrorIs(t, ledger.RevokeClaim(ctx, alice, p1), claims.ErrNotProofOwner)
			require.NoError(t, ledger.RevokeClaim(ctx, bob, p2))
			require.ErrorIs(t, ledger.RevokeClaim(ctx, bob, p2), claims.ErrNoSuchProof, "repeating a failed call returns the same error")
			require.ErrorIs(t, ledger.RevokeClaim(ctx, bob, p2), claims.ErrNoSuchProof)

			record, err := ledger.Claim(ctx, p1)
			require.NoError(t, err)
			assert.Equal(t, claims.Record{Owner: carol, RegisteredAt: 3}, record)
			_, err = ledger.Claim(ctx, p2)
			require.ErrorIs(t, err, claims.ErrNoSuchProof)

			stats, err := ledger.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Total)
			assert.Len(t, sink.snapshot(), 4, "one event per successful call")
		})
	}
}

func TestAuditEntriesNameTheAction(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	ledger, err := claims.New(claims.NewMemoryStore(), claims.NewSequenceClock(0), nil,
		claims.WithAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	require.NoError(t, err)

	proof := claims.ProofID{0x0f}
	require.NoError(t, ledger.CreateClaim(ctx, alice, proof))
	require.NoError(t, ledger.TransferClaim(ctx, bob, proof))
	require.NoError(t, ledger.RevokeClaim(ctx, bob, proof))
	require.Error(t, ledger.RevokeClaim(ctx, bob, proof))

	var actions []string
	decoder := json.NewDecoder(&buf)
	for decoder.More() {
		var entry map[string]any
		require.NoError(t, decoder.Decode(&entry))
		actions = append(actions, entry["msg"].(string))
	}
	assert.Equal(t, []string{"claim_created", "claim_transferred", "claim_revoked", "claim_rejected"}, actions)
}
