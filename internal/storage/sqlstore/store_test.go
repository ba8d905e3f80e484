package sqlstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

func newSQLiteStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, filepath.Join(t.TempDir(), "claims.db"))
	if store.Driver() != "sqlite" {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	proof := claims.ProofID{0xca, 0xfe}
	if _, found, err := store.Get(ctx, proof); err != nil || found {
		t.Fatalf("expected empty store, found=%v err=%v", found, err)
	}

	if err := store.Put(ctx, proof, claims.Record{Owner: "alice", RegisteredAt: 7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	record, found, err := store.Get(ctx, proof)
	if err != nil || !found {
		t.Fatalf("get after put: found=%v err=%v", found, err)
	}
	if record.Owner != "alice" || record.RegisteredAt != 7 {
		t.Fatalf("unexpected record: %+v", record)
	}

	if err := store.Put(ctx, proof, claims.Record{Owner: "bob", RegisteredAt: 9}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	record, _, _ = store.Get(ctx, proof)
	if record.Owner != "bob" || record.RegisteredAt != 9 {
		t.Fatalf("overwrite not applied: %+v", record)
	}

	if err := store.Delete(ctx, proof); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := store.Get(ctx, proof); found {
		t.Fatalf("claim still present after delete")
	}
}

func TestSQLiteStoreEmptyProof(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, filepath.Join(t.TempDir(), "claims.db"))

	if err := store.Put(ctx, claims.ProofID{}, claims.Record{Owner: "alice", RegisteredAt: 1}); err != nil {
		t.Fatalf("put empty proof: %v", err)
	}
	record, found, err := store.Get(ctx, nil)
	if err != nil || !found || record.Owner != "alice" {
		t.Fatalf("empty proof lookup: %+v found=%v err=%v", record, found, err)
	}
}

func TestSQLiteStoreListAndStats(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, filepath.Join(t.TempDir(), "claims.db"))

	fixtures := map[byte]claims.Record{
		0x01: {Owner: "alice", RegisteredAt: 1},
		0x02: {Owner: "bob", RegisteredAt: 4},
		0x03: {Owner: "alice", RegisteredAt: 3},
	}
	for b, record := range fixtures {
		if err := store.Put(ctx, claims.ProofID{b}, record); err != nil {
			t.Fatalf("put %x: %v", b, err)
		}
	}

	entries, err := store.List(ctx, claims.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 || entries[0].RegisteredAt != 4 || entries[2].RegisteredAt != 1 {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if !entries[0].Proof.Equal(claims.ProofID{0x02}) {
		t.Fatalf("proof bytes not restored: %s", entries[0].Proof.Hex())
	}

	owned, err := store.List(ctx, claims.ListOptions{Owner: "alice", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(owned) != 1 || owned[0].RegisteredAt != 1 {
		t.Fatalf("unexpected owner page: %+v", owned)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Owners != 2 || stats.LatestHeight != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claims.db")

	first, err := New(ctx, Config{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Put(ctx, claims.ProofID{0x10}, claims.Record{Owner: "carol", RegisteredAt: 12}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newSQLiteStore(t, path)
	stats, err := second.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.LatestHeight != 12 {
		t.Fatalf("data lost across reopen: %+v", stats)
	}
}

func TestLedgerOnSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, filepath.Join(t.TempDir(), "claims.db"))
	ledger, err := claims.New(store, claims.NewSequenceClock(0), nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	proof := claims.ProofID{0xbe, 0xef}
	if err := ledger.CreateClaim(ctx, "alice", proof); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ledger.CreateClaim(ctx, "bob", proof); xerrors.CodeOf(err) != claims.CodeProofAlreadyClaimed {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if err := ledger.TransferClaim(ctx, "bob", proof); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.RevokeClaim(ctx, "alice", proof); xerrors.CodeOf(err) != claims.CodeNotProofOwner {
		t.Fatalf("expected ownership rejection, got %v", err)
	}
	record, err := ledger.Claim(ctx, proof)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if record.Owner != "bob" || record.RegisteredAt != 2 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "oracle", DSN: "x"})
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestMigrationHelpers(t *testing.T) {
	stmts := splitSQLStatements("CREATE TABLE a (id INT);\n\n CREATE INDEX b ON a (id); ")
	if len(stmts) != 2 || stmts[1] != "CREATE INDEX b ON a (id)" {
		t.Fatalf("unexpected statements: %#v", stmts)
	}
	if got := parseMigrationVersion("0001_create_claims.sql"); got != "0001" {
		t.Fatalf("unexpected version %q", got)
	}
	for _, dir := range []string{"mysql", "postgres", "sqlite"} {
		files, err := loadMigrationFiles(dir)
		if err != nil {
			t.Fatalf("load %s migrations: %v", dir, err)
		}
		if len(files) == 0 {
			t.Fatalf("no migrations embedded for %s", dir)
		}
	}
}

func TestSQLiteHeightLogSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claims.db")

	first, err := New(ctx, Config{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if height, err := first.LastHeight(ctx); err != nil || height != 0 {
		t.Fatalf("fresh store height = %d err=%v", height, err)
	}
	clock, err := claims.NewDurableSequenceClock(ctx, first, 0)
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	ledger, err := claims.New(first, clock, nil)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if err := ledger.CreateClaim(ctx, "alice", claims.ProofID{0x01}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ledger.RevokeClaim(ctx, "alice", claims.ProofID{0x01}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newSQLiteStore(t, path)
	height, err := second.LastHeight(ctx)
	if err != nil {
		t.Fatalf("last height: %v", err)
	}
	if height != 2 {
		t.Fatalf("expected recorded height 2, got %d", height)
	}
}

func TestSQLiteStoreRejectsHeightsBeyondInt64(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, filepath.Join(t.TempDir(), "claims.db"))

	tooHigh := claims.BlockHeight(math.MaxUint64 - 1)
	err := store.Put(ctx, claims.ProofID{0x01}, claims.Record{Owner: "alice", RegisteredAt: tooHigh})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure || xerrors.RetryableError(err) {
		t.Fatalf("expected non-retryable storage failure, got %v", err)
	}
	if err := store.RecordHeight(ctx, tooHigh); err == nil {
		t.Fatalf("expected oversized height to be rejected")
	}

	edge := claims.BlockHeight(math.MaxInt64)
	if err := store.Put(ctx, claims.ProofID{0x02}, claims.Record{Owner: "alice", RegisteredAt: edge}); err != nil {
		t.Fatalf("put max int64 height: %v", err)
	}
	if err := store.Put(ctx, claims.ProofID{0x03}, claims.Record{Owner: "bob", RegisteredAt: 5}); err != nil {
		t.Fatalf("put: %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.LatestHeight != edge {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	entries, err := store.List(ctx, claims.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].RegisteredAt != edge {
		t.Fatalf("largest height should sort first: %+v", entries)
	}
}
