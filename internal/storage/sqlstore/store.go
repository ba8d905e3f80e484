package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

const (
	tableClaims      = "poe_claims"
	colProofKey      = "proof_key"
	colProof         = "proof"
	colOwner         = "owner"
	colRegisteredAt  = "registered_at"
	colUpdatedAt     = "updated_at"
	aliasTotal       = "total"
	aliasOwners      = "owners"
	aliasLatestBlock = "latest_height"

	tableMeta     = "poe_meta"
	colMetaKey    = "meta_key"
	colMetaValue  = "meta_value"
	metaHighWater = "sequence_height"
)

type claimRow struct {
	ProofKey     string `db:"proof_key"`
	Proof        []byte `db:"proof"`
	Owner        string `db:"owner"`
	RegisteredAt int64  `db:"registered_at"`
}

type statsRow struct {
	Total        int64 `db:"total"`
	Owners       int64 `db:"owners"`
	LatestHeight int64 `db:"latest_height"`
}

// Store 将声明保存在关系型数据库中，行键为证明的 keccak-256 摘要。
type Store struct {
	db      *sqlx.DB
	dialect dialect
	builder goqu.DialectWrapper
}

var (
	_ claims.Store     = (*Store)(nil)
	_ claims.HeightLog = (*Store)(nil)
)

// New 打开数据库连接并执行迁移。
func New(ctx context.Context, cfg Config) (*Store, error) {
	d, err := resolveDialect(cfg.Driver)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "")
	}
	db, err := openDatabase(ctx, d, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "")
	}
	if err := runMigrations(ctx, db, d); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "")
	}
	return &Store{db: db, dialect: d, builder: goqu.Dialect(d.goqu)}, nil
}

// Get 实现 claims.Store。
func (s *Store) Get(ctx context.Context, proof claims.ProofID) (claims.Record, bool, error) {
	query, args, err := s.builder.
		From(tableClaims).
		Select(colProofKey, colProof, colOwner, colRegisteredAt).
		Where(goqu.C(colProofKey).Eq(proof.Key())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return claims.Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "build claim query")
	}

	var row claimRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return claims.Record{}, false, nil
		}
		return claims.Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load claim")
	}
	if !bytes.Equal(row.Proof, proof) {
		return claims.Record{}, false, xerrors.New(xerrors.CodeStorageFailure, "proof digest collision",
			xerrors.WithMetadata("proof_key", row.ProofKey))
	}
	return claims.Record{Owner: claims.Identity(row.Owner), RegisteredAt: claims.BlockHeight(row.RegisteredAt)}, true, nil
}

// Put 以 delete+insert 的方式写入声明，避免依赖方言特有的 upsert 语法。
// 高度列为有符号 BIGINT，超过 math.MaxInt64 的高度会被拒绝。
func (s *Store) Put(ctx context.Context, proof claims.ProofID, record claims.Record) error {
	if err := checkHeight(record.RegisteredAt); err != nil {
		return err
	}
	key := proof.Key()
	raw := []byte(proof)
	if raw == nil {
		raw = []byte{}
	}

	deleteSQL, deleteArgs, err := s.builder.
		Delete(tableClaims).
		Where(goqu.C(colProofKey).Eq(key)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "build claim delete")
	}
	insertSQL, insertArgs, err := s.builder.
		Insert(tableClaims).
		Rows(goqu.Record{
			colProofKey:     key,
			colProof:        raw,
			colOwner:        string(record.Owner),
			colRegisteredAt: int64(record.RegisteredAt),
			colUpdatedAt:    time.Now().Unix(),
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "build claim insert")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin claim transaction")
	}
	if _, err := tx.ExecContext(ctx, deleteSQL, deleteArgs...); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "replace claim")
	}
	if _, err := tx.ExecContext(ctx, insertSQL, insertArgs...); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert claim")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit claim")
	}
	return nil
}

// Delete 实现 claims.Store。
func (s *Store) Delete(ctx context.Context, proof claims.ProofID) error {
	query, args, err := s.builder.
		Delete(tableClaims).
		Where(goqu.C(colProofKey).Eq(proof.Key())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "build claim delete")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete claim")
	}
	return nil
}

// List 按登记高度倒序返回声明，高度相同时按证明摘要倒序。
func (s *Store) List(ctx context.Context, opts claims.ListOptions) ([]claims.Entry, error) {
	opts = opts.Normalize()
	selectStmt := s.builder.
		From(tableClaims).
		Select(colProofKey, colProof, colOwner, colRegisteredAt).
		Order(goqu.I(colRegisteredAt).Desc(), goqu.I(colProofKey).Desc()).
		Limit(uint(opts.Limit)).
		Offset(uint(opts.Offset))
	if opts.Owner != "" {
		selectStmt = selectStmt.Where(goqu.C(colOwner).Eq(string(opts.Owner)))
	}
	query, args, err := selectStmt.Prepared(true).ToSQL()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "build claim list")
	}

	var rows []claimRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list claims")
	}
	entries := make([]claims.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, claims.Entry{
			Proof: claims.ProofID(row.Proof).Clone(),
			Record: claims.Record{
				Owner:        claims.Identity(row.Owner),
				RegisteredAt: claims.BlockHeight(row.RegisteredAt),
			},
		})
	}
	return entries, nil
}

// Stats 实现 claims.Store。
func (s *Store) Stats(ctx context.Context) (claims.Stats, error) {
	query, args, err := s.builder.
		From(tableClaims).
		Select(
			goqu.COUNT(goqu.Star()).As(aliasTotal),
			goqu.COUNT(goqu.DISTINCT(colOwner)).As(aliasOwners),
			goqu.COALESCE(goqu.MAX(colRegisteredAt), 0).As(aliasLatestBlock),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return claims.Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "build claim stats")
	}
	var row statsRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return claims.Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim stats")
	}
	return claims.Stats{
		Total:        int(row.Total),
		Owners:       int(row.Owners),
		LatestHeight: claims.BlockHeight(row.LatestHeight),
	}, nil
}

// LastHeight 实现 claims.HeightLog，未记录过时返回 0。
func (s *Store) LastHeight(ctx context.Context) (claims.BlockHeight, error) {
	query, args, err := s.builder.
		From(tableMeta).
		Select(colMetaValue).
		Where(goqu.C(colMetaKey).Eq(metaHighWater)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "build height query")
	}
	var height int64
	if err := s.db.GetContext(ctx, &height, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load height")
	}
	return claims.BlockHeight(height), nil
}

// RecordHeight 实现 claims.HeightLog。
func (s *Store) RecordHeight(ctx context.Context, height claims.BlockHeight) error {
	if err := checkHeight(height); err != nil {
		return err
	}
	deleteSQL, deleteArgs, err := s.builder.
		Delete(tableMeta).
		Where(goqu.C(colMetaKey).Eq(metaHighWater)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "build height delete")
	}
	insertSQL, insertArgs, err := s.builder.
		Insert(tableMeta).
		Rows(goqu.Record{
			colMetaKey:   metaHighWater,
			colMetaValue: int64(height),
			colUpdatedAt: time.Now().Unix(),
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "build height insert")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin height transaction")
	}
	if _, err := tx.ExecContext(ctx, deleteSQL, deleteArgs...); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "replace height")
	}
	if _, err := tx.ExecContext(ctx, insertSQL, insertArgs...); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert height")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit height")
	}
	return nil
}

func checkHeight(height claims.BlockHeight) error {
	if uint64(height) > math.MaxInt64 {
		return xerrors.New(xerrors.CodeStorageFailure, "block height exceeds signed 64-bit column range",
			xerrors.WithMetadata("height", strconv.FormatUint(uint64(height), 10)),
			xerrors.WithRetryable(false))
	}
	return nil
}

// Driver 返回当前使用的数据库方言名称。
func (s *Store) Driver() string {
	return s.dialect.name
}

// Close 释放数据库连接池。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
