// Package redisstore keeps the claim ledger in Redis: one hash per claim, a
// sorted set ordering all claims by registration height and one sorted set per
// owner for filtered listings.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

const (
	fieldProof  = "proof"
	fieldOwner  = "owner"
	fieldHeight = "registered_at"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Store 使用 Redis 保存声明。写入由账本串行化，这里只保证单次写入内的原子性。
type Store struct {
	client *redis.Client
	prefix string
	owned  bool
}

var (
	_ claims.Store     = (*Store)(nil)
	_ claims.HeightLog = (*Store)(nil)
)

// New 连接 Redis 并创建 Store。
func New(ctx context.Context, cfg Config) (*Store, error) {
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
	store := NewWithClient(client, cfg.Prefix)
	store.owned = true
	return store, nil
}

// NewWithClient 复用已有的 Redis 客户端，Close 时不会关闭该客户端。
func NewWithClient(client *redis.Client, prefix string) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "poe"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) claimKey(key string) string   { return s.prefix + ":claim:" + key }
func (s *Store) indexKey() string             { return s.prefix + ":claims" }
func (s *Store) ownersKey() string            { return s.prefix + ":owners" }
func (s *Store) ownerKey(owner string) string { return s.prefix + ":owner:" + owner }
func (s *Store) heightKey() string            { return s.prefix + ":height" }

// Get 实现 claims.Store。
func (s *Store) Get(ctx context.Context, proof claims.ProofID) (claims.Record, bool, error) {
	values, err := s.client.HGetAll(ctx, s.claimKey(proof.Key())).Result()
	if err != nil {
		return claims.Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load claim")
	}
	if len(values) == 0 {
		return claims.Record{}, false, nil
	}
	entry, err := decodeEntry(values)
	if err != nil {
		return claims.Record{}, false, err
	}
	if !entry.Proof.Equal(proof) {
		return claims.Record{}, false, xerrors.New(xerrors.CodeStorageFailure, "proof digest collision",
			xerrors.WithMetadata("proof_key", proof.Key()))
	}
	return entry.Record, true, nil
}

// Put 实现 claims.Store。声明、索引与所有者集合在同一个 MULTI/EXEC 中更新。
func (s *Store) Put(ctx context.Context, proof claims.ProofID, record claims.Record) error {
	key := proof.Key()
	claimKey := s.claimKey(key)
	owner := string(record.Owner)
	score := float64(record.RegisteredAt)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := tx.HGet(ctx, claimKey, fieldOwner).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		moved := prev != "" && prev != owner
		drained := false
		if moved {
			if drained, err = s.lastOwned(ctx, tx, prev, key); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, claimKey,
				fieldProof, proof.Hex(),
				fieldOwner, owner,
				fieldHeight, strconv.FormatUint(uint64(record.RegisteredAt), 10),
			)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: key})
			if moved {
				pipe.ZRem(ctx, s.ownerKey(prev), key)
			}
			if drained {
				pipe.SRem(ctx, s.ownersKey(), prev)
			}
			pipe.ZAdd(ctx, s.ownerKey(owner), redis.Z{Score: score, Member: key})
			pipe.SAdd(ctx, s.ownersKey(), owner)
			return nil
		})
		return err
	}, claimKey)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "store claim")
	}
	return nil
}

// Delete 实现 claims.Store。
func (s *Store) Delete(ctx context.Context, proof claims.ProofID) error {
	key := proof.Key()
	claimKey := s.claimKey(key)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := tx.HGet(ctx, claimKey, fieldOwner).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		drained, err := s.lastOwned(ctx, tx, prev, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, claimKey)
			pipe.ZRem(ctx, s.indexKey(), key)
			pipe.ZRem(ctx, s.ownerKey(prev), key)
			if drained {
				pipe.SRem(ctx, s.ownersKey(), prev)
			}
			return nil
		})
		return err
	}, claimKey)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete claim")
	}
	return nil
}

// lastOwned 判断 key 是否为 owner 名下仅剩的声明，并在事务提交前持续监视该所有者的集合。
func (s *Store) lastOwned(ctx context.Context, tx *redis.Tx, owner, key string) (bool, error) {
	ownerKey := s.ownerKey(owner)
	if err := tx.Watch(ctx, ownerKey).Err(); err != nil {
		return false, err
	}
	remaining, err := tx.ZCard(ctx, ownerKey).Result()
	if err != nil {
		return false, err
	}
	_, err = tx.ZScore(ctx, ownerKey, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return remaining == 0, nil
	case err != nil:
		return false, err
	default:
		return remaining == 1, nil
	}
}

// List 按登记高度倒序返回声明，高度相同时按证明摘要倒序。
func (s *Store) List(ctx context.Context, opts claims.ListOptions) ([]claims.Entry, error) {
	opts = opts.Normalize()
	index := s.indexKey()
	if opts.Owner != "" {
		index = s.ownerKey(string(opts.Owner))
	}
	start := int64(opts.Offset)
	stop := start + int64(opts.Limit) - 1
	keys, err := s.client.ZRevRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list claim keys")
	}
	if len(keys) == 0 {
		return []claims.Entry{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.claimKey(key))
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load claims")
	}

	entries := make([]claims.Entry, 0, len(keys))
	for _, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		entry, err := decodeEntry(values)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stats 实现 claims.Store。
func (s *Store) Stats(ctx context.Context) (claims.Stats, error) {
	var (
		total  *redis.IntCmd
		owners *redis.IntCmd
		latest *redis.ZSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.ZCard(ctx, s.indexKey())
		owners = pipe.SCard(ctx, s.ownersKey())
		latest = pipe.ZRevRangeWithScores(ctx, s.indexKey(), 0, 0)
		return nil
	})
	if err != nil {
		return claims.Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "claim stats")
	}
	stats := claims.Stats{Total: int(total.Val()), Owners: int(owners.Val())}
	if top := latest.Val(); len(top) > 0 {
		stats.LatestHeight = claims.BlockHeight(top[0].Score)
	}
	return stats, nil
}

// LastHeight 实现 claims.HeightLog，未记录过时返回 0。
func (s *Store) LastHeight(ctx context.Context) (claims.BlockHeight, error) {
	raw, err := s.client.Get(ctx, s.heightKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load height")
	}
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode height")
	}
	return claims.BlockHeight(height), nil
}

// RecordHeight 实现 claims.HeightLog。
func (s *Store) RecordHeight(ctx context.Context, height claims.BlockHeight) error {
	if err := s.client.Set(ctx, s.heightKey(), strconv.FormatUint(uint64(height), 10), 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "record height")
	}
	return nil
}

// Close 关闭自行创建的 Redis 连接。
func (s *Store) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

func decodeEntry(values map[string]string) (claims.Entry, error) {
	proof, err := claims.ParseProof(values[fieldProof])
	if err != nil {
		return claims.Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode stored proof")
	}
	height, err := strconv.ParseUint(values[fieldHeight], 10, 64)
	if err != nil {
		return claims.Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, fmt.Errorf("parse height: %w", err), "decode stored claim")
	}
	return claims.Entry{
		Proof: proof,
		Record: claims.Record{
			Owner:        claims.Identity(values[fieldOwner]),
			RegisteredAt: claims.BlockHeight(height),
		},
	}, nil
}
