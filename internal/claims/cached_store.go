package claims

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

type cachedLookup struct {
	record Record
	found  bool
}

// CachedStore 在底层 Store 前增加读缓存。缓存仅在本进程内一致，
// 多个进程共享同一底层存储时不要启用。
type CachedStore struct {
	inner Store
	cache *cache.Cache
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore 创建带 TTL 的缓存存储。ttl <= 0 时默认 5 分钟。
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{inner: inner, cache: cache.New(ttl, 2*ttl)}
}

// Get 实现 Store 接口，缓存命中与未命中的结果。
func (c *CachedStore) Get(ctx context.Context, proof ProofID) (Record, bool, error) {
	key := proof.Key()
	if cached, ok := c.cache.Get(key); ok {
		lookup := cached.(cachedLookup)
		return lookup.record, lookup.found, nil
	}
	record, found, err := c.inner.Get(ctx, proof)
	if err != nil {
		return Record{}, false, err
	}
	c.cache.SetDefault(key, cachedLookup{record: record, found: found})
	return record, found, nil
}

// Put 实现 Store 接口。
func (c *CachedStore) Put(ctx context.Context, proof ProofID, record Record) error {
	key := proof.Key()
	if err := c.inner.Put(ctx, proof, record); err != nil {
		c.cache.Delete(key)
		return err
	}
	c.cache.SetDefault(key, cachedLookup{record: record, found: true})
	return nil
}

// Delete 实现 Store 接口。
func (c *CachedStore) Delete(ctx context.Context, proof ProofID) error {
	key := proof.Key()
	if err := c.inner.Delete(ctx, proof); err != nil {
		c.cache.Delete(key)
		return err
	}
	c.cache.SetDefault(key, cachedLookup{})
	return nil
}

// List 直接透传到底层存储。
func (c *CachedStore) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	return c.inner.List(ctx, opts)
}

// Stats 直接透传到底层存储。
func (c *CachedStore) Stats(ctx context.Context) (Stats, error) {
	return c.inner.Stats(ctx)
}

// HeightLog 返回底层存储的高度日志，底层不支持时 ok 为 false。
func (c *CachedStore) HeightLog() (log HeightLog, ok bool) {
	log, ok = c.inner.(HeightLog)
	return log, ok
}

// Close 清空缓存并关闭底层存储。
func (c *CachedStore) Close() error {
	c.cache.Flush()
	return c.inner.Close()
}
