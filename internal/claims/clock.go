package claims

import (
	"context"
	"sync"

	xerrors "PoE-Chain/internal/errors"
)

// Clock 提供当前区块高度。
type Clock interface {
	Height(ctx context.Context) (BlockHeight, error)
}

// ClockFunc 允许使用函数实现 Clock。
type ClockFunc func(ctx context.Context) (BlockHeight, error)

// Height 实现 Clock 接口。
func (f ClockFunc) Height(ctx context.Context) (BlockHeight, error) {
	return f(ctx)
}

// HeightLog 持久化序列时钟已分配过的最大高度，使重启后不会重复分配。
type HeightLog interface {
	LastHeight(ctx context.Context) (BlockHeight, error)
	RecordHeight(ctx context.Context, height BlockHeight) error
}

// SequenceClock 在没有外部链的情况下为每次读取分配下一个高度。
type SequenceClock struct {
	mu   sync.Mutex
	last BlockHeight
	log  HeightLog
}

// NewSequenceClock 创建从 last+1 开始计数的时钟，仅在内存中计数。
func NewSequenceClock(last BlockHeight) *SequenceClock {
	return &SequenceClock{last: last}
}

// HeightLogOf 返回 store 自带的高度日志，会穿透 CachedStore。
func HeightLogOf(store Store) (HeightLog, bool) {
	if cached, ok := store.(*CachedStore); ok {
		return cached.HeightLog()
	}
	log, ok := store.(HeightLog)
	return log, ok
}

// NewDurableSequenceClock 从 log 中记录的高度与 floor 的较大者继续计数，
// 并在返回每个新高度前先写入 log。
func NewDurableSequenceClock(ctx context.Context, log HeightLog, floor BlockHeight) (*SequenceClock, error) {
	if log == nil {
		return NewSequenceClock(floor), nil
	}
	stored, err := log.LastHeight(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeClockFailure, err, "load height high-water mark")
	}
	if stored < floor {
		stored = floor
	}
	return &SequenceClock{last: stored, log: log}, nil
}

// Height 实现 Clock 接口。持久化失败时不推进计数。
func (c *SequenceClock) Height(ctx context.Context) (BlockHeight, error) {
	if err := ctx.Err(); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeClockFailure, err, "")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.last + 1
	if c.log != nil {
		if err := c.log.RecordHeight(ctx, next); err != nil {
			return 0, xerrors.Wrap(xerrors.CodeClockFailure, err, "record height high-water mark")
		}
	}
	c.last = next
	return next, nil
}

// Last 返回最近一次分配的高度。
func (c *SequenceClock) Last() BlockHeight {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type monotonicClock struct {
	inner Clock
	mu    sync.Mutex
	last  BlockHeight
}

// Monotonic 包装外部时钟，拒绝任何倒退的高度（例如负载均衡后的 RPC 节点落后）。
func Monotonic(inner Clock) Clock {
	return &monotonicClock{inner: inner}
}

func (c *monotonicClock) Height(ctx context.Context) (BlockHeight, error) {
	height, err := c.inner.Height(ctx)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return 0, err
		}
		return 0, xerrors.Wrap(xerrors.CodeClockFailure, err, "")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if height < c.last {
		return c.last, nil
	}
	c.last = height
	return height, nil
}
