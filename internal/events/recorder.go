package events

import (
	"context"
	"sync"

	"PoE-Chain/internal/claims"
)

// History 按时间倒序返回最近的事件。
type History interface {
	Recent(ctx context.Context, n int) ([]claims.Event, error)
}

var (
	_ History = (*Recorder)(nil)
	_ History = (*RedisSink)(nil)
)

// Recorder 在内存中保留最近的事件，供查询接口与测试使用。
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	events   []claims.Event
}

// NewRecorder 创建 Recorder，capacity <= 0 时默认保留 1024 条。
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Recorder{capacity: capacity}
}

// Deposit 实现 claims.Sink。
func (r *Recorder) Deposit(_ context.Context, event claims.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if overflow := len(r.events) - r.capacity; overflow > 0 {
		r.events = append([]claims.Event(nil), r.events[overflow:]...)
	}
	return nil
}

// Events 按发生顺序返回全部已记录事件的副本。
func (r *Recorder) Events() []claims.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]claims.Event(nil), r.events...)
}

// Latest 返回最近 n 条事件，最新的在前。
func (r *Recorder) Latest(n int) []claims.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.events) {
		n = len(r.events)
	}
	out := make([]claims.Event, 0, n)
	for i := len(r.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.events[i])
	}
	return out
}

// Recent 实现 History，语义同 Latest。
func (r *Recorder) Recent(_ context.Context, n int) ([]claims.Event, error) {
	return r.Latest(n), nil
}

// Len 返回当前保留的事件数量。
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
