package txpool

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue 使用带缓冲的 channel 作为进程内队列。
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 将交易投递到队列，缓冲区满时阻塞直到 ctx 取消。
func (q *MemoryQueue) Publish(ctx context.Context, txID string) error {
	select {
	case <-q.done:
		return errQueueClosed
	default:
	}
	select {
	case <-q.done:
		return errQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- txID:
		return nil
	}
}

// Consume 依次处理队列中的交易。处理失败的交易会被放回队首之后重试。
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	var retry string
	for {
		txID := retry
		if txID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.done:
				return errQueueClosed
			case txID = <-q.ch:
			}
		}
		if err := handler(ctx, txID); err != nil {
			retry = txID
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.done:
				return errQueueClosed
			case <-time.After(retryDelay):
			}
			continue
		}
		retry = ""
	}
}

// Len 返回尚未消费的交易数量。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
