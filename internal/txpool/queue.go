package txpool

import (
	"context"
	"errors"
	"time"
)

// Handler 处理来自队列的交易 ID。返回错误时队列应重新投递该交易。
type Handler func(ctx context.Context, txID string) error

// Producer 负责向队列投递交易。
type Producer interface {
	Publish(ctx context.Context, txID string) error
	Close() error
}

// Consumer 按投递顺序逐个消费交易，直到 ctx 取消。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

var errQueueClosed = errors.New("队列已关闭")

// retryDelay 是处理失败后重新投递前的等待时间。
const retryDelay = 200 * time.Millisecond
