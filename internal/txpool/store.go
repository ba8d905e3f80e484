package txpool

import (
	"context"

	"PoE-Chain/internal/claims"
)

// Store 抽象了交易回执的持久化接口。
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	// Begin 记录一次执行尝试；已进入终态的交易返回 ErrTxCompleted。
	Begin(ctx context.Context, id string) (*Transaction, error)
	MarkApplied(ctx context.Context, id string, height claims.BlockHeight, eventID string) error
	MarkRejected(ctx context.Context, id string, code, message string) error
	MarkFailed(ctx context.Context, id string, code, message string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Transaction, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
