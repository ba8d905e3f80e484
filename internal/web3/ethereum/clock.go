package ethereum

import (
	"context"
	"time"

	"PoE-Chain/internal/claims"
	"PoE-Chain/internal/web3"
)

// Clock 以链上最新区块减去确认数作为账本高度。
type Clock struct {
	client  web3.Client
	timeout time.Duration
}

var _ claims.Clock = (*Clock)(nil)

// NewClock 构造区块时钟，timeout <= 0 时默认 5 秒。结果已包裹为单调不减。
func NewClock(client web3.Client, timeout time.Duration) claims.Clock {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return claims.Monotonic(&Clock{client: client, timeout: timeout})
}

// Height 实现 claims.Clock。
func (c *Clock) Height(ctx context.Context) (claims.BlockHeight, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	latest, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	confirmations := c.client.Confirmations()
	if latest < confirmations {
		return 0, nil
	}
	return claims.BlockHeight(latest - confirmations), nil
}
