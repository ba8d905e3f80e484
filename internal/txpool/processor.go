package txpool

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

// Applier 是处理器执行交易所需的账本能力。
type Applier interface {
	Dispatch(ctx context.Context, call claims.Call, caller claims.Identity, proof claims.ProofID) (claims.Event, error)
}

// Processor 从队列逐个取出交易并应用到账本。
//
// 只有一个消费循环，交易按入队顺序生效。基础设施类的可重试错误在原地按退避重试，
// 不会让后续交易越过当前交易；领域错误直接记为 rejected。
type Processor struct {
	applier  Applier
	store    Store
	consumer Consumer
	backoff  time.Duration
	logger   *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRetryBackoff 设置首次重试前的等待时间，之后每次翻倍。
func WithRetryBackoff(backoff time.Duration) ProcessorOption {
	return func(p *Processor) {
		if backoff > 0 {
			p.backoff = backoff
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(applier Applier, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		applier:  applier,
		store:    store,
		consumer: consumer,
		backoff:  100 * time.Millisecond,
		logger:   logger.Named("txpool"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动处理循环，阻塞直到 ctx 取消或队列关闭。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置交易消费者")
	}
	if p.store == nil || p.applier == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	err := p.consumer.Consume(ctx, p.handle)
	if stdErrors.Is(err, errQueueClosed) || stdErrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) handle(ctx context.Context, txID string) error {
	tx, err := p.store.Begin(ctx, txID)
	if err != nil {
		if stdErrors.Is(err, ErrTxNotFound) || stdErrors.Is(err, ErrTxCompleted) {
			p.logger.Debug("跳过交易", slog.String("tx_id", txID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取交易失败", slog.Any("error", err), slog.String("tx_id", txID))
		return err
	}

	delay := p.backoff
	for {
		event, applyErr := p.applier.Dispatch(ctx, tx.Call, tx.Caller, tx.Proof)
		if applyErr == nil {
			return p.applied(ctx, tx, event)
		}
		if claims.IsDomainError(applyErr) || !xerrors.RetryableError(applyErr) {
			return p.rejected(ctx, tx, applyErr)
		}
		if ctx.Err() != nil {
			// 进程退出，保持 pending 交给下一次启动。
			_ = p.store.MarkFailed(context.WithoutCancel(ctx), tx.ID, string(xerrors.CodeOf(applyErr)), applyErr.Error(), false)
			return ctx.Err()
		}
		if tx.Attempts >= tx.MaxRetries {
			return p.failed(ctx, tx, applyErr)
		}

		p.logger.Warn("交易执行失败，稍后重试",
			slog.String("tx_id", tx.ID),
			slog.Int("attempt", tx.Attempts),
			slog.Any("error", applyErr),
		)
		if err := p.store.MarkFailed(ctx, tx.ID, string(xerrors.CodeOf(applyErr)), applyErr.Error(), false); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2

		if tx, err = p.store.Begin(ctx, tx.ID); err != nil {
			if stdErrors.Is(err, ErrTxCompleted) || stdErrors.Is(err, ErrTxNotFound) {
				return nil
			}
			return err
		}
	}
}

func (p *Processor) applied(ctx context.Context, tx *Transaction, event claims.Event) error {
	if err := p.store.MarkApplied(ctx, tx.ID, event.Height, event.ID); err != nil {
		// 账本已生效，再次执行会得到领域错误，因此不重投。
		p.logger.Error("回写交易结果失败", slog.Any("error", err), slog.String("tx_id", tx.ID))
		return nil
	}
	logger.Audit().Info("tx_applied",
		slog.String("tx_id", tx.ID),
		slog.String("call", string(tx.Call)),
		slog.String("event_id", event.ID),
		slog.Uint64("height", uint64(event.Height)),
	)
	return nil
}

func (p *Processor) rejected(ctx context.Context, tx *Transaction, cause error) error {
	code := string(xerrors.CodeOf(cause))
	if err := p.store.MarkRejected(ctx, tx.ID, code, cause.Error()); err != nil {
		p.logger.Error("回写交易拒绝状态失败", slog.Any("error", err), slog.String("tx_id", tx.ID))
		return err
	}
	logger.Audit().Info("tx_rejected",
		slog.String("tx_id", tx.ID),
		slog.String("call", string(tx.Call)),
		slog.String("code", code),
	)
	return nil
}

func (p *Processor) failed(ctx context.Context, tx *Transaction, cause error) error {
	code := string(xerrors.CodeOf(cause))
	if err := p.store.MarkFailed(ctx, tx.ID, code, cause.Error(), true); err != nil {
		p.logger.Error("回写交易失败状态出错", slog.Any("error", err), slog.String("tx_id", tx.ID))
		return err
	}
	logger.Audit().Warn("tx_failed",
		slog.String("tx_id", tx.ID),
		slog.String("call", string(tx.Call)),
		slog.String("code", code),
		slog.Int("attempts", tx.Attempts),
	)
	return nil
}
