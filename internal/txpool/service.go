package txpool

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

// Service 负责交易的提交与回执查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造交易服务，maxRetries <= 0 时默认 3 次。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 保存交易回执并推送到队列。相同 ID 的重复提交返回已有回执。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Transaction, error) {
	call, err := claims.ParseCall(string(req.Call))
	if err != nil {
		return nil, xerrors.Wrap(CodeTxValidation, err, "不支持的调用")
	}
	if strings.TrimSpace(string(req.Caller)) == "" {
		return nil, xerrors.New(CodeTxValidation, "调用方不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易服务未初始化")
	}

	txID := strings.TrimSpace(req.ID)
	if txID != "" {
		existing, err := s.store.Get(ctx, txID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTxNotFound) {
			return nil, err
		}
	} else {
		txID = uuid.NewString()
	}

	tx := &Transaction{
		ID:         txID,
		Call:       call,
		Caller:     req.Caller,
		Proof:      req.Proof.Clone(),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, tx); err != nil {
		if stdErrors.Is(err, ErrTxConflict) {
			existing, getErr := s.store.Get(ctx, txID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrTxNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, txID); err != nil {
		logger.L().Error("交易入队失败", slog.Any("error", err), slog.String("tx_id", txID))
		wrapped := xerrors.Wrap(CodeTxPublish, err, "发布交易到队列失败")
		_ = s.store.MarkFailed(context.WithoutCancel(ctx), txID, string(CodeTxPublish), wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("tx_submitted",
		slog.String("tx_id", txID),
		slog.String("call", string(call)),
		slog.String("who", string(tx.Caller)),
		slog.String("proof", tx.Proof.Hex()),
	)
	return s.store.Get(ctx, txID)
}

// Get 返回指定交易的回执。
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的交易列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Transaction, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回交易状态统计。
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "交易存储未初始化")
	}
	return s.store.Stats(ctx)
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilFinal 轮询交易状态，直到其进入终态或 ctx 结束。
func (s *Service) WaitUntilFinal(ctx context.Context, id string, interval time.Duration) (*Transaction, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		tx, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if tx.Status.Final() {
			return tx, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易完成超时")
		case <-ticker.C:
		}
	}
}
