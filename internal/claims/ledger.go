package claims

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

// Observer 在每次调用结束后收到调用名、结果错误码（成功为 "OK"）与耗时。
type Observer func(call Call, code xerrors.Code, elapsed time.Duration)

// Option 配置 Ledger。
type Option func(*Ledger)

// WithLogger 指定应用日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(ledger *Ledger) {
		if l != nil {
			ledger.logger = l
		}
	}
}

// WithAuditLogger 指定审计日志记录器。
func WithAuditLogger(l *slog.Logger) Option {
	return func(ledger *Ledger) {
		if l != nil {
			ledger.audit = l
		}
	}
}

// WithObserver 注册调用观察者，通常用于指标统计。
func WithObserver(observer Observer) Option {
	return func(ledger *Ledger) {
		ledger.observer = observer
	}
}

// Ledger 维护证明到声明的映射，并串行执行所有状态转移。
type Ledger struct {
	mu       sync.Mutex
	store    Store
	clock    Clock
	sink     Sink
	logger   *slog.Logger
	audit    *slog.Logger
	observer Observer
}

// New 创建账本。store 与 clock 不能为空，sink 为空时事件被丢弃。
func New(store Store, clock Clock, sink Sink, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "claim store is required")
	}
	if clock == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "block clock is required")
	}
	if sink == nil {
		sink = DiscardSink
	}
	ledger := &Ledger{
		store:  store,
		clock:  clock,
		sink:   sink,
		logger: logger.Named("ledger"),
		audit:  logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ledger)
		}
	}
	return ledger, nil
}

// CreateClaim 为调用方登记一个尚未被声明的证明。
func (l *Ledger) CreateClaim(ctx context.Context, caller Identity, proof ProofID) error {
	_, err := l.Dispatch(ctx, CallCreate, caller, proof)
	return err
}

// RevokeClaim 撤销调用方持有的声明。
func (l *Ledger) RevokeClaim(ctx context.Context, caller Identity, proof ProofID) error {
	_, err := l.Dispatch(ctx, CallRevoke, caller, proof)
	return err
}

// TransferClaim 将已存在的声明转移给调用方，不需要原所有者同意。
func (l *Ledger) TransferClaim(ctx context.Context, caller Identity, proof ProofID) error {
	_, err := l.Dispatch(ctx, CallTransfer, caller, proof)
	return err
}

// Dispatch 执行指定的状态转移，成功时返回已发出的事件。
func (l *Ledger) Dispatch(ctx context.Context, call Call, caller Identity, proof ProofID) (Event, error) {
	start := time.Now()
	event, err := l.dispatch(ctx, call, caller, proof)
	code := xerrors.Code("OK")
	if err != nil {
		code = xerrors.CodeOf(err)
	}
	if l.observer != nil {
		l.observer(call, code, time.Since(start))
	}
	return event, err
}

func (l *Ledger) dispatch(ctx context.Context, call Call, caller Identity, proof ProofID) (Event, error) {
	if strings.TrimSpace(string(caller)) == "" {
		return Event{}, xerrors.New(xerrors.CodeInvalidArgument, "caller identity is required")
	}

	var step func(context.Context, Identity, ProofID) (Event, error)
	switch call {
	case CallCreate:
		step = l.create
	case CallRevoke:
		step = l.revoke
	case CallTransfer:
		step = l.transfer
	default:
		return Event{}, xerrors.New(xerrors.CodeInvalidArgument, "unknown call "+string(call))
	}

	proof = proof.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Event{}, xerrors.FromContext(err)
	}

	event, err := step(ctx, caller, proof)
	if err != nil {
		l.logRejection(ctx, call, caller, proof, err)
		return Event{}, err
	}
	l.audit.InfoContext(ctx, event.Kind.AuditAction(),
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.String("who", string(caller)),
		slog.String("proof", proof.Hex()),
		slog.Uint64("height", uint64(event.Height)),
	)
	return event, nil
}

func (l *Ledger) create(ctx context.Context, caller Identity, proof ProofID) (Event, error) {
	_, found, err := l.lookup(ctx, proof)
	if err != nil {
		return Event{}, err
	}
	if found {
		return Event{}, ErrProofAlreadyClaimed
	}

	height, err := l.height(ctx)
	if err != nil {
		return Event{}, err
	}
	if err := l.write(ctx, proof, Record{Owner: caller, RegisteredAt: height}); err != nil {
		return Event{}, err
	}

	event := newEvent(EventClaimCreated, caller, proof, height)
	if err := l.deposit(ctx, event); err != nil {
		l.restore(ctx, proof, nil)
		return Event{}, err
	}
	return event, nil
}

func (l *Ledger) revoke(ctx context.Context, caller Identity, proof ProofID) (Event, error) {
	record, found, err := l.lookup(ctx, proof)
	if err != nil {
		return Event{}, err
	}
	if !found {
		return Event{}, ErrNoSuchProof
	}
	if record.Owner != caller {
		return Event{}, ErrNotProofOwner
	}

	height, err := l.height(ctx)
	if err != nil {
		return Event{}, err
	}
	if err := l.store.Delete(ctx, proof); err != nil {
		return Event{}, storageError(err, "delete claim")
	}

	event := newEvent(EventClaimRevoked, caller, proof, height)
	if err := l.deposit(ctx, event); err != nil {
		l.restore(ctx, proof, &record)
		return Event{}, err
	}
	return event, nil
}

func (l *Ledger) transfer(ctx context.Context, caller Identity, proof ProofID) (Event, error) {
	record, found, err := l.lookup(ctx, proof)
	if err != nil {
		return Event{}, err
	}
	if !found {
		return Event{}, ErrNoSuchProof
	}
	if record.Owner == caller {
		return Event{}, ErrOwnedClaimAlready
	}

	height, err := l.height(ctx)
	if err != nil {
		return Event{}, err
	}
	if err := l.write(ctx, proof, Record{Owner: caller, RegisteredAt: height}); err != nil {
		return Event{}, err
	}

	event := newEvent(EventClaimTransferred, caller, proof, height)
	if err := l.deposit(ctx, event); err != nil {
		l.restore(ctx, proof, &record)
		return Event{}, err
	}
	return event, nil
}

// Claim 返回证明当前的声明记录，不存在时返回 ErrNoSuchProof。
func (l *Ledger) Claim(ctx context.Context, proof ProofID) (Record, error) {
	record, found, err := l.lookup(ctx, proof)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrNoSuchProof
	}
	return record, nil
}

// List 分页返回声明。
func (l *Ledger) List(ctx context.Context, opts ...ListOption) ([]Entry, error) {
	entries, err := l.store.List(ctx, BuildListOptions(opts...))
	if err != nil {
		return nil, storageError(err, "list claims")
	}
	return entries, nil
}

// Stats 返回声明集合的统计信息。
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	stats, err := l.store.Stats(ctx)
	if err != nil {
		return Stats{}, storageError(err, "claim stats")
	}
	return stats, nil
}

func (l *Ledger) lookup(ctx context.Context, proof ProofID) (Record, bool, error) {
	record, found, err := l.store.Get(ctx, proof)
	if err != nil {
		return Record{}, false, storageError(err, "load claim")
	}
	return record, found, nil
}

func (l *Ledger) write(ctx context.Context, proof ProofID, record Record) error {
	if err := l.store.Put(ctx, proof, record); err != nil {
		return storageError(err, "store claim")
	}
	return nil
}

func (l *Ledger) height(ctx context.Context) (BlockHeight, error) {
	height, err := l.clock.Height(ctx)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return 0, err
		}
		return 0, xerrors.Wrap(xerrors.CodeClockFailure, err, "")
	}
	return height, nil
}

func (l *Ledger) deposit(ctx context.Context, event Event) error {
	if err := l.sink.Deposit(ctx, event); err != nil {
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(xerrors.CodeEventDelivery, err, "")
	}
	return nil
}

// restore 在事件投递失败后恢复证明的先前状态，previous 为 nil 表示原先不存在。
func (l *Ledger) restore(ctx context.Context, proof ProofID, previous *Record) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if previous == nil {
		err = l.store.Delete(ctx, proof)
	} else {
		err = l.store.Put(ctx, proof, *previous)
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "回滚声明失败，存储与事件流可能不一致",
			slog.String("proof", proof.Hex()),
			slog.Any("error", err),
		)
	}
}

func (l *Ledger) logRejection(ctx context.Context, call Call, caller Identity, proof ProofID, err error) {
	attrs := []any{
		slog.String("call", string(call)),
		slog.String("who", string(caller)),
		slog.String("proof", proof.Hex()),
		slog.String("code", string(xerrors.CodeOf(err))),
	}
	if IsDomainError(err) {
		l.audit.InfoContext(ctx, "claim_rejected", attrs...)
		return
	}
	l.logger.ErrorContext(ctx, "声明操作失败", append(attrs, slog.Any("error", err))...)
}

func storageError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
