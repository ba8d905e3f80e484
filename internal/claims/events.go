package claims

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind 标识账本发出的事件类型。
type EventKind string

const (
	EventClaimCreated     EventKind = "ClaimCreated"
	EventClaimRevoked     EventKind = "ClaimRevoked"
	EventClaimTransferred EventKind = "ClaimTransferred"
)

// AuditAction 返回审计日志中该事件对应的动作名，例如 claim_created。
func (k EventKind) AuditAction() string {
	switch k {
	case EventClaimCreated:
		return "claim_created"
	case EventClaimRevoked:
		return "claim_revoked"
	case EventClaimTransferred:
		return "claim_transferred"
	default:
		return "claim_event"
	}
}

// Event 在每次成功的状态转移后恰好发出一次。
type Event struct {
	ID         string      `json:"id"`
	Kind       EventKind   `json:"kind"`
	Who        Identity    `json:"who"`
	Proof      ProofID     `json:"proof"`
	Height     BlockHeight `json:"height"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func newEvent(kind EventKind, who Identity, proof ProofID, height BlockHeight) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Who:        who,
		Proof:      proof.Clone(),
		Height:     height,
		OccurredAt: time.Now().UTC(),
	}
}

// Sink 接收账本事件。Deposit 返回错误时账本会回滚对应的状态变更。
type Sink interface {
	Deposit(ctx context.Context, event Event) error
}

// SinkFunc 允许使用函数实现 Sink。
type SinkFunc func(ctx context.Context, event Event) error

// Deposit 实现 Sink 接口。
func (f SinkFunc) Deposit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// DiscardSink 丢弃所有事件。
var DiscardSink Sink = SinkFunc(func(context.Context, Event) error { return nil })
