package events

import (
	"context"
	"log/slog"

	"PoE-Chain/internal/claims"
	"PoE-Chain/pkg/logger"
)

// AuditSink 将事件写入审计日志。
type AuditSink struct {
	logger *slog.Logger
}

// NewAuditSink 使用给定日志记录器创建 AuditSink，为空时使用全局审计日志。
func NewAuditSink(l *slog.Logger) *AuditSink {
	if l == nil {
		l = logger.Audit()
	}
	return &AuditSink{logger: l}
}

// Deposit 实现 claims.Sink。
func (s *AuditSink) Deposit(ctx context.Context, event claims.Event) error {
	s.logger.InfoContext(ctx, "ledger_event",
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.String("who", string(event.Who)),
		slog.String("proof", event.Proof.Hex()),
		slog.Uint64("height", uint64(event.Height)),
		slog.Time("occurred_at", event.OccurredAt),
	)
	return nil
}
