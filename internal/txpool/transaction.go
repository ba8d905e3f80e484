// Package txpool accepts ledger calls asynchronously. Submitted transactions are
// persisted as receipts, queued, and applied to the ledger one at a time by a
// single Processor so that they take effect in submission order.
package txpool

import (
	"net/http"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

// Status 表示交易在生命周期中的状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Final 判断交易是否已进入终态。
func (s Status) Final() bool {
	return s == StatusApplied || s == StatusRejected || s == StatusFailed
}

// IsValidStatus 检查给定的交易状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusApplied, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Transaction 描述一次排队执行的账本调用及其回执。
type Transaction struct {
	ID         string             `json:"id"`
	Call       claims.Call        `json:"call"`
	Caller     claims.Identity    `json:"caller"`
	Proof      claims.ProofID     `json:"proof"`
	Status     Status             `json:"status"`
	Attempts   int                `json:"attempts"`
	MaxRetries int                `json:"max_retries"`
	ErrorCode  string             `json:"error_code,omitempty"`
	Error      string             `json:"error,omitempty"`
	Height     claims.BlockHeight `json:"height,omitempty"`
	EventID    string             `json:"event_id,omitempty"`
	CreatedAt  int64              `json:"created_at"`
	UpdatedAt  int64              `json:"updated_at"`
}

func cloneTransaction(tx *Transaction) *Transaction {
	if tx == nil {
		return nil
	}
	clone := *tx
	clone.Proof = tx.Proof.Clone()
	return &clone
}

// SubmitRequest 描述一次提交。ID 为空时自动生成。
type SubmitRequest struct {
	ID     string          `json:"id,omitempty"`
	Call   claims.Call     `json:"call"`
	Caller claims.Identity `json:"-"`
	Proof  claims.ProofID  `json:"proof"`
}

const (
	CodeTxNotFound   xerrors.Code = "TX_NOT_FOUND"
	CodeTxConflict   xerrors.Code = "TX_CONFLICT"
	CodeTxCompleted  xerrors.Code = "TX_COMPLETED"
	CodeTxValidation xerrors.Code = "TX_VALIDATION_FAILED"
	CodeTxPublish    xerrors.Code = "TX_PUBLISH_FAILED"
)

var (
	// ErrTxNotFound 表示指定的交易不存在。
	ErrTxNotFound = xerrors.New(CodeTxNotFound, "transaction not found")
	// ErrTxConflict 表示交易 ID 已被占用。
	ErrTxConflict = xerrors.New(CodeTxConflict, "transaction conflict")
	// ErrTxCompleted 表示交易已进入终态。
	ErrTxCompleted = xerrors.New(CodeTxCompleted, "transaction already final")
)

func init() {
	xerrors.Register(CodeTxNotFound, xerrors.Attributes{
		Message:    "transaction not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeTxConflict, xerrors.Attributes{
		Message:    "transaction conflict",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeTxCompleted, xerrors.Attributes{
		Message:    "transaction already final",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeTxValidation, xerrors.Attributes{
		Message:    "transaction validation failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
	xerrors.Register(CodeTxPublish, xerrors.Attributes{
		Message:    "failed to publish transaction",
		Severity:   xerrors.SeverityCritical,
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	})
}
