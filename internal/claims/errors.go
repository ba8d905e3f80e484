package claims

import (
	"net/http"

	xerrors "PoE-Chain/internal/errors"
)

const (
	CodeProofAlreadyClaimed xerrors.Code = "PROOF_ALREADY_CLAIMED"
	CodeNoSuchProof         xerrors.Code = "NO_SUCH_PROOF"
	CodeNotProofOwner       xerrors.Code = "NOT_PROOF_OWNER"
	CodeOwnedClaimAlready   xerrors.Code = "OWNED_CLAIM_ALREADY"
)

var (
	// ErrProofAlreadyClaimed 表示证明已被声明，不能重复创建。
	ErrProofAlreadyClaimed = xerrors.New(CodeProofAlreadyClaimed, "proof has already been claimed")
	// ErrNoSuchProof 表示证明不存在，无法撤销或转移。
	ErrNoSuchProof = xerrors.New(CodeNoSuchProof, "proof does not exist")
	// ErrNotProofOwner 表示调用方不是声明的所有者，无法撤销。
	ErrNotProofOwner = xerrors.New(CodeNotProofOwner, "caller does not own the claim")
	// ErrOwnedClaimAlready 表示调用方已是所有者，转移没有意义。
	ErrOwnedClaimAlready = xerrors.New(CodeOwnedClaimAlready, "caller already owns the claim")
)

func init() {
	xerrors.Register(CodeProofAlreadyClaimed, xerrors.Attributes{
		Message:    "proof has already been claimed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeNoSuchProof, xerrors.Attributes{
		Message:    "proof does not exist",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeNotProofOwner, xerrors.Attributes{
		Message:    "caller does not own the claim",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusForbidden,
	})
	xerrors.Register(CodeOwnedClaimAlready, xerrors.Attributes{
		Message:    "caller already owns the claim",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
}

// IsDomainError 判断错误是否属于账本的四种前置条件失败。
func IsDomainError(err error) bool {
	switch xerrors.CodeOf(err) {
	case CodeProofAlreadyClaimed, CodeNoSuchProof, CodeNotProofOwner, CodeOwnedClaimAlready:
		return true
	default:
		return false
	}
}
