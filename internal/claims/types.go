package claims

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "PoE-Chain/internal/errors"
)

// ProofID 是声明的键：任意长度、不做解释的字节序列。
type ProofID []byte

// ParseProof 解析 0x 前缀的十六进制证明。"0x" 表示空证明，同样合法。
func ParseProof(raw string) (ProofID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "proof must be 0x-prefixed hex")
	}
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "proof must be 0x-prefixed hex")
	}
	return ProofID(decoded), nil
}

// Hex 返回 0x 前缀的十六进制表示。
func (p ProofID) Hex() string {
	return hexutil.Encode(p)
}

// String implements fmt.Stringer.
func (p ProofID) String() string {
	return p.Hex()
}

// Key 返回证明的 keccak-256 摘要（十六进制，无前缀），作为持久化存储的行键。
func (p ProofID) Key() string {
	return hex.EncodeToString(crypto.Keccak256(p))
}

// Equal 判断两个证明是否相同。
func (p ProofID) Equal(other ProofID) bool {
	return bytes.Equal(p, other)
}

// Clone 返回证明的独立副本。
func (p ProofID) Clone() ProofID {
	if p == nil {
		return ProofID{}
	}
	return append(ProofID{}, p...)
}

// MarshalText 以十六进制编码证明。
func (p ProofID) MarshalText() ([]byte, error) {
	return []byte(p.Hex()), nil
}

// UnmarshalText 解析十六进制编码的证明。
func (p *ProofID) UnmarshalText(text []byte) error {
	parsed, err := ParseProof(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Identity 是已通过认证的调用方标识，仅做相等比较。
type Identity string

// BlockHeight 是由时钟协作者提供的单调不减高度，原样存储。
type BlockHeight uint64

// Record 描述一条声明：所有者与登记（或最近一次转移）时的高度。
type Record struct {
	Owner        Identity    `json:"owner"`
	RegisteredAt BlockHeight `json:"registered_at"`
}

// Entry 将证明与其声明记录放在一起，用于列表查询。
type Entry struct {
	Proof ProofID `json:"proof"`
	Record
}

// Call 表示账本对外暴露的三种状态转移。
type Call string

const (
	CallCreate   Call = "create_claim"
	CallRevoke   Call = "revoke_claim"
	CallTransfer Call = "transfer_claim"
)

// ParseCall 校验并返回调用名称。
func ParseCall(raw string) (Call, error) {
	switch call := Call(strings.ToLower(strings.TrimSpace(raw))); call {
	case CallCreate, CallRevoke, CallTransfer:
		return call, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "unknown call "+raw)
	}
}
