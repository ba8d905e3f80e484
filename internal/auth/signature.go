package auth

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "PoE-Chain/internal/errors"
)

// CanonicalPayload 构造被签名的请求摘要：方法、请求 URI、nonce 与请求体的 keccak-256。
func CanonicalPayload(method, requestURI, nonce string, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(requestURI)
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(hexutil.Encode(crypto.Keccak256(body)))
	return []byte(b.String())
}

// Sign 以 personal_sign 规则对载荷签名，返回 0x 前缀的 65 字节签名。
func Sign(key *ecdsa.PrivateKey, payload []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(payload), key)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "sign payload")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Recover 恢复签名者地址，同时接受 V 为 0/1 或 27/28 的签名。
func Recover(payload []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}
