package auth

import (
	"strings"
	"time"

	xerrors "PoE-Chain/internal/errors"
)

// Mode 表示认证模式。
type Mode string

const (
	// ModeSignature 要求请求携带以太坊钱包签名。
	ModeSignature Mode = "signature"
	// ModeHeader 直接信任 X-PoE-Identity 头，仅用于本地开发。
	ModeHeader Mode = "header"
)

// 请求头名称。
const (
	HeaderAddress   = "X-PoE-Address"
	HeaderNonce     = "X-PoE-Nonce"
	HeaderSignature = "X-PoE-Signature"
	HeaderIdentity  = "X-PoE-Identity"
)

// Config 描述认证服务的配置。
type Config struct {
	Mode     Mode          `mapstructure:"mode"`
	MaxSkew  time.Duration `mapstructure:"max_skew"`
	NonceTTL time.Duration `mapstructure:"nonce_ttl"`
	MaxBody  int64         `mapstructure:"max_body"`
}

func (c Config) withDefaults() Config {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	if c.Mode == "" {
		c.Mode = ModeSignature
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = 5 * time.Minute
	}
	if c.NonceTTL <= 0 {
		c.NonceTTL = 2 * c.MaxSkew
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 1 << 20
	}
	return c
}

// 认证失败时返回的错误。
var (
	ErrMissingCredentials = xerrors.New(xerrors.CodeUnauthenticated, "missing credentials")
	ErrInvalidAddress     = xerrors.New(xerrors.CodeUnauthenticated, "invalid signer address")
	ErrInvalidNonce       = xerrors.New(xerrors.CodeUnauthenticated, "nonce outside the accepted window")
	ErrReplayedNonce      = xerrors.New(xerrors.CodeUnauthenticated, "nonce already used")
	ErrInvalidSignature   = xerrors.New(xerrors.CodeUnauthenticated, "invalid signature")
	ErrSignerMismatch     = xerrors.New(xerrors.CodeUnauthenticated, "signature does not match address")
)
