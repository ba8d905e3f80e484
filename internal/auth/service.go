package auth

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/pkg/logger"
)

// Service 负责把 HTTP 请求解析为已认证的调用方身份。
type Service struct {
	cfg    Config
	nonces *cache.Cache
	audit  *slog.Logger
	now    func() time.Time
}

// Option 配置 Service。
type Option func(*Service)

// WithClock 替换当前时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditLogger 指定审计日志记录器。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewService 构造认证服务实例。
func NewService(cfg Config, opts ...Option) (*Service, error) {
	cfg = cfg.withDefaults()
	switch cfg.Mode {
	case ModeSignature, ModeHeader:
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "unsupported auth mode "+string(cfg.Mode))
	}
	svc := &Service{
		cfg:    cfg,
		nonces: cache.New(cfg.NonceTTL, cfg.NonceTTL),
		audit:  logger.Audit(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if cfg.Mode == ModeHeader {
		logger.Named("auth").Warn("认证模式为 header，X-PoE-Identity 将被直接信任")
	}
	return svc, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	return s.cfg.Mode
}

// Authenticate 校验请求并返回调用方身份。body 为已读取的请求体。
func (s *Service) Authenticate(r *http.Request, body []byte) (claims.Identity, error) {
	if s.cfg.Mode == ModeHeader {
		return identityFromHeader(r.Header.Get(HeaderIdentity))
	}

	address := strings.TrimSpace(r.Header.Get(HeaderAddress))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if address == "" || nonce == "" || signature == "" {
		return "", ErrMissingCredentials
	}
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	if err := s.checkNonce(nonce); err != nil {
		return "", err
	}

	claimed := common.HexToAddress(address)
	signer, err := Recover(CanonicalPayload(r.Method, r.URL.RequestURI(), nonce, body), signature)
	if err != nil {
		return "", err
	}
	if signer != claimed {
		return "", ErrSignerMismatch
	}
	if err := s.nonces.Add(signer.Hex()+"/"+nonce, struct{}{}, cache.DefaultExpiration); err != nil {
		return "", ErrReplayedNonce
	}
	return claims.Identity(signer.Hex()), nil
}

func (s *Service) checkNonce(nonce string) error {
	millis, err := strconv.ParseInt(nonce, 10, 64)
	if err != nil {
		return ErrInvalidNonce
	}
	issued := time.UnixMilli(millis)
	drift := s.now().Sub(issued)
	if drift < 0 {
		drift = -drift
	}
	if drift > s.cfg.MaxSkew {
		return ErrInvalidNonce
	}
	return nil
}

func identityFromHeader(raw string) (claims.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingCredentials
	}
	if common.IsHexAddress(raw) {
		return claims.Identity(common.HexToAddress(raw).Hex()), nil
	}
	return claims.Identity(raw), nil
}

// readBody 读取并还原请求体，超过上限时返回错误。
func (s *Service) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBody+1))
	r.Body.Close()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read request body")
	}
	if int64(len(body)) > s.cfg.MaxBody {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
