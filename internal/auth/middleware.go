package auth

import (
	"net/http"
	"time"

	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

// ErrorWriter 渲染认证失败的响应。
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware 返回一个 HTTP 中间件，认证成功后把身份写入请求上下文。
func (s *Service) Middleware(onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, err error) {
			status := xerrors.StatusOf(err)
			http.Error(w, http.StatusText(status), status)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := s.authenticateRequest(r)
			if err != nil {
				s.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", xerrors.StatusOf(err),
					"error", err.Error(),
					"address", r.Header.Get(HeaderAddress),
				)
				onError(w, r, err)
				return
			}
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithIdentity(r.Context(), identity)))
			s.audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"who", string(identity),
			)
		})
	}
}

func (s *Service) authenticateRequest(r *http.Request) (claims.Identity, error) {
	body, err := s.readBody(r)
	if err != nil {
		return "", err
	}
	return s.Authenticate(r, body)
}

// auditWriter 包装 http.ResponseWriter，用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
