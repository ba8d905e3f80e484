package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"PoE-Chain/internal/auth"
	xerrors "PoE-Chain/internal/errors"
)

// limiterSet 为每个调用方维护一个令牌桶，长时间不活跃的桶会被回收。
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: cache.New(10*time.Minute, time.Minute),
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.limiters.Get(key); ok {
		limiter := cached.(*rate.Limiter)
		s.limiters.SetDefault(key, limiter)
		return limiter.Allow()
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.limiters.SetDefault(key, limiter)
	return limiter.Allow()
}

// middleware 以已认证身份为键限流，匿名请求按客户端地址限流。
func (s *limiterSet) middleware(next http.Handler) http.Handler {
	if s == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !s.allow(key) {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, xerrors.New(xerrors.CodeRateLimited, ""))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return "id:" + string(identity)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
