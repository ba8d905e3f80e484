package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claims"
	"PoE-Chain/internal/events"
	"PoE-Chain/internal/observability/metrics"
	"PoE-Chain/internal/txpool"
)

// Ledger 是 API 依赖的账本能力。
type Ledger interface {
	Dispatch(ctx context.Context, call claims.Call, caller claims.Identity, proof claims.ProofID) (claims.Event, error)
	Claim(ctx context.Context, proof claims.ProofID) (claims.Record, error)
	List(ctx context.Context, opts ...claims.ListOption) ([]claims.Entry, error)
	Stats(ctx context.Context) (claims.Stats, error)
}

// Transactions 是 API 依赖的交易池能力。
type Transactions interface {
	Submit(ctx context.Context, req txpool.SubmitRequest) (*txpool.Transaction, error)
	Get(ctx context.Context, id string) (*txpool.Transaction, error)
	List(ctx context.Context, opts ...txpool.ListOption) ([]*txpool.Transaction, error)
	Stats(ctx context.Context) (txpool.Stats, error)
}

// Config 描述 HTTP 服务参数。
type Config struct {
	Address   string  `mapstructure:"address"`
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// Dependencies 汇总 API 需要的协作者。Transactions、Hub、History 与 Metrics 可以为空。
type Dependencies struct {
	Ledger       Ledger
	Auth         *auth.Service
	Transactions Transactions
	Hub          *events.Hub
	History      events.History
	Metrics      *metrics.Registry
}

// Server 负责暴露 REST 接口。
type Server struct {
	cfg     Config
	deps    Dependencies
	limiter *limiterSet
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: newLimiterSet(cfg.RateLimit, cfg.RateBurst),
	}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的路由处理器，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	public := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, s.limiter.middleware(h)))
	}
	protected := func(pattern string, h http.HandlerFunc) {
		var handler http.Handler = s.limiter.middleware(h)
		if s.deps.Auth != nil {
			handler = s.deps.Auth.Middleware(writeError)(handler)
		}
		mux.Handle(pattern, s.instrument(pattern, handler))
	}

	protected("POST /api/v1/claims", s.handleCreateClaim)
	protected("DELETE /api/v1/claims/{proof}", s.handleRevokeClaim)
	protected("POST /api/v1/claims/{proof}/transfer", s.handleTransferClaim)
	public("GET /api/v1/claims/{proof}", s.handleGetClaim)
	public("GET /api/v1/claims", s.handleListClaims)
	public("GET /api/v1/stats", s.handleStats)

	protected("POST /api/v1/transactions", s.handleSubmitTransaction)
	public("GET /api/v1/transactions", s.handleListTransactions)
	public("GET /api/v1/transactions/{id}", s.handleGetTransaction)

	public("GET /api/v1/events/recent", s.handleRecentEvents)
	if s.deps.Hub != nil {
		mux.Handle("GET /api/v1/events/stream", s.deps.Hub)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 记录每个路由的请求数与耗时。
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.deps.Metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
