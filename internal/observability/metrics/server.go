package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	xerrors "PoE-Chain/internal/errors"
)

// StartServer 在独立地址上暴露 /metrics，直到 ctx 取消。
func StartServer(ctx context.Context, addr string, registry *Registry) error {
	if addr == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "metrics address is empty")
	}
	if registry == nil {
		registry = defaultRegistry
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
