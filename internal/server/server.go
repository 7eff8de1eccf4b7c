// Package server runs an HTTP service until its context ends, then drains it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/joao-fontenele/storefront-orders/internal/config"
)

// Run serves handler on cfg.Port, traced by otelhttp, until ctx is cancelled.
// Shutdown waits up to cfg.ShutdownTimeout for in-flight requests.
func Run(ctx context.Context, cfg config.ServiceConfig, handler http.Handler, log *zap.Logger) error {
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Port, err)
	}
	return Serve(ctx, ln, cfg, handler, log)
}

func Serve(ctx context.Context, ln net.Listener, cfg config.ServiceConfig, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Handler:      otelhttp.NewHandler(handler, cfg.Name),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting service", zap.String("service", cfg.Name), zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// Healthz answers 200 when every named check passes and 503 otherwise.
func Healthz(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
