// Package metricsserver starts the Prometheus /metrics HTTP endpoint every
// worker and the supervisor expose, grounded on
// telemetry/flow-ingest/cmd/server/main.go's inline metrics-server goroutine.
package metricsserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Start binds addr (host:port, port 0 for an ephemeral port) and serves
// /metrics until ctx is cancelled. It returns the bound address so the
// caller can log it, since addr may have requested an ephemeral port.
func Start(ctx context.Context, log *slog.Logger, addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on metrics addr %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	go func() {
		if err := srv.Serve(listener); err != nil && ctx.Err() == nil {
			log.Warn("metrics server stopped", "error", err)
		}
	}()

	return listener.Addr().String(), nil
}
