package metrics

import (
	"database/sql"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydra-network/hydra/internal/chain"
	"github.com/hydra-network/hydra/internal/metrics/collectors"
)

// CreateMetricsServer registers the node collectors and starts serving
// /metrics on addr. The db collector is only registered when a durable
// store is in use (db non-nil). The caller owns shutdown of the returned
// server.
func CreateMetricsServer(ledger *chain.Ledger, db *sql.DB, addr string) (*http.Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewLedgerCollector(ledger))
	if db != nil {
		registry.MustRegister(collectors.NewPersistedBlockCountCollector(db))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server terminated", "error", err)
		}
	}()

	slog.Info("Metrics server listening", "addr", addr)
	return server, nil
}
