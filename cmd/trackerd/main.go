// Command trackerd runs the multi-chain deposit tracker daemon: one
// Chain Monitor per configured (chain, network) pair, a shared SQLite
// Storage Gateway, and an HTTP server exposing health and metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/deposittracker/internal/adapter"
	"github.com/yourusername/deposittracker/internal/adapter/btcchain"
	"github.com/yourusername/deposittracker/internal/adapter/evmchain"
	"github.com/yourusername/deposittracker/internal/adapter/trxchain"
	"github.com/yourusername/deposittracker/internal/adapter/xrpchain"
	"github.com/yourusername/deposittracker/internal/chain"
	"github.com/yourusername/deposittracker/internal/config"
	"github.com/yourusername/deposittracker/internal/coordinator"
	"github.com/yourusername/deposittracker/internal/ledger"
	"github.com/yourusername/deposittracker/internal/metrics"
	"github.com/yourusername/deposittracker/internal/monitor"
	"github.com/yourusername/deposittracker/internal/rpcclient"
	"github.com/yourusername/deposittracker/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(logger); err != nil {
		logger.Error("trackerd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gateway, err := storage.OpenSQLiteGateway(cfg.StorageDSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer gateway.Close()

	collector := metrics.NewPromCollector()
	applier := ledger.New(gateway, logger)

	targets := buildTargets(cfg, gateway, applier, collector, logger)
	coord := coordinator.New(targets, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := newHealthServer(cfg.HTTPAddr, coord, collector)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server stopped", "error", err)
		}
	}()

	coordErr := coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	return coordErr
}

// buildTargets constructs one coordinator.Target per configured
// (chain, network) pair. Adapter construction is deferred to the Build
// closure so a bad endpoint fails that one target at Run time rather than
// aborting the whole process at startup (spec §4.1).
func buildTargets(cfg *config.Config, gateway storage.Gateway, applier *ledger.Applier, collector metrics.Collector, logger *slog.Logger) []coordinator.Target {
	var targets []coordinator.Target

	chains := []struct {
		key       chain.Key
		endpoints config.ChainEndpoints
	}{
		{chain.ETH, cfg.ETH},
		{chain.BSC, cfg.BSC},
		{chain.BTC, cfg.BTC},
		{chain.TRX, cfg.TRX},
		{chain.XRP, cfg.XRP},
	}

	for _, c := range chains {
		for _, net := range []chain.Network{chain.Mainnet, chain.Testnet} {
			pair := chain.Pair{Chain: c.key, Network: net}
			endpoints, wsURL := selectEndpoints(c.endpoints, net)
			if len(endpoints) == 0 && wsURL == "" {
				logger.Warn("no endpoints configured, skipping target", "chain", pair.Chain, "network", pair.Network)
				continue
			}
			blockDelay, checkInterval := selectTimingOverrides(c.endpoints, net)

			targets = append(targets, coordinator.Target{
				Pair: pair,
				Build: func(ctx context.Context) (*monitor.Monitor, error) {
					chainAdapter, err := newAdapter(pair, cfg, endpoints, wsURL, collector)
					if err != nil {
						return nil, err
					}
					return monitor.New(ctx, pair, chainAdapter, gateway, applier, collector, logger, blockDelay, checkInterval)
				},
			})
		}
	}

	return targets
}

func selectEndpoints(e config.ChainEndpoints, net chain.Network) ([]string, string) {
	if net == chain.Mainnet {
		return e.MainnetEndpoints, e.MainnetWS
	}
	return e.TestnetEndpoints, e.TestnetWS
}

// selectTimingOverrides returns the per-network poll interval/block delay
// overrides configured for this chain, or (0, 0) to keep chain package
// defaults (SPEC_FULL §9.3).
func selectTimingOverrides(e config.ChainEndpoints, net chain.Network) (blockDelay, checkInterval time.Duration) {
	if net == chain.Mainnet {
		return e.MainnetBlockDelayOverride, e.MainnetPollIntervalOverride
	}
	return e.TestnetBlockDelayOverride, e.TestnetPollIntervalOverride
}

func newAdapter(pair chain.Pair, cfg *config.Config, endpoints []string, wsURL string, collector metrics.Collector) (adapter.Adapter, error) {
	chainLabel := string(pair.Chain)

	switch pair.Chain {
	case chain.ETH, chain.BSC:
		httpClient, err := rpcclient.NewHTTPClient(endpoints, cfg.RPCTimeout, nil, collector, chainLabel)
		if err != nil {
			return nil, fmt.Errorf("build http client: %w", err)
		}
		var ws *rpcclient.WSClient
		if wsURL != "" {
			ws, err = rpcclient.NewWSClient(wsURL, collector, chainLabel)
			if err != nil {
				return nil, fmt.Errorf("build ws client: %w", err)
			}
		}
		return evmchain.New(pair, httpClient, ws), nil

	case chain.BTC:
		httpClient, err := rpcclient.NewHTTPClient(endpoints, cfg.RPCTimeout, nil, collector, chainLabel)
		if err != nil {
			return nil, fmt.Errorf("build http client: %w", err)
		}
		httpClient.BasicAuthUser = cfg.BTCRPCUser
		httpClient.BasicAuthPass = cfg.BTCRPCPass
		return btcchain.New(pair, httpClient), nil

	case chain.TRX:
		if len(endpoints) == 0 {
			return nil, fmt.Errorf("trx: no base URL configured")
		}
		return trxchain.New(pair, endpoints[0], cfg.TronAPIKey, collector), nil

	case chain.XRP:
		if wsURL == "" {
			return nil, fmt.Errorf("xrp: no websocket endpoint configured")
		}
		ws, err := rpcclient.NewWSClient(wsURL, collector, chainLabel)
		if err != nil {
			return nil, fmt.Errorf("build ws client: %w", err)
		}
		return xrpchain.New(pair, ws), nil
	}
	return nil, fmt.Errorf("unknown chain %q", pair.Chain)
}

// newHealthServer builds the HTTP mux exposing /healthz/{chain}/{network}
// per monitor and /metrics for Prometheus scraping.
func newHealthServer(addr string, coord *coordinator.Coordinator, collector *metrics.PromCollector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz/", healthzHandler(coord))

	return &http.Server{Addr: addr, Handler: mux}
}

func healthzHandler(coord *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chainKey, network, ok := parseHealthzPath(r.URL.Path)
		if !ok {
			http.Error(w, "expected /healthz/{chain}/{network}", http.StatusBadRequest)
			return
		}

		m := coord.Monitor(chain.Pair{Chain: chainKey, Network: network})
		if m == nil {
			http.Error(w, "unknown or excluded target", http.StatusNotFound)
			return
		}

		status := m.HealthStatus()
		w.Header().Set("Content-Type", "application/json")
		if status.State != "OK" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

func parseHealthzPath(path string) (chain.Key, chain.Network, bool) {
	const prefix = "/healthz/"
	if len(path) <= len(prefix) {
		return "", "", false
	}
	rest := path[len(prefix):]
	slash := -1
	for i, r := range rest {
		if r == '/' {
			slash = i
			break
		}
	}
	if slash < 0 || slash == len(rest)-1 {
		return "", "", false
	}
	return chain.Key(rest[:slash]), chain.Network(rest[slash+1:]), true
}
