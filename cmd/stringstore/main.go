// Stringstore service.
// Reads and writes the message held by the StringStore contract on Sepolia
// and exposes the interaction state over HTTP, WebSocket and Prometheus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/stringstore/internal/config"
	"github.com/gateway-fm/stringstore/internal/contract"
	"github.com/gateway-fm/stringstore/internal/controller"
	"github.com/gateway-fm/stringstore/internal/metrics"
	"github.com/gateway-fm/stringstore/internal/network"
	"github.com/gateway-fm/stringstore/internal/ratelimit"
	"github.com/gateway-fm/stringstore/internal/rpc"
	"github.com/gateway-fm/stringstore/internal/storage"
	"github.com/gateway-fm/stringstore/internal/transport"
	"github.com/gateway-fm/stringstore/internal/txbuilder"
	"github.com/gateway-fm/stringstore/internal/wallet"
)

// shutdownTimeout bounds how long in-flight requests may run after a signal.
const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stringstore failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	net := network.Sepolia()

	rpcURL, err := cfg.ResolveRPCURL(net)
	if err != nil {
		return err
	}

	promMetrics := metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	clientCfg := rpc.DefaultClientConfig(rpcURL)
	clientCfg.Timeout = cfg.RPCTimeout
	limiter := ratelimit.New(cfg.RPCRatePerSec, cfg.RPCBurst)
	clientCfg.Limiter = limiter
	clientCfg.Observer = promMetrics.RPCObserver()
	clientCfg.Logger = logger
	client := rpc.NewHTTPClient(clientCfg)
	logger.Info("RPC client configured",
		"network", net.Name,
		"rate_per_sec", limiter.Rate(),
		"burst", limiter.Burst(),
		"timeout", cfg.RPCTimeout,
	)

	ref, err := contract.NewRef(cfg.ContractAddress, net)
	if err != nil {
		return err
	}
	store := contract.NewStringStore(client, ref, logger)

	provider, err := newProvider(cfg, client, net, logger)
	if err != nil {
		return err
	}

	history := storage.NewMemoryStorage(cfg.HistoryCapacity)
	defer history.Close()

	ctrl := controller.New(store, provider, controller.Config{
		Network:        net,
		Contract:       ref.Address,
		Storage:        history,
		Metrics:        promMetrics,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         logger,
	})
	defer ctrl.Close()

	health := &chainHealth{client: client, store: store, network: net}
	logChainHead(ctx, health, logger)

	server := transport.NewServer(ctrl, health, logger, cfg.CORSAllowedOrigins,
		transport.WithHistory(history),
		transport.WithClientGauge(promMetrics),
	)
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			"addr", cfg.ListenAddr,
			"network", net.Name,
			"contract", ref.Address.Hex(),
			"wallet", provider != nil,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	return nil
}

// logChainHead reports the node's chain and head block. Failures are not
// fatal: the node may come up later and /ready reports it.
func logChainHead(ctx context.Context, health *chainHealth, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := health.CheckRPC(ctx); err != nil {
		logger.Warn("RPC check failed at startup", "error", err)
		return
	}
	head, err := health.client.GetBlockNumber(ctx)
	if err != nil {
		logger.Warn("Failed to fetch head block", "error", err)
		return
	}
	logger.Info("Connected to node", "chain_id", health.network.ChainID, "head_block", head)
}

// newProvider builds the local wallet provider. It returns a nil interface
// when no keys are configured, which the controller reports as a missing
// wallet on connect.
func newProvider(cfg *config.Config, client rpc.Client, net *network.Network, logger *slog.Logger) (wallet.Provider, error) {
	accounts, err := cfg.Wallet.LoadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	if len(accounts) == 0 {
		logger.Warn("no wallet configured; writes are disabled")
		return nil, nil
	}

	builder := txbuilder.NewBuilder(client, net.ChainIDBig(), cfg.FeePolicy(), logger)
	return wallet.NewLocalProvider(accounts, client, builder, logger), nil
}

// chainHealth backs the readiness probe.
type chainHealth struct {
	client  rpc.Client
	store   *contract.StringStore
	network *network.Network
}

// CheckRPC checks RPC connectivity and that the node serves the expected chain.
func (h *chainHealth) CheckRPC(ctx context.Context) error {
	chainID, err := h.client.ChainID(ctx)
	if err != nil {
		return err
	}
	if chainID != h.network.ChainID {
		return fmt.Errorf("chain ID mismatch: node reports %d, want %d (%s)", chainID, h.network.ChainID, h.network)
	}
	return nil
}

// CheckContract checks that the contract is deployed at the configured address.
func (h *chainHealth) CheckContract(ctx context.Context) error {
	deployed, err := h.store.IsDeployed(ctx)
	if err != nil {
		return err
	}
	if !deployed {
		return contract.ErrNotDeployed
	}
	return nil
}
