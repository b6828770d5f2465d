package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erc7824/nitrolite/rpccore/pkg/electrum"
	"github.com/erc7824/nitrolite/rpccore/pkg/log"
	"github.com/erc7824/nitrolite/rpccore/pkg/transport"
)

func main() {
	logger := log.NewZapLogger(log.Config{Level: log.ParseLevel(os.Getenv("LOG_LEVEL"))}).WithName("root")

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	logger = log.NewZapLogger(config.Log).WithName("root")

	if len(os.Args) > 1 {
		runCli(logger, config, os.Args[1], os.Args[2:])
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, logger, config); err != nil {
		logger.Fatal("service failure", "error", err)
	}
	logger.Info("shutdown complete")
}

func runCli(logger log.Logger, config *Config, name string, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*config.CallTimeout)
	defer cancel()

	switch name {
	case "probe":
		if err := runProbe(ctx, logger.WithName("probe"), config); err != nil {
			logger.Fatal("probe failed", "error", err)
		}
	case "call":
		if len(args) == 0 {
			logger.Fatal("usage: rpccore call <method> [json params...]")
		}
		params := make([]any, 0, len(args)-1)
		for _, arg := range args[1:] {
			var p any
			if err := json.Unmarshal([]byte(arg), &p); err != nil {
				p = arg
			}
			params = append(params, p)
		}
		res, err := callBridge[any](ctx, config, args[0], params)
		if err != nil {
			logger.Fatal("bridge call failed", "method", args[0], "error", err)
		}
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
	case "tip":
		tip, err := callBridge[electrum.Header](ctx, config, electrum.HeadersSubscribeMethod.String(), nil)
		if err != nil {
			logger.Fatal("bridge call failed", "method", electrum.HeadersSubscribeMethod, "error", err)
		}
		fmt.Println(tip.Height)
	default:
		logger.Fatal("unknown CLI command", "name", name)
	}
}

// connect builds the transport for the selected endpoint.
func connect(ctx context.Context, logger log.Logger, config *Config, metrics *transport.Metrics) (transport.Transport, error) {
	ep, err := config.SelectEndpoint()
	if err != nil {
		return nil, err
	}
	kind, err := ep.Kind()
	if err != nil {
		return nil, err
	}
	logger.Info("connecting", "endpoint", ep.Name, "kind", kind)

	switch kind {
	case EndpointHTTP:
		return transport.NewHTTPTransport(ep.URL, transport.HTTPConfig{
			Username: ep.Username,
			Password: ep.Password,
			Timeout:  ep.Timeout,
			Breaker:  breaker.New(5, 1, 30*time.Second),
			Logger:   logger,
			Metrics:  metrics,
		}), nil
	default:
		return transport.Dial(ctx, ep.URL, transport.WebsocketConfig{
			HandshakeTimeout: ep.Timeout,
			PingInterval:     config.PingInterval,
			Logger:           logger,
			Metrics:          metrics,
		})
	}
}

func newElectrumClient(tr transport.Transport, logger log.Logger, config *Config) (*electrum.Client, error) {
	params, err := electrum.NetworkParams(config.Network)
	if err != nil {
		return nil, err
	}
	hasher, err := electrum.NewAddressScriptHasher(params, electrum.DefaultScriptHashCacheSize)
	if err != nil {
		return nil, err
	}
	return electrum.NewClient(tr, electrum.Config{
		CallTimeout: config.CallTimeout,
		Hasher:      hasher,
		Logger:      logger,
	})
}

func serve(ctx context.Context, logger log.Logger, config *Config) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := transport.NewMetrics(registry, electrum.Methods()...)

	tr, err := connect(ctx, logger, config, metrics)
	if err != nil {
		return err
	}
	defer tr.Close()

	client, err := newElectrumClient(tr, logger, config)
	if err != nil {
		return err
	}
	defer client.Close()

	bridge := NewBridge(client, config, logger)
	ln, err := bridge.Listen()
	if err != nil {
		return fmt.Errorf("opening bridge socket: %w", err)
	}
	defer bridge.Close()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	metricsServer := &http.Server{
		Addr:              config.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", config.MetricsAddr, "endpoint", "/metrics")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	bridgeErr := make(chan error, 1)
	go func() { bridgeErr <- bridge.Serve(ln) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-bridgeErr:
		logger.Error("bridge stopped", "error", err)
	}

	_ = ln.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}
	return err
}

// runProbe performs a one-shot health check of the configured endpoint.
func runProbe(ctx context.Context, logger log.Logger, config *Config) error {
	tr, err := connect(ctx, logger, config, nil)
	if err != nil {
		return err
	}
	defer tr.Close()

	client, err := newElectrumClient(tr, logger, config)
	if err != nil {
		return err
	}
	defer client.Close()

	version, err := client.ServerVersion(ctx)
	if err != nil {
		return fmt.Errorf("server.version: %w", err)
	}
	logger.Info("server version", "software", version.Software, "protocol", version.Protocol)

	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("server.ping: %w", err)
	}
	logger.Info("ping", "rtt", time.Since(start))

	tip, err := client.HeadersTip(ctx)
	if err != nil {
		return fmt.Errorf("headers: %w", err)
	}
	logger.Info("chain tip", "height", tip.Height)

	if config.ProbeAddress != "" {
		balance, err := client.GetBalance(ctx, config.ProbeAddress)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		logger.Info("balance", "address", config.ProbeAddress,
			"confirmed", electrum.SatsToBTC(balance.Confirmed), "unconfirmed", electrum.SatsToBTC(balance.Unconfirmed))
	}
	return nil
}
