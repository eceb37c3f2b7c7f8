// Command echod serves the echo/add protocol over TCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"echo-rpc/codec"
	"echo-rpc/config"
	"echo-rpc/logging"
	"echo-rpc/metrics"
	"echo-rpc/middleware"
	"echo-rpc/registry"
	"echo-rpc/server"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "echod: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "echod: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echod: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("echod failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	framer, err := cfg.Framer()
	if err != nil {
		return err
	}
	m := metrics.New()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithCodec(codec.Get(cfg.CodecType())),
		server.WithFramer(framer),
		server.WithPollInterval(cfg.Server.PollInterval),
		server.WithAcceptPollInterval(cfg.Server.AcceptPollInterval),
		server.WithMiddleware(middlewares(cfg.Limits, logger, m)...),
	}
	if cfg.Limits.MaxConnections > 0 {
		opts = append(opts, server.WithMaxConnections(cfg.Limits.MaxConnections))
	}

	if len(cfg.Registry.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, server.WithRegistry(reg, cfg.Registry.Service, cfg.AdvertiseAddr(), cfg.Registry.TTL))
	}

	svr, err := server.New(cfg.Server.Addr, opts...)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		hs := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr), zap.String("path", cfg.Metrics.Path))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer hs.Close()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- svr.Run() }()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := svr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-runErr
}

// middlewares returns the dispatch chain, outermost first. The rate limiter
// sits outside logging and metrics so dropped requests are not counted as
// dispatched.
func middlewares(limits config.LimitsConfig, logger *zap.Logger, m *metrics.Metrics) []middleware.Middleware {
	var mws []middleware.Middleware
	if limits.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(limits.RateLimit, limits.RateBurst, logger, m))
	}
	return append(mws, middleware.Logging(logger), middleware.Metrics(m))
}
