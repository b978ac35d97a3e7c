package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tyrowin/campuschat/internal/logger"
	"github.com/Tyrowin/campuschat/internal/metrics"
	"github.com/Tyrowin/campuschat/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := server.NewConfigFromEnv()

	cmd := &cobra.Command{
		Use:           "campuschat",
		Short:         "Realtime presence and direct-message server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg.Sanitize())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Port, "port", cfg.Port, "listen address (SERVER_PORT)")
	flags.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "allowed WebSocket origins (ALLOWED_ORIGINS)")
	flags.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "message store: memory, postgres, mongo or redis (STORE_DRIVER)")
	flags.StringVar(&cfg.PostgresURL, "database-url", cfg.PostgresURL, "PostgreSQL connection string (DATABASE_URL)")
	flags.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection URI (MONGO_URI)")
	flags.StringVar(&cfg.MongoDatabase, "mongo-database", cfg.MongoDatabase, "MongoDB database name (MONGO_DATABASE)")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address (REDIS_ADDR)")
	flags.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server URL for message events (NATS_URL)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (LOG_LEVEL)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json (LOG_FORMAT)")
	flags.BoolVar(&cfg.TraceSpans, "trace", cfg.TraceSpans, "log finished trace spans at debug level (TRACE_SPANS)")
	return cmd
}

func run(ctx context.Context, cfg *server.Config) error {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(metrics.Config{Registry: registry})

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	deps := server.Deps{
		Verifier:  b.verifier,
		Directory: b.directory,
		Messages:  b.messages,
		Logger:    log,
		Metrics:   m,
	}
	if cfg.TraceSpans {
		tp := newTracerProvider(log.Named("trace"))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Warn("tracer provider shutdown error", zap.Error(err))
			}
		}()
		deps.TracerProvider = tp
	}
	hub := server.NewHub(cfg, deps)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub, registry))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, log)
	}()

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub did not shut down cleanly", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}
