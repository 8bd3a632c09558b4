package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vango-dev/livetree/internal/config"
	"github.com/vango-dev/livetree/internal/demo"
	"github.com/vango-dev/livetree/pkg/server"
	"github.com/vango-dev/livetree/pkg/snapshot"
	"github.com/vango-dev/livetree/pkg/token"
)

func serveCmd(configPath *string) *cobra.Command {
	var (
		addr      string
		websocket bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo application",
		Long: `Serve the demo application (a counter and a todo list).

Examples:
  LIVETREE_TOKEN_SECRET=change-me-please-0000 livetree serve
  livetree serve --config livetree.yaml --addr :9000 --websocket`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			if websocket {
				cfg.Server.EnableWebSocket = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides config)")
	cmd.Flags().BoolVarP(&websocket, "websocket", "w", false, "Switch pages to a websocket stream")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := cfg.Logger(logOut)
	slog.SetDefault(logger)

	resolver, closeResolver, err := newResolver(cfg, logger)
	if err != nil {
		return err
	}
	defer closeResolver()

	sc := cfg.ServerConfig().WithLogger(logger)

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sc.WithMetrics(server.NewMetrics(
			server.WithRegistry(registry),
			server.WithNamespace(cfg.Metrics.Namespace),
		))
	}

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(cfg.Tracing, logOut)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
		sc.TracerProvider = tp
	}

	srv, err := server.New(demo.New(demo.Options{}), resolver, sc)
	if err != nil {
		return err
	}
	if registry != nil {
		srv.Router().Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	logger.Info("livetree serving",
		"addr", sc.Address,
		"token_mode", cfg.Token.Mode,
		"snapshot_backend", cfg.Snapshot.Backend,
		"websocket", sc.EnableWebSocket,
		"metrics", cfg.Metrics.Enabled,
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newResolver builds the state resolver for cfg.Token.Mode. The returned
// func releases any snapshot backend.
func newResolver(cfg *config.Config, logger *slog.Logger) (token.Resolver, func(), error) {
	secret := []byte(cfg.Token.Secret)
	if cfg.Token.Mode == "jwt" {
		r, err := token.NewJWT(secret,
			token.WithAlgorithm(token.Algorithm(cfg.Token.Algorithm)),
			token.WithMaxAge(cfg.Token.MaxAge),
		)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	}

	store, err := openSnapshots(cfg.Snapshot, logger)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("snapshot store close failed", "error", err)
		}
	}
	r, err := token.NewStoreResolver(store, secret, token.WithSnapshotMaxAge(cfg.Token.MaxAge))
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return r, closeStore, nil
}

func openSnapshots(cfg config.SnapshotConfig, logger *slog.Logger) (snapshot.Store, error) {
	switch cfg.Backend {
	case "memory":
		return snapshot.NewMemoryStore(), nil
	case "badger":
		bc := snapshot.DefaultBadgerConfig(cfg.BadgerPath)
		bc.InMemory = cfg.BadgerInMemory
		bc.Logger = logger.With("component", "badger")
		store, err := snapshot.OpenBadger(bc)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		client := snapshot.NewS3Client(cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey)
		return snapshot.NewS3Store(client, snapshot.S3Config{Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix}), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

func newTracerProvider(cfg config.TracingConfig, out io.Writer) (*sdktrace.TracerProvider, error) {
	opts := []stdouttrace.Option{stdouttrace.WithWriter(out)}
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	), nil
}
