package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/llmer/adapter"
	"github.com/justapithecus/llmer/adapter/redis"
	"github.com/justapithecus/llmer/adapter/webhook"
	"github.com/justapithecus/llmer/backend"
	"github.com/justapithecus/llmer/cli/config"
	"github.com/justapithecus/llmer/lode"
	"github.com/justapithecus/llmer/log"
	"github.com/justapithecus/llmer/metrics"
	"github.com/justapithecus/llmer/runtime"
	"github.com/justapithecus/llmer/server"
	"github.com/justapithecus/llmer/tokens"
)

// EnvAPIKey is read when neither the config file nor a flag sets the
// backend API key.
const EnvAPIKey = "OPENAI_API_KEY"

// shutdownTimeout bounds the final metrics write and exporter shutdown.
const shutdownTimeout = 10 * time.Second

// offlineReply is streamed by the scripted provider.
var offlineReply = backend.ScriptedReply{Deltas: []string{"I am running without a language model."}}

// ServeCommand returns the serve command, the relay's only long-running
// entrypoint.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Accept client connections and relay conversations to the backend",
		Flags:  serveFlags(),
		Action: serveAction,
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to llmer.yaml"},
		&cli.StringSliceFlag{Name: "env-file", Usage: "Dotenv files to load (default: .env)"},
		&cli.StringFlag{Name: "listen", Usage: "TCP listen address (default :8085)"},
		&cli.Int64Flag{Name: "max-connections", Usage: "Maximum concurrent sessions"},
		&cli.BoolFlag{Name: "reject-when-full", Usage: "Close connections beyond --max-connections instead of holding them"},
		&cli.StringFlag{Name: "provider", Usage: "Backend provider: openai or scripted"},
		&cli.StringFlag{Name: "model", Usage: "Chat model name"},
		&cli.StringFlag{Name: "storage", Usage: "Stats storage backend: file, fs or s3"},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (file/fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "dataset", Usage: "Lode dataset ID for fs and s3 (default: \"llmer\")"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
		&cli.StringFlag{Name: "metrics-listen", Usage: "Prometheus exporter address (disabled when empty)"},
		&cli.DurationFlag{Name: "idle-timeout", Usage: "Close sessions idle for this long"},
	}
}

func serveAction(c *cli.Context) error {
	if _, err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	cfg, err := loadServeConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger := log.NewLogger(level)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := buildBackend(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	counter := tokens.NewTiktokenCounter(cfg.Tokens.Model)
	if counter.Approximate() {
		logger.Warn("tokenizer unavailable, token counts are estimates", map[string]any{"model": cfg.Tokens.Model})
	}
	collector := metrics.NewCollector(client.Model(), cfg.Storage.Backend)

	storage, err := buildStorage(ctx, cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize storage: %v", err), 1)
	}

	publisher, err := buildAdapter(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize adapter: %v", err), 1)
	}
	defer func() { _ = publisher.Close() }()

	if cfg.Metrics.Listen != "" {
		exporter := metrics.NewExporter(cfg.Metrics.Listen, collector)
		go func() {
			if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics exporter stopped", map[string]any{"error": err.Error()})
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = exporter.Shutdown(sctx)
		}()
		logger.Info("metrics exporter listening", map[string]any{"addr": cfg.Metrics.Listen})
	}

	srv := server.New(serverConfig(cfg, client.Model()), server.Deps{
		Backend:   client,
		Tokens:    counter,
		Recorders: lode.Instrument(storage.recorders, collector),
		Images:    storage.images,
		Publisher: publisher,
		Collector: collector,
		Logger:    logger,
	})

	logger.Info("relay starting", map[string]any{
		"model":           client.Model(),
		"provider":        cfg.Backend.Provider,
		"storage_backend": cfg.Storage.Backend,
		"storage_path":    cfg.Storage.Path,
		"adapter":         cfg.Adapter.Type,
	})

	serveErr := srv.ListenAndServe(ctx)

	if storage.metrics != nil {
		writeShutdownMetrics(storage.metrics, collector, logger)
	}

	if serveErr != nil {
		return cli.Exit(serveErr.Error(), 1)
	}
	return nil
}

// loadServeConfig merges config file, flags and environment, then applies
// defaults and validates.
func loadServeConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("max-connections") {
		cfg.MaxConnections = c.Int64("max-connections")
	}
	if c.IsSet("reject-when-full") {
		cfg.RejectWhenFull = c.Bool("reject-when-full")
	}
	if c.IsSet("provider") {
		cfg.Backend.Provider = c.String("provider")
	}
	if c.IsSet("model") {
		cfg.Backend.Model = c.String("model")
	}
	if c.IsSet("storage") {
		cfg.Storage.Backend = c.String("storage")
	}
	if c.IsSet("storage-path") {
		cfg.Storage.Path = c.String("storage-path")
	}
	if c.IsSet("dataset") {
		cfg.Storage.Dataset = c.String("dataset")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("metrics-listen") {
		cfg.Metrics.Listen = c.String("metrics-listen")
	}
	if c.IsSet("idle-timeout") {
		cfg.IdleTimeout.Duration = c.Duration("idle-timeout")
	}

	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv(EnvAPIKey)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildBackend(cfg *config.Config) (backend.Client, error) {
	switch cfg.Backend.Provider {
	case "openai":
		return backend.NewOpenAIClient(backend.OpenAIConfig{
			APIKey:  cfg.Backend.APIKey,
			Model:   cfg.Backend.Model,
			BaseURL: cfg.Backend.BaseURL,
			Timeout: cfg.Backend.Timeout.Duration,
		})
	case "scripted":
		return backend.NewScriptedClient(cfg.Backend.Model, offlineReply), nil
	default:
		return nil, fmt.Errorf("unknown backend provider: %s", cfg.Backend.Provider)
	}
}

// storageStack holds the per-backend persistence components.
type storageStack struct {
	recorders lode.RecorderFactory
	images    lode.ImageStore
	// metrics is set for the Lode backends, which also record a process
	// metrics snapshot at shutdown.
	metrics *lode.LodeRecorderFactory
}

func buildStorage(ctx context.Context, cfg *config.Config) (*storageStack, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case "file":
		if err := os.MkdirAll(sc.Path, 0o755); err != nil {
			return nil, lode.WrapInitError(err, sc.Path)
		}
		return &storageStack{
			recorders: lode.FileRecorderFactory{Dir: sc.Path},
			images:    lode.FileImageStore{Dir: sc.Path},
		}, nil

	case "fs", "s3":
		var factory lodelibrary.StoreFactory
		if sc.Backend == "fs" {
			factory = lodelibrary.NewFSFactory(sc.Path)
		} else {
			f, err := lode.NewS3StoreFactory(ctx, s3ConfigFor(sc))
			if err != nil {
				return nil, err
			}
			factory = f
		}
		recorders := &lode.LodeRecorderFactory{Dataset: sc.Dataset, Factory: factory}
		return &storageStack{
			recorders: recorders,
			images:    lode.NewLodeImageStore(sc.Dataset, factory),
			metrics:   recorders,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", sc.Backend)
	}
}

func buildAdapter(cfg *config.Config) (adapter.Adapter, error) {
	ac := cfg.Adapter
	retries := webhook.DefaultRetries
	if ac.Retries != nil {
		retries = *ac.Retries
	}

	switch ac.Type {
	case "":
		return adapter.Nop{}, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:      ac.URL,
			Channel:  ac.Channel,
			Encoding: redis.Encoding(ac.Encoding),
			Timeout:  ac.Timeout.Duration,
			Retries:  retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s", ac.Type)
	}
}

// writeShutdownMetrics records the process counters. Failure is logged only.
func writeShutdownMetrics(f *lode.LodeRecorderFactory, collector *metrics.Collector, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	now := time.Now()
	rec, err := f.MetricsRecorder(now)
	if err == nil {
		err = rec.WriteMetrics(ctx, collector.Snapshot(), now)
	}
	if err != nil {
		logger.Error("failed to write metrics record", map[string]any{"error": err.Error()})
		return
	}
	logger.Info("metrics record written", nil)
}

func serverConfig(cfg *config.Config, model string) server.Config {
	return server.Config{
		Addr:           cfg.Listen,
		MaxConnections: cfg.MaxConnections,
		RejectWhenFull: cfg.RejectWhenFull,
		Session: runtime.Config{
			IdleTimeout:        cfg.IdleTimeout.Duration,
			WriteTimeout:       cfg.WriteTimeout.Duration,
			StreamStallTimeout: cfg.StreamStallTimeout.Duration,
			Model:              model,
		},
	}
}
