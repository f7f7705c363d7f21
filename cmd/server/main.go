package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/cityingest/internal/config"
	"github.com/JonMunkholm/cityingest/internal/delivery"
	"github.com/JonMunkholm/cityingest/internal/importer"
	"github.com/JonMunkholm/cityingest/internal/logging"
	"github.com/JonMunkholm/cityingest/internal/metrics"
	"github.com/JonMunkholm/cityingest/internal/pipeline"
	"github.com/JonMunkholm/cityingest/internal/queue"
	"github.com/JonMunkholm/cityingest/internal/store"
	"github.com/JonMunkholm/cityingest/internal/transform"
	"github.com/JonMunkholm/cityingest/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup logging from config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := cfg.Validation.Rules()
	if err != nil {
		return err
	}

	checks := map[string]web.Checker{}

	cities, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	checks["store"] = cities

	tracker, closeTracker, err := openTracker(cfg)
	if err != nil {
		return err
	}
	defer closeTracker()
	if c, ok := tracker.(web.Checker); ok {
		checks["tracker"] = c
	}

	logger := slog.Default()
	m := metrics.New()

	publisher, consumer, err := openDelivery(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()
	if c, ok := publisher.(web.Checker); ok {
		checks["delivery"] = c
	}

	imp := importer.New(cities,
		importer.WithReporter(tracker),
		importer.WithMetrics(m),
		importer.WithLogger(logger),
	)

	// Import jobs started over HTTP outlive their request. They are given the
	// shutdown timeout to finish before being cancelled.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	pool := importer.NewPool(jobCtx, cfg.Import.MaxConcurrent, cfg.Import.MaxWait)

	svc := pipeline.New(pipeline.Deps{
		Engine:        transform.NewEngine(rules),
		Snapshots:     cities,
		Tracker:       tracker,
		Publisher:     publisher,
		Importer:      imp,
		Pool:          pool,
		Metrics:       m,
		Logger:        logger,
		ImportTimeout: cfg.Import.Timeout,
	})

	server := web.NewServer(web.Deps{
		Pipeline: svc,
		Tracker:  tracker,
		Pool:     pool,
		Metrics:  m,
		Checks:   checks,
	}, web.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		TrustedProxies: cfg.Server.TrustedProxies,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)

	evictor := queue.NewEvictor(tracker, queue.EvictorConfig{
		MaxAge:   cfg.Queue.MaxAge,
		Interval: cfg.Queue.EvictInterval,
	}, queue.WithEvictorLogger(logger), queue.WithEvictionHook(m.AddEvictions))
	g.Go(func() error {
		evictor.Run(gctx)
		return nil
	})

	if consumer != nil {
		slog.Info("starting import consumer", "driver", cfg.Delivery.Driver)
		g.Go(func() error {
			return consumer.Run(gctx, imp.Handler(cfg.Import.Timeout))
		})
	}

	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Server.Addr())
		if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Wait for active imports to complete (with timeout)
		status := pool.Status()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
		}
		if err := pool.Drain(shutdownCtx); err != nil {
			slog.Warn("imports did not complete in time", "error", err)
		} else if status.Active > 0 {
			slog.Info("all imports completed")
		}
		cancelJobs()
		return nil
	})

	return g.Wait()
}

// openStore connects the configured city store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		slog.Warn("using in-memory store; cities are lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	pg := store.NewPostgres(pool)
	if cfg.Database.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("schema applied")
	}
	return pg, pool.Close, nil
}

// openTracker builds the configured batch tracker.
func openTracker(cfg *config.Config) (queue.Tracker, func(), error) {
	if cfg.Queue.Backend != "redis" {
		return queue.NewMemoryTracker(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	tracker := queue.NewRedisTracker(client).WithPrefix(cfg.Redis.Prefix)
	slog.Info("using redis tracker", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	return tracker, func() { _ = client.Close() }, nil
}

// openDelivery builds the publisher and, when this process imports, the
// consumer for the configured channel.
func openDelivery(cfg *config.Config, logger *slog.Logger) (delivery.Publisher, delivery.Consumer, error) {
	codec, err := delivery.CodecByName(cfg.Delivery.Codec)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Delivery.Driver != "kafka" {
		ch := delivery.NewMemoryChannel(codec, cfg.Delivery.Buffer, delivery.WithLogger(logger))
		if !cfg.Delivery.Consume {
			slog.Warn("in-memory delivery without a consumer; published batches are never imported")
			return ch, nil, nil
		}
		return ch, ch, nil
	}

	kcfg := kafkaConfig(cfg.Kafka)
	pub, err := delivery.NewKafkaPublisher(kcfg, codec, delivery.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Delivery.Consume {
		return pub, nil, nil
	}
	cons, err := delivery.NewKafkaConsumer(kcfg, delivery.WithLogger(logger))
	if err != nil {
		pub.Close()
		return nil, nil, err
	}
	return pub, cons, nil
}

func kafkaConfig(c config.KafkaConfig) delivery.KafkaConfig {
	return delivery.KafkaConfig{
		Brokers:  c.Brokers,
		Topic:    c.Topic,
		Group:    c.Group,
		ClientID: c.ClientID,
	}
}
