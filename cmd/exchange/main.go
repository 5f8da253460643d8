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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	tomb "gopkg.in/tomb.v2"

	"github.com/efreitasn/singlebook/internal/auth"
	"github.com/efreitasn/singlebook/internal/config"
	"github.com/efreitasn/singlebook/internal/domain"
	"github.com/efreitasn/singlebook/internal/engine"
	"github.com/efreitasn/singlebook/internal/events"
	"github.com/efreitasn/singlebook/internal/handler"
	"github.com/efreitasn/singlebook/internal/metrics"
	"github.com/efreitasn/singlebook/internal/service"
	"github.com/efreitasn/singlebook/internal/store"
	"github.com/efreitasn/singlebook/internal/stream"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("exchange stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Catalog seed: instrument, accounts and their tokens.
	seed, err := store.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}
	instrument := seed.DomainInstrument()
	registry := domain.NewInstrumentRegistry()
	registry.Register(instrument)

	authz, err := newAuthorizer(seed, cfg.BcryptCost)
	if err != nil {
		return err
	}

	catalog, closeCatalog, err := openCatalog(cfg, seed, registry, logger)
	if err != nil {
		return err
	}
	defer closeCatalog()

	publisher := newPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("closing trade publisher failed", zap.Error(err))
		}
	}()

	m := metrics.New()
	hub := stream.NewHub(logger)

	ex := service.NewExchange(service.Deps{
		Matcher:        engine.NewMatcher(engine.NewBook(instrument), logger),
		Catalog:        catalog,
		Authorizer:     authz,
		Trades:         store.NewTradeStore(cfg.TradeHistory),
		Intents:        store.NewIntentStore(),
		Publisher:      publisher,
		Depth:          handler.NewDepthStream(hub),
		Metrics:        m,
		Logger:         logger,
		Limits:         domain.Limits{MaxPrice: cfg.MaxPrice, MaxQuantity: cfg.MaxQuantity},
		PublishTimeout: cfg.PublishTimeout,
		DepthLimit:     cfg.DepthStream,
	})

	router := handler.NewRouter(handler.RouterDeps{
		Exchange:    ex,
		Stream:      hub.ServeWS,
		Metrics:     m.Handler(),
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t, ctx := tomb.WithContext(sigCtx)

	// The publisher outlives the HTTP server so trades from requests
	// still in flight at shutdown are drained, not dropped.
	pubCtx, stopPublishing := context.WithCancel(context.Background())
	defer stopPublishing()

	t.Go(func() error {
		return hub.Run(ctx)
	})
	t.Go(func() error {
		return ex.Run(pubCtx)
	})
	t.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("instrument", instrument.Ticker),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	t.Go(func() error {
		<-t.Dying()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		stopPublishing()
		return nil
	})

	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newAuthorizer(seed *store.Seed, cost int) (*auth.TokenAuthorizer, error) {
	authz := auth.NewTokenAuthorizer(cost)
	for _, a := range seed.Accounts {
		var err error
		if a.TokenHash != "" {
			err = authz.AddHash(a.ID, a.TokenHash)
		} else {
			err = authz.Add(a.ID, a.Token)
		}
		if err != nil {
			return nil, err
		}
	}
	return authz, nil
}

// openCatalog returns a pebble-backed catalog when a store directory is
// configured, otherwise an in-memory one. Either way it holds the seeded
// accounts.
func openCatalog(cfg *config.Config, seed *store.Seed, registry *domain.InstrumentRegistry, logger *zap.Logger) (service.Catalog, func(), error) {
	if cfg.StoreDir == "" {
		mem := store.NewMemoryCatalog(registry)
		for _, a := range seed.DomainAccounts() {
			if err := mem.AddAccount(a); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("using in-memory catalog", zap.Int("accounts", mem.Len()))
		return mem, func() {}, nil
	}

	pc, err := store.OpenPebbleCatalog(cfg.StoreDir, registry)
	if err != nil {
		return nil, nil, err
	}
	written, err := pc.Seed(context.Background(), seed.DomainAccounts()...)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	logger.Info("using pebble catalog",
		zap.String("dir", cfg.StoreDir),
		zap.Int("seeded", written),
	)
	return pc, func() {
		if err := pc.Close(); err != nil {
			logger.Error("closing pebble catalog failed", zap.Error(err))
		}
	}, nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("no kafka brokers configured, logging trades")
		return events.NewLogPublisher(logger)
	}
	logger.Info("publishing trades to kafka",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}
