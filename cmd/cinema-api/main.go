package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_cinema/internal/cart"
	"github.com/fjod/go_cinema/internal/cart/cache"
	"github.com/fjod/go_cinema/internal/cart/repository"
	"github.com/fjod/go_cinema/internal/catalog"
	"github.com/fjod/go_cinema/internal/checkout"
	"github.com/fjod/go_cinema/internal/config"
	h "github.com/fjod/go_cinema/internal/http"
	"github.com/fjod/go_cinema/internal/ledger"
	"github.com/fjod/go_cinema/internal/logger"
	"github.com/fjod/go_cinema/internal/metrics"
	"github.com/fjod/go_cinema/internal/notification"
	"github.com/fjod/go_cinema/internal/order"
	"github.com/fjod/go_cinema/internal/outbox"
	"github.com/fjod/go_cinema/internal/payment"
	"github.com/fjod/go_cinema/internal/payment/provider"
	"github.com/fjod/go_cinema/internal/pricing"
	"github.com/fjod/go_cinema/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	if err := run(cfg, zl); err != nil {
		zl.Fatal("service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	l, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	defer l.Close()

	movies, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer movies.Close()
	if err := movies.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	log.Info("catalog ready", zap.String("path", cfg.CatalogDBPath))

	mongoDB, err := repository.ConnectMongoDB(ctx, repository.MongoConfig{
		URI:         cfg.MongoURI,
		Database:    cfg.MongoDBName,
		AppName:     cfg.ServiceName,
		MaxPoolSize: cfg.MongoMaxPool,
	})
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoDB.Client().Disconnect(context.Background())
	if err := repository.CreateIndexes(ctx, mongoDB); err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}
	log.Info("connected to MongoDB", zap.String("db", cfg.MongoDBName))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	providers, err := buildProviders(cfg, log)
	if err != nil {
		return err
	}
	log.Info("payment provider selected", zap.String("provider", providers.active.Name()))

	machine := order.NewMachine(l, log, m)
	coord := payment.NewCoordinator(l, machine, providers.active, payment.Config{
		Timeout:   cfg.PaymentTimeout,
		ReturnURL: cfg.PaymentReturnURL,
	}, log, m)
	cartCache := cache.NewRedisCache(redisClient, cache.Config{
		KeyPrefix: cfg.CartCachePrefix,
		TTL:       cfg.CartCacheTTL,
		Jitter:    cfg.CartCacheJitter,
	})
	carts := cart.NewService(repository.NewMongoRepository(mongoDB), cartCache, l, log)
	checkoutSvc := checkout.NewService(carts, pricing.NewEngine(movies, cfg.Currency), machine, l, coord, log)

	webhooks := h.NewWebhooksHandler(coord, h.WebhooksConfig{
		Token:        cfg.WebhookToken,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Timeout:      cfg.RequestTimeout,
	}, log)
	if providers.stripe != nil {
		webhooks.WithStripe(providers.stripe)
	}
	if providers.omise != nil {
		webhooks.WithOmise(providers.omise)
	}
	if providers.sandbox != nil {
		webhooks.WithSandbox(providers.sandbox)
	}

	router := h.NewRouter(h.RouterConfig{
		ServiceName:    cfg.ServiceName,
		JWTSecret:      []byte(cfg.JWTSecret),
		RequestTimeout: cfg.RequestTimeout,
	}, h.Handlers{
		Movies:   h.NewMoviesHandler(movies, cfg.RequestTimeout, log),
		Cart:     h.NewCartHandler(carts, cfg.RequestTimeout, log),
		Checkout: h.NewCheckoutHandler(checkoutSvc, cfg.RequestTimeout, log),
		Orders:   h.NewOrdersHandler(machine, coord, cfg.RequestTimeout, log),
		Webhooks: webhooks,
	}, m, reg)

	relay := outbox.NewRelay(l, outbox.NewKafkaWriter(cfg.OrderEventsTopic, cfg.KafkaBrokers...), log, m)
	defer relay.Close()

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}
	consumer := notification.NewConsumer(
		notification.NewKafkaReader(cfg.OrderEventsTopic, cfg.NotificationGroup, cfg.KafkaBrokers...),
		notifier, log)
	defer consumer.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      http.MaxBytesHandler(router, cfg.MaxBodyBytes),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("cinema API starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server...")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	wg.Wait()

	log.Info("server exited")
	return nil
}

func openLedger(cfg *config.Config, log *zap.Logger) (ledger.Ledger, error) {
	if cfg.LedgerDriver == "memory" {
		log.Warn("using in-memory ledger, orders are lost on restart")
		return ledger.NewMemoryLedger(), nil
	}

	creds := &ledger.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	l, err := ledger.NewPostgresLedger(creds, log)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	if err := l.RunMigrations(creds); err != nil {
		l.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	log.Info("connected to PostgreSQL", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
	return l, nil
}

type providerSet struct {
	active  provider.Provider
	stripe  *provider.Stripe
	omise   *provider.Omise
	sandbox *provider.Sandbox
}

func buildProviders(cfg *config.Config, log *zap.Logger) (*providerSet, error) {
	set := &providerSet{}
	var p provider.Provider

	switch cfg.PaymentProvider {
	case "stripe":
		set.stripe = provider.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil)
		p = set.stripe
	case "omise":
		o, err := provider.NewOmise(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.OmiseSourceType)
		if err != nil {
			return nil, fmt.Errorf("create omise client: %w", err)
		}
		set.omise = o
		p = o
	default:
		set.sandbox = provider.NewSandbox(cfg.SandboxBaseURL, provider.RandomOutcome{})
		p = set.sandbox
	}

	set.active = provider.NewBreaker(p, provider.BreakerSettings{
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
	}, log)
	return set, nil
}

func buildNotifier(cfg *config.Config, log *zap.Logger) (notification.Notifier, error) {
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST not set, notifications are logged only")
		return notification.NewLogNotifier(log), nil
	}
	mailer, err := notification.NewMailer(notification.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("create mailer: %w", err)
	}
	return mailer, nil
}
