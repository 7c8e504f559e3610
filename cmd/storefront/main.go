package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/consumer"
	"github.com/fjod/go_cart/storefront/internal/health"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/ledger"
	"github.com/fjod/go_cart/storefront/internal/lock"
	"github.com/fjod/go_cart/storefront/internal/notify"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/publisher"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/reservation"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/fjod/go_cart/storefront/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// backend groups the persistence ports used by the checkout flow
type backend struct {
	tx           store.Transactor
	stock        store.StockStore
	reservations store.ReservationStore
	orders       store.OrderStore
	outbox       store.OutboxStore
	products     catalog.ProductReader
	carts        catalog.CartReader
	checks       map[string]health.Check
	closers      []func()
}

func openBackend(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*backend, error) {
	b := &backend{checks: map[string]health.Check{}}

	if cfg.StoreBackend == config.BackendMemory {
		mem := store.NewMemoryStore()
		b.tx, b.stock, b.reservations, b.orders, b.outbox = mem, mem, mem, mem, mem
		b.products, b.carts = mem, mem
		zl.Warn("using in-memory store, data is lost on restart")
		return b, nil
	}

	cred := &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	repo, err := repository.NewRepository(cred, zl)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = repo.Close() })
	if err := repo.RunMigrations(cred); err != nil {
		return nil, err
	}
	b.tx, b.stock, b.reservations, b.orders, b.outbox = repo, repo, repo, repo, repo
	b.products = repo
	b.checks["postgres"] = repo.Ping

	mongoDB, err := catalog.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = mongoDB.Client().Disconnect(context.Background()) })
	carts := catalog.NewMongoCartReader(mongoDB)
	if err := carts.CreateIndexes(ctx); err != nil {
		return nil, err
	}
	b.carts = carts
	b.checks["mongodb"] = func(ctx context.Context) error { return mongoDB.Client().Ping(ctx, nil) }
	zl.Info("connected to mongodb", zap.String("database", cfg.MongoDatabase))

	return b, nil
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	b, err := openBackend(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to open storage", zap.Error(err))
	}
	defer b.Close()

	// Redis backs the product cache and the cross-replica checkout lock
	var locker lock.Locker = lock.NewLocalLocker()
	products := b.products
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zl.Fatal("redis connection failed", zap.Error(err))
		}
		zl.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))
		locker = lock.NewRedisLocker(redisClient)
		products = catalog.NewCachedProductReader(products, redisClient, cfg.ProductCacheTTL, zl)
		b.checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var sink notify.Sink = notify.NewLogSink(zl)
	var kafkaSink *notify.KafkaSink
	var outboxWriter publisher.Writer
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafkaSink(notify.NewKafkaWriter(cfg.NotificationsTopic, cfg.KafkaBrokers...))
		sink = kafkaSink
		outboxWriter = publisher.NewOutboxWriter(cfg.OrderEventsTopic, cfg.KafkaBrokers...)
	}
	notifier := notify.NewNotifier(sink, cfg.NotifyQueueSize, cfg.LowStockThreshold, zl)

	stockLedger := ledger.NewLedger(b.stock, notifier, zl)
	reservations := reservation.NewManager(stockLedger, b.reservations, b.tx, cfg.ReservationTTL, zl)

	var payments payment.Client
	if cfg.PaymentProviderURL == "" {
		zl.Warn("no payment provider configured, using the simulator")
		payments = payment.NewSimulator(payment.RandomOutcome{})
	} else {
		payments = payment.NewHTTPClient(cfg.PaymentProviderURL, cfg.PaymentAPIKey, cfg.PaymentTimeout, zl)
	}

	checkoutCfg := checkout.DefaultConfig()
	checkoutCfg.PaymentTimeout = cfg.PaymentTimeout
	checkoutCfg.LockTTL = cfg.CheckoutLockTTL
	svc := checkout.NewCheckoutService(checkout.Deps{
		Carts:        b.carts,
		Products:     products,
		Ledger:       stockLedger,
		Reservations: reservations,
		Orders:       b.orders,
		Outbox:       b.outbox,
		Tx:           b.tx,
		Payments:     payments,
		Locker:       locker,
		Alerts:       notifier,
		Log:          zl,
	}, checkoutCfg)

	var wg sync.WaitGroup
	background := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	sweeperCfg := checkout.DefaultSweeperConfig()
	sweeperCfg.Interval = cfg.SweepInterval
	sweeperCfg.BatchSize = cfg.SweepBatchSize
	background(checkout.NewSweeper(svc, sweeperCfg, zl).Run)

	var poller *publisher.OutboxPoller
	if outboxWriter != nil {
		poller = publisher.NewOutboxPoller(b.outbox, outboxWriter, cfg.OutboxInterval, zl)
		background(poller.Run)
	}

	var paymentConsumer *consumer.Consumer
	if cfg.PaymentEventsTopic != "" && len(cfg.KafkaBrokers) > 0 {
		paymentConsumer = consumer.NewConsumer(svc, consumer.NewReader(cfg.PaymentEventsTopic, cfg.KafkaBrokers...), zl)
		background(paymentConsumer.Run)
	}

	monitor := health.NewMonitor(b.checks, 10*time.Second, zl)
	background(monitor.Run)

	router := h.NewRouter(h.Handlers{
		Checkout:  h.NewCheckoutHandler(svc, cfg.RequestTimeout, zl),
		Orders:    h.NewOrdersHandler(svc, cfg.RequestTimeout, zl),
		Webhook:   h.NewWebhookHandler(svc, cfg.WebhookSecret, cfg.RequestTimeout, zl),
		Inventory: h.NewInventoryHandler(stockLedger, cfg.RequestTimeout, zl),
	}, cfg.RequestTimeout, zl)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		zl.Info("HTTP server starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		zl.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	grpcServer := monitor.NewGRPCServer()
	go func() {
		zl.Info("gRPC health server listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			zl.Fatal("failed to serve", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down storefront...")
	monitor.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	stop()
	wg.Wait()

	if paymentConsumer != nil {
		if err := paymentConsumer.Close(); err != nil {
			zl.Warn("failed to close payment event reader", zap.Error(err))
		}
	}
	if poller != nil {
		if err := poller.Close(); err != nil {
			zl.Warn("failed to close outbox writer", zap.Error(err))
		}
	}
	if err := notifier.Close(); err != nil {
		zl.Warn("failed to close notifier", zap.Error(err))
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			zl.Warn("failed to close notification writer", zap.Error(err))
		}
	}
	zl.Info("storefront stopped")
}
