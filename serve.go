package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-svc/cache"
	"storefront-svc/catalog"
	"storefront-svc/checkout"
	"storefront-svc/config"
	"storefront-svc/fulfillment"
	storefrontgrpc "storefront-svc/grpc"
	"storefront-svc/handlers"
	"storefront-svc/kafka"
	"storefront-svc/middleware"
	"storefront-svc/notifier"
	"storefront-svc/webhook"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func runServe(envFile string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	if cfg.App.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning)
	}

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(config.ServiceName, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Catalog must load before anything is served
	idx, err := catalog.NewIndex(cfg.Catalog.Path, cfg.Catalog.StorageBaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to load catalog", zap.Error(err))
	}

	// Redis is optional: rate limiting and fulfillment dedup
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = cache.InitRedis(cfg.Redis.URL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
	}

	// Kafka is optional: order_fulfilled audit events
	var producer sarama.SyncProducer
	if cfg.Kafka.Broker != "" {
		producer, err = kafka.InitProducer(cfg.Kafka.Broker, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
	}

	builder := checkout.NewBuilder(
		checkout.NewStripeSessions(cfg.Stripe.SecretKey),
		idx,
		checkout.Config{ProductName: cfg.Stripe.ProductName, FullPackPriceID: cfg.Stripe.FullPackPriceID},
		logger,
	)

	n := notifier.NewNotifier(idx, notifier.SelectSender(cfg.Mail, logger), cfg.Mail.Timeout, logger)

	var opts []fulfillment.Option
	if cfg.Fulfillment.Dedup && redisClient != nil {
		opts = append(opts, fulfillment.WithDeduper(cache.NewSessionDeduper(redisClient, cfg.Fulfillment.DedupTTL)))
		logger.Info("Fulfillment dedup enabled", zap.Duration("ttl", cfg.Fulfillment.DedupTTL))
	}
	if producer != nil {
		opts = append(opts, fulfillment.WithPublisher(kafka.NewFulfillmentPublisher(producer, cfg.Kafka.Topic, logger)))
	}
	dispatcher := fulfillment.NewDispatcher(idx, n, logger, opts...)

	router := handlers.NewRouter(handlers.RouterDeps{
		Catalog:            idx,
		Checkout:           handlers.NewCheckoutHandler(builder, cfg.App.PublicBaseURL, logger),
		Webhook:            handlers.NewWebhookHandler(webhook.NewVerifier(cfg.Stripe.WebhookSecret, logger), dispatcher, logger),
		Redis:              redisClient,
		RateLimit:          cfg.RateLimit,
		CORSAllowedOrigins: cfg.App.CORSAllowedOrigins,
		Logger:             logger,
	})

	restSrv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	logger.Info("Storefront Service REST API started", zap.String("addr", restSrv.Addr))

	var healthSrv *storefrontgrpc.HealthServer
	if cfg.App.GRPCPort != "" {
		healthSrv = storefrontgrpc.NewHealthServer(idx, logger)
		lis, err := healthSrv.Listen(cfg.App.GRPCPort)
		if err != nil {
			logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
		}
		go func() {
			if err := healthSrv.Serve(lis); err != nil {
				logger.Error("gRPC server stopped", zap.Error(err))
			}
		}()
	}

	waitForShutdown(idx, healthSrv, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("REST server stopped gracefully")
	}

	if healthSrv != nil {
		healthSrv.GracefulStop()
		logger.Info("gRPC server stopped gracefully")
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("Failed to close Kafka producer", zap.Error(err))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis", zap.Error(err))
		}
	}

	shutdownTracing()
	logger.Info("Storefront Service exited gracefully")
	return nil
}

// waitForShutdown blocks until SIGINT/SIGTERM. SIGHUP reloads the catalog.
func waitForShutdown(idx *catalog.Index, healthSrv *storefrontgrpc.HealthServer, logger *zap.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for sig := range signals {
		if sig != syscall.SIGHUP {
			logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
			return
		}
		if err := idx.Reload(); err == nil && healthSrv != nil {
			healthSrv.Refresh()
		}
	}
}
