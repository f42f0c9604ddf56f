package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/audit"
	"checkout-service/internal/broker"
	"checkout-service/internal/gateway"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer("checkout-service", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	auditProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAudit)
	defer auditProducer.Close()
	logger.Info("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(producer)
	auditRecorder := audit.NewKafkaRecorder(auditProducer)
	defer auditRecorder.Close()

	var gw gateway.Gateway
	var defaultMethod string
	switch cfg.Gateway.Mode {
	case "http":
		gw = gateway.NewHTTPClient(cfg.Gateway.URL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	default:
		logger.Warn("Using in-process sandbox payment gateway")
		gw = gateway.NewSandbox()
		defaultMethod = gateway.TestMethodVisa
	}

	catalog := redisclient.NewCatalogCache(redisClient, cfg.Business.CatalogCacheTTL, db.GetCatalogItem)

	cartService := service.NewCartService(db, catalog)
	checkoutService := service.NewCheckoutService(
		db,
		redisClient,
		catalog,
		eventPublisher,
		auditRecorder,
		cfg.Business.TaxRate,
		cfg.Business.CheckoutIdempotencyTTL,
	)
	paymentService := service.NewPaymentService(
		db,
		gw,
		redisClient,
		service.NewInventoryAllocator(),
		eventPublisher,
		auditRecorder,
		service.PaymentConfig{
			DefaultCurrency:      cfg.Business.DefaultCurrency,
			IntentLockTTL:        cfg.Business.IntentLockTTL,
			DefaultPaymentMethod: defaultMethod,
		},
	)
	orderService := service.NewOrderService(db, paymentService, eventPublisher, auditRecorder)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	gatewayConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicGatewayEvents, cfg.Kafka.ConsumerGroup)
	gatewayWorker := worker.NewGatewayEventWorker(gatewayConsumer, db, paymentService)
	go func() {
		if err := gatewayWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Gateway event worker error", zap.Error(err))
		}
	}()

	poller := worker.NewReconcilePoller(db, paymentService, cfg.Reconcile.Interval, cfg.Reconcile.MinAge)
	go func() {
		if err := poller.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Reconcile poller error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, checkoutService, orderService, paymentService, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux}
		go func() {
			logger.Info("Starting metrics server", zap.String("port", port))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	if err := gatewayWorker.Stop(); err != nil {
		logger.Error("Failed to stop gateway event worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
