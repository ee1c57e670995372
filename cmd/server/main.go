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

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/broker"
	"storefront/internal/gateway"
	"storefront/internal/notify"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/sms"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Payment.BaseURL,
		KeyID:     cfg.Payment.KeyID,
		KeySecret: cfg.Payment.KeySecret,
		Timeout:   cfg.Payment.Timeout,
	})
	smsClient := sms.NewClient(cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.Sender, cfg.SMS.Timeout)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	settingsService := service.NewSettingsService(db)
	emitter := notify.NewEmitter(eventPublisher, settingsService)
	ledger := service.NewStockLedger(db)
	settler := service.NewSettler(db, ledger, eventPublisher, emitter)
	paymentService := service.NewPaymentService(db, gatewayClient, redisClient, settler,
		cfg.Payment.Currency, cfg.Business.PaymentCallbackLockTTL)
	orderService := service.NewOrderService(db, redisClient, eventPublisher, emitter, settler, ledger,
		paymentService, settingsService, service.OrderOptions{
			IdempotencyTTL:      cfg.Business.IdempotencyTTL,
			OrderNumberAttempts: cfg.Business.OrderNumberAttempts,
		})

	services := api.Services{
		Orders:   orderService,
		Payments: paymentService,
		Cart:     service.NewCartService(db, settingsService),
		Catalog:  service.NewCatalogService(db),
		Reviews:  service.NewReviewService(db),
		Settings: settingsService,
		Stock:    ledger,
		OTP: service.NewOTPService(db, redisClient, smsClient, issuer,
			cfg.Business.OTPTTL, cfg.Business.OTPResendWindow),
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, smsClient)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(services, issuer, cfg.RateLimit.RPS, cfg.RateLimit.Burst, map[string]api.Pinger{
		"database": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)
	go handler.SweepLimiters(workerCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
