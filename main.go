package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking/booking_api"
	"ms-booking/internal/bootstrap"
	"ms-booking/internal/config"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/voucher"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	segkafka "github.com/segmentio/kafka-go"
)

func staffVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.TokenVerifier {
	if cfg.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", err.Error())
		}
		log.Info("AUTH", fmt.Sprintf("Staff routes verified against %s", cfg.OIDCIssuer))
		return verifier
	}
	if cfg.DevSecret != "" {
		log.Warn("AUTH", "OIDC_ISSUER not set, staff routes accept HS256 tokens signed with AUTH_DEV_SECRET")
		return auth.NewHMACVerifier(cfg.DevSecret)
	}
	log.Fatal("CONFIG", "OIDC_ISSUER not set")
	return nil
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("%d", ww.Status()), time.Since(start).String())
		})
	}
}

func main() {
	logger := logger.NewLogger("booking-service")
	defer logger.Close()

	logger.Info("APP", "Starting Booking Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient, err := bootstrap.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	if err := bootstrap.Migrate(cfg, bunDB, logger); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
	}

	stack := bootstrap.Build(cfg, bunDB, redisClient, logger)
	if err := stack.EnsureTopics(); err != nil {
		logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}

	vouchers, err := voucher.NewGenerator(cfg.Voucher.SecretKey)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("VOUCHER_SECRET_KEY: %v", err))
	}

	var workers sync.WaitGroup
	goWorker := func(name string, fn func()) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn()
			logger.Info("APP", fmt.Sprintf("%s stopped", name))
		}()
	}

	goWorker("notification dispatcher", func() { stack.Dispatcher.Run(ctx) })

	reaper := stack.NewReaper()
	goWorker("expiry reaper", func() { _ = reaper.Run(ctx) })
	if cfg.Reaper.ListenExpiryKeys {
		if err := stack.Holds.EnableExpiryEvents(ctx); err == nil {
			goWorker("hold expiry listener", func() { reaper.SubscribeExpiredHolds(ctx, stack.Holds) })
		}
	}

	if cfg.Kafka.Enabled {
		consumer := stack.StatusConsumer()
		goWorker("booking status consumer", func() {
			defer consumer.Close()
			consumer.Start(ctx, func(_ context.Context, msg segkafka.Message) error {
				event, err := kafka.DecodeBookingStatus(msg)
				if err != nil {
					return err
				}
				stack.Emitter.Emit(event)
				return nil
			})
		})
	}

	handler := booking_api.NewHandler(stack.Service, stack.Reconciler, stack.Emitter, vouchers, cfg.Server.FrontendURL, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler.Mount(r, auth.Middleware(staffVerifier(ctx, cfg.Auth, logger), logger))
	logger.Info("ROUTER", "Booking, payment and admin routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// SSE streams stay open; WriteTimeout would cut them off.
		WriteTimeout: 0,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}

	cancel()
	if err := stack.Dispatcher.Close(ctxShutdown); err != nil {
		logger.Warn("NOTIFY", fmt.Sprintf("Notification queue not drained: %v", err))
	}
	workers.Wait()
	stack.Close(ctxShutdown)
	logger.Info("HTTP", "✅ Booking Service shutdown complete")
}
