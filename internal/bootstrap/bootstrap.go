// Package bootstrap wires the booking service from configuration. The HTTP
// server, the standalone reaper and bookingctl share it.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"ms-booking/internal/booking"
	"ms-booking/internal/booking/db"
	bookingredis "ms-booking/internal/booking/redis"
	"ms-booking/internal/capacity"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/gateway"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/notification"
	"ms-booking/internal/reaper"
	"ms-booking/internal/sse"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Connect opens Postgres and Redis, retrying Postgres while it starts up.
func Connect(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client, error) {
	if cfg.Database.DSN == "" {
		return nil, nil, fmt.Errorf("POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, connectAttempts))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if sqldb != nil {
			_ = sqldb.Close()
		}
		if i < connectAttempts-1 {
			time.Sleep(connectBackoff)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", connectAttempts, err)
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = sqldb.Close()
		return nil, nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))

	return bun.NewDB(sqldb, pgdialect.New()), redisClient, nil
}

// Migrate applies the embedded schema migrations when auto-migration is on.
func Migrate(cfg *config.Config, bunDB *bun.DB, log *logger.Logger) error {
	if !cfg.Database.AutoMigrate {
		log.Info("DATABASE", "Automatic migrations disabled")
		return nil
	}
	runner := migrations.NewRunner(bunDB.DB, migrations.Options{SeedData: os.Getenv("DB_SEED_DEMO") == "true"}, log)
	defer runner.Close()
	return runner.Up()
}

// Stack is the fully wired booking core.
type Stack struct {
	Config     *config.Config
	Bun        *bun.DB
	Redis      *redis.Client
	DB         *db.DB
	Holds      *bookingredis.Holds
	Ledger     *capacity.Ledger
	Gateway    *gateway.Client
	Producer   *kafka.Producer
	Dispatcher *notification.Dispatcher
	Emitter    *sse.BookingEventEmitter
	Service    *booking.BookingService
	Reconciler *booking.Reconciler

	logger *logger.Logger
}

// Build wires the booking service. With Kafka disabled, notifications go to
// the log and status events go straight to this instance's SSE clients.
func Build(cfg *config.Config, bunDB *bun.DB, redisClient *redis.Client, log *logger.Logger) *Stack {
	s := &Stack{
		Config:  cfg,
		Bun:     bunDB,
		Redis:   redisClient,
		DB:      db.New(bunDB, log),
		Holds:   bookingredis.NewHolds(redisClient, log),
		Ledger:  capacity.NewLedger(bunDB, log),
		Gateway: gateway.NewClient(cfg.Gateway, nil, log),
		Emitter: sse.NewBookingEventEmitter(),
		logger:  log,
	}

	var notifyPublisher notification.Publisher = notification.LogPublisher{Logger: log}
	var events booking.EventPublisher = s.Emitter
	if cfg.Kafka.Enabled {
		s.Producer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		notifyPublisher = s.Producer
		events = &kafka.StatusPublisher{Producer: s.Producer, Topic: cfg.Kafka.Topics.BookingStatus}
	}
	s.Dispatcher = notification.NewDispatcher(notifyPublisher, cfg.Kafka.Topics.Notifications, 0, log)
	s.Dispatcher.OnDrop(s.releasePaymentNotification)

	s.Service = booking.NewBookingService(s.DB, s.Holds, s.Ledger, s.Gateway, s.Dispatcher, events, booking.Options{
		HoldDuration:   cfg.Booking.HoldDuration,
		SuccessStatus:  models.BookingStatus(cfg.Booking.PaymentSuccessStatus),
		PaymentLockTTL: cfg.Booking.PaymentLockTTL,
	}, log)
	s.Reconciler = booking.NewReconciler(s.Service, log)
	return s
}

// releasePaymentNotification lets the settlement sweep retry a payment
// notification the dispatcher gave up on. Other kinds carry no marker.
func (s *Stack) releasePaymentNotification(req models.NotificationRequest) {
	if req.Kind != models.NotifyPayment {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.DB.ReleaseNotification(ctx, req.BookingID); err != nil {
		s.logger.Error("NOTIFY", fmt.Sprintf("Failed to hand back payment notification for %s: %v", req.BookingID, err))
	}
}

// EnsureTopics creates the Kafka topics the service writes to.
func (s *Stack) EnsureTopics() error {
	if !s.Config.Kafka.Enabled {
		return nil
	}
	return kafka.EnsureTopicsExist(s.Config.Kafka.Brokers, []string{
		s.Config.Kafka.Topics.Notifications,
		s.Config.Kafka.Topics.BookingStatus,
	}, s.logger)
}

// NewReaper builds the expiry reaper over the stack's store and service.
func (s *Stack) NewReaper() *reaper.Reaper {
	return reaper.New(s.DB, s.Service, s.Config.Reaper.Interval, s.Config.Reaper.SideEffectGrace, s.logger)
}

// StatusConsumer reads booking status events into the SSE emitter. Every
// instance uses its own group so each one sees every event.
func (s *Stack) StatusConsumer() *kafka.Consumer {
	host, _ := os.Hostname()
	group := fmt.Sprintf("%s-sse-%s-%s", s.Config.Kafka.GroupID, host, uuid.NewString()[:8])
	return kafka.NewConsumer(s.Config.Kafka.Brokers, s.Config.Kafka.Topics.BookingStatus, group, s.logger)
}

// Close drains pending notifications, then closes Kafka, Redis and Postgres.
func (s *Stack) Close(ctx context.Context) {
	if err := s.Dispatcher.Close(ctx); err != nil {
		s.logger.Warn("NOTIFY", fmt.Sprintf("%d notifications not published before shutdown: %v", s.Dispatcher.Pending(), err))
	}
	if s.Producer != nil {
		if err := s.Producer.Close(); err != nil {
			s.logger.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
		}
	}
	_ = s.Redis.Close()
	_ = s.Bun.Close()
}
