package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ms-booking/internal/bootstrap"
	"ms-booking/internal/config"
	"ms-booking/internal/logger"

	"github.com/joho/godotenv"
)

// Runs the expiry reaper on its own, for deployments where the API
// instances are started with the in-process reaper turned off.
func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	_ = godotenv.Load()

	logger := logger.NewLogger("expiry-reaper")
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, redisClient, err := bootstrap.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}

	stack := bootstrap.Build(cfg, bunDB, redisClient, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stack.Close(closeCtx)
	}()

	// Resumed side effects queue notifications, so the dispatcher runs here too.
	var dispatcher sync.WaitGroup
	dispatcher.Add(1)
	go func() {
		defer dispatcher.Done()
		stack.Dispatcher.Run(ctx)
	}()
	drain := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := stack.Dispatcher.Close(closeCtx); err != nil {
			logger.Warn("NOTIFY", fmt.Sprintf("Notification queue not drained: %v", err))
			return
		}
		dispatcher.Wait()
	}

	reaper := stack.NewReaper()

	if *once {
		result, err := reaper.SweepOnce(ctx)
		drain()
		if err != nil {
			logger.Fatal("REAPER", err.Error())
		}
		logger.Info("REAPER", fmt.Sprintf("Sweep finished: %d expired, %d resumed", result.Expired, result.Resumed))
		return
	}

	if cfg.Reaper.ListenExpiryKeys && stack.Holds.EnableExpiryEvents(ctx) == nil {
		go reaper.SubscribeExpiredHolds(ctx, stack.Holds)
	}

	logger.Info("APP", "Expiry reaper started, waiting for shutdown signal")
	_ = reaper.Run(ctx)
	drain()
}
