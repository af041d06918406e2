package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/booklend/lending-engine/internal/config"
	"github.com/booklend/lending-engine/internal/lock"
	"github.com/booklend/lending-engine/internal/notifier"
	"github.com/booklend/lending-engine/internal/repository"
	"github.com/booklend/lending-engine/internal/service"
	"github.com/booklend/lending-engine/pkg/logger"
)

const sweepLockKey = "sweep:leader"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	logg.Info("starting sweep scheduler")

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	borrowingRepo := repository.NewBorrowingRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var dispatcher notifier.Dispatcher = notifier.NoopDispatcher{}
	if cfg.Telegram.BotToken != "" {
		dispatcher = notifier.NewTelegramDispatcher(cfg, logg)
	}

	sweep := service.NewSweepService(
		borrowingRepo, paymentRepo, userRepo, notificationRepo,
		dispatcher, cfg, logg, time.Now,
	)
	locker := lock.NewRedisLocker(redisClient)

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatalf("Invalid scheduler timezone: %v", err)
	}

	// SkipIfStillRunning keeps ticks from overlapping inside this process;
	// the redis lock keeps two scheduler instances from sweeping at once.
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	_, err = c.AddFunc(cfg.Scheduler.SweepSchedule, func() {
		runSweep(sweep, locker, cfg.GetSweepLockTTL(), logg)
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	logg.Info("sweep scheduled", "spec", cfg.Scheduler.SweepSchedule)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down scheduler")
	<-c.Stop().Done()
	logg.Info("scheduler stopped")
}

func runSweep(sweep *service.SweepService, locker lock.Locker, lockTTL time.Duration, logg *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTTL)
	defer cancel()

	acquired, err := locker.Acquire(ctx, sweepLockKey, lockTTL)
	if err != nil {
		logg.Error("acquiring sweep lock", "error", err)
		return
	}
	if !acquired {
		logg.Info("another instance holds the sweep lock, skipping tick")
		return
	}
	defer func() {
		if err := locker.Release(context.Background(), sweepLockKey); err != nil {
			logg.Warn("releasing sweep lock", "error", err)
		}
	}()

	started := time.Now()
	if err := sweep.Run(ctx); err != nil {
		logg.Warn("sweep tick completed with errors", "error", err, "duration", time.Since(started))
		return
	}
	logg.Info("sweep tick completed", "duration", time.Since(started))
}
