package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quickcare/hospital-ops-api/internal/appointment"
	"github.com/quickcare/hospital-ops-api/internal/config"
	"github.com/quickcare/hospital-ops-api/internal/db"
	"github.com/quickcare/hospital-ops-api/internal/events"
	"github.com/quickcare/hospital-ops-api/internal/logger"
	"github.com/quickcare/hospital-ops-api/internal/notify"
	redisclient "github.com/quickcare/hospital-ops-api/internal/redis"
)

// The reconciler sweeps booking holds whose coordinator never came back
// to acknowledge them (crashed or timed-out requests) and releases the
// reserved ranges so the calendar does not leak availability.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	zl.Info("reconciler starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("hold_ack_ttl", cfg.HoldAckTTL))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zl.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zl.Warn("error closing redis", zap.Error(err))
		}
	}()
	zl.Info("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	cal := appointment.NewCalendar(repo, locker, cfg.SlotDuration, cfg.WorkdayStart, cfg.WorkdayEnd)
	svc := appointment.NewService(repo, cal, notify.Nop{}, events.Nop{}, zl, cfg.HoldAckTTL)

	// Run once at startup
	runOnce(rootCtx, svc, zl)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zl.Info("shutdown signal received, stopping reconciler")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, zl)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, zl *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	released, err := svc.ReconcileHolds(runCtx)
	if err != nil {
		zl.Error("reconcile run error", zap.Error(err))
		return
	}
	zl.Info("reconcile run complete",
		zap.Int("released", released),
		zap.Duration("took", time.Since(start)))
}
