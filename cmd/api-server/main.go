package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quickcare/hospital-ops-api/internal/api"
	"github.com/quickcare/hospital-ops-api/internal/appointment"
	"github.com/quickcare/hospital-ops-api/internal/config"
	"github.com/quickcare/hospital-ops-api/internal/db"
	"github.com/quickcare/hospital-ops-api/internal/events"
	"github.com/quickcare/hospital-ops-api/internal/logger"
	"github.com/quickcare/hospital-ops-api/internal/notify"
	redisclient "github.com/quickcare/hospital-ops-api/internal/redis"
)

const version = "1.2.0"

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

	zl.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version))

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

	// Connect Redis
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

	var notifier notify.Notifier = notify.Nop{}
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
		zl.Info("smtp notifier enabled", zap.String("host", cfg.SMTPHost))
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			zl.Fatal("amqp connection error", zap.Error(err))
		}
		publisher = pub
		zl.Info("amqp event publisher enabled", zap.String("exchange", cfg.AMQPExchange))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			zl.Warn("error closing event publisher", zap.Error(err))
		}
	}()

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	cal := appointment.NewCalendar(repo, locker, cfg.SlotDuration, cfg.WorkdayStart, cfg.WorkdayEnd)
	svc := appointment.NewService(repo, cal, notifier, publisher, zl, cfg.HoldAckTTL)

	router := api.NewRouter(api.RouterConfig{
		Handler:   api.NewHandler(svc, zl),
		PgPool:    pgPool,
		Redis:     rdb,
		Logger:    zl,
		JWTSecret: cfg.JWTSecret,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	zl.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}

	zl.Info("api-server stopped")
}
