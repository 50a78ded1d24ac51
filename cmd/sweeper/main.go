package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	_ "go.uber.org/automaxprocs"

	"github.com/ariefcatur/heirloom-checkout/internal/config"
	kafkax "github.com/ariefcatur/heirloom-checkout/internal/kafka"
	"github.com/ariefcatur/heirloom-checkout/internal/metrics"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
	"github.com/ariefcatur/heirloom-checkout/internal/postgres"
	"github.com/ariefcatur/heirloom-checkout/internal/redisx"
	"github.com/ariefcatur/heirloom-checkout/internal/sweeper"
	"github.com/ariefcatur/heirloom-checkout/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	log := telemetry.NewLogger(cfg.ServiceName+"-sweeper", cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.PendingOrderTTL <= 0 {
		log.Info().Msg("PENDING_ORDER_TTL not set, expiry disabled")
		return
	}
	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	var emit orders.Emitter = orders.NopEmitter{}
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 256, log)
		prod.Start(ctx)
		emit = &orders.KafkaEmitter{Producer: prod, Service: cfg.ServiceName}
	}

	svc := orders.NewService(&orders.PGStore{DB: db}, nil, emit, log,
		orders.WithMetrics(metrics.New("sweeper", prometheus.NewRegistry())))
	sw := &sweeper.Sweeper{Orders: svc, MaxAge: cfg.PendingOrderTTL, Log: log}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		sw.Lock = redisx.NewLocker(rdb)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, run a single sweeper replica")
	}

	c, err := sw.Start(ctx, cfg.SweepSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule")
	}
	log.Info().Str("schedule", cfg.SweepSchedule).Dur("max_age", cfg.PendingOrderTTL).Msg("sweeper started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down sweeper")

	select {
	case <-c.Stop().Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("sweep still running, forcing stop")
	}
	cancel()
	if prod != nil {
		prod.WaitClosed()
	}
}
