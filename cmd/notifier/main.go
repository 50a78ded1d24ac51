package main

import (
	"context"
	"net/http"
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
	"github.com/ariefcatur/heirloom-checkout/internal/notify"
	"github.com/ariefcatur/heirloom-checkout/internal/redisx"
	"github.com/ariefcatur/heirloom-checkout/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	service := cfg.ServiceName + "-notifier"
	log := telemetry.NewLogger(service, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("notifier", prometheus.NewRegistry())
	svc := &notify.Service{
		Sender:  notify.LogSender{Log: log},
		Metrics: m,
		Log:     log,
	}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		svc.Dedup = redisx.NewDedup(rdb, service)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, duplicate events will be delivered twice")
	}

	// metrics endpoint only
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics listen")
		}
	}()

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, notify.Topics, cfg.NotifierWorkers, log)
	go func() {
		log.Info().Str("group", cfg.NotifierGroup).Strs("topics", notify.Topics).
			Int("workers", cfg.NotifierWorkers).Msg("notifier consumer started")
		if err := cons.Start(ctx, svc.Handle); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down consumer")
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
}
