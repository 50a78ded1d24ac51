package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	_ "go.uber.org/automaxprocs"

	"github.com/ariefcatur/heirloom-checkout/internal/auth"
	"github.com/ariefcatur/heirloom-checkout/internal/checkout"
	"github.com/ariefcatur/heirloom-checkout/internal/config"
	"github.com/ariefcatur/heirloom-checkout/internal/httpx"
	kafkax "github.com/ariefcatur/heirloom-checkout/internal/kafka"
	"github.com/ariefcatur/heirloom-checkout/internal/metrics"
	"github.com/ariefcatur/heirloom-checkout/internal/orders"
	"github.com/ariefcatur/heirloom-checkout/internal/payment"
	"github.com/ariefcatur/heirloom-checkout/internal/postgres"
	"github.com/ariefcatur/heirloom-checkout/internal/redisx"
	"github.com/ariefcatur/heirloom-checkout/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.Load()
	log := telemetry.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	dev := cfg.PostgresDSN == ""
	if err := cfg.Validate(); err != nil {
		if !dev {
			log.Fatal().Err(err).Msg("config")
		}
		log.Warn().Err(err).Msg("config incomplete, running in dev mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracer")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("api", reg)

	// storage
	var (
		store   orders.Store
		catalog orders.Catalog
		db      *pgxpool.Pool
	)
	if dev {
		log.Warn().Msg("POSTGRES_DSN not set, using in-memory store")
		mem := orders.NewMemoryStore()
		store, catalog = mem, mem
	} else {
		db, err = postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("db migrate")
		}
		store, catalog = &orders.PGStore{DB: db}, &orders.PGCatalog{DB: db}
	}

	// redis: cache + idempotency
	var (
		rdb  *redis.Client
		idem *redisx.Idempotency
		opts = []orders.Option{orders.WithMetrics(m)}
	)
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		idem = redisx.NewIdempotency(rdb)
		opts = append(opts, orders.WithCache(redisx.NewOrderCache(rdb, log)))
	}

	// events
	var emit orders.Emitter = orders.NopEmitter{}
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start(ctx)
		emit = &orders.KafkaEmitter{Producer: prod, Service: cfg.ServiceName}
	}

	// gateway
	var (
		gateway  checkout.SessionCreator
		verifier orders.SessionVerifier
	)
	if cfg.StripeSecretKey != "" {
		s := payment.NewStripe(cfg.StripeSecretKey)
		gateway, verifier = s, s
	}

	svc := orders.NewService(store, verifier, emit, log, opts...)
	orch := checkout.New(catalog, svc, gateway, checkout.Config{Currency: cfg.Currency, BaseURL: cfg.AppBaseURL}, m, log)

	deps := httpx.Deps{
		Log:               log,
		Metrics:           m,
		Checkout:          orch,
		Orders:            svc,
		Idem:              idem,
		RatePerSec:        cfg.CheckoutRatePerSec,
		Burst:             cfg.CheckoutBurst,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Ready: func(ctx context.Context) error {
			var errs []error
			if db != nil {
				errs = append(errs, db.Ping(ctx))
			}
			if rdb != nil {
				errs = append(errs, redisx.Ping(ctx, rdb))
			}
			return errors.Join(errs...)
		},
	}
	if cfg.JWTSecret != "" {
		deps.Auth = auth.NewVerifier(cfg.JWTSecret, cfg.AdminRole)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Bool("dev", dev).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()
		cancel()
		prod.WaitClosed()
	}
	if err := shutdownTracer(ctx2); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown")
	}
}
