package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/courier"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.WithContext(ctx, log)

	telemetry.Register(prometheus.DefaultRegisterer)
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.ServiceName, cfg.Env, cfg.OtelEndpoint)
	if err != nil {
		log.Fatal("tracing_setup_failed", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db_migrate_failed", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		// caches and the sweeper lock degrade to misses; Postgres stays authoritative
		log.Warn("redis_unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("kafka"))
	prod.Start()

	// Courier
	var gw interface {
		courier.Gateway
		courier.AddressParser
	}
	if cfg.CourierBaseURL == "" {
		log.Warn("courier_sandbox", zap.String("reason", "COURIER_BASE_URL is empty"))
		gw = courier.NewSandbox()
	} else {
		gw = courier.NewClient(cfg.CourierBaseURL, cfg.CourierAPIKey, cfg.CourierSecretKey, cfg.CourierTimeout)
	}

	// Services
	store := &orders.PgStore{DB: db}
	ledger := &inventory.PgLedger{DB: db}
	exec := &orders.Executor{
		Store:     store,
		Ledger:    ledger,
		Courier:   gw,
		Addresses: gw,
		Publisher: prod,
		Service:   cfg.ServiceName,
	}
	svc := &orders.Service{
		Store:       store,
		Ledger:      ledger,
		Executor:    exec,
		Courier:     gw,
		Publisher:   prod,
		Cache:       redisx.StatusCache{R: rdb},
		Idempotency: redisx.Idempotency{R: rdb},
		StrictStock: cfg.StrictStock,
		PhoneRegion: cfg.PhoneRegion,
		Name:        cfg.ServiceName,
	}
	inv := &inventory.Service{
		Ledger:      ledger,
		Cache:       redisx.AvailabilityCache{R: rdb},
		Publisher:   prod,
		ServiceName: cfg.ServiceName,
	}
	resumer := &orders.Resumer{
		Store:    store,
		Executor: exec,
		Locker:   redisx.NewLocker(rdb),
		Interval: cfg.ResumeInterval,
		MinAge:   cfg.ResumeMinAge,
		Batch:    100,
	}
	go resumer.Run(ctx)

	// Router
	validate := httpx.NewValidator()
	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{Orders: svc, Validate: validate}).Register(router)
	(&httpx.InventoryHandler{Inventory: inv, Validate: validate}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http_listen_failed", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()          // stop the resumer
	prod.Close()      // flush the inbox and close the writer
	prod.WaitClosed() // drain
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing_shutdown_failed", zap.Error(err))
	}
}
