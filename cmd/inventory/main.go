package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/telemetry"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// The projector keeps the availability cache in step with inventory.adjusted events.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-inventory"
	log := logging.MustNew(service, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.WithContext(ctx, log)

	shutdownTracing, err := telemetry.SetupTracing(ctx, service, cfg.Env, cfg.OtelEndpoint)
	if err != nil {
		log.Fatal("tracing_setup_failed", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal("redis_unreachable", zap.Error(err))
	}

	svc := &inventory.Service{
		Ledger:      &inventory.PgLedger{DB: db},
		Cache:       redisx.AvailabilityCache{R: rdb},
		Dedup:       redisx.Dedup{R: rdb, Service: service},
		ServiceName: service,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, events.TopicInventoryAdjusted, cfg.InventoryWorkers, log.Named("kafka"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("inventory_consumer_started",
			zap.String("group", cfg.InventoryGroup),
			zap.String("topic", events.TopicInventoryAdjusted),
			zap.Int("workers", cfg.InventoryWorkers))
		if err := cons.Start(ctx, svc.HandleAdjusted); err != nil {
			log.Error("consumer_exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting_down_consumer")
	cancel()
	<-done
}
