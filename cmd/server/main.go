package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/pharmacy-orders/internal/adapter/handler"
	"github.com/rl1809/pharmacy-orders/internal/adapter/messaging"
	"github.com/rl1809/pharmacy-orders/internal/adapter/storage"
	"github.com/rl1809/pharmacy-orders/internal/core/service"
	"github.com/rl1809/pharmacy-orders/internal/platform/config"
	"github.com/rl1809/pharmacy-orders/internal/platform/logger"
	"github.com/rl1809/pharmacy-orders/internal/platform/metrics"
	"github.com/rl1809/pharmacy-orders/internal/port"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	idempotency, closeIdem, err := openIdempotency(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeIdem()

	m := metrics.New(prometheus.DefaultRegisterer)
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithIdempotency(idempotency),
		service.WithDefaultActor(cfg.DefaultActor),
	}
	orders := service.NewOrderService(store, store, opts...)
	inventory := service.NewInventoryService(store, opts...)
	catalog := service.NewCatalogService(store, store, opts...)
	reports := service.NewReportService(store, opts...)

	var publisher port.EventPublisher = messaging.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kp.Close()
		publisher = kp
		log.Info("audit relay publishing to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	relay := service.NewAuditRelay(store, publisher, cfg.RelayInterval, opts...)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(orders, inventory, catalog, reports, log).Routes(promhttp.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(orders, inventory).Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()

	// one last round so entries committed during shutdown are not left for the next start
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, ferr := relay.RelayOnce(flushCtx); ferr != nil {
		log.Warn("final audit relay failed", "error", ferr)
	} else if n > 0 {
		log.Info("final audit relay", "count", n)
	}
	return err
}

func openStore(ctx context.Context, cfg config.Server, log *slog.Logger) (port.Store, func(), error) {
	if cfg.DBDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return storage.NewMemoryStore(
			storage.WithMemoryLockTimeout(cfg.LockTimeout),
			storage.WithMemoryTxTimeout(cfg.TxTimeout),
		), func() {}, nil
	}

	db, err := storage.OpenDB(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { closeQuietly(db, log) }

	store, err := storage.NewSQLStore(db, cfg.DBDriver,
		storage.WithLockTimeout(cfg.LockTimeout),
		storage.WithTxTimeout(cfg.TxTimeout),
	)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}
	log.Info("connected to database", "driver", cfg.DBDriver)
	return store, closeDB, nil
}

func openIdempotency(ctx context.Context, cfg config.Server, log *slog.Logger) (port.IdempotencyStore, func(), error) {
	if cfg.RedisAddr == "" {
		return storage.NewMemoryIdempotency(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("connected to redis", "addr", cfg.RedisAddr)
	return storage.NewRedisAdapter(rdb), func() { rdb.Close() }, nil
}

func closeQuietly(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Warn("close database", "error", err)
	}
}
