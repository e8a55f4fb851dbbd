package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "pmsdesk/docs"
	cartredis "pmsdesk/pkg/cart/redis"
	"pmsdesk/pkg/checkout"
	"pmsdesk/pkg/config"
	"pmsdesk/pkg/events"
	"pmsdesk/pkg/logger"
	"pmsdesk/pkg/order"
	ordermem "pmsdesk/pkg/order/memory"
	ordermysql "pmsdesk/pkg/order/mysql"
	pg "pmsdesk/pkg/order/postgres"
	"pmsdesk/pkg/otel"
	"pmsdesk/pkg/session"
)

const serviceName = "pmsdesk"

// @title PMS Desk ordering API
// @version 1.0
// @description Cart and order aggregation for table and room service
// @host localhost:8443
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in cookie
// @name session_id
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(os.Stdout, cfg.LogLevel, serviceName, otel.GetTraceID)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := otel.InitTracing(log, otel.Config{
		ServiceName: serviceName,
		Host:        cfg.OTelHost,
		Probability: cfg.TraceProbability,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	repo, closeRepo, err := openOrderRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn(ctx, "redis unreachable, sessions and carts will fail until it is up", "addr", cfg.RedisAddr, "error", err)
	}

	publisher, closePublisher, err := openPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	orders := order.NewAggregator(repo, log)
	srv := newServer(
		log,
		tp.Tracer(serviceName),
		session.New(rdb, cfg.SessionTTL),
		cartredis.New(rdb, 0),
		orders,
		checkout.New(orders, publisher, log),
		cfg.TaxRate,
	)

	r := srv.routes()
	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", "addr", cfg.Addr, "order_store", cfg.OrderStore)
		errCh <- httpSrv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server closed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openOrderRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) (order.Repository, func(), error) {
	switch cfg.OrderStore {
	case config.StorePostgres:
		if err := pg.RunMigrations(ctx, cfg.DatabaseURL, log); err != nil {
			return nil, nil, err
		}
		db, err := openDB(ctx, "postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg.New(db), func() { db.Close() }, nil
	case config.StoreMySQL:
		db, err := openDB(ctx, "mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		repo := ordermysql.New(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, func() { db.Close() }, nil
	default:
		log.Warn(ctx, "using in-memory order store, orders are lost on restart")
		return ordermem.New(), func() {}, nil
	}
}

func openDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func openPublisher(ctx context.Context, cfg *config.Config, log *logger.Logger) (events.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		log.Info(ctx, "AMQP_URL not set, order events are discarded")
		return events.Nop{}, func() {}, nil
	}
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := events.NewRabbitPublisher(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return pub, func() {
		pub.Close()
		conn.Close()
	}, nil
}
