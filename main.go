package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"payment-gateway-service/internal/config"
	"payment-gateway-service/internal/db"
	"payment-gateway-service/internal/event"
	"payment-gateway-service/internal/gateway"
	"payment-gateway-service/internal/httpx"
	"payment-gateway-service/internal/kafka"
	"payment-gateway-service/internal/logging"
	"payment-gateway-service/internal/metrics"
	"payment-gateway-service/internal/notify"
	"payment-gateway-service/internal/reconcile"
	"payment-gateway-service/internal/service"
	"payment-gateway-service/internal/settings"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "payment-gateway-service",
		Usage: "bank payment gateway integration for the storefront",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "./config",
				Usage:   "directory containing config.yaml",
				EnvVars: []string{"PGS_CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, order event consumer and notification producer",
				Action: serveCommand,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Action: migrateCommand,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func migrateCommand(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	return db.RunMigrations(db.GetConnStr(cfg.Database))
}

func serveCommand(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	logger, stopLogger := logging.GetLogger(cfg.Logs)
	defer stopLogger()
	slog.SetDefault(logger)

	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := db.GetConnStr(cfg.Database)
	if err := db.RunMigrations(connStr); err != nil {
		return err
	}

	pool, err := db.GetPool(ctx, connStr)
	if err != nil {
		return err
	}
	defer pool.Close()

	orders := db.NewOrderRepository(pool)
	outbox := db.NewOutboxRepository(pool)

	var provider settings.Provider = settings.NewStatic(cfg.Gateway)
	if cfg.Redis.Addr != "" {
		redisClient := settings.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		provider = settings.NewRedisStore(redisClient, cfg.Redis.SettingsKey, cfg.Gateway, logger)
	}

	var prober service.EndpointProber
	if cfg.Gateway.Preflight {
		prober = gateway.NewProber(time.Duration(cfg.Gateway.ProbeTimeoutMs)*time.Millisecond, logger)
	}

	reconciler := reconcile.NewReconciler(orders, logger)
	payments := service.NewPaymentService(orders, provider, reconciler, prober, logger)

	server := httpx.NewServer(cfg.Server, httpx.NewRouter(httpx.NewHandler(payments, cfg.Server.StorefrontURL, logger), logger))

	orderReader := kafka.NewReader(cfg.Kafka, cfg.Kafka.Topic.OrderEvents)
	defer orderReader.Close()

	notificationWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.PaymentNotifications)
	defer notificationWriter.Close()

	producer := notify.NewProducer(outbox, notificationWriter, cfg.Outbox, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return kafka.ReadOrderEvents(ctx, orderReader, event.NewProcessor(orders, logger), logger)
	})
	g.Go(func() error {
		return producer.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
