package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sowflow/sowflow/internal/server"
	"github.com/sowflow/sowflow/modules"
	"github.com/sowflow/sowflow/modules/sow"
	"github.com/sowflow/sowflow/pkg/application"
	"github.com/sowflow/sowflow/pkg/configuration"
	"github.com/sowflow/sowflow/pkg/eventbus"
	"github.com/sowflow/sowflow/pkg/logging"
	"github.com/sowflow/sowflow/pkg/metrics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	connectCtx, cancel := context.WithTimeout(ctx, conf.Database.Timeout)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	moduleOpts := &sow.ModuleOptions{Config: conf}
	if conf.RedisURL != "" {
		redisOpts, err := redis.ParseURL(conf.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()
		moduleOpts.Redis = client
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.New(logger),
		Logger:   logger,
	})
	if err := modules.Load(app, modules.BuiltInModules(moduleOpts)...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	startBackground(ctx, app.Background(), logger)

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	log.Printf("Listening on: %s\n", conf.Origin)
	if err := serverInstance.Start(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func startBackground(ctx context.Context, workers []application.BackgroundWorker, logger *logrus.Logger) {
	for _, w := range workers {
		go func(w application.BackgroundWorker) {
			entry := logger.WithField("worker", w.Name)
			entry.Info("background worker started")
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				entry.WithError(err).Error("background worker stopped")
			}
		}(w)
	}
}
