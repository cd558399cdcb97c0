package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/rest"

	"github.com/tasksched/controller/internal/config"
	"github.com/tasksched/controller/internal/controller"
	"github.com/tasksched/controller/internal/db"
	"github.com/tasksched/controller/internal/events"
	"github.com/tasksched/controller/internal/ipc"
	"github.com/tasksched/controller/internal/logger"
	"github.com/tasksched/controller/internal/metrics"
	"github.com/tasksched/controller/internal/orchestrator"
	"github.com/tasksched/controller/internal/users"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	log.Info().Msg("starting task execution controller")

	database, err := db.NewDatabase(db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	log.Info().Msg("running database migrations")
	if err := database.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load in-cluster kubernetes config")
	}
	orch, err := orchestrator.NewClient(restConfig, cfg.KubernetesNamespace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator client")
	}

	publisher, err := events.NewPublisher(events.Config{URL: cfg.NATSURL})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize event publisher")
	}
	defer publisher.Close()

	userLookup := users.NewDBLookup(database.DB())

	executor := controller.NewExecutor(cfg, database, orch, publisher, userLookup)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seedScheduler(ctx, executor)

	go executor.Scheduler.Run()
	defer executor.Scheduler.Stop()

	go executor.RunDispatcher(ctx)
	go executor.RunWatcher(ctx)
	go executor.RunReaper(ctx)

	ipcServer := ipc.NewServer(executor, ":"+cfg.IPCPort)
	go func() {
		if err := ipcServer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ipc server exited")
		}
	}()

	go serveMetrics(ctx, cfg.MetricsPort)

	log.Info().Msg("task execution controller running")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining subsystems")
	time.Sleep(2 * time.Second)
	log.Info().Msg("task execution controller stopped")
}

// seedScheduler schedules every known template's pool reconciliation at
// startup, so templates created before this process started still converge.
func seedScheduler(ctx context.Context, executor *controller.Executor) {
	log := logger.GetLogger()
	uuids, err := executor.Templates.ListTemplateUUIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to seed scheduler from existing templates")
		return
	}
	for _, templateUUID := range uuids {
		tpl, err := executor.Templates.GetTemplate(ctx, templateUUID)
		if err != nil {
			log.Warn().Err(err).Str("template", templateUUID).Msg("failed to load template while seeding scheduler")
			continue
		}
		period := time.Duration(tpl.TTLInterval) * time.Second
		if period <= 0 {
			continue
		}
		executor.Scheduler.Schedule(templateUUID, period)
	}
}

func serveMetrics(ctx context.Context, port string) {
	log := logger.GetLogger()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
