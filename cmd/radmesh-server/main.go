// Package main is the entrypoint for the RadMesh server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/activations"
	"github.com/radmesh/radmesh/internal/api"
	"github.com/radmesh/radmesh/internal/config"
	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/jobs"
	"github.com/radmesh/radmesh/internal/models"
	"github.com/radmesh/radmesh/internal/provision"
	"github.com/radmesh/radmesh/internal/radius"
	"github.com/radmesh/radmesh/internal/vouchers"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("starting RadMesh server")

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	if cfg.DatabaseURL == "" {
		logger.Error().Msg("DATABASE_URL is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to run database migrations")
		return 1
	}

	syncTimeout := time.Duration(cfg.SyncTimeoutSeconds) * time.Second
	radiusClient := radius.NewHTTPClient(syncTimeout, logger)
	cloudClient := provision.NewHTTPCloudClient(cfg.CloudAPIURL, cfg.CloudAPIToken, logger)
	sshRunner := provision.NewSSHRunner(0)

	queueCfg := jobs.DefaultQueueConfig()
	queueCfg.WorkerCount = cfg.WorkerCount
	queue := jobs.NewQueue(database, queueCfg, logger)

	processor := activations.NewProcessor(database, logger)

	queue.RegisterHandler(models.JobTypeVoucherSync, radius.NewSyncBatchHandler(database, radiusClient, logger))
	queue.RegisterHandler(models.JobTypeVoucherRetry, radius.NewRetryFailedHandler(database, radiusClient, logger))
	queue.RegisterHandler(models.JobTypeProvision, provision.NewProvisionHandler(database, cloudClient, queue, logger))
	queue.RegisterHandler(models.JobTypeConfigure, provision.NewConfigureHandler(database, sshRunner, logger))
	queue.RegisterHandler(models.JobTypeActivations, activations.NewActivationsHandler(processor, logger))
	queue.RegisterHandler(models.JobTypeUsageIngest, activations.NewUsageIngestHandler(processor, logger))

	if err := queue.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start job queue")
		return 1
	}
	defer queue.Stop()

	voucherService := vouchers.NewService(database, database, radiusClient, queue, logger)

	scheduler, err := startSweeps(ctx, cfg, database, queue, voucherService, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start background sweeps")
		return 1
	}
	defer scheduler.Stop()

	apiCfg := api.Config{
		BaseURL:           cfg.BaseURL,
		RateLimitRequests: int64(cfg.RateLimitPerMinute),
		RateLimitPeriod:   "1m",
		RedisURL:          cfg.RedisURL,
		AdminToken:        cfg.AdminToken,
		Version:           Version,
	}
	router, err := api.NewRouter(apiCfg, database, queue, voucherService, radiusClient, cloudClient, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build API router")
		return 1
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router.Engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
		return 1
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
		return 1
	}

	logger.Info().Msg("server stopped")
	return 0
}

// startSweeps schedules the recurring maintenance jobs: the sync retry
// sweep enqueues a retry job per RADIUS-backed router, and the expiry
// sweep retires vouchers whose validity has lapsed.
func startSweeps(ctx context.Context, cfg config.Config, database *db.DB, queue *jobs.Queue, voucherService *vouchers.Service, logger zerolog.Logger) (*cron.Cron, error) {
	log := logger.With().Str("component", "sweeps").Logger()
	scheduler := cron.New()

	_, err := scheduler.AddFunc(cfg.RetrySweepSchedule, func() {
		routers, err := database.ListRoutersWithRadius(ctx)
		if err != nil {
			log.Error().Err(err).Msg("retry sweep: failed to list routers")
			return
		}
		for _, r := range routers {
			if _, err := queue.EnqueueVoucherRetry(ctx, r.ID, radius.DefaultRetryLimit); err != nil {
				log.Error().Err(err).Str("router", r.Name).Msg("retry sweep: failed to enqueue")
			}
		}
		log.Info().Int("routers", len(routers)).Msg("retry sweep enqueued")
	})
	if err != nil {
		return nil, err
	}

	_, err = scheduler.AddFunc(cfg.ExpirySweepSchedule, func() {
		expired, err := voucherService.ExpireSweep(ctx, vouchers.DefaultExpirySweepLimit)
		if err != nil {
			log.Error().Err(err).Msg("expiry sweep failed")
			return
		}
		if expired > 0 {
			log.Info().Int("expired", expired).Msg("expiry sweep completed")
		}
	})
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	return scheduler, nil
}
