package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/eduplatform/services/quizgen/config"
	"example.com/eduplatform/services/quizgen/internal/ai"
	"example.com/eduplatform/services/quizgen/internal/cache"
	"example.com/eduplatform/services/quizgen/internal/eventstore"
	"example.com/eduplatform/services/quizgen/internal/messaging"
	"example.com/eduplatform/services/quizgen/internal/metrics"
	"example.com/eduplatform/services/quizgen/internal/projections"
	"example.com/eduplatform/services/quizgen/internal/search"
	"example.com/eduplatform/services/quizgen/internal/services"
	"example.com/eduplatform/services/quizgen/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to process queued generation requests and reconcile projections`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize the event store and projector. Nil concrete clients must not
	// become non-nil interfaces.
	store := eventstore.NewStore(db, readOnlyDB)
	var searchIndexer projections.SearchIndexer
	if elasticClient != nil {
		searchIndexer = elasticClient
	}
	var statisticsCache projections.StatisticsCache
	if redisCache != nil {
		statisticsCache = redisCache
	}
	projector := projections.NewProjector(db, store, searchIndexer, statisticsCache)

	// Initialize metrics and the AI provider
	metricsCollector := metrics.NewMetrics()
	provider := ai.NewHTTPProvider(cfg.Ai)

	// Initialize services
	generationService := services.NewGenerationService(
		db, readOnlyDB, store, projector, provider, redisCache, metricsCollector, tracer)

	// Initialize Azure Service Bus client
	bus, err := messaging.NewServiceBusClient(cfg.ServiceBus)
	if err != nil {
		return err
	}

	// Start the service bus processor
	g.Go(func() error {
		log.Info().Str("queue", cfg.ServiceBus.QueueName).Msg("Starting Service Bus processor")
		return bus.ProcessMessages(ctx, generationService.ProcessQueuedRequest)
	})

	// Start the projection reconciliation cron job
	g.Go(func() error {
		log.Info().Msg("Starting projection reconciliation cron job")

		// Create a scheduler
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Add the reconciliation job to run every five minutes
		_, err = scheduler.NewJob(
			gocron.DurationJob(5*time.Minute),
			gocron.NewTask(func() {
				if err := generationService.ReconcileProjections(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile projections")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Start the scheduler
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	if err := bus.Close(); err != nil {
		log.Error().Err(err).Msg("Service Bus close error")
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
