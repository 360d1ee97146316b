package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/eduplatform/services/quizgen/config"
	"example.com/eduplatform/services/quizgen/internal/ai"
	"example.com/eduplatform/services/quizgen/internal/api"
	"example.com/eduplatform/services/quizgen/internal/cache"
	"example.com/eduplatform/services/quizgen/internal/eventstore"
	"example.com/eduplatform/services/quizgen/internal/messaging"
	"example.com/eduplatform/services/quizgen/internal/metrics"
	"example.com/eduplatform/services/quizgen/internal/models"
	"example.com/eduplatform/services/quizgen/internal/projections"
	"example.com/eduplatform/services/quizgen/internal/search"
	"example.com/eduplatform/services/quizgen/internal/services"
	"example.com/eduplatform/services/quizgen/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to handle quiz-generation requests and read-model queries`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	// Initialize the Service Bus sender for the enqueue endpoint
	bus, err := messaging.NewServiceBusClient(cfg.ServiceBus)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus client, enqueue endpoint will be unavailable")
		bus = nil
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

	// Initialize and start the server
	server := api.NewServer(cfg, generationService, bus, elasticClient, metricsCollector, tracer)

	// Start the server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Error().Err(err).Msg("Service Bus close error")
		}
	}
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.Error().Err(err).Msg("Redis close error")
		}
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, err
	}

	// Auto-migrate the database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	// The read-only replica serves queries; migrations never run against it
	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, err
	}

	return db, readOnlyDB, nil
}
