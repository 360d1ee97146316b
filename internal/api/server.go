package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/eduplatform/services/quizgen/config"
	"example.com/eduplatform/services/quizgen/internal/api/handlers"
	"example.com/eduplatform/services/quizgen/internal/messaging"
	"example.com/eduplatform/services/quizgen/internal/metrics"
	"example.com/eduplatform/services/quizgen/internal/search"
	"example.com/eduplatform/services/quizgen/internal/services"
	"example.com/eduplatform/services/quizgen/internal/tracing"
)

// Server is the HTTP server for the quiz-generation service
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	metrics    *metrics.Metrics
}

// NewServer creates a new HTTP server with all routes registered
func NewServer(
	cfg config.Config,
	generationService *services.GenerationService,
	bus *messaging.ServiceBusClient,
	elasticClient *search.ElasticClient,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(RequestMetrics(m))
	router.Use(IdentityExtractor())

	generationHandler := handlers.NewGenerationHandler(generationService, bus, elasticClient, tracer)
	generationHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(m)
	metricsHandler.RegisterRoutes(router)

	return &Server{
		config:  cfg,
		router:  router,
		metrics: m,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress,
			Handler:      router,
			ReadTimeout:  cfg.ServerTimeout,
			WriteTimeout: cfg.ServerTimeout,
		},
	}
}

// Start begins listening for requests. Blocks until the server stops.
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
