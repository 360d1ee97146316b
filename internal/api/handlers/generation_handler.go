package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/eduplatform/services/quizgen/internal/messaging"
	"example.com/eduplatform/services/quizgen/internal/repositories"
	"example.com/eduplatform/services/quizgen/internal/search"
	"example.com/eduplatform/services/quizgen/internal/services"
	"example.com/eduplatform/services/quizgen/internal/tracing"
)

// GenerationHandler handles quiz-generation HTTP requests
type GenerationHandler struct {
	generationService *services.GenerationService
	bus               *messaging.ServiceBusClient
	elasticClient     *search.ElasticClient
	tracer            tracing.Tracer
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(
	generationService *services.GenerationService,
	bus *messaging.ServiceBusClient,
	elasticClient *search.ElasticClient,
	tracer tracing.Tracer,
) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
		bus:               bus,
		elasticClient:     elasticClient,
		tracer:            tracer,
	}
}

// GenerationRequestBody is the incoming trigger payload
type GenerationRequestBody struct {
	TeacherID       int64  `json:"teacher_id" binding:"required"`
	LevelID         int64  `json:"level_id" binding:"required"`
	Title           string `json:"title" binding:"required"`
	Topic           string `json:"topic" binding:"required"`
	GradeLevel      int    `json:"grade_level" binding:"required"`
	QuestionCount   int    `json:"question_count" binding:"required"`
	DurationMinutes int    `json:"duration_minutes" binding:"required"`
	Prompt          string `json:"prompt"`
}

func (b GenerationRequestBody) toRequest() services.GenerationRequest {
	return services.GenerationRequest{
		TeacherID:       b.TeacherID,
		LevelID:         b.LevelID,
		Title:           b.Title,
		Topic:           b.Topic,
		GradeLevel:      b.GradeLevel,
		QuestionCount:   b.QuestionCount,
		DurationMinutes: b.DurationMinutes,
		Prompt:          b.Prompt,
	}
}

// HandleStartGeneration triggers a synchronous generation run
func (h *GenerationHandler) HandleStartGeneration(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-start-generation")
	defer h.tracer.EndTransaction(txn)

	var body GenerationRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Error().Err(err).Msg("Invalid generation request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "topic", body.Topic)
	h.tracer.AddAttribute(txn, "teacher_id", body.TeacherID)

	snapshot, err := h.generationService.StartGeneration(c.Request.Context(), body.toRequest())
	if err != nil {
		log.Error().Err(err).Str("aggregate_id", snapshot.AggregateID).Msg("Generation run failed")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    snapshot.ErrorMessage,
			"snapshot": snapshot,
		})
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

// HandleEnqueueGeneration queues a generation request for the worker
func (h *GenerationHandler) HandleEnqueueGeneration(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-enqueue-generation")
	defer h.tracer.EndTransaction(txn)

	if h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue is not configured"})
		return
	}

	var body GenerationRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	queued := &messaging.QueuedGenerationRequest{
		TeacherID:       body.TeacherID,
		LevelID:         body.LevelID,
		Title:           body.Title,
		Topic:           body.Topic,
		GradeLevel:      body.GradeLevel,
		QuestionCount:   body.QuestionCount,
		DurationMinutes: body.DurationMinutes,
		Prompt:          body.Prompt,
	}
	if err := h.bus.EnqueueGenerationRequest(c.Request.Context(), queued); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue generation request")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// HandleGetHistory returns the snapshot and event timeline for one run
func (h *GenerationHandler) HandleGetHistory(c *gin.Context) {
	aggregateID := c.Param("id")

	history, err := h.generationService.GetHistory(c.Request.Context(), aggregateID)
	if err != nil {
		if errors.Is(err, repositories.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
			return
		}
		log.Error().Err(err).Str("aggregate_id", aggregateID).Msg("Failed to load generation history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, history)
}

// HandleExists reports whether a run has any recorded events
func (h *GenerationHandler) HandleExists(c *gin.Context) {
	aggregateID := c.Param("id")

	exists, err := h.generationService.Exists(c.Request.Context(), aggregateID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "exists": exists})
}

// HandleListGenerations returns a filtered, paginated projection listing
func (h *GenerationHandler) HandleListGenerations(c *gin.Context) {
	filter := repositories.ListFilter{
		Status: c.Query("status"),
	}
	if teacherID, err := strconv.ParseInt(c.Query("teacher_id"), 10, 64); err == nil {
		filter.TeacherID = &teacherID
	}
	if gradeLevel, err := strconv.Atoi(c.Query("grade_level")); err == nil {
		filter.GradeLevel = &gradeLevel
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	rows, total, err := h.generationService.ListGenerations(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":     rows,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

// HandleGetStatistics returns the aggregate-wide statistics snapshot
func (h *GenerationHandler) HandleGetStatistics(c *gin.Context) {
	stats, err := h.generationService.GetStatistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleSearch performs a full-text lookup over finished runs
func (h *GenerationHandler) HandleSearch(c *gin.Context) {
	if h.elasticClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}

	var teacherID *int64
	if id, err := strconv.ParseInt(c.Query("teacher_id"), 10, 64); err == nil {
		teacherID = &id
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	docs, err := h.elasticClient.SearchGenerations(c.Request.Context(), c.Query("q"), c.Query("status"), teacherID, size)
	if err != nil {
		log.Error().Err(err).Msg("Search request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": docs})
}

// HandleTeacherDashboard returns the per-teacher rollup
func (h *GenerationHandler) HandleTeacherDashboard(c *gin.Context) {
	teacherID, err := strconv.ParseInt(c.Param("teacherId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid teacher id"})
		return
	}

	dashboard, err := h.generationService.GetTeacherDashboard(c.Request.Context(), teacherID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dashboard)
}

// HandleRebuildProjections triggers a full projection rebuild. Admin-only;
// intended for quiet periods since the rebuild takes no lock against
// concurrent writers.
func (h *GenerationHandler) HandleRebuildProjections(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-rebuild-projections")
	defer h.tracer.EndTransaction(txn)

	if err := h.generationService.RebuildProjections(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("Projection rebuild failed")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rebuilt": true})
}

// HandleHealth reports projection counts and stored-event totals
func (h *GenerationHandler) HandleHealth(c *gin.Context) {
	health, err := h.generationService.ProjectionHealth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"projections": health,
	})
}

// RegisterRoutes registers the handler's routes
func (h *GenerationHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/quiz-generations", h.HandleStartGeneration)
	router.POST("/quiz-generations/enqueue", h.HandleEnqueueGeneration)
	router.GET("/quiz-generations", h.HandleListGenerations)
	router.GET("/quiz-generations/statistics", h.HandleGetStatistics)
	router.GET("/quiz-generations/search", h.HandleSearch)
	router.GET("/quiz-generations/teacher/:teacherId/dashboard", h.HandleTeacherDashboard)
	router.GET("/quiz-generations/:id/history", h.HandleGetHistory)
	router.GET("/quiz-generations/:id/exists", h.HandleExists)
	router.POST("/admin/projections/rebuild", h.HandleRebuildProjections)
	router.GET("/health", h.HandleHealth)
}
