package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/eduplatform/services/quizgen/internal/aggregate"
	"example.com/eduplatform/services/quizgen/internal/ai"
	"example.com/eduplatform/services/quizgen/internal/cache"
	"example.com/eduplatform/services/quizgen/internal/events"
	"example.com/eduplatform/services/quizgen/internal/eventstore"
	"example.com/eduplatform/services/quizgen/internal/identity"
	"example.com/eduplatform/services/quizgen/internal/messaging"
	"example.com/eduplatform/services/quizgen/internal/metrics"
	"example.com/eduplatform/services/quizgen/internal/models"
	"example.com/eduplatform/services/quizgen/internal/projections"
	"example.com/eduplatform/services/quizgen/internal/repositories"
	"example.com/eduplatform/services/quizgen/internal/tracing"
)

// GenerationRequest is one command to run the full quiz-creation workflow.
type GenerationRequest struct {
	TeacherID       int64  `json:"teacher_id"`
	LevelID         int64  `json:"level_id"`
	Title           string `json:"title"`
	Topic           string `json:"topic"`
	GradeLevel      int    `json:"grade_level"`
	QuestionCount   int    `json:"question_count"`
	DurationMinutes int    `json:"duration_minutes"`
	Prompt          string `json:"prompt"`
}

// GenerationSnapshot is the caller-facing view of an aggregate's state.
type GenerationSnapshot struct {
	AggregateID     string     `json:"aggregate_id"`
	Version         int64      `json:"version"`
	Status          string     `json:"status"`
	TeacherID       int64      `json:"teacher_id"`
	LevelID         int64      `json:"level_id"`
	Title           string     `json:"title"`
	Topic           string     `json:"topic"`
	GradeLevel      int        `json:"grade_level"`
	QuestionCount   int        `json:"question_count"`
	DurationMinutes int        `json:"duration_minutes"`
	AiRequestID     *int64     `json:"ai_request_id"`
	AiRequestStatus string     `json:"ai_request_status,omitempty"`
	QuizID          *int64     `json:"quiz_id"`
	QuizStatus      string     `json:"quiz_status,omitempty"`
	TotalScore      int        `json:"total_score"`
	QuestionIDs     []int64    `json:"question_ids"`
	IsCompleted     bool       `json:"is_completed"`
	IsFailed        bool       `json:"is_failed"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	InitiatedAt     *time.Time `json:"initiated_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// TimelineEntry is one event in a run's derived history summary.
type TimelineEntry struct {
	Version    int64     `json:"version"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	UserID     *int64    `json:"user_id,omitempty"`
	Summary    string    `json:"summary"`
}

// GenerationHistory is the full current-state snapshot plus event timeline.
type GenerationHistory struct {
	Snapshot GenerationSnapshot `json:"snapshot"`
	Timeline []TimelineEntry    `json:"timeline"`
}

// TeacherDashboard is the per-teacher rollup derived from projections.
type TeacherDashboard struct {
	TeacherID         int64            `json:"teacher_id"`
	TotalGenerations  int64            `json:"total_generations"`
	CompletedCount    int64            `json:"completed_count"`
	FailedCount       int64            `json:"failed_count"`
	SuccessRate       float64          `json:"success_rate"`
	TopicDistribution map[string]int64 `json:"topic_distribution"`
	GradeDistribution map[string]int64 `json:"grade_distribution"`
}

// GenerationService drives the multi-step quiz-creation workflow against
// the event-sourced write model and keeps the read model in step.
type GenerationService struct {
	db             *gorm.DB // Write database
	readOnlyDB     *gorm.DB // Read-only database
	store          *eventstore.Store
	generationRepo *repositories.GenerationRepository
	aiRequestRepo  *repositories.AiRequestRepository
	quizRepo       *repositories.QuizRepository
	questionRepo   *repositories.QuestionRepository
	answerRepo     *repositories.AnswerRepository
	projectionRepo *repositories.ProjectionRepository
	projector      *projections.Projector
	provider       ai.Provider
	cache          *cache.RedisCache
	metrics        *metrics.Metrics
	tracer         tracing.Tracer
}

// NewGenerationService creates a new generation service
func NewGenerationService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	store *eventstore.Store,
	projector *projections.Projector,
	provider ai.Provider,
	redisCache *cache.RedisCache,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *GenerationService {
	return &GenerationService{
		db:             db,
		readOnlyDB:     readOnlyDB,
		store:          store,
		generationRepo: repositories.NewGenerationRepository(store),
		aiRequestRepo:  repositories.NewAiRequestRepository(db, readOnlyDB),
		quizRepo:       repositories.NewQuizRepository(db, readOnlyDB),
		questionRepo:   repositories.NewQuestionRepository(db, readOnlyDB),
		answerRepo:     repositories.NewAnswerRepository(db, readOnlyDB),
		projectionRepo: repositories.NewProjectionRepository(db, readOnlyDB),
		projector:      projector,
		provider:       provider,
		cache:          redisCache,
		metrics:        metricsCollector,
		tracer:         tracer,
	}
}

// StartGeneration runs one full generation workflow on a fresh aggregate.
// Every step persists its events and projects them before the next step
// starts, so a crash leaves the run durably at a valid intermediate version.
// Any step failure is converted into a FailGeneration event before the error
// is returned together with the partial snapshot.
func (s *GenerationService) StartGeneration(ctx context.Context, request GenerationRequest) (*GenerationSnapshot, error) {
	txn := s.tracer.StartTransaction("quiz-generation-run")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "topic", request.Topic)
	s.tracer.AddAttribute(txn, "teacher_id", request.TeacherID)

	started := time.Now()
	aggregateID := uuid.New().String()
	agg := aggregate.NewQuizGeneration(aggregateID, identity.CurrentUser(ctx))

	log.Info().
		Str("aggregate_id", aggregateID).
		Str("topic", request.Topic).
		Int64("teacher_id", request.TeacherID).
		Msg("Starting quiz generation run")

	if err := s.runWorkflow(ctx, agg, request, txn); err != nil {
		s.tracer.RecordError(txn, err)
		s.convertToFailure(ctx, agg, err)

		if s.metrics != nil {
			s.metrics.IncrementCounter("generation.failed")
			s.metrics.RecordError("generation.run")
		}
		return snapshotOf(agg), errors.Wrapf(err, "quiz generation %s failed", aggregateID)
	}

	if s.metrics != nil {
		s.metrics.IncrementCounter("generation.completed")
		s.metrics.RecordSuccess("generation.run")
		s.metrics.RecordTimer("generation.run", time.Since(started))
	}

	log.Info().
		Str("aggregate_id", aggregateID).
		Int64("version", agg.Version()).
		Msg("Quiz generation run completed")

	return snapshotOf(agg), nil
}

func (s *GenerationService) runWorkflow(ctx context.Context, agg *aggregate.QuizGeneration, request GenerationRequest, txn *newrelic.Transaction) error {
	// Step 1: initiate
	if err := agg.InitiateGeneration(request.TeacherID, request.LevelID, request.Title, request.Topic,
		request.GradeLevel, request.QuestionCount, request.DurationMinutes, request.Prompt); err != nil {
		return err
	}
	if err := s.persistAndProject(ctx, agg); err != nil {
		return err
	}

	// Step 2: create the relational AI request row and record it
	aiRequest := &models.AiRequest{
		AggregateID: agg.ID(),
		TeacherID:   request.TeacherID,
		Prompt:      request.Prompt,
		Status:      aggregate.AiStatusPending,
	}
	if err := s.aiRequestRepo.Create(ctx, aiRequest); err != nil {
		return err
	}
	if err := agg.CreateAiRequest(aiRequest.ID); err != nil {
		return err
	}
	if err := s.persistAndProject(ctx, agg); err != nil {
		return err
	}

	// Step 3: call the provider and record its response
	span := s.tracer.StartSpan("ai-provider-call", txn)
	callStarted := time.Now()
	generated, err := s.provider.GenerateQuiz(ctx, ai.GenerationRequest{
		Topic:           request.Topic,
		Title:           request.Title,
		GradeLevel:      request.GradeLevel,
		QuestionCount:   request.QuestionCount,
		DurationMinutes: request.DurationMinutes,
		Prompt:          request.Prompt,
	})
	span.End()
	if s.metrics != nil {
		s.metrics.RecordTimer("generation.ai_call", time.Since(callStarted))
	}
	if err != nil {
		return err
	}

	totalPoints := generated.TotalPoints
	if totalPoints == 0 {
		for _, question := range generated.Questions {
			totalPoints += question.Score
		}
	}

	if err := s.aiRequestRepo.UpdateStatus(ctx, aiRequest.ID, aggregate.AiStatusSuccess, generated.Raw); err != nil {
		return err
	}
	if err := agg.RecordAiContentGenerated(generated.Raw, len(generated.Questions), totalPoints); err != nil {
		return err
	}
	if err := s.persistAndProject(ctx, agg); err != nil {
		return err
	}

	// Step 4: persist quiz, questions and answers, then record both facts
	// in one append
	quizTitle := generated.Title
	if quizTitle == "" {
		quizTitle = request.Title
	}
	timeLimit := generated.DurationMinutes
	if timeLimit == 0 {
		timeLimit = request.DurationMinutes
	}

	quiz := &models.Quiz{
		TeacherID:   request.TeacherID,
		LevelID:     request.LevelID,
		Title:       quizTitle,
		Topic:       request.Topic,
		TimeLimit:   timeLimit,
		TotalScore:  totalPoints,
		Status:      aggregate.QuizStatusDraft,
		AggregateID: agg.ID(),
	}
	if err := s.quizRepo.Create(ctx, quiz); err != nil {
		return err
	}

	questionIDs, err := s.persistQuestions(ctx, quiz.ID, generated.Questions)
	if err != nil {
		return err
	}

	if err := agg.CreateQuiz(quiz.ID, request.TeacherID, request.LevelID, quizTitle, timeLimit, totalPoints); err != nil {
		return err
	}
	if err := agg.AddQuestions(questionIDs); err != nil {
		return err
	}
	if err := s.persistAndProject(ctx, agg); err != nil {
		return err
	}

	// Step 5: complete
	if err := agg.CompleteGeneration(); err != nil {
		return err
	}
	return s.persistAndProject(ctx, agg)
}

func (s *GenerationService) persistQuestions(ctx context.Context, quizID int64, generated []ai.GeneratedQuestion) ([]int64, error) {
	questions := make([]models.Question, 0, len(generated))
	for _, q := range generated {
		tags, err := json.Marshal(q.Tags)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal question tags")
		}
		questions = append(questions, models.Question{
			QuizID:        quizID,
			Text:          q.Text,
			Type:          q.Type,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
			Score:         q.Score,
			Tags:          tags,
		})
	}

	questionIDs, err := s.questionRepo.CreateBatch(ctx, questions)
	if err != nil {
		return nil, err
	}

	var answers []models.Answer
	for i, q := range generated {
		for _, choice := range q.Choices {
			answers = append(answers, models.Answer{
				QuestionID: questionIDs[i],
				Text:       choice,
				IsCorrect:  choice == q.CorrectAnswer,
			})
		}
	}
	if err := s.answerRepo.CreateBatch(ctx, answers); err != nil {
		return nil, err
	}

	return questionIDs, nil
}

// persistAndProject appends the aggregate's uncommitted events and feeds the
// same batch through the projector. Projection runs after the append is
// durable; a projection error aborts the step even though the write-side
// history is already correct, which the reconcile job later repairs.
func (s *GenerationService) persistAndProject(ctx context.Context, agg *aggregate.QuizGeneration) error {
	pending := append([]events.Envelope(nil), agg.UncommittedEvents()...)
	if len(pending) == 0 {
		return nil
	}

	if err := s.generationRepo.Save(ctx, agg); err != nil {
		return err
	}

	for _, env := range pending {
		if err := s.projector.ProjectEvent(ctx, env); err != nil {
			return errors.Wrapf(err, "projection failed after commit of version %d", env.Version)
		}
	}
	return nil
}

// convertToFailure records the failure on the aggregate and, best effort,
// marks the already-created relational rows. Rows are never rolled back:
// the audit trail keeps whatever the run produced before it failed.
func (s *GenerationService) convertToFailure(ctx context.Context, agg *aggregate.QuizGeneration, cause error) {
	errorType := classifyError(cause)
	detail := fmt.Sprintf("%+v", cause)
	if len(detail) > 2000 {
		detail = detail[:2000]
	}

	if agg.AiRequestID != nil && agg.AiRequestStatus == aggregate.AiStatusPending {
		if err := s.aiRequestRepo.UpdateStatus(ctx, *agg.AiRequestID, aggregate.StatusFailed, cause.Error()); err != nil {
			log.Warn().Err(err).Msg("Failed to mark AI request row as failed")
		}
	}
	if agg.QuizID != nil {
		if err := s.quizRepo.UpdateStatus(ctx, *agg.QuizID, aggregate.StatusFailed); err != nil {
			log.Warn().Err(err).Msg("Failed to mark quiz row as failed")
		}
	}

	if err := agg.FailGeneration(cause.Error(), errorType, detail); err != nil {
		log.Error().
			Err(err).
			Str("aggregate_id", agg.ID()).
			Msg("Could not record generation failure")
		return
	}

	if err := s.persistAndProject(ctx, agg); err != nil {
		log.Error().
			Err(err).
			Str("aggregate_id", agg.ID()).
			Msg("Failed to persist generation failure")
	}
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, aggregate.ErrInvalidState):
		return "InvalidStateError"
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return "ConcurrencyConflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	case errors.Is(err, context.Canceled):
		return "CanceledError"
	default:
		return "GenerationError"
	}
}

// GetHistory loads the full stream and returns the current snapshot plus a
// derived event timeline.
func (s *GenerationService) GetHistory(ctx context.Context, aggregateID string) (*GenerationHistory, error) {
	history, err := s.store.GetEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, errors.Wrapf(repositories.ErrAggregateNotFound, "aggregate %s", aggregateID)
	}

	agg := aggregate.NewQuizGeneration(aggregateID, nil)
	if err := agg.LoadFromHistory(history); err != nil {
		return nil, err
	}

	timeline := make([]TimelineEntry, 0, len(history))
	for _, env := range history {
		timeline = append(timeline, TimelineEntry{
			Version:    env.Version,
			EventType:  env.Event.EventType(),
			OccurredAt: env.OccurredAt,
			UserID:     env.UserID,
			Summary:    summarizeEvent(env.Event),
		})
	}

	return &GenerationHistory{
		Snapshot: *snapshotOf(agg),
		Timeline: timeline,
	}, nil
}

// Exists reports whether a generation run has any recorded events.
func (s *GenerationService) Exists(ctx context.Context, aggregateID string) (bool, error) {
	return s.generationRepo.Exists(ctx, aggregateID)
}

// ListGenerations returns a page of projection rows plus the total count.
func (s *GenerationService) ListGenerations(ctx context.Context, filter repositories.ListFilter) ([]models.QuizListProjection, int64, error) {
	return s.projectionRepo.List(ctx, filter)
}

// GetStatistics returns the statistics snapshot, served from Redis when the
// cached copy is still valid.
func (s *GenerationService) GetStatistics(ctx context.Context) (*models.GenerationStatistics, error) {
	if s.cache != nil {
		if stats, err := s.cache.GetStatistics(ctx); err == nil {
			return stats, nil
		}
	}

	stats, err := s.projectionRepo.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetStatistics(ctx, stats); err != nil {
			log.Warn().Err(err).Msg("Failed to cache statistics snapshot")
		}
	}
	return stats, nil
}

// GetTeacherDashboard derives a per-teacher rollup from the projection rows.
func (s *GenerationService) GetTeacherDashboard(ctx context.Context, teacherID int64) (*TeacherDashboard, error) {
	rows, err := s.projectionRepo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	dashboard := &TeacherDashboard{
		TeacherID:         teacherID,
		TopicDistribution: make(map[string]int64),
		GradeDistribution: make(map[string]int64),
	}
	for _, row := range rows {
		dashboard.TotalGenerations++
		switch {
		case row.IsFailed:
			dashboard.FailedCount++
		case row.IsCompleted:
			dashboard.CompletedCount++
		}
		if row.Topic != "" {
			dashboard.TopicDistribution[row.Topic]++
		}
		dashboard.GradeDistribution[fmt.Sprintf("%d", row.GradeLevel)]++
	}
	if dashboard.TotalGenerations > 0 {
		dashboard.SuccessRate = float64(dashboard.CompletedCount) / float64(dashboard.TotalGenerations)
	}
	return dashboard, nil
}

// RebuildProjections rebuilds both projection tables from the event log.
func (s *GenerationService) RebuildProjections(ctx context.Context) error {
	return s.projector.Rebuild(ctx)
}

// ProjectionHealth reports the read model's row counts and event totals.
func (s *GenerationService) ProjectionHealth(ctx context.Context) (*projections.Health, error) {
	return s.projector.Health(ctx)
}

// ReconcileProjections re-projects aggregates whose projection row lags the
// stored stream. This is the fallback for projection failures that happened
// after an append had already committed.
func (s *GenerationService) ReconcileProjections(ctx context.Context) error {
	heads, err := s.store.StreamHeads(ctx)
	if err != nil {
		return err
	}

	var repaired int
	for _, head := range heads {
		projected, err := s.projector.LastProjectedVersion(ctx, head.AggregateID)
		if err != nil {
			return err
		}
		if projected >= head.Version {
			continue
		}

		missing, err := s.store.GetEventsFrom(ctx, head.AggregateID, projected+1)
		if err != nil {
			return err
		}
		for _, env := range missing {
			if err := s.projector.ProjectEvent(ctx, env); err != nil {
				log.Error().
					Err(err).
					Str("aggregate_id", head.AggregateID).
					Int64("version", env.Version).
					Msg("Failed to re-project lagging event")
				break
			}
		}
		repaired++

		log.Info().
			Str("aggregate_id", head.AggregateID).
			Int64("projected_version", projected).
			Int64("stream_version", head.Version).
			Msg("Re-projected lagging aggregate")
	}

	if repaired > 0 {
		log.Info().Int("aggregates", repaired).Msg("Projection reconciliation repaired lagging rows")
	}
	return nil
}

// ProcessQueuedRequest handles one Service Bus message carrying a generation
// request.
func (s *GenerationService) ProcessQueuedRequest(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	request, err := messaging.ExtractGenerationRequest(message)
	if err != nil {
		return err
	}

	if request.UserID != nil {
		ctx = identity.WithUserID(ctx, *request.UserID)
	}

	snapshot, err := s.StartGeneration(ctx, GenerationRequest{
		TeacherID:       request.TeacherID,
		LevelID:         request.LevelID,
		Title:           request.Title,
		Topic:           request.Topic,
		GradeLevel:      request.GradeLevel,
		QuestionCount:   request.QuestionCount,
		DurationMinutes: request.DurationMinutes,
		Prompt:          request.Prompt,
	})
	if err != nil {
		// The failure is already recorded in the aggregate's history; the
		// message is complete from the queue's perspective.
		log.Warn().
			Err(err).
			Str("aggregate_id", snapshot.AggregateID).
			Msg("Queued generation request failed")
		return nil
	}

	log.Info().
		Str("aggregate_id", snapshot.AggregateID).
		Str("message_id", message.MessageID).
		Msg("Queued generation request processed")
	return nil
}

func snapshotOf(agg *aggregate.QuizGeneration) *GenerationSnapshot {
	return &GenerationSnapshot{
		AggregateID:     agg.ID(),
		Version:         agg.Version(),
		Status:          agg.Status(),
		TeacherID:       agg.TeacherID,
		LevelID:         agg.LevelID,
		Title:           agg.Title,
		Topic:           agg.Topic,
		GradeLevel:      agg.GradeLevel,
		QuestionCount:   agg.QuestionCount,
		DurationMinutes: agg.DurationMinutes,
		AiRequestID:     agg.AiRequestID,
		AiRequestStatus: agg.AiRequestStatus,
		QuizID:          agg.QuizID,
		QuizStatus:      agg.QuizStatus,
		TotalScore:      agg.TotalScore,
		QuestionIDs:     agg.QuestionIDs,
		IsCompleted:     agg.IsCompleted,
		IsFailed:        agg.IsFailed,
		ErrorMessage:    agg.ErrorMessage,
		InitiatedAt:     agg.InitiatedAt,
		CompletedAt:     agg.CompletedAt,
		DurationSeconds: agg.DurationSeconds,
	}
}

func summarizeEvent(event events.Event) string {
	switch e := event.(type) {
	case *events.GenerationInitiated:
		return fmt.Sprintf("Generation initiated for %q (%d questions, grade %d)", e.Topic, e.QuestionCount, e.GradeLevel)
	case *events.AiRequestCreated:
		return fmt.Sprintf("AI request %d created", e.RequestID)
	case *events.AiContentGenerated:
		return fmt.Sprintf("AI returned %d questions worth %d points", e.QuestionCount, e.TotalPoints)
	case *events.QuizCreated:
		return fmt.Sprintf("Quiz %d created with total score %d", e.QuizID, e.TotalScore)
	case *events.QuestionsAdded:
		return fmt.Sprintf("%d questions added", len(e.QuestionIDs))
	case *events.GenerationCompleted:
		return fmt.Sprintf("Generation completed in %.1fs", e.DurationSeconds)
	case *events.GenerationFailed:
		return fmt.Sprintf("Generation failed: %s", e.Message)
	default:
		return event.EventType()
	}
}
