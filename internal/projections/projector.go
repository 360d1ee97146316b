package projections

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/eduplatform/services/quizgen/internal/aggregate"
	"example.com/eduplatform/services/quizgen/internal/events"
	"example.com/eduplatform/services/quizgen/internal/models"
)

// EventSource supplies the full ordered log for rebuilds and the event count
// for health reporting. Satisfied by the event store.
type EventSource interface {
	AllEventsOrdered(ctx context.Context) ([]events.Envelope, error)
	CountEvents(ctx context.Context) (int64, error)
}

// SearchIndexer pushes terminal projection rows into the search index.
type SearchIndexer interface {
	IndexProjection(ctx context.Context, row *models.QuizListProjection) error
}

// StatisticsCache invalidates the cached statistics snapshot after a
// projected event changes the rollup.
type StatisticsCache interface {
	InvalidateStatistics(ctx context.Context) error
}

// Health summarizes the read model for the health endpoint.
type Health struct {
	ProjectionRows      int64      `json:"projection_rows"`
	StatisticsUpdatedAt *time.Time `json:"statistics_updated_at"`
	TotalStoredEvents   int64      `json:"total_stored_events"`
}

// Projector maintains the quiz-list read model and the statistics rollup.
// Updates run synchronously after each durable append; search and cache side
// effects are best-effort and never fail the projection.
type Projector struct {
	db     *gorm.DB
	source EventSource
	search SearchIndexer
	cache  StatisticsCache
}

// NewProjector creates a projector. search and cache may be nil.
func NewProjector(db *gorm.DB, source EventSource, search SearchIndexer, cache StatisticsCache) *Projector {
	return &Projector{db: db, source: source, search: search, cache: cache}
}

// ProjectEvent upserts the quiz-list row for the event's aggregate and then
// recomputes the statistics singleton from a full scan. Intentionally simple
// over incremental: correctness first at this scale.
func (p *Projector) ProjectEvent(ctx context.Context, env events.Envelope) error {
	row, err := p.applyEvent(ctx, p.db, env)
	if err != nil {
		return err
	}
	if err := recomputeStatistics(ctx, p.db); err != nil {
		return err
	}

	p.afterProject(ctx, row)
	return nil
}

// Rebuild clears both projection tables and replays the entire stored log
// through the same per-event code path, all inside one transaction. The
// result is indistinguishable from incremental projection of the same events
// in the same order.
func (p *Projector) Rebuild(ctx context.Context) error {
	log.Info().Msg("Rebuilding quiz generation projections from the event log")

	envelopes, err := p.source.AllEventsOrdered(ctx)
	if err != nil {
		return err
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.QuizListProjection{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear quiz list projections")
		}
		if err := tx.Where("1 = 1").Delete(&models.GenerationStatistics{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear generation statistics")
		}

		for _, env := range envelopes {
			if _, err := p.applyEvent(ctx, tx, env); err != nil {
				return err
			}
			if err := recomputeStatistics(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if p.cache != nil {
		if err := p.cache.InvalidateStatistics(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to invalidate statistics cache after rebuild")
		}
	}

	log.Info().Int("events", len(envelopes)).Msg("Projection rebuild finished")
	return nil
}

// LastProjectedVersion returns the last event version folded into the
// aggregate's projection row, or -1 when the row does not exist yet.
func (p *Projector) LastProjectedVersion(ctx context.Context, aggregateID string) (int64, error) {
	var row models.QuizListProjection
	err := p.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return -1, nil
		}
		return 0, errors.Wrapf(err, "failed to read projection for aggregate %s", aggregateID)
	}
	return row.LastVersion, nil
}

// Health reports projection row count, last statistics update and the total
// number of stored events.
func (p *Projector) Health(ctx context.Context) (*Health, error) {
	var health Health

	err := p.db.WithContext(ctx).
		Model(&models.QuizListProjection{}).
		Count(&health.ProjectionRows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to count projection rows")
	}

	var stats models.GenerationStatistics
	err = p.db.WithContext(ctx).Where("id = ?", models.StatisticsID).First(&stats).Error
	if err == nil {
		updatedAt := stats.UpdatedAt
		health.StatisticsUpdatedAt = &updatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "failed to read generation statistics")
	}

	total, err := p.source.CountEvents(ctx)
	if err != nil {
		return nil, err
	}
	health.TotalStoredEvents = total

	return &health, nil
}

// applyEvent folds one event into the aggregate's projection row and returns
// the updated row.
func (p *Projector) applyEvent(ctx context.Context, tx *gorm.DB, env events.Envelope) (*models.QuizListProjection, error) {
	switch e := env.Event.(type) {
	case *events.GenerationInitiated:
		initiatedAt := e.InitiatedAt
		row := models.QuizListProjection{
			AggregateID:   env.AggregateID,
			Title:         e.Title,
			Topic:         e.Topic,
			GradeLevel:    e.GradeLevel,
			TeacherID:     e.TeacherID,
			LevelID:       e.LevelID,
			QuestionCount: e.QuestionCount,
			Status:        aggregate.StatusInitiated,
			InitiatedAt:   &initiatedAt,
			LastVersion:   env.Version,
		}
		err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&row).Error
		if err != nil {
			return nil, errors.Wrapf(err, "failed to insert projection for aggregate %s", env.AggregateID)
		}
		return &row, nil

	case *events.AiRequestCreated:
		return p.updateRow(ctx, tx, env, func(row *models.QuizListProjection) {
			requestID := e.RequestID
			row.AiRequestID = &requestID
			row.Status = aggregate.StatusAiRequestCreated
		})

	case *events.AiContentGenerated:
		return p.updateRow(ctx, tx, env, func(row *models.QuizListProjection) {
			row.QuestionCount = e.QuestionCount
			row.TotalScore = e.TotalPoints
			row.Status = aggregate.StatusContentGenerated
		})

	case *events.QuizCreated:
		return p.updateRow(ctx, tx, env, func(row *models.QuizListProjection) {
			quizID := e.QuizID
			row.QuizID = &quizID
			row.TotalScore = e.TotalScore
			row.Status = aggregate.StatusQuizCreated
		})

	case *events.QuestionsAdded:
		return p.updateRow(ctx, tx, env, func(row *models.QuizListProjection) {
			row.Status = aggregate.StatusQuestionsAdded
		})

	case *events.GenerationCompleted:
		return p.updateRow(ctx, tx, env, func(row *models.QuizListProjection) {
			completedAt := e.CompletedAt
			row.IsCompleted = true
			row.Status = aggregate.StatusCompleted
			row.DurationSeconds = e.DurationSeconds
			row.CompletedAt = &completedAt
		})

	case *events.GenerationFailed:
		return p.updateRow(ctx, tx, env, func(row *models.QuizListProjection) {
			failedAt := e.FailedAt
			row.IsFailed = true
			row.Status = aggregate.StatusFailed
			row.ErrorMessage = e.Message
			row.CompletedAt = &failedAt
		})

	default:
		return nil, errors.Wrapf(aggregate.ErrUnknownEvent, "projector has no handler for %s", env.Event.EventType())
	}
}

func (p *Projector) updateRow(ctx context.Context, tx *gorm.DB, env events.Envelope, mutate func(*models.QuizListProjection)) (*models.QuizListProjection, error) {
	var row models.QuizListProjection
	err := tx.WithContext(ctx).
		Where("aggregate_id = ?", env.AggregateID).
		First(&row).Error
	if err != nil {
		return nil, errors.Wrapf(err, "no projection row for aggregate %s", env.AggregateID)
	}

	mutate(&row)
	row.LastVersion = env.Version

	if err := tx.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to update projection for aggregate %s", env.AggregateID)
	}
	return &row, nil
}

// afterProject handles the best-effort side effects of a live projection:
// cache invalidation always, search indexing once the row is terminal.
func (p *Projector) afterProject(ctx context.Context, row *models.QuizListProjection) {
	if p.cache != nil {
		if err := p.cache.InvalidateStatistics(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to invalidate statistics cache")
		}
	}

	if p.search != nil && (row.IsCompleted || row.IsFailed) {
		if err := p.search.IndexProjection(ctx, row); err != nil {
			log.Warn().
				Err(err).
				Str("aggregate_id", row.AggregateID).
				Msg("Failed to index projection row")
		}
	}
}

// recomputeStatistics rebuilds the statistics singleton from a full scan of
// the projection table.
func recomputeStatistics(ctx context.Context, tx *gorm.DB) error {
	var rows []models.QuizListProjection
	if err := tx.WithContext(ctx).Find(&rows).Error; err != nil {
		return errors.Wrap(err, "failed to scan projections for statistics")
	}

	stats := models.GenerationStatistics{ID: models.StatisticsID}
	gradeDist := make(map[string]int64)
	topicDist := make(map[string]int64)

	var completedDurations []float64
	var totalQuestions int64

	for _, row := range rows {
		stats.TotalGenerations++
		switch {
		case row.IsFailed:
			stats.FailedCount++
		case row.IsCompleted:
			stats.CompletedCount++
			completedDurations = append(completedDurations, row.DurationSeconds)
		default:
			stats.InProgressCount++
		}

		totalQuestions += int64(row.QuestionCount)
		gradeDist[strconv.Itoa(row.GradeLevel)]++
		if row.Topic != "" {
			topicDist[row.Topic]++
		}
	}

	if stats.TotalGenerations > 0 {
		stats.SuccessRate = float64(stats.CompletedCount) / float64(stats.TotalGenerations)
		stats.AvgQuestions = float64(totalQuestions) / float64(stats.TotalGenerations)
	}
	stats.TotalQuestions = totalQuestions

	if len(completedDurations) > 0 {
		minDuration := completedDurations[0]
		maxDuration := completedDurations[0]
		var sum float64
		for _, d := range completedDurations {
			if d < minDuration {
				minDuration = d
			}
			if d > maxDuration {
				maxDuration = d
			}
			sum += d
		}
		stats.MinDurationSeconds = minDuration
		stats.MaxDurationSeconds = maxDuration
		stats.AvgDurationSeconds = sum / float64(len(completedDurations))
	}

	gradeJSON, err := json.Marshal(gradeDist)
	if err != nil {
		return errors.Wrap(err, "failed to marshal grade distribution")
	}
	topicJSON, err := json.Marshal(topicDist)
	if err != nil {
		return errors.Wrap(err, "failed to marshal topic distribution")
	}
	stats.GradeDistribution = gradeJSON
	stats.TopicDistribution = topicJSON

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&stats).Error
	if err != nil {
		return errors.Wrap(err, "failed to save generation statistics")
	}
	return nil
}
