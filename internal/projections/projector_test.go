package projections

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/eduplatform/services/quizgen/internal/aggregate"
	"example.com/eduplatform/services/quizgen/internal/events"
	"example.com/eduplatform/services/quizgen/internal/eventstore"
	"example.com/eduplatform/services/quizgen/internal/models"
)

func testProjector(t *testing.T) (*Projector, *eventstore.Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))

	store := eventstore.NewStore(db, db)
	return NewProjector(db, store, nil, nil), store, db
}

// Emits a full run through the aggregate, persists it and returns the stream
func storedRun(t *testing.T, store *eventstore.Store, id string) []events.Envelope {
	t.Helper()

	agg := aggregate.NewQuizGeneration(id, nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, "prompt"))
	require.NoError(t, agg.CreateAiRequest(101))
	require.NoError(t, agg.RecordAiContentGenerated("raw", 5, 50))
	require.NoError(t, agg.CreateQuiz(7, 2, 2, "Algebra Quiz", 30, 50))
	require.NoError(t, agg.AddQuestions([]int64{11, 12, 13, 14, 15}))
	require.NoError(t, agg.CompleteGeneration())

	stream := agg.UncommittedEvents()
	require.NoError(t, store.SaveEvents(context.Background(), id, stream, eventstore.NoStreamVersion))
	return stream
}

func TestProjectFullRun(t *testing.T) {
	projector, store, db := testProjector(t)
	ctx := context.Background()

	stream := storedRun(t, store, "gen-1")

	// Intermediate states are visible between events
	require.NoError(t, projector.ProjectEvent(ctx, stream[0]))
	var row models.QuizListProjection
	require.NoError(t, db.Where("aggregate_id = ?", "gen-1").First(&row).Error)
	require.Equal(t, aggregate.StatusInitiated, row.Status)
	require.Equal(t, "Algebra Quiz", row.Title)
	require.Equal(t, 8, row.GradeLevel)

	for _, env := range stream[1:] {
		require.NoError(t, projector.ProjectEvent(ctx, env))
	}

	require.NoError(t, db.Where("aggregate_id = ?", "gen-1").First(&row).Error)
	require.Equal(t, aggregate.StatusCompleted, row.Status)
	require.True(t, row.IsCompleted)
	require.False(t, row.IsFailed)
	require.Equal(t, 5, row.QuestionCount)
	require.Equal(t, 50, row.TotalScore)
	require.Equal(t, int64(101), *row.AiRequestID)
	require.Equal(t, int64(7), *row.QuizID)
	require.Equal(t, int64(5), row.LastVersion)
	require.NotNil(t, row.CompletedAt)
}

func TestProjectFailedRun(t *testing.T) {
	projector, store, db := testProjector(t)
	ctx := context.Background()

	agg := aggregate.NewQuizGeneration("gen-1", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))
	require.NoError(t, agg.CreateAiRequest(101))
	require.NoError(t, agg.FailGeneration("provider timed out", "TimeoutError", "detail"))
	stream := agg.UncommittedEvents()
	require.NoError(t, store.SaveEvents(ctx, "gen-1", stream, eventstore.NoStreamVersion))

	for _, env := range stream {
		require.NoError(t, projector.ProjectEvent(ctx, env))
	}

	var row models.QuizListProjection
	require.NoError(t, db.Where("aggregate_id = ?", "gen-1").First(&row).Error)
	require.Equal(t, aggregate.StatusFailed, row.Status)
	require.True(t, row.IsFailed)
	require.Equal(t, "provider timed out", row.ErrorMessage)
	require.Equal(t, int64(101), *row.AiRequestID)
}

func TestStatisticsRollup(t *testing.T) {
	projector, store, db := testProjector(t)
	ctx := context.Background()

	// One completed run
	for _, env := range storedRun(t, store, "gen-done") {
		require.NoError(t, projector.ProjectEvent(ctx, env))
	}

	// One failed run
	failed := aggregate.NewQuizGeneration("gen-failed", nil)
	require.NoError(t, failed.InitiateGeneration(3, 2, "Geometry Quiz", "Geometry", 9, 4, 20, ""))
	require.NoError(t, failed.FailGeneration("boom", "GenerationError", ""))
	failedStream := failed.UncommittedEvents()
	require.NoError(t, store.SaveEvents(ctx, "gen-failed", failedStream, eventstore.NoStreamVersion))
	for _, env := range failedStream {
		require.NoError(t, projector.ProjectEvent(ctx, env))
	}

	// One still in flight
	inFlight := aggregate.NewQuizGeneration("gen-open", nil)
	require.NoError(t, inFlight.InitiateGeneration(4, 2, "History Quiz", "History", 8, 6, 25, ""))
	openStream := inFlight.UncommittedEvents()
	require.NoError(t, store.SaveEvents(ctx, "gen-open", openStream, eventstore.NoStreamVersion))
	for _, env := range openStream {
		require.NoError(t, projector.ProjectEvent(ctx, env))
	}

	var stats models.GenerationStatistics
	require.NoError(t, db.Where("id = ?", models.StatisticsID).First(&stats).Error)
	require.Equal(t, int64(3), stats.TotalGenerations)
	require.Equal(t, int64(1), stats.CompletedCount)
	require.Equal(t, int64(1), stats.FailedCount)
	require.Equal(t, int64(1), stats.InProgressCount)
	require.InDelta(t, 1.0/3.0, stats.SuccessRate, 0.001)
	require.Equal(t, int64(15), stats.TotalQuestions)

	var gradeDist map[string]int64
	require.NoError(t, json.Unmarshal(stats.GradeDistribution, &gradeDist))
	require.Equal(t, int64(2), gradeDist["8"])
	require.Equal(t, int64(1), gradeDist["9"])

	var topicDist map[string]int64
	require.NoError(t, json.Unmarshal(stats.TopicDistribution, &topicDist))
	require.Equal(t, int64(1), topicDist["Algebra"])
}

// A rebuild from the log must land on the same rows as live projection,
// and a second rebuild must not change anything
func TestRebuildIsIdempotent(t *testing.T) {
	projector, store, db := testProjector(t)
	ctx := context.Background()

	for _, env := range storedRun(t, store, "gen-1") {
		require.NoError(t, projector.ProjectEvent(ctx, env))
	}
	storedRun(t, store, "gen-2")

	require.NoError(t, projector.Rebuild(ctx))

	var rows []models.QuizListProjection
	require.NoError(t, db.Order("aggregate_id asc").Find(&rows).Error)
	require.Len(t, rows, 2)
	first := rows[0]

	require.NoError(t, projector.Rebuild(ctx))

	require.NoError(t, db.Order("aggregate_id asc").Find(&rows).Error)
	require.Len(t, rows, 2)

	// Compare on the meaningful fields; created/updated timestamps are
	// regenerated by the rebuild
	require.Equal(t, first.AggregateID, rows[0].AggregateID)
	require.Equal(t, first.Status, rows[0].Status)
	require.Equal(t, first.QuestionCount, rows[0].QuestionCount)
	require.Equal(t, first.TotalScore, rows[0].TotalScore)
	require.Equal(t, first.LastVersion, rows[0].LastVersion)
	require.Equal(t, first.IsCompleted, rows[0].IsCompleted)

	var stats models.GenerationStatistics
	require.NoError(t, db.Where("id = ?", models.StatisticsID).First(&stats).Error)
	require.Equal(t, int64(2), stats.TotalGenerations)
	require.Equal(t, int64(2), stats.CompletedCount)
}

func TestLastProjectedVersion(t *testing.T) {
	projector, store, _ := testProjector(t)
	ctx := context.Background()

	version, err := projector.LastProjectedVersion(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, int64(-1), version)

	stream := storedRun(t, store, "gen-1")
	require.NoError(t, projector.ProjectEvent(ctx, stream[0]))
	require.NoError(t, projector.ProjectEvent(ctx, stream[1]))

	version, err = projector.LastProjectedVersion(ctx, "gen-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestHealth(t *testing.T) {
	projector, store, _ := testProjector(t)
	ctx := context.Background()

	for _, env := range storedRun(t, store, "gen-1") {
		require.NoError(t, projector.ProjectEvent(ctx, env))
	}

	health, err := projector.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), health.ProjectionRows)
	require.Equal(t, int64(6), health.TotalStoredEvents)
	require.NotNil(t, health.StatisticsUpdatedAt)
	require.WithinDuration(t, time.Now(), *health.StatisticsUpdatedAt, time.Minute)
}
