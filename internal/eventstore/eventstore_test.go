package eventstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/eduplatform/services/quizgen/internal/events"
	"example.com/eduplatform/services/quizgen/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))

	return NewStore(db, db)
}

func initiated(title string) events.Envelope {
	return events.NewEnvelope("", &events.GenerationInitiated{
		TeacherID: 2, LevelID: 2, Title: title, Topic: "Algebra",
		GradeLevel: 8, QuestionCount: 5, DurationMinutes: 30,
	}, nil)
}

func TestSaveAndLoadStream(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	batch := []events.Envelope{
		initiated("Algebra Quiz"),
		events.NewEnvelope("", &events.AiRequestCreated{RequestID: 101, Status: "Pending"}, nil),
	}
	require.NoError(t, store.SaveEvents(ctx, "gen-1", batch, NoStreamVersion))

	loaded, err := store.GetEvents(ctx, "gen-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// Versions are contiguous from zero regardless of envelope contents
	require.Equal(t, int64(0), loaded[0].Version)
	require.Equal(t, int64(1), loaded[1].Version)
	require.Equal(t, events.TypeGenerationInitiated, loaded[0].Event.EventType())
	require.Equal(t, events.TypeAiRequestCreated, loaded[1].Event.EventType())

	first, ok := loaded[0].Event.(*events.GenerationInitiated)
	require.True(t, ok)
	require.Equal(t, "Algebra Quiz", first.Title)
}

func TestLatestVersionSentinelForEmptyStream(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	version, err := store.LatestVersion(ctx, "missing")
	require.NoError(t, err)
	require.Equal(t, NoStreamVersion, version)

	exists, err := store.Exists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestConcurrencyConflictRejectsWholeBatch(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEvents(ctx, "gen-1", []events.Envelope{initiated("Algebra Quiz")}, NoStreamVersion))

	// A writer that loaded the stream before the first append now collides
	stale := []events.Envelope{
		events.NewEnvelope("", &events.AiRequestCreated{RequestID: 101, Status: "Pending"}, nil),
		events.NewEnvelope("", &events.QuizCreated{QuizID: 7, Title: "Algebra Quiz"}, nil),
	}
	err := store.SaveEvents(ctx, "gen-1", stale, NoStreamVersion)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConcurrencyConflict))

	// Nothing from the rejected batch was persisted
	loaded, err := store.GetEvents(ctx, "gen-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	// The same batch succeeds at the correct expected version
	require.NoError(t, store.SaveEvents(ctx, "gen-1", stale, 0))
	version, err := store.LatestVersion(ctx, "gen-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
}

func TestGetEventsFrom(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	batch := []events.Envelope{
		initiated("Algebra Quiz"),
		events.NewEnvelope("", &events.AiRequestCreated{RequestID: 101, Status: "Pending"}, nil),
		events.NewEnvelope("", &events.AiContentGenerated{RawResponse: "raw", QuestionCount: 5, TotalPoints: 50}, nil),
	}
	require.NoError(t, store.SaveEvents(ctx, "gen-1", batch, NoStreamVersion))

	tail, err := store.GetEventsFrom(ctx, "gen-1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, int64(1), tail[0].Version)
	require.Equal(t, int64(2), tail[1].Version)
}

func TestStreamsAreIsolated(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEvents(ctx, "gen-a", []events.Envelope{initiated("Quiz A")}, NoStreamVersion))
	require.NoError(t, store.SaveEvents(ctx, "gen-b", []events.Envelope{initiated("Quiz B")}, NoStreamVersion))

	// Both streams start at version zero independently
	loadedA, err := store.GetEvents(ctx, "gen-a")
	require.NoError(t, err)
	require.Equal(t, int64(0), loadedA[0].Version)

	heads, err := store.StreamHeads(ctx)
	require.NoError(t, err)
	require.Len(t, heads, 2)

	count, err := store.CountEvents(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestAllEventsOrdered(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEvents(ctx, "gen-b", []events.Envelope{
		initiated("Quiz B"),
		events.NewEnvelope("", &events.AiRequestCreated{RequestID: 1, Status: "Pending"}, nil),
	}, NoStreamVersion))
	require.NoError(t, store.SaveEvents(ctx, "gen-a", []events.Envelope{initiated("Quiz A")}, NoStreamVersion))

	all, err := store.AllEventsOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "gen-a", all[0].AggregateID)
	require.Equal(t, "gen-b", all[1].AggregateID)
	require.Equal(t, int64(0), all[1].Version)
	require.Equal(t, int64(1), all[2].Version)
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.SaveEvents(context.Background(), "gen-1", nil, NoStreamVersion))
}
