package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/eduplatform/services/quizgen/internal/aggregate"
	"example.com/eduplatform/services/quizgen/internal/eventstore"
	"example.com/eduplatform/services/quizgen/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))
	return db
}

func testGenerationRepo(t *testing.T) *GenerationRepository {
	t.Helper()
	db := testDB(t)
	return NewGenerationRepository(eventstore.NewStore(db, db))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	repo := testGenerationRepo(t)
	ctx := context.Background()

	actor := int64(42)
	agg := aggregate.NewQuizGeneration("gen-1", &actor)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, "prompt"))
	require.NoError(t, agg.CreateAiRequest(101))
	require.NoError(t, agg.RecordAiContentGenerated("raw", 5, 50))

	require.NoError(t, repo.Save(ctx, agg))
	require.Empty(t, agg.UncommittedEvents())

	loaded, err := repo.Load(ctx, "gen-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), loaded.Version())
	require.Equal(t, aggregate.StatusContentGenerated, loaded.Status())
	require.Equal(t, "Algebra Quiz", loaded.Title)
	require.Equal(t, int64(101), *loaded.AiRequestID)
	require.Equal(t, "raw", loaded.RawAiResponse)
}

func TestLoadMissingAggregate(t *testing.T) {
	repo := testGenerationRepo(t)

	_, err := repo.Load(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrAggregateNotFound))
}

// Incremental saves must compute the pre-batch stream version correctly
func TestIncrementalSaves(t *testing.T) {
	repo := testGenerationRepo(t)
	ctx := context.Background()

	agg := aggregate.NewQuizGeneration("gen-1", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))
	require.NoError(t, repo.Save(ctx, agg))

	// Continue on the same in-memory instance; the buffer holds only new events
	require.NoError(t, agg.CreateAiRequest(101))
	require.NoError(t, agg.RecordAiContentGenerated("raw", 5, 50))
	require.NoError(t, repo.Save(ctx, agg))

	loaded, err := repo.Load(ctx, "gen-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), loaded.Version())
}

func TestSaveConflictOnStaleAggregate(t *testing.T) {
	repo := testGenerationRepo(t)
	ctx := context.Background()

	agg := aggregate.NewQuizGeneration("gen-1", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))
	require.NoError(t, repo.Save(ctx, agg))

	// Two loads of the same stream race; the second save must lose
	first, err := repo.Load(ctx, "gen-1")
	require.NoError(t, err)
	second, err := repo.Load(ctx, "gen-1")
	require.NoError(t, err)

	require.NoError(t, first.CreateAiRequest(101))
	require.NoError(t, repo.Save(ctx, first))

	require.NoError(t, second.CreateAiRequest(102))
	err = repo.Save(ctx, second)
	require.Error(t, err)
	require.True(t, errors.Is(err, eventstore.ErrConcurrencyConflict))

	// The stream kept the winner's event only
	loaded, err := repo.Load(ctx, "gen-1")
	require.NoError(t, err)
	require.Equal(t, int64(101), *loaded.AiRequestID)
}

func TestSaveEmptyBufferIsNoOp(t *testing.T) {
	repo := testGenerationRepo(t)
	agg := aggregate.NewQuizGeneration("gen-1", nil)
	require.NoError(t, repo.Save(context.Background(), agg))

	exists, err := repo.Exists(context.Background(), "gen-1")
	require.NoError(t, err)
	require.False(t, exists)
}
