package aggregate

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/eduplatform/services/quizgen/internal/events"
)

// Drives a full run through every transition and checks the resulting state
func TestFullGenerationRun(t *testing.T) {
	actor := int64(42)
	agg := NewQuizGeneration("gen-1", &actor)

	require.Equal(t, EmptyVersion, agg.Version())
	require.Equal(t, StatusNotStarted, agg.Status())

	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, "Generate an algebra quiz"))
	require.Equal(t, StatusInitiated, agg.Status())
	require.NotNil(t, agg.InitiatedAt)

	require.NoError(t, agg.CreateAiRequest(101))
	require.Equal(t, StatusAiRequestCreated, agg.Status())
	require.Equal(t, AiStatusPending, agg.AiRequestStatus)

	require.NoError(t, agg.RecordAiContentGenerated(`{"questions":[]}`, 5, 50))
	require.Equal(t, StatusContentGenerated, agg.Status())
	require.Equal(t, AiStatusSuccess, agg.AiRequestStatus)
	require.Equal(t, 5, agg.GeneratedCount)
	require.Equal(t, 50, agg.TotalPoints)

	require.NoError(t, agg.CreateQuiz(7, 2, 2, "Algebra Quiz", 30, 50))
	require.Equal(t, StatusQuizCreated, agg.Status())
	require.Equal(t, QuizStatusDraft, agg.QuizStatus)

	require.NoError(t, agg.AddQuestions([]int64{11, 12, 13, 14, 15}))
	require.Equal(t, StatusQuestionsAdded, agg.Status())
	require.Len(t, agg.QuestionIDs, 5)

	require.NoError(t, agg.CompleteGeneration())
	require.Equal(t, StatusCompleted, agg.Status())
	require.True(t, agg.IsCompleted)
	require.False(t, agg.IsFailed)
	require.NotNil(t, agg.CompletedAt)
	require.GreaterOrEqual(t, agg.DurationSeconds, 0.0)

	// Six events, contiguously versioned from zero
	require.Equal(t, int64(5), agg.Version())
	uncommitted := agg.UncommittedEvents()
	require.Len(t, uncommitted, 6)
	for i, env := range uncommitted {
		require.Equal(t, int64(i), env.Version)
		require.Equal(t, "gen-1", env.AggregateID)
		require.NotNil(t, env.UserID)
		require.Equal(t, actor, *env.UserID)
	}
}

// Commands must reject calls out of order instead of corrupting state
func TestTransitionGuards(t *testing.T) {
	agg := NewQuizGeneration("gen-2", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))

	// Completion needs both an AI request and a quiz
	err := agg.CompleteGeneration()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidState))

	require.NoError(t, agg.CreateAiRequest(101))

	// A second AI request on the same run is a programming error
	err = agg.CreateAiRequest(102)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidState))
	require.Equal(t, int64(101), *agg.AiRequestID)

	// Questions cannot exist before the quiz row does
	err = agg.AddQuestions([]int64{1})
	require.True(t, errors.Is(err, ErrInvalidState))

	// A rejected command emits nothing
	require.Len(t, agg.UncommittedEvents(), 2)
	require.Equal(t, int64(1), agg.Version())
}

func TestContentBeforeRequestRejected(t *testing.T) {
	agg := NewQuizGeneration("gen-3", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))

	err := agg.RecordAiContentGenerated("raw", 5, 50)
	require.True(t, errors.Is(err, ErrInvalidState))
}

// Failure is allowed from any non-completed state and keeps partial progress
func TestFailMidRun(t *testing.T) {
	agg := NewQuizGeneration("gen-4", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))
	require.NoError(t, agg.CreateAiRequest(101))

	require.NoError(t, agg.FailGeneration("provider timed out", "TimeoutError", "context deadline exceeded"))

	require.Equal(t, StatusFailed, agg.Status())
	require.True(t, agg.IsFailed)
	require.False(t, agg.IsCompleted)
	require.Equal(t, "provider timed out", agg.ErrorMessage)
	// The AI request reference survives the failure
	require.NotNil(t, agg.AiRequestID)
	require.Equal(t, int64(101), *agg.AiRequestID)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	agg := NewQuizGeneration("gen-5", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))
	require.NoError(t, agg.CreateAiRequest(101))
	require.NoError(t, agg.CreateQuiz(7, 2, 2, "Algebra Quiz", 30, 50))
	require.NoError(t, agg.CompleteGeneration())

	require.True(t, errors.Is(agg.FailGeneration("late", "GenerationError", ""), ErrInvalidState))
	require.True(t, errors.Is(agg.CompleteGeneration(), ErrInvalidState))
	require.True(t, errors.Is(agg.InitiateGeneration(2, 2, "again", "Algebra", 8, 5, 30, ""), ErrInvalidState))

	failed := NewQuizGeneration("gen-6", nil)
	require.NoError(t, failed.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))
	require.NoError(t, failed.FailGeneration("boom", "GenerationError", ""))
	require.True(t, errors.Is(failed.InitiateGeneration(2, 2, "again", "Algebra", 8, 5, 30, ""), ErrInvalidState))
}

// Replaying the emitted history into a fresh aggregate must converge on the
// same state and version
func TestReplayDeterminism(t *testing.T) {
	actor := int64(7)
	agg := NewQuizGeneration("gen-7", &actor)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, "prompt"))
	require.NoError(t, agg.CreateAiRequest(101))
	require.NoError(t, agg.RecordAiContentGenerated("raw", 5, 50))
	require.NoError(t, agg.CreateQuiz(7, 2, 2, "Algebra Quiz", 30, 50))
	require.NoError(t, agg.AddQuestions([]int64{11, 12, 13, 14, 15}))
	require.NoError(t, agg.CompleteGeneration())

	history := agg.UncommittedEvents()

	replayed := NewQuizGeneration("gen-7", nil)
	require.NoError(t, replayed.LoadFromHistory(history))

	require.Equal(t, agg.Version(), replayed.Version())
	require.Equal(t, agg.Status(), replayed.Status())
	require.Equal(t, agg.TeacherID, replayed.TeacherID)
	require.Equal(t, agg.Title, replayed.Title)
	require.Equal(t, agg.QuestionIDs, replayed.QuestionIDs)
	require.Equal(t, agg.DurationSeconds, replayed.DurationSeconds)
	require.Equal(t, *agg.QuizID, *replayed.QuizID)
	require.Equal(t, *agg.AiRequestID, *replayed.AiRequestID)
	// Replay buffers nothing for persistence
	require.Empty(t, replayed.UncommittedEvents())
}

func TestMarkCommittedClearsBuffer(t *testing.T) {
	agg := NewQuizGeneration("gen-8", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))
	require.Len(t, agg.UncommittedEvents(), 1)

	agg.MarkCommitted()
	require.Empty(t, agg.UncommittedEvents())
	// Version reflects applied history, not the buffer
	require.Equal(t, int64(0), agg.Version())
}

// Repeated AddQuestions calls accumulate ids rather than replacing them
func TestAddQuestionsIsAdditive(t *testing.T) {
	agg := NewQuizGeneration("gen-9", nil)
	require.NoError(t, agg.InitiateGeneration(2, 2, "Algebra Quiz", "Algebra", 8, 5, 30, ""))
	require.NoError(t, agg.CreateAiRequest(101))
	require.NoError(t, agg.CreateQuiz(7, 2, 2, "Algebra Quiz", 30, 50))

	require.NoError(t, agg.AddQuestions([]int64{1, 2}))
	require.NoError(t, agg.AddQuestions([]int64{3}))
	require.Equal(t, []int64{1, 2, 3}, agg.QuestionIDs)
}

func TestReplayTakesVersionFromStoredEnvelope(t *testing.T) {
	env := events.NewEnvelope("gen-10", &events.GenerationInitiated{Title: "Algebra Quiz"}, nil)
	env.Version = 0

	agg := NewQuizGeneration("gen-10", nil)
	require.NoError(t, agg.LoadFromHistory([]events.Envelope{env}))
	require.Equal(t, int64(0), agg.Version())
	require.Equal(t, "Algebra Quiz", agg.Title)
}
