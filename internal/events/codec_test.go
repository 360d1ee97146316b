package events

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	initiatedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	original := &GenerationInitiated{
		TeacherID:       2,
		LevelID:         2,
		Title:           "Algebra Quiz",
		Topic:           "Algebra",
		GradeLevel:      8,
		QuestionCount:   5,
		DurationMinutes: 30,
		Prompt:          "Generate an algebra quiz",
		InitiatedAt:     initiatedAt,
	}

	data, err := Marshal(original)
	require.NoError(t, err)

	decoded, err := Unmarshal(TypeGenerationInitiated, data)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestUnmarshalUnknownTag(t *testing.T) {
	_, err := Unmarshal("SaleRecorded", []byte(`{}`))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownEventType))
}

// Every registered tag must decode to an event reporting that same tag
func TestRegistryTagsAreConsistent(t *testing.T) {
	for _, tag := range []string{
		TypeGenerationInitiated,
		TypeAiRequestCreated,
		TypeAiContentGenerated,
		TypeQuizCreated,
		TypeQuestionsAdded,
		TypeGenerationCompleted,
		TypeGenerationFailed,
	} {
		event, err := Unmarshal(tag, []byte(`{}`))
		require.NoError(t, err)
		require.Equal(t, tag, event.EventType())
	}
}
