package events

import (
	"time"

	"github.com/google/uuid"
)

// AggregateType is the discriminator stored with every persisted event record.
const AggregateType = "QuizGeneration"

// Event is the closed set of facts recorded for a quiz generation run.
// The unexported marker keeps the set sealed so the aggregate's type switch
// covers every variant.
type Event interface {
	EventType() string
	isGenerationEvent()
}

// Envelope wraps a domain event with the stream metadata it is persisted with.
type Envelope struct {
	EventID     uuid.UUID `json:"event_id"`
	AggregateID string    `json:"aggregate_id"`
	Version     int64     `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
	UserID      *int64    `json:"user_id,omitempty"`
	Event       Event     `json:"-"`
}

// NewEnvelope stamps an event with a fresh id and the current time.
// The version is assigned by the aggregate when the event is applied.
func NewEnvelope(aggregateID string, event Event, userID *int64) Envelope {
	return Envelope{
		EventID:     uuid.New(),
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		UserID:      userID,
		Event:       event,
	}
}

// GenerationInitiated starts a run and fixes the request parameters.
type GenerationInitiated struct {
	TeacherID       int64     `json:"teacher_id"`
	LevelID         int64     `json:"level_id"`
	Title           string    `json:"title"`
	Topic           string    `json:"topic"`
	GradeLevel      int       `json:"grade_level"`
	QuestionCount   int       `json:"question_count"`
	DurationMinutes int       `json:"duration_minutes"`
	Prompt          string    `json:"prompt"`
	InitiatedAt     time.Time `json:"initiated_at"`
}

// AiRequestCreated records the relational AiRequest row backing the run.
type AiRequestCreated struct {
	RequestID int64  `json:"request_id"`
	Status    string `json:"status"`
}

// AiContentGenerated records the provider's response.
type AiContentGenerated struct {
	RawResponse   string `json:"raw_response"`
	QuestionCount int    `json:"question_count"`
	TotalPoints   int    `json:"total_points"`
}

// QuizCreated records the persisted quiz row.
type QuizCreated struct {
	QuizID     int64  `json:"quiz_id"`
	TeacherID  int64  `json:"teacher_id"`
	LevelID    int64  `json:"level_id"`
	Title      string `json:"title"`
	TimeLimit  int    `json:"time_limit"`
	TotalScore int    `json:"total_score"`
	Status     string `json:"status"`
}

// QuestionsAdded appends persisted question ids to the run. Additive only.
type QuestionsAdded struct {
	QuestionIDs []int64 `json:"question_ids"`
}

// GenerationCompleted marks a successful run.
type GenerationCompleted struct {
	DurationSeconds float64   `json:"duration_seconds"`
	CompletedAt     time.Time `json:"completed_at"`
}

// GenerationFailed marks a failed run. Reachable from any non-terminal state.
type GenerationFailed struct {
	Message   string    `json:"message"`
	ErrorType string    `json:"error_type"`
	Detail    string    `json:"detail,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

const (
	TypeGenerationInitiated = "GenerationInitiated"
	TypeAiRequestCreated    = "AiRequestCreated"
	TypeAiContentGenerated  = "AiContentGenerated"
	TypeQuizCreated         = "QuizCreated"
	TypeQuestionsAdded      = "QuestionsAdded"
	TypeGenerationCompleted = "GenerationCompleted"
	TypeGenerationFailed    = "GenerationFailed"
)

func (GenerationInitiated) EventType() string { return TypeGenerationInitiated }
func (AiRequestCreated) EventType() string    { return TypeAiRequestCreated }
func (AiContentGenerated) EventType() string  { return TypeAiContentGenerated }
func (QuizCreated) EventType() string         { return TypeQuizCreated }
func (QuestionsAdded) EventType() string      { return TypeQuestionsAdded }
func (GenerationCompleted) EventType() string { return TypeGenerationCompleted }
func (GenerationFailed) EventType() string    { return TypeGenerationFailed }

func (GenerationInitiated) isGenerationEvent() {}
func (AiRequestCreated) isGenerationEvent()    {}
func (AiContentGenerated) isGenerationEvent()  {}
func (QuizCreated) isGenerationEvent()         {}
func (QuestionsAdded) isGenerationEvent()      {}
func (GenerationCompleted) isGenerationEvent() {}
func (GenerationFailed) isGenerationEvent()    {}
