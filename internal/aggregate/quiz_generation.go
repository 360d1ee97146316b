package aggregate

import (
	"time"

	"github.com/pkg/errors"

	"example.com/eduplatform/services/quizgen/internal/events"
)

// Run status strings exposed to projections and snapshots.
const (
	StatusNotStarted       = "NotStarted"
	StatusInitiated        = "Initiated"
	StatusAiRequestCreated = "AiRequestCreated"
	StatusContentGenerated = "ContentGenerated"
	StatusQuizCreated      = "QuizCreated"
	StatusQuestionsAdded   = "QuestionsAdded"
	StatusCompleted        = "Completed"
	StatusFailed           = "Failed"
)

// AI request status values recorded on the aggregate.
const (
	AiStatusPending = "Pending"
	AiStatusSuccess = "Success"
)

// QuizStatusDraft is the status a freshly created quiz row carries.
const QuizStatusDraft = "Draft"

// QuizGeneration is the write model for one AI-driven quiz creation run.
// Every state field is a pure projection of the applied event history.
type QuizGeneration struct {
	Root

	TeacherID       int64
	LevelID         int64
	Title           string
	Topic           string
	GradeLevel      int
	QuestionCount   int
	DurationMinutes int
	Prompt          string
	InitiatedAt     *time.Time

	AiRequestID     *int64
	AiRequestStatus string
	RawAiResponse   string
	GeneratedCount  int
	TotalPoints     int

	QuizID      *int64
	QuizStatus  string
	TimeLimit   int
	TotalScore  int
	QuestionIDs []int64

	IsCompleted     bool
	IsFailed        bool
	ErrorMessage    string
	CompletedAt     *time.Time
	DurationSeconds float64
}

// NewQuizGeneration creates a blank aggregate. The actor, when known, is
// stamped onto every event the aggregate emits.
func NewQuizGeneration(id string, actor *int64) *QuizGeneration {
	return &QuizGeneration{Root: newRoot(id, actor)}
}

// LoadFromHistory replays an ordered event stream into a blank aggregate.
func (q *QuizGeneration) LoadFromHistory(history []events.Envelope) error {
	return q.replay(q, history)
}

// Status derives the run's position in the state machine from its flags.
func (q *QuizGeneration) Status() string {
	switch {
	case q.IsFailed:
		return StatusFailed
	case q.IsCompleted:
		return StatusCompleted
	case len(q.QuestionIDs) > 0:
		return StatusQuestionsAdded
	case q.QuizID != nil:
		return StatusQuizCreated
	case q.RawAiResponse != "":
		return StatusContentGenerated
	case q.AiRequestID != nil:
		return StatusAiRequestCreated
	case q.InitiatedAt != nil:
		return StatusInitiated
	default:
		return StatusNotStarted
	}
}

// InitiateGeneration records the run parameters and starts the clock.
func (q *QuizGeneration) InitiateGeneration(teacherID, levelID int64, title, topic string, gradeLevel, questionCount, durationMinutes int, prompt string) error {
	if q.IsCompleted || q.IsFailed {
		return errors.Wrap(ErrInvalidState, "cannot initiate a finished generation")
	}
	return q.raise(q, &events.GenerationInitiated{
		TeacherID:       teacherID,
		LevelID:         levelID,
		Title:           title,
		Topic:           topic,
		GradeLevel:      gradeLevel,
		QuestionCount:   questionCount,
		DurationMinutes: durationMinutes,
		Prompt:          prompt,
		InitiatedAt:     time.Now().UTC(),
	})
}

// CreateAiRequest records the relational AiRequest row backing this run.
func (q *QuizGeneration) CreateAiRequest(requestID int64) error {
	if q.AiRequestID != nil {
		return errors.Wrap(ErrInvalidState, "AI request already created")
	}
	return q.raise(q, &events.AiRequestCreated{
		RequestID: requestID,
		Status:    AiStatusPending,
	})
}

// RecordAiContentGenerated records the provider response for the pending
// AI request.
func (q *QuizGeneration) RecordAiContentGenerated(rawResponse string, questionCount, totalPoints int) error {
	if q.AiRequestID == nil {
		return errors.Wrap(ErrInvalidState, "no AI request to record content for")
	}
	return q.raise(q, &events.AiContentGenerated{
		RawResponse:   rawResponse,
		QuestionCount: questionCount,
		TotalPoints:   totalPoints,
	})
}

// CreateQuiz records the persisted quiz row for this run.
func (q *QuizGeneration) CreateQuiz(quizID, teacherID, levelID int64, title string, timeLimit, totalScore int) error {
	if q.QuizID != nil {
		return errors.Wrap(ErrInvalidState, "quiz already created")
	}
	return q.raise(q, &events.QuizCreated{
		QuizID:     quizID,
		TeacherID:  teacherID,
		LevelID:    levelID,
		Title:      title,
		TimeLimit:  timeLimit,
		TotalScore: totalScore,
		Status:     QuizStatusDraft,
	})
}

// AddQuestions appends persisted question ids. Additive: repeated calls
// accumulate, they never replace.
func (q *QuizGeneration) AddQuestions(questionIDs []int64) error {
	if q.QuizID == nil {
		return errors.Wrap(ErrInvalidState, "cannot add questions before the quiz exists")
	}
	return q.raise(q, &events.QuestionsAdded{QuestionIDs: questionIDs})
}

// CompleteGeneration closes a run that produced a quiz. Duration is measured
// from the initiation timestamp.
func (q *QuizGeneration) CompleteGeneration() error {
	if q.IsCompleted {
		return errors.Wrap(ErrInvalidState, "generation already completed")
	}
	if q.QuizID == nil || q.AiRequestID == nil {
		return errors.Wrap(ErrInvalidState, "cannot complete before quiz and AI request exist")
	}

	now := time.Now().UTC()
	var duration float64
	if q.InitiatedAt != nil {
		duration = now.Sub(*q.InitiatedAt).Seconds()
	}
	return q.raise(q, &events.GenerationCompleted{
		DurationSeconds: duration,
		CompletedAt:     now,
	})
}

// FailGeneration records a failure. Valid from any non-completed state, so
// partial progress stays inspectable in the history.
func (q *QuizGeneration) FailGeneration(message, errorType, detail string) error {
	if q.IsCompleted {
		return errors.Wrap(ErrInvalidState, "cannot fail a completed generation")
	}
	return q.raise(q, &events.GenerationFailed{
		Message:   message,
		ErrorType: errorType,
		Detail:    detail,
		FailedAt:  time.Now().UTC(),
	})
}

// apply is the single place aggregate state changes. The switch is exhaustive
// over the sealed event set.
func (q *QuizGeneration) apply(event events.Event) error {
	switch e := event.(type) {
	case *events.GenerationInitiated:
		q.TeacherID = e.TeacherID
		q.LevelID = e.LevelID
		q.Title = e.Title
		q.Topic = e.Topic
		q.GradeLevel = e.GradeLevel
		q.QuestionCount = e.QuestionCount
		q.DurationMinutes = e.DurationMinutes
		q.Prompt = e.Prompt
		initiatedAt := e.InitiatedAt
		q.InitiatedAt = &initiatedAt

	case *events.AiRequestCreated:
		requestID := e.RequestID
		q.AiRequestID = &requestID
		q.AiRequestStatus = e.Status

	case *events.AiContentGenerated:
		q.RawAiResponse = e.RawResponse
		q.GeneratedCount = e.QuestionCount
		q.TotalPoints = e.TotalPoints
		q.AiRequestStatus = AiStatusSuccess

	case *events.QuizCreated:
		quizID := e.QuizID
		q.QuizID = &quizID
		q.QuizStatus = e.Status
		q.TimeLimit = e.TimeLimit
		q.TotalScore = e.TotalScore

	case *events.QuestionsAdded:
		q.QuestionIDs = append(q.QuestionIDs, e.QuestionIDs...)

	case *events.GenerationCompleted:
		q.IsCompleted = true
		q.DurationSeconds = e.DurationSeconds
		completedAt := e.CompletedAt
		q.CompletedAt = &completedAt

	case *events.GenerationFailed:
		q.IsFailed = true
		q.ErrorMessage = e.Message
		failedAt := e.FailedAt
		q.CompletedAt = &failedAt

	default:
		return errors.Wrapf(ErrUnknownEvent, "event type %s", event.EventType())
	}
	return nil
}
