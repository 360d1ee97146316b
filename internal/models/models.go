package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventRecord is the persisted form of a domain event. Records are
// write-once; the unique (aggregate_id, version) index enforces contiguous
// streams and doubles as the optimistic-concurrency backstop.
type EventRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AggregateID   string    `gorm:"not null;uniqueIndex:idx_aggregate_version,priority:1" json:"aggregate_id"`
	EventType     string    `gorm:"not null" json:"event_type"`
	EventData     string    `gorm:"type:text;not null" json:"event_data"`
	Version       int64     `gorm:"not null;uniqueIndex:idx_aggregate_version,priority:2" json:"version"`
	OccurredAt    time.Time `gorm:"not null" json:"occurred_at"`
	UserID        *int64    `json:"user_id"`
	AggregateType string    `gorm:"not null;index" json:"aggregate_type"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// QuizListProjection is the read-side row for one generation run, keyed by
// aggregate id. Mutated exclusively by the projector, never hard-deleted.
type QuizListProjection struct {
	AggregateID     string     `gorm:"primaryKey" json:"aggregate_id"`
	Title           string     `json:"title"`
	Topic           string     `gorm:"index" json:"topic"`
	GradeLevel      int        `gorm:"index" json:"grade_level"`
	TeacherID       int64      `gorm:"index" json:"teacher_id"`
	LevelID         int64      `json:"level_id"`
	QuestionCount   int        `json:"question_count"`
	TotalScore      int        `json:"total_score"`
	DurationSeconds float64    `json:"duration_seconds"`
	Status          string     `gorm:"index" json:"status"`
	IsCompleted     bool       `gorm:"not null;default:false" json:"is_completed"`
	IsFailed        bool       `gorm:"not null;default:false" json:"is_failed"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	AiRequestID     *int64     `json:"ai_request_id"`
	QuizID          *int64     `json:"quiz_id"`
	InitiatedAt     *time.Time `json:"initiated_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	LastVersion     int64      `gorm:"not null" json:"last_version"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GenerationStatistics is the singleton rollup over all projection rows.
// Recomputed in full after every projected event.
type GenerationStatistics struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	TotalGenerations   int64     `json:"total_generations"`
	CompletedCount     int64     `json:"completed_count"`
	FailedCount        int64     `json:"failed_count"`
	InProgressCount    int64     `json:"in_progress_count"`
	SuccessRate        float64   `json:"success_rate"`
	MinDurationSeconds float64   `json:"min_duration_seconds"`
	MaxDurationSeconds float64   `json:"max_duration_seconds"`
	AvgDurationSeconds float64   `json:"avg_duration_seconds"`
	TotalQuestions     int64     `json:"total_questions"`
	AvgQuestions       float64   `json:"avg_questions"`
	GradeDistribution  []byte    `gorm:"type:json" json:"grade_distribution"`
	TopicDistribution  []byte    `gorm:"type:json" json:"topic_distribution"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// StatisticsID is the fixed primary key of the statistics singleton.
const StatisticsID int64 = 1

// AiRequest is the relational row created for each provider call.
type AiRequest struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	AggregateID string         `gorm:"index" json:"aggregate_id"`
	TeacherID   int64          `gorm:"not null" json:"teacher_id"`
	Prompt      string         `gorm:"type:text" json:"prompt"`
	Status      string         `gorm:"not null" json:"status"`
	RawResponse string         `gorm:"type:text" json:"raw_response"`
}

// Quiz is the relational quiz row produced by a successful run.
type Quiz struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	TeacherID   int64          `gorm:"not null;index" json:"teacher_id"`
	LevelID     int64          `gorm:"not null" json:"level_id"`
	Title       string         `gorm:"not null" json:"title"`
	Topic       string         `json:"topic"`
	TimeLimit   int            `json:"time_limit"`
	TotalScore  int            `json:"total_score"`
	Status      string         `gorm:"not null" json:"status"`
	AggregateID string         `gorm:"index" json:"aggregate_id"`
	Questions   []Question     `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
}

// Question is one generated question belonging to a quiz.
type Question struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
	QuizID        int64          `gorm:"not null;index" json:"quiz_id"`
	Text          string         `gorm:"type:text;not null" json:"text"`
	Type          string         `gorm:"not null" json:"type"`
	CorrectAnswer string         `json:"correct_answer"`
	Explanation   string         `gorm:"type:text" json:"explanation"`
	Score         int            `json:"score"`
	Tags          []byte         `gorm:"type:json" json:"tags"`
	Answers       []Answer       `gorm:"foreignKey:QuestionID" json:"answers,omitempty"`
}

// Answer is one choice attached to a question.
type Answer struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	QuestionID int64          `gorm:"not null;index" json:"question_id"`
	Text       string         `gorm:"not null" json:"text"`
	IsCorrect  bool           `gorm:"not null;default:false" json:"is_correct"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&EventRecord{},
		&QuizListProjection{},
		&GenerationStatistics{},
		&AiRequest{},
		&Quiz{},
		&Question{},
		&Answer{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
