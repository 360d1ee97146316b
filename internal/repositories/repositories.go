package repositories

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/eduplatform/services/quizgen/internal/models"
)

// AiRequestRepository provides access to AI request rows
type AiRequestRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewAiRequestRepository creates a new AI request repository
func NewAiRequestRepository(db *gorm.DB, readOnlyDB *gorm.DB) *AiRequestRepository {
	return &AiRequestRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create creates a new AI request row
func (r *AiRequestRepository) Create(ctx context.Context, request *models.AiRequest) error {
	// Use write DB for writes
	if err := r.db.WithContext(ctx).Create(request).Error; err != nil {
		return errors.Wrap(err, "failed to create AI request")
	}
	return nil
}

// UpdateStatus updates the status and raw response of an AI request
func (r *AiRequestRepository) UpdateStatus(ctx context.Context, id int64, status, rawResponse string) error {
	result := r.db.WithContext(ctx).
		Model(&models.AiRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"raw_response": rawResponse,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update AI request status")
	}
	if result.RowsAffected == 0 {
		return errors.New("no AI request updated")
	}
	return nil
}

// GetByID gets an AI request by ID
func (r *AiRequestRepository) GetByID(ctx context.Context, id int64) (*models.AiRequest, error) {
	var request models.AiRequest
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).First(&request, id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get AI request by ID")
	}
	return &request, nil
}

// QuizRepository provides access to quiz rows
type QuizRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewQuizRepository creates a new quiz repository
func NewQuizRepository(db *gorm.DB, readOnlyDB *gorm.DB) *QuizRepository {
	return &QuizRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create creates a new quiz row
func (r *QuizRepository) Create(ctx context.Context, quiz *models.Quiz) error {
	if err := r.db.WithContext(ctx).Create(quiz).Error; err != nil {
		return errors.Wrap(err, "failed to create quiz")
	}
	return nil
}

// UpdateStatus updates a quiz's status
func (r *QuizRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Quiz{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update quiz status")
	}
	if result.RowsAffected == 0 {
		return errors.New("no quiz updated")
	}
	return nil
}

// GetByID gets a quiz by ID, including its questions
func (r *QuizRepository) GetByID(ctx context.Context, id int64) (*models.Quiz, error) {
	var quiz models.Quiz
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Questions").
		First(&quiz, id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get quiz by ID")
	}
	return &quiz, nil
}

// QuestionRepository provides access to question rows
type QuestionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewQuestionRepository creates a new question repository
func NewQuestionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *QuestionRepository {
	return &QuestionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// CreateBatch creates a batch of questions with their answers in one commit
func (r *QuestionRepository) CreateBatch(ctx context.Context, questions []models.Question) ([]int64, error) {
	if len(questions) == 0 {
		return nil, nil
	}

	if err := r.db.WithContext(ctx).Create(&questions).Error; err != nil {
		return nil, errors.Wrap(err, "failed to create questions")
	}

	ids := make([]int64, 0, len(questions))
	for _, question := range questions {
		ids = append(ids, question.ID)
	}
	return ids, nil
}

// GetByQuizID gets all questions for a quiz
func (r *QuestionRepository) GetByQuizID(ctx context.Context, quizID int64) ([]models.Question, error) {
	var questions []models.Question
	err := r.readOnlyDB.WithContext(ctx).
		Where("quiz_id = ?", quizID).
		Preload("Answers").
		Find(&questions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get questions by quiz ID")
	}
	return questions, nil
}

// AnswerRepository provides access to answer rows
type AnswerRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewAnswerRepository creates a new answer repository
func NewAnswerRepository(db *gorm.DB, readOnlyDB *gorm.DB) *AnswerRepository {
	return &AnswerRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// CreateBatch creates a batch of answers in one commit
func (r *AnswerRepository) CreateBatch(ctx context.Context, answers []models.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&answers).Error; err != nil {
		return errors.Wrap(err, "failed to create answers")
	}
	return nil
}

// ProjectionRepository provides read access to the projection tables
type ProjectionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewProjectionRepository creates a new projection repository
func NewProjectionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ProjectionRepository {
	return &ProjectionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListFilter narrows the projection listing
type ListFilter struct {
	Status     string
	TeacherID  *int64
	GradeLevel *int
	Page       int
	PageSize   int
}

// List returns a page of projection rows plus the total row count for the
// filter
func (r *ProjectionRepository) List(ctx context.Context, filter ListFilter) ([]models.QuizListProjection, int64, error) {
	query := r.readOnlyDB.WithContext(ctx).Model(&models.QuizListProjection{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TeacherID != nil {
		query = query.Where("teacher_id = ?", *filter.TeacherID)
	}
	if filter.GradeLevel != nil {
		query = query.Where("grade_level = ?", *filter.GradeLevel)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "failed to count projections")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	var rows []models.QuizListProjection
	err := query.
		Order("created_at desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list projections")
	}

	return rows, total, nil
}

// GetByAggregateID gets one projection row
func (r *ProjectionRepository) GetByAggregateID(ctx context.Context, aggregateID string) (*models.QuizListProjection, error) {
	var row models.QuizListProjection
	err := r.readOnlyDB.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		First(&row).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get projection by aggregate ID")
	}
	return &row, nil
}

// GetStatistics gets the statistics singleton
func (r *ProjectionRepository) GetStatistics(ctx context.Context) (*models.GenerationStatistics, error) {
	var stats models.GenerationStatistics
	err := r.readOnlyDB.WithContext(ctx).
		Where("id = ?", models.StatisticsID).
		First(&stats).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get generation statistics")
	}
	return &stats, nil
}

// ListByTeacher returns all projection rows for one teacher, newest first
func (r *ProjectionRepository) ListByTeacher(ctx context.Context, teacherID int64) ([]models.QuizListProjection, error) {
	var rows []models.QuizListProjection
	err := r.readOnlyDB.WithContext(ctx).
		Where("teacher_id = ?", teacherID).
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list projections by teacher")
	}
	return rows, nil
}
