package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/eduplatform/services/quizgen/config"
)

// GenerationRequest carries the parameters for one quiz draft.
type GenerationRequest struct {
	Topic           string `json:"topic"`
	Title           string `json:"title"`
	GradeLevel      int    `json:"grade_level"`
	QuestionCount   int    `json:"question_count"`
	DurationMinutes int    `json:"duration_minutes"`
	Prompt          string `json:"prompt"`
}

// GeneratedQuestion is one question in the provider's structured response.
type GeneratedQuestion struct {
	Text          string   `json:"text"`
	Type          string   `json:"type"`
	Choices       []string `json:"choices"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Score         int      `json:"score"`
	Tags          []string `json:"tags"`
}

// GeneratedQuiz is the provider's structured quiz draft.
type GeneratedQuiz struct {
	Title           string              `json:"title"`
	DurationMinutes int                 `json:"duration_minutes"`
	TotalPoints     int                 `json:"total_points"`
	Questions       []GeneratedQuestion `json:"questions"`
	Raw             string              `json:"-"`
}

// Provider generates a quiz draft from request parameters. The call blocks
// until the provider answers or ctx is done; there is no retry or backoff
// here, that is the caller's decision.
type Provider interface {
	GenerateQuiz(ctx context.Context, request GenerationRequest) (*GeneratedQuiz, error)
}

// HTTPProvider calls the configured content-generation endpoint.
type HTTPProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewHTTPProvider creates a provider over the configured endpoint.
func NewHTTPProvider(cfg config.AiConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPProvider{
		client:   &http.Client{Timeout: timeout},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
	}
}

// GenerateQuiz posts the request parameters and decodes the structured quiz.
func (p *HTTPProvider) GenerateQuiz(ctx context.Context, request GenerationRequest) (*GeneratedQuiz, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal generation request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build generation request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	log.Info().
		Str("topic", request.Topic).
		Int("question_count", request.QuestionCount).
		Msg("Calling AI content provider")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "AI provider call failed")
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read AI provider response")
	}

	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("AI provider returned status %d: %s", res.StatusCode, string(raw))
	}

	var quiz GeneratedQuiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return nil, errors.Wrap(err, "failed to decode AI provider response")
	}
	quiz.Raw = string(raw)

	if len(quiz.Questions) == 0 {
		return nil, errors.New("AI provider returned a quiz with no questions")
	}

	return &quiz, nil
}
