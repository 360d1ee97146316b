package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/eduplatform/services/quizgen/config"
	"example.com/eduplatform/services/quizgen/internal/models"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexProjection indexes a quiz-list projection row. Called for terminal
// rows so the search index only carries finished runs.
func (c *ElasticClient) IndexProjection(ctx context.Context, row *models.QuizListProjection) error {
	log.Info().Str("aggregate_id", row.AggregateID).Msg("indexing generation projection")

	doc := map[string]interface{}{
		"aggregate_id":     row.AggregateID,
		"title":            row.Title,
		"topic":            row.Topic,
		"grade_level":      row.GradeLevel,
		"teacher_id":       row.TeacherID,
		"level_id":         row.LevelID,
		"question_count":   row.QuestionCount,
		"total_score":      row.TotalScore,
		"duration_seconds": row.DurationSeconds,
		"status":           row.Status,
		"is_completed":     row.IsCompleted,
		"is_failed":        row.IsFailed,
		"error_message":    row.ErrorMessage,
		"initiated_at":     row.InitiatedAt,
		"completed_at":     row.CompletedAt,
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal projection document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: row.AggregateID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	return nil
}

// SearchGenerations searches finished generation runs. The query string
// matches title and topic; optional filters narrow by status and teacher.
func (c *ElasticClient) SearchGenerations(ctx context.Context, queryString string, status string, teacherID *int64, size int) ([]map[string]interface{}, error) {
	if size <= 0 {
		size = 20
	}

	must := []map[string]interface{}{}
	if queryString != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  queryString,
				"fields": []string{"title", "topic"},
			},
		})
	}
	if status != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"status.keyword": status},
		})
	}
	if teacherID != nil {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"teacher_id": *teacherID},
		})
	}

	query := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		},
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}

	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}

		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}

		docs = append(docs, source)
	}

	return docs, nil
}
