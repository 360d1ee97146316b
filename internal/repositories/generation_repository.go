package repositories

import (
	"context"

	"github.com/pkg/errors"

	"example.com/eduplatform/services/quizgen/internal/aggregate"
	"example.com/eduplatform/services/quizgen/internal/eventstore"
)

// ErrAggregateNotFound is returned when an aggregate has no stored events.
var ErrAggregateNotFound = errors.New("aggregate not found")

// GenerationRepository loads quiz-generation aggregates by replaying their
// stream and saves their uncommitted events through the concurrency-checked
// append.
type GenerationRepository struct {
	store *eventstore.Store
}

// NewGenerationRepository creates a new aggregate repository.
func NewGenerationRepository(store *eventstore.Store) *GenerationRepository {
	return &GenerationRepository{store: store}
}

// Load fetches the full stream and replays it into a blank aggregate seeded
// only with the id. An empty stream is ErrAggregateNotFound.
func (r *GenerationRepository) Load(ctx context.Context, aggregateID string) (*aggregate.QuizGeneration, error) {
	history, err := r.store.GetEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, errors.Wrapf(ErrAggregateNotFound, "aggregate %s", aggregateID)
	}

	agg := aggregate.NewQuizGeneration(aggregateID, nil)
	if err := agg.LoadFromHistory(history); err != nil {
		return nil, errors.Wrapf(err, "failed to rebuild aggregate %s", aggregateID)
	}
	return agg, nil
}

// Save appends the aggregate's uncommitted events. The expected version in
// the store is the aggregate's version minus the size of the buffer, i.e.
// the version the stream was at before this batch. A no-op on an empty
// buffer.
func (r *GenerationRepository) Save(ctx context.Context, agg *aggregate.QuizGeneration) error {
	uncommitted := agg.UncommittedEvents()
	if len(uncommitted) == 0 {
		return nil
	}

	expectedVersion := agg.Version() - int64(len(uncommitted))
	if err := r.store.SaveEvents(ctx, agg.ID(), uncommitted, expectedVersion); err != nil {
		return err
	}

	agg.MarkCommitted()
	return nil
}

// Exists reports whether the aggregate has any stored events.
func (r *GenerationRepository) Exists(ctx context.Context, aggregateID string) (bool, error) {
	return r.store.Exists(ctx, aggregateID)
}
