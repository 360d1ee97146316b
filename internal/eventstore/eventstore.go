package eventstore

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/eduplatform/services/quizgen/internal/events"
	"example.com/eduplatform/services/quizgen/internal/models"
)

// NoStreamVersion is returned by LatestVersion for an aggregate with no
// stored events, signaling "new aggregate".
const NoStreamVersion int64 = -1

// ErrConcurrencyConflict is returned when the stream's latest stored version
// does not match the caller's expected version. The append writes nothing.
var ErrConcurrencyConflict = errors.New("concurrency conflict: stream version does not match expected version")

// Store is the append-only, versioned event log backed by the write database.
// Reads go to the read-only replica, matching the service's split-DB setup.
type Store struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewStore creates an event store over the write/read database pair.
func NewStore(db *gorm.DB, readOnlyDB *gorm.DB) *Store {
	return &Store{db: db, readOnlyDB: readOnlyDB}
}

// SaveEvents appends a batch of events to one aggregate's stream. The append
// is atomic: if the stream's latest version differs from expectedVersion the
// whole batch is rejected with ErrConcurrencyConflict. Versions are assigned
// sequentially starting at expectedVersion+1.
func (s *Store) SaveEvents(ctx context.Context, aggregateID string, envelopes []events.Envelope, expectedVersion int64) error {
	if len(envelopes) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := latestVersion(tx, aggregateID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return errors.Wrapf(ErrConcurrencyConflict,
				"aggregate %s: expected version %d but stream is at %d", aggregateID, expectedVersion, current)
		}

		records := make([]models.EventRecord, 0, len(envelopes))
		for i, env := range envelopes {
			data, err := events.Marshal(env.Event)
			if err != nil {
				return err
			}
			records = append(records, models.EventRecord{
				ID:            env.EventID,
				AggregateID:   aggregateID,
				EventType:     env.Event.EventType(),
				EventData:     string(data),
				Version:       expectedVersion + 1 + int64(i),
				OccurredAt:    env.OccurredAt,
				UserID:        env.UserID,
				AggregateType: events.AggregateType,
			})
		}

		if err := tx.Create(&records).Error; err != nil {
			// A racing writer can pass the version check and land first; the
			// unique (aggregate_id, version) index catches the loser.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.Wrapf(ErrConcurrencyConflict,
					"aggregate %s: concurrent append detected at version %d", aggregateID, expectedVersion+1)
			}
			return errors.Wrap(err, "failed to append event batch")
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// GetEvents returns an aggregate's full stream ordered by version ascending.
func (s *Store) GetEvents(ctx context.Context, aggregateID string) ([]events.Envelope, error) {
	return s.GetEventsFrom(ctx, aggregateID, 0)
}

// GetEventsFrom returns the stream starting at fromVersion, ordered by
// version ascending.
func (s *Store) GetEventsFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]events.Envelope, error) {
	var records []models.EventRecord
	err := s.readOnlyDB.WithContext(ctx).
		Where("aggregate_id = ? AND version >= ?", aggregateID, fromVersion).
		Order("version asc").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load events for aggregate %s", aggregateID)
	}

	return decodeRecords(records)
}

// AllEventsOrdered streams every stored event across all aggregates, ordered
// by (aggregate_id, version). Used by the projection rebuild path.
func (s *Store) AllEventsOrdered(ctx context.Context) ([]events.Envelope, error) {
	var records []models.EventRecord
	err := s.readOnlyDB.WithContext(ctx).
		Where("aggregate_type = ?", events.AggregateType).
		Order("aggregate_id asc, version asc").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load full event log")
	}

	return decodeRecords(records)
}

// LatestVersion returns the version of the aggregate's newest stored event,
// or NoStreamVersion when the stream is empty.
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	return latestVersion(s.readOnlyDB.WithContext(ctx), aggregateID)
}

// Exists reports whether at least one event is stored for the aggregate.
func (s *Store) Exists(ctx context.Context, aggregateID string) (bool, error) {
	var count int64
	err := s.readOnlyDB.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("aggregate_id = ?", aggregateID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(err, "failed to check existence of aggregate %s", aggregateID)
	}
	return count > 0, nil
}

// StreamHead is the newest stored version of one aggregate's stream.
type StreamHead struct {
	AggregateID string
	Version     int64
}

// StreamHeads returns the latest stored version per aggregate. Used by the
// projection reconcile job to find read-model lag.
func (s *Store) StreamHeads(ctx context.Context) ([]StreamHead, error) {
	var heads []StreamHead
	err := s.readOnlyDB.WithContext(ctx).
		Model(&models.EventRecord{}).
		Select("aggregate_id, max(version) as version").
		Where("aggregate_type = ?", events.AggregateType).
		Group("aggregate_id").
		Scan(&heads).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load stream heads")
	}
	return heads, nil
}

// CountEvents returns the total number of stored events. Reported by the
// health endpoint.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := s.readOnlyDB.WithContext(ctx).
		Model(&models.EventRecord{}).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count stored events")
	}
	return count, nil
}

func latestVersion(tx *gorm.DB, aggregateID string) (int64, error) {
	var version *int64
	err := tx.Model(&models.EventRecord{}).
		Select("max(version)").
		Where("aggregate_id = ?", aggregateID).
		Scan(&version).Error
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read latest version for aggregate %s", aggregateID)
	}
	if version == nil {
		return NoStreamVersion, nil
	}
	return *version, nil
}

func decodeRecords(records []models.EventRecord) ([]events.Envelope, error) {
	envelopes := make([]events.Envelope, 0, len(records))
	for _, record := range records {
		event, err := events.Unmarshal(record.EventType, []byte(record.EventData))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode event %s for aggregate %s", record.ID, record.AggregateID)
		}
		envelopes = append(envelopes, events.Envelope{
			EventID:     record.ID,
			AggregateID: record.AggregateID,
			Version:     record.Version,
			OccurredAt:  record.OccurredAt,
			UserID:      record.UserID,
			Event:       event,
		})
	}
	return envelopes, nil
}
