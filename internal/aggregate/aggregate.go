package aggregate

import (
	"github.com/pkg/errors"

	"example.com/eduplatform/services/quizgen/internal/events"
)

// EmptyVersion is the version of an aggregate with no applied events.
const EmptyVersion int64 = -1

var (
	// ErrInvalidState is the cause of every precondition violation raised by
	// an aggregate command. Callers are expected to convert it into a
	// FailGeneration transition rather than ignore it.
	ErrInvalidState = errors.New("invalid aggregate state")

	// ErrUnknownEvent indicates an event reached an aggregate with no handler
	// for its type. With the sealed event set this signals a registration bug
	// and is treated as fatal.
	ErrUnknownEvent = errors.New("no handler registered for event")
)

// applier is the aggregate-specific state transition for a single event.
// It must be free of side effects so replay and live application converge.
type applier interface {
	apply(event events.Event) error
}

// Root is the event-sourcing skeleton embedded by concrete aggregates.
// State on the embedding type may only change inside its apply handler;
// version bookkeeping and the uncommitted buffer live here.
type Root struct {
	id          string
	version     int64
	actor       *int64
	uncommitted []events.Envelope
}

func newRoot(id string, actor *int64) Root {
	return Root{id: id, version: EmptyVersion, actor: actor}
}

// ID returns the aggregate's stream identifier.
func (r *Root) ID() string { return r.id }

// Version returns the version of the last applied event, or EmptyVersion
// when no event has been applied.
func (r *Root) Version() int64 { return r.version }

// UncommittedEvents returns the buffered events awaiting persistence.
func (r *Root) UncommittedEvents() []events.Envelope { return r.uncommitted }

// MarkCommitted clears the uncommitted buffer after a successful save.
func (r *Root) MarkCommitted() { r.uncommitted = nil }

// raise applies a freshly emitted event and buffers it for persistence.
// The event is stamped with the next contiguous version.
func (r *Root) raise(a applier, event events.Event) error {
	env := events.NewEnvelope(r.id, event, r.actor)
	return r.applyEnvelope(a, env, true)
}

// applyEnvelope dispatches an event to the aggregate's handler. When isNew,
// the version is incremented and the event buffered; during replay the
// version is taken from the stored envelope so gaps surface downstream
// instead of being silently recounted.
func (r *Root) applyEnvelope(a applier, env events.Envelope, isNew bool) error {
	if err := a.apply(env.Event); err != nil {
		return err
	}

	if isNew {
		r.version++
		env.Version = r.version
		r.uncommitted = append(r.uncommitted, env)
	} else {
		r.version = env.Version
	}
	return nil
}

// replay reconstructs state from an ordered event history. Replayed events
// are never buffered and produce no side effects.
func (r *Root) replay(a applier, history []events.Envelope) error {
	for _, env := range history {
		if err := r.applyEnvelope(a, env, false); err != nil {
			return errors.Wrapf(err, "failed to replay event %s at version %d", env.Event.EventType(), env.Version)
		}
	}
	return nil
}
