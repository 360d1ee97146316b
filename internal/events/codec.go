package events

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrUnknownEventType is returned when a stored type tag no longer resolves
// to a concrete event. This indicates a schema or deployment mismatch and is
// not recoverable.
var ErrUnknownEventType = errors.New("unknown event type")

// registry resolves a stored type tag back to a blank event to decode into.
var registry = map[string]func() Event{
	TypeGenerationInitiated: func() Event { return &GenerationInitiated{} },
	TypeAiRequestCreated:    func() Event { return &AiRequestCreated{} },
	TypeAiContentGenerated:  func() Event { return &AiContentGenerated{} },
	TypeQuizCreated:         func() Event { return &QuizCreated{} },
	TypeQuestionsAdded:      func() Event { return &QuestionsAdded{} },
	TypeGenerationCompleted: func() Event { return &GenerationCompleted{} },
	TypeGenerationFailed:    func() Event { return &GenerationFailed{} },
}

// Marshal serializes an event payload for storage.
func Marshal(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s payload", event.EventType())
	}
	return data, nil
}

// Unmarshal resolves a type tag and decodes the stored payload into the
// concrete event shape.
func Unmarshal(eventType string, data []byte) (Event, error) {
	factory, ok := registry[eventType]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEventType, "no event registered for tag %q", eventType)
	}

	event := factory()
	if err := json.Unmarshal(data, event); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal %s payload", eventType)
	}
	return event, nil
}
