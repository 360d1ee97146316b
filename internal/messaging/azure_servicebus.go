package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/eduplatform/services/quizgen/config"
)

// QueuedGenerationRequest is the queue payload for an asynchronous
// generation run.
type QueuedGenerationRequest struct {
	TeacherID       int64  `json:"teacher_id"`
	LevelID         int64  `json:"level_id"`
	Title           string `json:"title"`
	Topic           string `json:"topic"`
	GradeLevel      int    `json:"grade_level"`
	QuestionCount   int    `json:"question_count"`
	DurationMinutes int    `json:"duration_minutes"`
	Prompt          string `json:"prompt"`
	UserID          *int64 `json:"user_id,omitempty"`
}

// MessageHandler processes one received queue message.
type MessageHandler func(ctx context.Context, message *azservicebus.ReceivedMessage) error

// ServiceBusClient wraps the Azure Service Bus queue used for generation
// request intake.
type ServiceBusClient struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	receiver  *azservicebus.Receiver
	queueName string
}

// NewServiceBusClient creates a client for the configured queue.
func NewServiceBusClient(cfg config.ServiceBusConfig) (*ServiceBusClient, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	receiver, err := client.NewReceiverForQueue(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus receiver")
	}

	return &ServiceBusClient{
		client:    client,
		sender:    sender,
		receiver:  receiver,
		queueName: cfg.QueueName,
	}, nil
}

// EnqueueGenerationRequest sends a queued generation request.
func (s *ServiceBusClient) EnqueueGenerationRequest(ctx context.Context, request *QueuedGenerationRequest) error {
	data, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "failed to marshal generation request")
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": "quizgen-api",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := s.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrap(err, "failed to send generation request")
	}
	return nil
}

// ExtractGenerationRequest decodes a queued generation request from a
// received message.
func ExtractGenerationRequest(message *azservicebus.ReceivedMessage) (*QueuedGenerationRequest, error) {
	var request QueuedGenerationRequest
	if err := json.Unmarshal(message.Body, &request); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal generation request")
	}
	return &request, nil
}

// ProcessMessages receives queue messages until ctx is done, handing each to
// the handler. Handled messages are completed; failed ones are abandoned so
// the queue redelivers them.
func (s *ServiceBusClient) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := s.receiver.ReceiveMessages(ctx, 1, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to receive messages")
		}

		for _, message := range messages {
			if err := handler(ctx, message); err != nil {
				log.Error().
					Err(err).
					Str("message_id", message.MessageID).
					Msg("Failed to process queued generation request")

				if abandonErr := s.receiver.AbandonMessage(ctx, message, nil); abandonErr != nil {
					log.Error().Err(abandonErr).Msg("Failed to abandon message")
				}
				continue
			}

			if err := s.receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Msg("Failed to complete message")
			}
		}
	}
}

// Close closes the Service Bus sender, receiver and client.
func (s *ServiceBusClient) Close() error {
	ctx := context.Background()

	if s.sender != nil {
		if err := s.sender.Close(ctx); err != nil {
			return err
		}
	}
	if s.receiver != nil {
		if err := s.receiver.Close(ctx); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(ctx)
	}
	return nil
}
