package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Message is addressed to one user and must be delivered out of band.
type Message struct {
	Recipient  uuid.UUID         `json:"recipient"`
	Kind       string            `json:"kind"`
	EntityID   uuid.UUID         `json:"entity_id"`
	Attributes map[string]string `json:"attributes"`
}

const MessageVisitOTP = "visit.otp"

type outbox struct {
	messages []Message
}

func (b *outbox) add(m Message) {
	b.messages = append(b.messages, m)
}

// Notifier delivers outbox messages after the mutation committed.
type Notifier interface {
	Deliver(ctx context.Context, msgs []Message) error
}

// LogNotifier writes messages to the log. Secrets in attributes are not logged.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("service", "notifier").Logger()}
}

func (n *LogNotifier) Deliver(_ context.Context, msgs []Message) error {
	for _, m := range msgs {
		n.logger.Info().
			Str("recipient", m.Recipient.String()).
			Str("kind", m.Kind).
			Str("entity_id", m.EntityID.String()).
			Msg("message queued for delivery")
	}
	return nil
}
