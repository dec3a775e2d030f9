package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clinicstock/internal/infrastructure/storage/postgres"
)

// ChannelPrefix prefixes every pub/sub channel.
const ChannelPrefix = "clinicstock."

// Envelope is what subscribers receive.
type Envelope struct {
	ID            string          `json:"id"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	CenterID      string          `json:"centerId"`
	OccurredAt    string          `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// PubSubClient is the part of the redis client the publisher uses.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher relays outbox messages to Redis channels.
type Publisher struct {
	client PubSubClient
}

var _ postgres.OutboxHandler = (*Publisher)(nil)

// NewPublisher creates a publisher.
func NewPublisher(client PubSubClient) *Publisher {
	return &Publisher{client: client}
}

// Channel returns the channel of an event type.
func Channel(eventType string) string {
	return ChannelPrefix + eventType
}

// Handle publishes msg on clinicstock.<event_type>.
func (p *Publisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	body, err := json.Marshal(Envelope{
		ID:            msg.ID.String(),
		EventType:     msg.EventType,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID.String(),
		CenterID:      msg.CenterID.String(),
		OccurredAt:    msg.CreatedAt.UTC().Format(time.RFC3339),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.client.Publish(ctx, Channel(msg.EventType), body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.EventType, err)
	}
	return nil
}
