package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the publishing side of the RabbitMQ client.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// AMQP publishes notifications as JSON messages.
type AMQP struct {
	publisher Publisher
}

// NewAMQP creates an AMQP notifier.
func NewAMQP(publisher Publisher) *AMQP {
	return &AMQP{publisher: publisher}
}

// Notify implements Notifier.
func (a *AMQP) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := a.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
