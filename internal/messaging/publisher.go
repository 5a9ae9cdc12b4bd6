package messaging

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Publish sends one typed event to the topic it was built for.
type Publish[T any] func(ctx context.Context, event *T) error

// PublishOption customizes messages built by NewPublishFunc.
type PublishOption[T any] func(*publishConfig[T])

type publishConfig[T any] struct {
	messageID func(*T) string
}

// WithMessageID derives the watermill message UUID from the event, so
// redeliveries of one event carry the same ID in logs and dead letters.
func WithMessageID[T any](fn func(*T) string) PublishOption[T] {
	return func(c *publishConfig[T]) {
		c.messageID = fn
	}
}

// NewPublishFunc creates a typed publish function for a specific topic.
// Payloads are JSON.
func NewPublishFunc[T any](publisher message.Publisher, topic string, opts ...PublishOption[T]) Publish[T] {
	cfg := publishConfig[T]{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, event *T) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}

		id := ""
		if cfg.messageID != nil {
			id = cfg.messageID(event)
		}

		if id == "" {
			id = watermill.NewUUID()
		}

		msg := message.NewMessage(id, payload)
		msg.Metadata.Set("content_type", "application/json")
		msg.SetContext(ctx)

		return publisher.Publish(topic, msg)
	}
}

// PublisherGroup owns the underlying publisher so the container can close it.
type PublisherGroup struct {
	publisher message.Publisher
}

// NewPublisherGroup creates a new publisher group.
func NewPublisherGroup(publisher message.Publisher) *PublisherGroup {
	return &PublisherGroup{publisher: publisher}
}

// Publisher returns the underlying message publisher for creating typed publish functions.
func (g *PublisherGroup) Publisher() message.Publisher {
	return g.publisher
}

// Shutdown closes the underlying publisher.
func (g *PublisherGroup) Shutdown() error {
	return g.publisher.Close()
}
