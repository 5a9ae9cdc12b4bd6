package clicks

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink/internal/messaging"
)

// QueueDispatcher publishes tasks to TopicRequested for cmd/consumer.
// The message ID is the click event ID.
type QueueDispatcher struct {
	publish messaging.Publish[Task]
}

func NewQueueDispatcher(publisher message.Publisher) *QueueDispatcher {
	return &QueueDispatcher{
		publish: messaging.NewPublishFunc(publisher, TopicRequested,
			messaging.WithMessageID(func(t *Task) string { return t.Event.ID })),
	}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, task *Task) error {
	return d.publish(ctx, task)
}

// NewDeadLetterPublisher publishes dead letters to TopicDeadLetter.
func NewDeadLetterPublisher(publisher message.Publisher) messaging.Publish[DeadLetter] {
	return messaging.NewPublishFunc(publisher, TopicDeadLetter,
		messaging.WithMessageID(func(d *DeadLetter) string { return d.Task.Event.ID }))
}

var _ Dispatcher = (*QueueDispatcher)(nil)
