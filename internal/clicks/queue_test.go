package clicks_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/shortlink/internal/clicks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	topic    string
	messages []*message.Message
}

func (c *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	c.topic = topic
	c.messages = append(c.messages, msgs...)

	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestQueueDispatcher(t *testing.T) {
	pub := &capturePublisher{}
	d := clicks.NewQueueDispatcher(pub)
	task := newTask(t, "abc123")

	require.NoError(t, d.Dispatch(context.Background(), task))

	assert.Equal(t, clicks.TopicRequested, pub.topic)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, task.Event.ID, pub.messages[0].UUID)

	var decoded clicks.Task
	require.NoError(t, json.Unmarshal(pub.messages[0].Payload, &decoded))
	assert.Equal(t, task.Code, decoded.Code)
	assert.Equal(t, task.Event.ID, decoded.Event.ID)
	assert.True(t, task.Event.Timestamp.Equal(decoded.Event.Timestamp))
}

func TestNewDeadLetterPublisher(t *testing.T) {
	pub := &capturePublisher{}
	publish := clicks.NewDeadLetterPublisher(pub)
	task := newTask(t, "abc123")

	require.NoError(t, publish(context.Background(), &clicks.DeadLetter{Task: *task, Error: "boom", Attempts: 3}))

	assert.Equal(t, clicks.TopicDeadLetter, pub.topic)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, task.Event.ID, pub.messages[0].UUID)
	assert.Contains(t, string(pub.messages[0].Payload), `"attempts":3`)
}
