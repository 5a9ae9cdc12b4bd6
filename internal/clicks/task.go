// Package clicks runs click recording off the request path.
//
// A redirect builds a Task and hands it to a Dispatcher. The in-process
// Worker or the queue consumer then runs it through a Processor, which
// records it with a timeout and bounded retries and dead-letters it when
// every attempt fails.
package clicks

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
)

const (
	TopicRequested  = "clicks.requested"
	TopicDeadLetter = "clicks.dead_letter"
)

var (
	ErrQueueFull = errors.New("click queue is full")
	ErrClosed    = errors.New("click dispatcher is closed")
)

// Task is one click to record. The event is built once at redirect time so
// retries and redeliveries carry the same event ID.
type Task struct {
	Code  shortener.Code    `json:"code"`
	Event ledger.ClickEvent `json:"event"`
}

// Dispatcher accepts tasks without waiting for them to be recorded.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *Task) error
}

// DeadLetter is a task that exhausted its attempts.
type DeadLetter struct {
	Task     Task      `json:"task"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failedAt"`
}
