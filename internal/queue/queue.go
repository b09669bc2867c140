// Package queue adapts message brokers that deliver object-created
// notifications to the extraction processor, and publishes completion
// events. Delivery is at least once.
package queue

import (
	"context"

	"github.com/dmitrijs2005/intakevault/internal/models"
)

// Message is one broker delivery. A single notification may carry several
// object events. Malformed is set when the body could not be decoded; such
// messages carry no events.
type Message struct {
	ID              string
	Handle          string
	DeliveryAttempt int
	Events          []models.QueueEvent
	Malformed       error
}

// Queue is a competing-consumer queue with visibility timeouts.
type Queue interface {
	// Receive returns up to max messages, waiting briefly when none are
	// available. It may return an empty slice.
	Receive(ctx context.Context, max int) ([]Message, error)
	// Ack removes a handled message.
	Ack(ctx context.Context, m Message) error
	// Release makes the message visible again at once so the broker counts
	// the delivery and eventually dead-letters it.
	Release(ctx context.Context, m Message) error
}

// Publisher emits completion events.
type Publisher interface {
	Publish(ctx context.Context, ev models.CompletionEvent) error
}
