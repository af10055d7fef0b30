// Package queue provides the durable at-least-once work queue that carries
// change events from the write path to the index sync worker.
package queue

import (
	"context"
	"time"
)

// Delivery is one received message. It must be acknowledged or dead-lettered.
type Delivery struct {
	ID          string
	Body        []byte
	Redelivered bool
}

// DeadLetter is a message that was given up on, with the reason.
type DeadLetter struct {
	Delivery Delivery
	Reason   string
	At       time.Time
}

// Queue is an at-least-once message queue. Messages received but never
// acknowledged may be delivered again.
type Queue interface {
	Enqueue(ctx context.Context, body []byte) error
	// Receive waits for up to max messages. It returns an empty slice when
	// nothing arrived within the queue's block interval.
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}
