// Package queue carries job ids from upload intake to the worker.
package queue

import (
	"context"
)

// Queue is a FIFO of job ids with a single consumer
type Queue interface {
	// Enqueue adds a job id and returns without waiting for a consumer
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a message is available. It returns
	// domain.ErrQueueClosed once the queue has been shut down and drained.
	Dequeue(ctx context.Context) (*Message, error)
	// Close signals the consumer to stop after the messages already queued
	Close() error
	// Len reports the number of waiting messages
	Len() int
}

// Message is one delivered job id
type Message struct {
	JobID string

	ack  func() error
	nack func() error
}

// Ack confirms the message was handled
func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// Nack rejects the message without requeueing it
func (m *Message) Nack() error {
	if m.nack == nil {
		return nil
	}
	return m.nack()
}
