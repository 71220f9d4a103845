// Package queue implements the at-least-once, FIFO-ish message bus the
// orchestrator uses to distribute pipeline steps across workers (§4.2).
package queue

import (
	"context"
	"time"
)

// Message is the minimum payload carried on the wire: no pipeline content
// travels with it, the worker reads authoritative state from storage (§6).
type Message struct {
	Index       string
	DocumentID  string
	ExecutionID string

	// Attempt is maintained by the queue adapter for poison-routing
	// decisions; it is not part of the wire payload.
	Attempt int
}

// Outcome is what a dequeue handler tells the queue to do with a message.
type Outcome int

const (
	Ack Outcome = iota
	Requeue
	Poison
)

// ConnectOptions configure a named queue binding (§4.2).
type ConnectOptions struct {
	VisibilityTimeout time.Duration
	PoisonSuffix      string // default-facing suffix, e.g. "-poison"
	MaxAttempts       int    // attempt cap before poison routing (default small, e.g. 20)
}

// DefaultPoisonSuffix matches the dead-letter sibling naming in §4.2.
const DefaultPoisonSuffix = "-poison"

// DefaultMaxAttempts is the default attempt cap before poison routing.
const DefaultMaxAttempts = 20

// Queue is the contract every backend (Pub/Sub, in-memory, …) implements.
type Queue interface {
	// Connect binds to a named queue, declaring a dead-letter sibling
	// "<name><PoisonSuffix>".
	Connect(ctx context.Context, name string, opts ConnectOptions) error
	// Enqueue durably publishes payload; it returns only after the broker
	// has acknowledged the publish.
	Enqueue(ctx context.Context, payload Message) error
	// OnDequeue registers the async callback invoked per delivered message.
	// Only one handler may be registered per Queue instance.
	OnDequeue(handler func(ctx context.Context, payload Message) Outcome) error
	// Close releases any broker resources and stops delivery.
	Close(ctx context.Context) error
}
