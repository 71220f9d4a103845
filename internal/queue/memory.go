package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryQueue is a channel-backed Queue used by synchronous mode and by
// tests. It reproduces the same Ack/Requeue/Poison semantics as a broker
// adapter, including an attempt cap before poison routing, without needing
// a real broker.
//
// Concurrency: Concurrency worker goroutines pull from the channel, each
// processing at most one message at a time (prefetch = 1, §4.2). Per-
// document serial ordering is the orchestrator's responsibility (§4.1) —
// this queue does not enforce it structurally, so callers must only ever
// have one in-flight message per documentId outstanding at a time.
type InMemoryQueue struct {
	name        string
	opts        ConnectOptions
	messages    chan Message
	poison      chan Message
	handler     func(ctx context.Context, payload Message) Outcome
	concurrency int

	mu       sync.Mutex
	attempts map[string]int // key: index/documentId/executionId

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewInMemoryQueue creates an InMemoryQueue with the given worker concurrency.
func NewInMemoryQueue(concurrency int) *InMemoryQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &InMemoryQueue{
		messages:    make(chan Message, 1024),
		poison:      make(chan Message, 1024),
		concurrency: concurrency,
		attempts:    make(map[string]int),
	}
}

var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Connect(ctx context.Context, name string, opts ConnectOptions) error {
	q.name = name
	if opts.PoisonSuffix == "" {
		opts.PoisonSuffix = DefaultPoisonSuffix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	q.opts = opts
	slog.Info("queue connected", "name", name, "poison_queue", name+opts.PoisonSuffix, "max_attempts", opts.MaxAttempts)
	return nil
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, payload Message) error {
	select {
	case q.messages <- payload:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue.InMemoryQueue.Enqueue: %w", ctx.Err())
	}
}

func (q *InMemoryQueue) OnDequeue(handler func(ctx context.Context, payload Message) Outcome) error {
	if q.handler != nil {
		return fmt.Errorf("queue.InMemoryQueue.OnDequeue: handler already registered")
	}
	q.handler = handler

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return nil
}

func (q *InMemoryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q.messages:
			if !ok {
				return
			}
			q.deliver(ctx, msg)
		}
	}
}

func (q *InMemoryQueue) key(m Message) string {
	return m.Index + "/" + m.DocumentID + "/" + m.ExecutionID
}

func (q *InMemoryQueue) deliver(ctx context.Context, msg Message) {
	q.mu.Lock()
	q.attempts[q.key(msg)]++
	msg.Attempt = q.attempts[q.key(msg)]
	q.mu.Unlock()

	outcome := q.handler(ctx, msg)

	switch outcome {
	case Ack:
		q.mu.Lock()
		delete(q.attempts, q.key(msg))
		q.mu.Unlock()
	case Requeue:
		if msg.Attempt >= q.opts.MaxAttempts {
			slog.Warn("queue attempt cap exceeded, routing to poison", "document_id", msg.DocumentID, "attempts", msg.Attempt)
			q.routeToPoison(msg)
			return
		}
		select {
		case q.messages <- msg:
		default:
			slog.Error("queue full, dropping requeue", "document_id", msg.DocumentID)
		}
	case Poison:
		q.routeToPoison(msg)
	}
}

func (q *InMemoryQueue) routeToPoison(msg Message) {
	q.mu.Lock()
	delete(q.attempts, q.key(msg))
	q.mu.Unlock()
	select {
	case q.poison <- msg:
	default:
		slog.Error("poison queue full, dropping message", "document_id", msg.DocumentID)
	}
}

// Poisoned returns the channel of messages routed to the dead-letter queue.
func (q *InMemoryQueue) Poisoned() <-chan Message {
	return q.poison
}

func (q *InMemoryQueue) Close(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
	}
	close(q.messages)
	q.wg.Wait()
	return nil
}
