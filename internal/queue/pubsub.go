package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubQueue implements Queue over Google Cloud Pub/Sub (§4.2). A topic per
// step name plus a dead-letter topic/subscription pair gives at-least-once
// delivery, visibility timeout (ack deadline), and poison routing.
type PubSubQueue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	name   string
	opts   ConnectOptions
}

// NewPubSubQueue creates a PubSubQueue bound to a GCP project. Call Connect
// before Enqueue/OnDequeue.
func NewPubSubQueue(ctx context.Context, projectID string) (*PubSubQueue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("queue.NewPubSubQueue: %w", err)
	}
	return &PubSubQueue{client: client}, nil
}

var _ Queue = (*PubSubQueue)(nil)

// Connect declares (or attaches to) the named topic/subscription and its
// dead-letter sibling "<name><PoisonSuffix>".
func (q *PubSubQueue) Connect(ctx context.Context, name string, opts ConnectOptions) error {
	if opts.PoisonSuffix == "" {
		opts.PoisonSuffix = DefaultPoisonSuffix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 60 * time.Second
	}
	q.name = name
	q.opts = opts

	topic, err := q.getOrCreateTopic(ctx, name)
	if err != nil {
		return fmt.Errorf("queue.PubSubQueue.Connect: topic: %w", err)
	}
	q.topic = topic

	poisonTopic, err := q.getOrCreateTopic(ctx, name+opts.PoisonSuffix)
	if err != nil {
		return fmt.Errorf("queue.PubSubQueue.Connect: poison topic: %w", err)
	}

	sub, err := q.getOrCreateSubscription(ctx, name, topic, poisonTopic, opts)
	if err != nil {
		return fmt.Errorf("queue.PubSubQueue.Connect: subscription: %w", err)
	}
	q.sub = sub

	slog.Info("pubsub queue connected", "topic", name, "poison_topic", name+opts.PoisonSuffix, "ack_deadline_s", int(opts.VisibilityTimeout.Seconds()))
	return nil
}

func (q *PubSubQueue) getOrCreateTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	t := q.client.Topic(name)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return q.client.CreateTopic(ctx, name)
	}
	return t, nil
}

func (q *PubSubQueue) getOrCreateSubscription(ctx context.Context, name string, topic, poisonTopic *pubsub.Topic, opts ConnectOptions) (*pubsub.Subscription, error) {
	subName := name + "-sub"
	s := q.client.Subscription(subName)
	ok, err := s.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return s, nil
	}
	return q.client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: opts.VisibilityTimeout,
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     poisonTopic.String(),
			MaxDeliveryAttempts: opts.MaxAttempts,
		},
	})
}

// Enqueue publishes payload and waits for broker acknowledgement.
func (q *PubSubQueue) Enqueue(ctx context.Context, payload Message) error {
	data, err := json.Marshal(wireMessage{Index: payload.Index, DocumentID: payload.DocumentID, ExecutionID: payload.ExecutionID})
	if err != nil {
		return fmt.Errorf("queue.PubSubQueue.Enqueue: marshal: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = result.Get(ctx)
	if err != nil {
		return fmt.Errorf("queue.PubSubQueue.Enqueue: publish: %w", err)
	}
	return nil
}

// OnDequeue starts a blocking receive loop that honors prefetch = 1 via
// ReceiveSettings.MaxOutstandingMessages, preserving per-worker serial
// semantics (§4.2).
func (q *PubSubQueue) OnDequeue(handler func(ctx context.Context, payload Message) Outcome) error {
	q.sub.ReceiveSettings.MaxOutstandingMessages = 1
	go func() {
		err := q.sub.Receive(context.Background(), func(ctx context.Context, m *pubsub.Message) {
			var wm wireMessage
			if err := json.Unmarshal(m.Data, &wm); err != nil {
				slog.Error("pubsub message undecodable, nacking", "error", err)
				m.Nack()
				return
			}
			attempt := 1
			if m.DeliveryAttempt != nil {
				attempt = *m.DeliveryAttempt
			}
			payload := Message{Index: wm.Index, DocumentID: wm.DocumentID, ExecutionID: wm.ExecutionID, Attempt: attempt}

			switch handler(ctx, payload) {
			case Ack:
				m.Ack()
			case Requeue:
				m.Nack()
			case Poison:
				// Nacking repeatedly until MaxDeliveryAttempts routes the
				// message to the dead-letter topic configured in Connect;
				// Pub/Sub itself owns the attempt count (§4.2 poison policy).
				m.Nack()
			}
		})
		if err != nil {
			slog.Error("pubsub receive loop stopped", "error", err)
		}
	}()
	return nil
}

func (q *PubSubQueue) Close(ctx context.Context) error {
	if q.topic != nil {
		q.topic.Stop()
	}
	return q.client.Close()
}

type wireMessage struct {
	Index       string `json:"index"`
	DocumentID  string `json:"documentId"`
	ExecutionID string `json:"executionId"`
}
