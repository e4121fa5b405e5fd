package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"vision2viral/internal/model"

	"cloud.google.com/go/pubsub"
)

// Publisher defines an interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error)
}

// PubSubPublisher is an implementation of Publisher using Google Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client
	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPublisher creates a new PubSubPublisher for projectID.
func NewPublisher(ctx context.Context, projectID string) (*PubSubPublisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("failed to create Pub/Sub client: project id is empty")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// Publish sends the payload to the given Pub/Sub topic and returns the message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	t, ok := p.topics[topic]
	if !ok {
		t = p.client.Topic(topic)
		p.topics[topic] = t
	}
	p.mu.Unlock()
	result := t.Publish(ctx, &pubsub.Message{Data: payload, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
	return p.client.Close()
}

// ActivityPublisher publishes user activity records as JSON to one topic.
type ActivityPublisher struct {
	pub   Publisher
	topic string
}

// NewActivityPublisher binds pub to topic.
func NewActivityPublisher(pub Publisher, topic string) *ActivityPublisher {
	return &ActivityPublisher{pub: pub, topic: topic}
}

// PublishActivity encodes a and publishes it with user and type attributes.
func (a *ActivityPublisher) PublishActivity(ctx context.Context, act model.Activity) error {
	payload, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	_, err = a.pub.Publish(ctx, a.topic, payload, map[string]string{
		"user_id":       act.UserID,
		"activity_type": act.Type,
	})
	return err
}
