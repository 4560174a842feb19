// Package events publishes enquiry lifecycle events to a Kafka topic for
// downstream consumers (support tooling, analytics).
//
// Publishing is best-effort: the submission workflow never fails because the
// event stream is down.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Event names.
const (
	EventEnquirySubmitted      = "enquiry.submitted"
	EventConfirmationDelivered = "enquiry.confirmation_delivered"
	EventConfirmationFailed    = "enquiry.confirmation_failed"
)

// DefaultTopic is the enquiry lifecycle topic.
const DefaultTopic = "enquiry-events"

// Event is one enquiry lifecycle fact, keyed by support reference number.
type Event struct {
	Name              string    `json:"name"`
	SupportReference  string    `json:"support_reference"`
	PartnersContacted int       `json:"partners_contacted,omitempty"`
	EmailStatus       string    `json:"email_status,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Publisher produces events to Kafka.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithTopic overrides the destination topic.
func WithTopic(topic string) PublisherOption {
	return func(p *Publisher) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// NewPublisher connects to the given brokers.
func NewPublisher(brokers []string, opts ...PublisherOption) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	p := &Publisher{client: client, topic: DefaultTopic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureTopic creates the destination topic if it does not exist yet.
// Called once at startup.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopic(ctx, partitions, 1, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, resp.Err)
	}
	return nil
}

// Publish produces one event synchronously. Failures are returned so the
// caller can log them; callers must not treat them as fatal.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.SupportReference),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", event.Name, err)
	}
	return nil
}

// Close flushes and releases the Kafka client.
func (p *Publisher) Close() {
	p.client.Close()
}
