package mykafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	publishTimeout = 5 * time.Second

	EventUserRegistered  = "user_registered"
	EventUserLoggedIn    = "user_logged_in"
	EventUserLoggedOut   = "user_logged_out"
	EventTokenRefreshed  = "token_refreshed"
	EventPasswordChanged = "password_changed"
	EventUserUpdated     = "user_updated"
	EventUserDeleted     = "user_deleted"
	EventUserRestored    = "user_restored"
	EventRoleGranted     = "role_granted"
	EventRoleRevoked     = "role_revoked"
)

// AccountEvent is the payload written to the account events topic, keyed by
// account id so one account's events stay ordered within a partition.
type AccountEvent struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id"`
	Username   string    `json:"username,omitempty"`
	Role       string    `json:"role,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev AccountEvent) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: topic is empty")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Producer{writer: w}, nil
}

func Message(ev AccountEvent) (kafka.Message, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.AccountID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

func (p *Producer) Publish(ctx context.Context, ev AccountEvent) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Noop drops events; used when KAFKA_BROKERS is empty.
type Noop struct{}

func (Noop) Publish(context.Context, AccountEvent) error { return nil }
func (Noop) Close() error                                { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []AccountEvent
}

func (r *Recorder) Publish(_ context.Context, ev AccountEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []AccountEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AccountEvent(nil), r.events...)
}

func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}
