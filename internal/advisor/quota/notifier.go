package quota

import (
	"context"
	"fmt"
	"time"
)

const EventQuotaExhausted = "quota.exhausted"

// Event is published when a user runs out of questions, so billing can offer
// an upgrade.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	AnalysisID string    `json:"analysisId"`
	Tier       string    `json:"tier"`
	Bucket     string    `json:"bucket"`
	Limit      int       `json:"limit"`
	At         time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Publisher is satisfied by the shared SNS client wrapper.
type Publisher interface {
	PublishEvent(ctx context.Context, topicARN string, payload interface{}, attrs map[string]string) (string, error)
}

type SNSNotifier struct {
	publisher Publisher
	topicARN  string
}

func NewSNSNotifier(publisher Publisher, topicARN string) *SNSNotifier {
	return &SNSNotifier{publisher: publisher, topicARN: topicARN}
}

func (n *SNSNotifier) Notify(ctx context.Context, ev Event) error {
	_, err := n.publisher.PublishEvent(ctx, n.topicARN, ev, map[string]string{
		"eventType": ev.Type,
		"tier":      ev.Tier,
	})
	if err != nil {
		return fmt.Errorf("publish quota event: %w", err)
	}
	return nil
}
