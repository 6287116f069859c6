// Package pubsub announces committed entities on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// CompletionEvent is the message body published for a committed entity.
type CompletionEvent struct {
	Source       string    `json:"source"`
	URL          string    `json:"url"`
	Collector    string    `json:"collector"`
	CollectedAt  time.Time `json:"collected_at"`
	ReviewCount  int       `json:"review_count"`
	DocumentPath string    `json:"document_path"`
}

type sendFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Notifier publishes completion events.
type Notifier struct {
	send sendFunc
}

// New creates a Notifier for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Notifier {
	if publisher == nil {
		return &Notifier{}
	}
	return &Notifier{send: func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return publisher.Publish(ctx, msg).Get(ctx)
	}}
}

// Notify publishes rec and waits for the server acknowledgement.
func (n *Notifier) Notify(ctx context.Context, rec harvest.CollectionRecord) error {
	if n.send == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(CompletionEvent{
		Source:       rec.Source,
		URL:          rec.URL,
		Collector:    rec.Collector,
		CollectedAt:  rec.CollectedAt,
		ReviewCount:  rec.ReviewCount,
		DocumentPath: rec.DocumentPath,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"source":     rec.Source,
			"event_type": "entity.committed",
		},
	}
	if _, err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}
