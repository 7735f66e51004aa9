package call

import (
	"context"
	"time"

	"github.com/ClareAI/astra-call-control/internal/domain"
)

// LegTransition is published whenever the orchestrator moves a leg forward.
type LegTransition struct {
	LegID          string          `json:"leg_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	State          domain.LegState `json:"state"`
	Trigger        string          `json:"trigger"`
	At             time.Time       `json:"at"`
}

// Notifier publishes leg transitions to interested parties.
type Notifier interface {
	Notify(ctx context.Context, change LegTransition) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, LegTransition) error { return nil }

// TopicPublisher publishes a JSON payload with attributes, e.g. to a Pub/Sub topic.
type TopicPublisher interface {
	PublishJSON(ctx context.Context, attributes map[string]string, payload interface{}) error
}

// TopicNotifier forwards transitions to a TopicPublisher.
type TopicNotifier struct {
	publisher TopicPublisher
}

func NewTopicNotifier(publisher TopicPublisher) *TopicNotifier {
	return &TopicNotifier{publisher: publisher}
}

func (n *TopicNotifier) Notify(ctx context.Context, change LegTransition) error {
	return n.publisher.PublishJSON(ctx, map[string]string{
		"event_type": "leg." + string(change.State),
		"leg_id":     change.LegID,
	}, change)
}
