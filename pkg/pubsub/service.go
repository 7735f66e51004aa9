package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string
	TopicName string

	// PubID prefixes the "name" attribute so subscribers can filter per environment.
	PubID string
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}
	if cfg.TopicName == "" {
		return nil, fmt.Errorf("PubSub topic name is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topic", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishJSON marshals payload and publishes it, blocking until the server acks.
func (p *PubSubService) PublishJSON(ctx context.Context, attributes map[string]string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal pubsub payload: %w", err)
	}

	message := &pubsub.Message{
		Attributes: messageAttributes(p.config.PubID, attributes),
		Data:       data,
	}

	result := p.topic.Publish(ctx, message)
	id, err := result.Get(ctx)
	if err != nil {
		logger.Base().Error("Failed to publish message", zap.String("topic", p.config.TopicName), zap.Any("attributes", message.Attributes), zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.Base().Debug("Published message", zap.String("topic", p.config.TopicName), zap.String("message_id", id), zap.Any("attributes", message.Attributes))
	return nil
}

// messageAttributes copies attrs and adds a unique "name" attribute under pubID.
func messageAttributes(pubID string, attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}

	name := uuid.New().String()
	if pubID != "" {
		name = fmt.Sprintf("%s:%s", pubID, name)
	}
	out["name"] = name
	return out
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
