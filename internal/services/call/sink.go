package call

import (
	"context"
	"time"

	httpadapter "github.com/ClareAI/astra-call-control/internal/adapters/http"
	"github.com/ClareAI/astra-call-control/internal/domain"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink receives failed results. Implementations must not block the webhook for long
// and must swallow their own errors.
type Sink interface {
	Record(ctx context.Context, res Result)
}

// LogSink writes failures to the application log.
type LogSink struct{}

func (LogSink) Record(_ context.Context, res Result) {
	logger.Base().Error("Signaling event dropped",
		zap.String("kind", string(res.Kind)),
		zap.String("leg_id", res.LegID),
		zap.String("conversation_id", res.ConversationID),
		zap.String("step", res.Step),
		zap.Int("upstream_status", httpadapter.UpstreamStatus(res.Err)),
		zap.Bool("compensated", res.Compensated),
		zap.Error(res.Err))
}

// FailureRecorder persists failure records.
type FailureRecorder interface {
	Create(ctx context.Context, failure *domain.OrchestrationFailure) error
}

// RepositorySink stores failures through a FailureRecorder.
type RepositorySink struct {
	repo       FailureRecorder
	instanceID string
}

func NewRepositorySink(repo FailureRecorder, instanceID string) *RepositorySink {
	return &RepositorySink{repo: repo, instanceID: instanceID}
}

func (s *RepositorySink) Record(ctx context.Context, res Result) {
	if err := s.repo.Create(ctx, NewFailureRecord(res, s.instanceID)); err != nil {
		logger.Base().Warn("Failed to store orchestration failure", zap.String("leg_id", res.LegID), zap.Error(err))
	}
}

// Publisher is the subset of the Redis service used to broadcast failures.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// PublishSink broadcasts failures on a pub/sub channel.
type PublishSink struct {
	publisher  Publisher
	channel    string
	instanceID string
}

func NewPublishSink(publisher Publisher, channel, instanceID string) *PublishSink {
	return &PublishSink{publisher: publisher, channel: channel, instanceID: instanceID}
}

func (s *PublishSink) Record(ctx context.Context, res Result) {
	if err := s.publisher.Publish(ctx, s.channel, NewFailureRecord(res, s.instanceID)); err != nil {
		logger.Base().Warn("Failed to publish orchestration failure", zap.String("leg_id", res.LegID), zap.Error(err))
	}
}

// MultiSink fans a failure out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, res Result) {
	for _, s := range m {
		s.Record(ctx, res)
	}
}

// NewFailureRecord converts a failed result into its stored form.
func NewFailureRecord(res Result, instanceID string) *domain.OrchestrationFailure {
	record := &domain.OrchestrationFailure{
		ID:             uuid.New().String(),
		EventType:      string(res.Kind),
		LegID:          res.LegID,
		ConversationID: res.ConversationID,
		Step:           res.Step,
		UpstreamStatus: httpadapter.UpstreamStatus(res.Err),
		Compensated:    res.Compensated,
		InstanceID:     instanceID,
		CreatedAt:      time.Now().UTC(),
	}
	if res.Err != nil {
		record.Message = res.Err.Error()
	}
	return record
}
