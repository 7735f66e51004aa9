package call

import (
	"context"
	"fmt"
	"time"

	httpadapter "github.com/ClareAI/astra-call-control/internal/adapters/http"
	"github.com/ClareAI/astra-call-control/internal/config"
	"github.com/ClareAI/astra-call-control/internal/core/event"
	"github.com/ClareAI/astra-call-control/internal/core/retry"
	"github.com/ClareAI/astra-call-control/internal/core/session"
	"github.com/ClareAI/astra-call-control/internal/domain"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"go.uber.org/zap"
)

// sideEffectTimeout bounds sink, notifier and cleanup work that outlives the request context.
const sideEffectTimeout = 5 * time.Second

// Settings holds the orchestrator's share of CallControlConfig.
type Settings struct {
	GreetingText        string
	VoiceName           string
	AcceptUntrackedLegs bool
	Timeout             time.Duration
	Retry               config.RetryConfig
}

// SettingsFromConfig extracts orchestrator settings.
func SettingsFromConfig(cfg *config.CallControlConfig) Settings {
	return Settings{
		GreetingText:        cfg.GreetingText,
		VoiceName:           cfg.VoiceName,
		AcceptUntrackedLegs: cfg.AcceptUntrackedLegs,
		Timeout:             cfg.OrchestrationTimeout,
		Retry:               cfg.Retry,
	}
}

// Orchestrator turns signaling events into control-plane requests. It keeps no state of
// its own; per-leg progress lives in the session store.
type Orchestrator struct {
	settings Settings
	client   httpadapter.ControlPlane
	store    session.Store
	retry    retry.Policy
	// join never resends after an ambiguous failure: the member may already be in.
	join     retry.Policy
	sink     Sink
	notifier Notifier
}

// NewOrchestrator wires an orchestrator. A nil sink logs failures, a nil notifier drops notifications.
func NewOrchestrator(settings Settings, client httpadapter.ControlPlane, store session.Store, sink Sink, notifier Notifier) *Orchestrator {
	if sink == nil {
		sink = LogSink{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	policy := retry.Policy{
		MaxAttempts: settings.Retry.MaxAttempts,
		Initial:     settings.Retry.InitialBackoff,
		Max:         settings.Retry.MaxBackoff,
		Retryable:   httpadapter.IsRetryable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Base().Warn("Retrying control plane request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	}
	join := policy
	join.Retryable = func(err error) bool {
		return httpadapter.IsRetryable(err) && !httpadapter.IsAmbiguous(err)
	}

	return &Orchestrator{
		settings: settings,
		client:   client,
		store:    store,
		sink:     sink,
		notifier: notifier,
		retry:    policy,
		join:     join,
	}
}

// Handle runs the transition for ev. Failures are recorded in the sink and never returned
// as errors: there is nobody upstream to report them to.
func (o *Orchestrator) Handle(ctx context.Context, ev event.Event) Result {
	if o.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.Timeout)
		defer cancel()
	}

	var res Result
	switch e := ev.(type) {
	case nil:
		res = Result{Kind: event.KindIgnored, Status: StatusIgnored, Reason: "no event"}
	case event.Knocking:
		res = o.handleKnocking(ctx, e)
	case event.MediaReady:
		res = o.handleMediaReady(ctx, e)
	case event.SayDone:
		res = o.handleSayDone(ctx, e)
	case event.Ignored:
		res = ignored(e, fmt.Sprintf("unhandled event type %q", e.Type))
	default:
		res = ignored(ev, "unknown event")
	}

	switch res.Status {
	case StatusFailed:
		sinkCtx, cancel := detached(ctx)
		o.sink.Record(sinkCtx, res)
		cancel()
	case StatusIgnored:
		logger.Base().Debug("Signaling event ignored",
			zap.String("kind", string(res.Kind)),
			zap.String("leg_id", res.LegID),
			zap.String("reason", res.Reason))
	default:
		logger.Base().Info("Signaling event applied",
			zap.String("kind", string(res.Kind)),
			zap.String("leg_id", res.LegID),
			zap.String("conversation_id", res.ConversationID))
	}
	return res
}

// handleKnocking creates a conversation and joins the knocking caller to it.
func (o *Orchestrator) handleKnocking(ctx context.Context, ev event.Knocking) Result {
	legID := ev.LegID()
	if legID == "" || ev.UserID == "" {
		return failed(ev, StepValidate, fmt.Errorf("%w: knocking needs channel.id and user.id", ErrInvalidEvent))
	}

	prev, ok, err := o.store.Transition(ctx, legID, []domain.LegState{domain.LegStateIdle}, domain.LegStateBridged, "")
	if err != nil {
		return failed(ev, StepLegState, err)
	}
	if !ok {
		return ignored(ev, fmt.Sprintf("leg already %s", prev))
	}

	var conv domain.Conversation
	if err := o.call(ctx, o.retry, createConversationRequest(), &conv); err != nil {
		o.release(ctx, legID, domain.LegStateBridged, domain.LegStateIdle)
		return failed(ev, StepCreateConversation, err)
	}
	if conv.ID == "" {
		o.release(ctx, legID, domain.LegStateBridged, domain.LegStateIdle)
		return failed(ev, StepCreateConversation, fmt.Errorf("conversation created without id"))
	}

	join, err := joinMemberRequest(conv.ID, ev)
	if err == nil {
		err = o.call(ctx, o.join, join, nil)
	}
	if err != nil {
		res := failed(ev, StepJoinMember, err)
		res.ConversationID = conv.ID
		if httpadapter.IsAmbiguous(err) {
			// the caller may be in the conversation; keep it and the claim
			o.recordConversation(ctx, legID, conv.ID)
			return res
		}
		res.Compensated = o.deleteConversation(ctx, conv.ID)
		o.release(ctx, legID, domain.LegStateBridged, domain.LegStateIdle)
		return res
	}

	o.recordConversation(ctx, legID, conv.ID)
	o.notify(ctx, legID, conv.ID, domain.LegStateBridged, ev)
	return applied(ev, conv.ID)
}

// handleMediaReady plays the greeting once the leg has audio.
func (o *Orchestrator) handleMediaReady(ctx context.Context, ev event.MediaReady) Result {
	if !ev.Audio {
		return ignored(ev, "audio not enabled")
	}
	if ev.Leg == "" {
		return failed(ev, StepValidate, fmt.Errorf("%w: member:media needs channel.id", ErrInvalidEvent))
	}

	prev, ok, err := o.store.Transition(ctx, ev.Leg, o.predecessors(domain.LegStateBridged), domain.LegStateAnnouncing, "")
	if err != nil {
		return failed(ev, StepLegState, err)
	}
	if !ok {
		return ignored(ev, fmt.Sprintf("leg is %s", prev))
	}

	if err := o.call(ctx, o.retry, talkRequest(ev.Leg, o.settings.GreetingText, o.settings.VoiceName), nil); err != nil {
		o.release(ctx, ev.Leg, domain.LegStateAnnouncing, prev)
		return failed(ev, StepTalk, err)
	}

	o.notify(ctx, ev.Leg, "", domain.LegStateAnnouncing, ev)
	return applied(ev, "")
}

// handleSayDone hangs the leg up once the greeting finished. The leg id in the event is
// trusted to be the one the talk was issued on; the platform sends no correlation token.
// A bridged leg is accepted too: a talk whose answer was lost, or one handled by a replica
// with its own store, still plays and reports done. Only a terminated leg is skipped.
func (o *Orchestrator) handleSayDone(ctx context.Context, ev event.SayDone) Result {
	if ev.Leg == "" {
		return failed(ev, StepValidate, fmt.Errorf("%w: audio:say:done needs channel.id", ErrInvalidEvent))
	}

	prev, ok, err := o.store.Transition(ctx, ev.Leg, o.predecessors(domain.LegStateAnnouncing, domain.LegStateBridged), domain.LegStateTerminated, "")
	if err != nil {
		return failed(ev, StepLegState, err)
	}
	if !ok {
		return ignored(ev, fmt.Sprintf("leg is %s", prev))
	}

	if err := o.call(ctx, o.retry, hangupRequest(ev.Leg), nil); err != nil {
		o.release(ctx, ev.Leg, domain.LegStateTerminated, prev)
		return failed(ev, StepHangup, err)
	}

	o.notify(ctx, ev.Leg, "", domain.LegStateTerminated, ev)
	return applied(ev, "")
}

// predecessors lists the states a leg may be in before moving on. Untracked legs are
// accepted when configured, since records do not survive a restart.
func (o *Orchestrator) predecessors(expected ...domain.LegState) []domain.LegState {
	if o.settings.AcceptUntrackedLegs {
		return append(expected, domain.LegStateIdle)
	}
	return expected
}

// call sends req through policy and decodes the body into out when non-nil.
func (o *Orchestrator) call(ctx context.Context, policy retry.Policy, req httpadapter.Request, out interface{}) error {
	var resp *httpadapter.Response
	err := policy.Do(ctx, func(ctx context.Context) error {
		r, err := o.client.Do(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return err
	}
	if out != nil {
		return resp.Decode(out)
	}
	return nil
}

// deleteConversation removes a conversation left behind by a failed join.
func (o *Orchestrator) deleteConversation(ctx context.Context, conversationID string) bool {
	cleanupCtx, cancel := detached(ctx)
	defer cancel()
	if err := o.call(cleanupCtx, o.retry, deleteConversationRequest(conversationID), nil); err != nil {
		logger.Base().Error("Failed to delete orphaned conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return false
	}
	logger.Base().Info("Deleted orphaned conversation", zap.String("conversation_id", conversationID))
	return true
}

// release puts a leg back where it was after a failed request so a redelivery can retry.
func (o *Orchestrator) release(ctx context.Context, legID string, from, to domain.LegState) {
	cleanupCtx, cancel := detached(ctx)
	defer cancel()
	if _, _, err := o.store.Transition(cleanupCtx, legID, []domain.LegState{from}, to, ""); err != nil {
		logger.Base().Warn("Failed to release leg state",
			zap.String("leg_id", legID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
	}
}

func (o *Orchestrator) recordConversation(ctx context.Context, legID, conversationID string) {
	recordCtx, cancel := detached(ctx)
	defer cancel()
	if _, _, err := o.store.Transition(recordCtx, legID, []domain.LegState{domain.LegStateBridged}, domain.LegStateBridged, conversationID); err != nil {
		logger.Base().Warn("Failed to record conversation on leg", zap.String("leg_id", legID), zap.Error(err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, legID, conversationID string, state domain.LegState, ev event.Event) {
	change := LegTransition{
		LegID:          legID,
		ConversationID: conversationID,
		State:          state,
		Trigger:        string(ev.Kind()),
		At:             time.Now().UTC(),
	}
	notifyCtx, cancel := detached(ctx)
	defer cancel()
	if err := o.notifier.Notify(notifyCtx, change); err != nil {
		logger.Base().Warn("Failed to publish leg transition", zap.String("leg_id", legID), zap.Error(err))
	}
}

// detached keeps ctx values but not its deadline, and bounds the work by sideEffectTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}
