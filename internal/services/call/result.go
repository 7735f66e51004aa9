package call

import (
	"errors"

	"github.com/ClareAI/astra-call-control/internal/core/event"
)

// ErrInvalidEvent marks a recognized event missing a field its transition needs.
var ErrInvalidEvent = errors.New("invalid signaling event")

// Status is the outcome of handling one signaling event.
type Status string

const (
	StatusApplied Status = "applied"
	StatusIgnored Status = "ignored"
	StatusFailed  Status = "failed"
)

// Steps a transition can fail at
const (
	StepValidate           = "validate"
	StepLegState           = "leg_state"
	StepCreateConversation = "create_conversation"
	StepJoinMember         = "join_member"
	StepTalk               = "talk"
	StepHangup             = "hangup"
)

// Result is what a transition handler returns for one event.
type Result struct {
	Kind           event.Kind
	LegID          string
	ConversationID string
	Status         Status
	// Reason explains an ignored event.
	Reason string
	// Step and Err describe a failure.
	Step string
	Err  error
	// Compensated is set when a partial sequence was rolled back upstream.
	Compensated bool
}

func applied(ev event.Event, conversationID string) Result {
	return Result{Kind: ev.Kind(), LegID: ev.LegID(), ConversationID: conversationID, Status: StatusApplied}
}

func ignored(ev event.Event, reason string) Result {
	return Result{Kind: ev.Kind(), LegID: ev.LegID(), Status: StatusIgnored, Reason: reason}
}

func failed(ev event.Event, step string, err error) Result {
	return Result{Kind: ev.Kind(), LegID: ev.LegID(), Status: StatusFailed, Step: step, Err: err}
}
