package event

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ClareAI/astra-call-control/internal/domain"
)

// Signaling event type tags delivered by the platform
const (
	TypeKnocking    = "app:knocking"
	TypeMemberMedia = "member:media"
	TypeSayDone     = "audio:say:done"
)

// Kind names the orchestration action selected for an event.
type Kind string

const (
	KindKnocking   Kind = "knocking"
	KindMediaReady Kind = "media_ready"
	KindSayDone    Kind = "say_done"
	KindIgnored    Kind = "ignored"
)

// Raw is the wire shape of a signaling webhook. Unknown fields are tolerated. From is kept
// raw because only knocking events carry it as a string.
type Raw struct {
	Type string          `json:"type"`
	From json.RawMessage `json:"from,omitempty"`
	Body RawBody         `json:"body"`
}

// RawBody holds the parts of the event body the orchestrator reads.
type RawBody struct {
	Channel *domain.Channel `json:"channel,omitempty"`
	User    *RawUser        `json:"user,omitempty"`
	Media   *RawMedia       `json:"media,omitempty"`
}

type RawUser struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// RawMedia keeps audio raw: only a literal JSON true enables it.
type RawMedia struct {
	Audio json.RawMessage `json:"audio,omitempty"`
}

// Event is the closed set of signaling events. Only types in this package implement it.
type Event interface {
	Kind() Kind
	// LegID is the leg the event refers to, empty when the event carries none.
	LegID() string
	sealed()
}

// Knocking is a caller trying to reach the application.
type Knocking struct {
	KnockingID string
	UserID     string
	Channel    domain.Channel
}

// MediaReady is a joined leg reporting its media capabilities.
type MediaReady struct {
	Leg   string
	Audio bool
}

// SayDone is the platform reporting that a talk action finished on a leg.
type SayDone struct {
	Leg string
}

// Ignored is any event type the orchestrator does not act on.
type Ignored struct {
	Type string
}

func (Knocking) Kind() Kind   { return KindKnocking }
func (MediaReady) Kind() Kind { return KindMediaReady }
func (SayDone) Kind() Kind    { return KindSayDone }
func (Ignored) Kind() Kind    { return KindIgnored }

func (k Knocking) LegID() string   { return k.Channel.ID }
func (m MediaReady) LegID() string { return m.Leg }
func (s SayDone) LegID() string    { return s.Leg }
func (Ignored) LegID() string      { return "" }

func (Knocking) sealed()   {}
func (MediaReady) sealed() {}
func (SayDone) sealed()    {}
func (Ignored) sealed()    {}

// Decode parses a webhook payload and classifies it. Only malformed JSON is an error.
func Decode(payload []byte) (Event, error) {
	var raw Raw
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode signaling event: %w", err)
	}
	return Classify(raw), nil
}

// Classify maps a decoded event onto its orchestration action. It has no side effects.
func Classify(raw Raw) Event {
	switch raw.Type {
	case TypeKnocking:
		ev := Knocking{KnockingID: stringField(raw.From)}
		if raw.Body.Channel != nil {
			ev.Channel = *raw.Body.Channel
		}
		if raw.Body.User != nil {
			ev.UserID = raw.Body.User.ID
		}
		return ev
	case TypeMemberMedia:
		return MediaReady{
			Leg:   channelID(raw.Body),
			Audio: raw.Body.Media != nil && bytes.Equal(bytes.TrimSpace(raw.Body.Media.Audio), []byte("true")),
		}
	case TypeSayDone:
		return SayDone{Leg: channelID(raw.Body)}
	default:
		return Ignored{Type: raw.Type}
	}
}

// stringField returns a JSON string value, or empty for anything else.
func stringField(value json.RawMessage) string {
	var s string
	if len(value) == 0 || json.Unmarshal(value, &s) != nil {
		return ""
	}
	return s
}

func channelID(body RawBody) string {
	if body.Channel == nil {
		return ""
	}
	return body.Channel.ID
}
