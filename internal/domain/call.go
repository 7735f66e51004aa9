package domain

import (
	"encoding/json"
	"time"
)

// Channel identifies the transport endpoint of one call leg.
// To and From are endpoint objects whose shape depends on the channel type;
// they are kept raw so they can be replayed to the control plane unchanged.
type Channel struct {
	Type string          `json:"type,omitempty"`
	ID   string          `json:"id,omitempty"`
	To   json.RawMessage `json:"to,omitempty"`
	From json.RawMessage `json:"from,omitempty"`
}

// Conversation is a server-side session created to bridge a knocking caller.
type Conversation struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// LegState is the orchestration progress of a single call leg.
type LegState string

const (
	LegStateIdle       LegState = "idle"
	LegStateBridged    LegState = "bridged"
	LegStateAnnouncing LegState = "announcing"
	LegStateTerminated LegState = "terminated"
)

// LegRecord is the per-leg state kept between webhook deliveries.
type LegRecord struct {
	LegID          string    `json:"legId"`
	State          LegState  `json:"state"`
	ConversationID string    `json:"conversationId,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
