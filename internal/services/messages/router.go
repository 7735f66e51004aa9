package messages

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-call-control/internal/config"
)

const actionMessage = "message"

// Channel types understood by the router.
const (
	ChannelSMS       = "sms"
	ChannelMMS       = "mms"
	ChannelWhatsApp  = "whatsapp"
	ChannelViber     = "viber"
	ChannelMessenger = "messenger"
)

// Inbound is the subset of an inbound message webhook the router reads.
type Inbound struct {
	Channel string          `json:"channel,omitempty"`
	From    json.RawMessage `json:"from,omitempty"`
}

// sender is the object form of Inbound.From.
type sender struct {
	Type   string `json:"type,omitempty"`
	ID     string `json:"id,omitempty"`
	Number string `json:"number,omitempty"`
}

// Action tells the platform which conversation and user an inbound message belongs to.
type Action struct {
	Action           string `json:"action"`
	ConversationName string `json:"conversation_name"`
	User             string `json:"user,omitempty"`
	Geo              string `json:"geo"`
}

// Router maps inbound messages to routing actions.
type Router struct {
	users            config.MessageUsers
	conversationName string
	geo              string
}

// NewRouter creates a Router from the message settings in cfg.
func NewRouter(cfg *config.CallControlConfig) *Router {
	return &Router{
		users:            cfg.MessageUsers,
		conversationName: cfg.ConversationName,
		geo:              cfg.Geo,
	}
}

// Decode parses an inbound webhook payload.
func Decode(payload []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return Inbound{}, fmt.Errorf("invalid inbound message: %w", err)
	}
	return in, nil
}

// Route returns the single routing action for in. Unknown channel types get an action
// without a user.
func (r *Router) Route(in Inbound) []Action {
	from := parseSender(in.From)

	channelType := from.Type
	if channelType == "" {
		channelType = in.Channel
	}

	return []Action{{
		Action:           actionMessage,
		ConversationName: r.conversationName,
		User:             r.userFor(strings.ToLower(channelType), from),
		Geo:              r.geo,
	}}
}

func (r *Router) userFor(channelType string, from sender) string {
	switch channelType {
	case ChannelSMS:
		return r.users.SMS
	case ChannelMMS:
		return r.users.MMS
	case ChannelWhatsApp:
		return r.users.WhatsApp
	case ChannelViber:
		return r.users.Viber
	case ChannelMessenger:
		id := from.ID
		if id == "" {
			id = from.Number
		}
		return r.users.MessengerPrefix + id
	default:
		return ""
	}
}

// parseSender accepts either an object or a bare string id.
func parseSender(raw json.RawMessage) sender {
	if len(raw) == 0 {
		return sender{}
	}

	var s sender
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return sender{ID: id}
	}
	return sender{}
}
