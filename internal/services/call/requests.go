package call

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	httpadapter "github.com/ClareAI/astra-call-control/internal/adapters/http"
	"github.com/ClareAI/astra-call-control/internal/core/event"
	"github.com/jinzhu/copier"
)

// Control-plane paths. Legs are hung up through the older v0.1 leg API.
const (
	conversationsPath = "/v0.3/conversations"
	legsPath          = "/v0.3/legs"
	legControlPath    = "/v0.1/legs"
)

const (
	memberStateJoined = "joined"
	legActionHangup   = "hangup"
)

type memberUser struct {
	ID string `json:"id"`
}

type memberChannel struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	To        json.RawMessage `json:"to,omitempty"`
	From      json.RawMessage `json:"from,omitempty"`
	Preanswer bool            `json:"preanswer"`
}

type memberMedia struct {
	Audio bool `json:"audio"`
}

// JoinMemberRequest adds a knocking caller to a conversation.
type JoinMemberRequest struct {
	User       memberUser    `json:"user"`
	KnockingID string        `json:"knocking_id"`
	State      string        `json:"state"`
	Channel    memberChannel `json:"channel"`
	Media      memberMedia   `json:"media"`
}

// TalkRequest plays text-to-speech on a leg.
type TalkRequest struct {
	Loop      int    `json:"loop"`
	Text      string `json:"text"`
	Level     int    `json:"level"`
	VoiceName string `json:"voice_name"`
}

// LegActionRequest updates a leg, e.g. to hang it up.
type LegActionRequest struct {
	Action string `json:"action"`
	UUID   string `json:"uuid"`
}

func createConversationRequest() httpadapter.Request {
	return httpadapter.Request{
		Method: http.MethodPost,
		Path:   conversationsPath,
		Body:   struct{}{},
	}
}

func deleteConversationRequest(conversationID string) httpadapter.Request {
	return httpadapter.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("%s/%s", conversationsPath, url.PathEscape(conversationID)),
	}
}

func joinMemberRequest(conversationID string, knock event.Knocking) (httpadapter.Request, error) {
	var channel memberChannel
	if err := copier.Copy(&channel, &knock.Channel); err != nil {
		return httpadapter.Request{}, fmt.Errorf("failed to copy channel: %w", err)
	}
	channel.Preanswer = false

	return httpadapter.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/%s/members", conversationsPath, url.PathEscape(conversationID)),
		Body: JoinMemberRequest{
			User:       memberUser{ID: knock.UserID},
			KnockingID: knock.KnockingID,
			State:      memberStateJoined,
			Channel:    channel,
			Media:      memberMedia{Audio: true},
		},
	}, nil
}

func talkRequest(legID, text, voice string) httpadapter.Request {
	return httpadapter.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/%s/talk", legsPath, url.PathEscape(legID)),
		Body: TalkRequest{
			Loop:      1,
			Text:      text,
			Level:     0,
			VoiceName: voice,
		},
	}
}

func hangupRequest(legID string) httpadapter.Request {
	return httpadapter.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("%s/%s", legControlPath, url.PathEscape(legID)),
		Body: LegActionRequest{
			Action: legActionHangup,
			UUID:   legID,
		},
	}
}
