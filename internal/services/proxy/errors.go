package proxy

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by proxy errors
const (
	TextCodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	TextCodeBadInput             = "BAD_INPUT"
)

// ConversationNotFoundMessage is returned when a name does not resolve to exactly one conversation.
const ConversationNotFoundMessage = "Conversation Not found"

func conversationNotFound(name string, matches int) error {
	return goerrors.New(ConversationNotFoundMessage, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(TextCodeConversationNotFound).
		WithMetadata(map[string]any{
			"conversation_name": name,
			"matches":           matches,
		})
}

func badInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeBadInput)
}

// IsNotFound reports whether err is a resolution failure.
func IsNotFound(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == goerrors.CategoryNotFound
}
