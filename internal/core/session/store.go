package session

import (
	"context"
	"time"

	"github.com/ClareAI/astra-call-control/internal/domain"
)

// Store keeps one LegRecord per leg. Legs never seen are reported as LegStateIdle.
type Store interface {
	Get(ctx context.Context, legID string) (domain.LegRecord, error)
	// Transition atomically moves legID to `to` when its current state is one of `from`.
	// A non-empty conversationID replaces the stored one. It returns the state found
	// and whether the move happened.
	Transition(ctx context.Context, legID string, from []domain.LegState, to domain.LegState, conversationID string) (domain.LegState, bool, error)
}

func allowed(current domain.LegState, from []domain.LegState) bool {
	for _, s := range from {
		if s == current {
			return true
		}
	}
	return false
}

func advance(rec domain.LegRecord, legID string, to domain.LegState, conversationID string, now time.Time) domain.LegRecord {
	rec.LegID = legID
	rec.State = to
	if conversationID != "" {
		rec.ConversationID = conversationID
	}
	if to == domain.LegStateIdle {
		rec.ConversationID = ""
	}
	rec.UpdatedAt = now
	return rec
}
