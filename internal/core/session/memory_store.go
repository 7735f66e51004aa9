package session

import (
	"context"
	"sync"
	"time"

	"github.com/ClareAI/astra-call-control/internal/domain"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"go.uber.org/zap"
)

type memoryEntry struct {
	record    domain.LegRecord
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Records expire ttl after their last update.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore. ttl <= 0 keeps records forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the record for legID, or an idle record.
func (s *MemoryStore) Get(_ context.Context, legID string) (domain.LegRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(legID), nil
}

// Transition implements Store.
func (s *MemoryStore) Transition(_ context.Context, legID string, from []domain.LegState, to domain.LegState, conversationID string) (domain.LegState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookup(legID)
	if !allowed(rec.State, from) {
		return rec.State, false, nil
	}

	now := s.now()
	entry := memoryEntry{record: advance(rec, legID, to, conversationID, now)}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
	}
	s.records[legID] = entry
	return rec.State, true, nil
}

// lookup must be called with mu held
func (s *MemoryStore) lookup(legID string) domain.LegRecord {
	entry, ok := s.records[legID]
	if !ok || s.expired(entry) {
		return domain.LegRecord{LegID: legID, State: domain.LegStateIdle}
	}
	return entry.record
}

func (s *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt)
}

// Sweep drops expired records and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.records {
		if s.expired(entry) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored records, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// StartCleanupRoutine sweeps expired records every interval until ctx is done.
func (s *MemoryStore) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logger.Base().Debug("Swept expired leg records", zap.Int("removed", removed))
			}
		}
	}
}
