package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-call-control/internal/domain"
	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/ClareAI/astra-call-control/pkg/redis"
	"go.uber.org/zap"
)

// RedisStore shares leg records between replicas. Records carry a TTL so a
// crashed call does not leave state behind forever.
type RedisStore struct {
	redisSvc redis.RedisServiceInterface
	ttl      time.Duration
	now      func() time.Time
}

func NewRedisStore(redisSvc redis.RedisServiceInterface, ttl time.Duration) *RedisStore {
	return &RedisStore{
		redisSvc: redisSvc,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *RedisStore) key(legID string) string {
	return s.redisSvc.GenerateKey(redis.LEG_STATE, legID)
}

// Get returns the record for legID, or an idle record.
func (s *RedisStore) Get(ctx context.Context, legID string) (domain.LegRecord, error) {
	val, err := s.redisSvc.GetValue(ctx, s.key(legID))
	if errors.Is(err, redis.ErrKeyNotExist) {
		return domain.LegRecord{LegID: legID, State: domain.LegStateIdle}, nil
	}
	if err != nil {
		return domain.LegRecord{}, fmt.Errorf("failed to read leg %s: %w", legID, err)
	}
	return decodeRecord(legID, val, true), nil
}

// Transition implements Store with an optimistic WATCH/MULTI swap.
func (s *RedisStore) Transition(ctx context.Context, legID string, from []domain.LegState, to domain.LegState, conversationID string) (domain.LegState, bool, error) {
	found := domain.LegStateIdle

	swapped, err := s.redisSvc.CompareAndSwap(ctx, s.key(legID), s.ttl, func(current string, exists bool) (string, bool) {
		rec := decodeRecord(legID, current, exists)
		found = rec.State
		if !allowed(rec.State, from) {
			return "", false
		}

		data, err := json.Marshal(advance(rec, legID, to, conversationID, s.now()))
		if err != nil {
			return "", false
		}
		return string(data), true
	})
	if err != nil {
		return found, false, fmt.Errorf("failed to transition leg %s: %w", legID, err)
	}
	return found, swapped, nil
}

func decodeRecord(legID, val string, exists bool) domain.LegRecord {
	idle := domain.LegRecord{LegID: legID, State: domain.LegStateIdle}
	if !exists {
		return idle
	}

	var rec domain.LegRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		logger.Base().Warn("Discarding unreadable leg record", zap.String("leg_id", legID), zap.Error(err))
		return idle
	}
	if rec.State == "" {
		rec.State = domain.LegStateIdle
	}
	return rec
}
