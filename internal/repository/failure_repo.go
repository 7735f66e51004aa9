package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-call-control/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultFailureListLimit = 50
	maxFailureListLimit     = 500
)

// FailureRepository handles database operations for orchestration failures
type FailureRepository struct {
	db *gorm.DB
}

// NewFailureRepository creates a new failure repository
func NewFailureRepository(db *gorm.DB) *FailureRepository {
	return &FailureRepository{db: db}
}

// Create stores a failure record
func (r *FailureRepository) Create(ctx context.Context, failure *domain.OrchestrationFailure) error {
	if failure.ID == "" {
		failure.ID = uuid.New().String()
	}
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(failure).Error; err != nil {
		return fmt.Errorf("failed to create orchestration failure: %w", err)
	}
	return nil
}

// List returns the most recent failures, optionally filtered by leg.
func (r *FailureRepository) List(ctx context.Context, legID string, limit int) ([]*domain.OrchestrationFailure, error) {
	var failures []*domain.OrchestrationFailure
	if err := r.listQuery(ctx, legID, limit).Find(&failures).Error; err != nil {
		return nil, fmt.Errorf("failed to list orchestration failures: %w", err)
	}
	return failures, nil
}

func (r *FailureRepository) listQuery(ctx context.Context, legID string, limit int) *gorm.DB {
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(normalizeListLimit(limit))
	if legID != "" {
		query = query.Where("leg_id = ?", legID)
	}
	return query
}

// normalizeListLimit falls back to the default for missing or oversized limits.
func normalizeListLimit(limit int) int {
	if limit <= 0 || limit > maxFailureListLimit {
		return defaultFailureListLimit
	}
	return limit
}
