package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/entity"
)

// ErrInvalidQuery is returned for malformed audit queries
var ErrInvalidQuery = errors.New("invalid audit query")

// AuditService exposes read-only projections over the audit trail
type AuditService interface {
	// GetAuditTrail returns every record of one entity, newest first
	GetAuditTrail(ctx context.Context, entityType, entityID string) ([]*entity.AuditRecord, error)

	// GetStateTransitions returns the records committed within [start, end], newest first
	GetStateTransitions(ctx context.Context, entityType string, start, end time.Time) ([]*entity.AuditRecord, error)

	// GetTransitionStats returns counts per transition shape, highest first
	GetTransitionStats(ctx context.Context, entityType string) ([]entity.TransitionStat, error)
}

type auditServiceImpl struct {
	auditRepo port.AuditRepository
	logger    Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(auditRepo port.AuditRepository, logger Logger) AuditService {
	return &auditServiceImpl{
		auditRepo: auditRepo,
		logger:    orNop(logger),
	}
}

// GetAuditTrail returns every record of one entity, newest first
func (s *auditServiceImpl) GetAuditTrail(ctx context.Context, entityType, entityID string) ([]*entity.AuditRecord, error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entity type and id are required", ErrInvalidQuery)
	}

	records, err := s.auditRepo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		s.logger.Error("Failed to load audit trail", "error", err, "entity_type", entityType, "entity_id", entityID)
		return nil, fmt.Errorf("get audit trail: %w", err)
	}
	return records, nil
}

// GetStateTransitions returns the records committed within [start, end], newest first
func (s *auditServiceImpl) GetStateTransitions(ctx context.Context, entityType string, start, end time.Time) ([]*entity.AuditRecord, error) {
	if entityType == "" {
		return nil, fmt.Errorf("%w: entity type is required", ErrInvalidQuery)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidQuery,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	records, err := s.auditRepo.ListByTimeRange(ctx, entityType, start, end)
	if err != nil {
		s.logger.Error("Failed to load state transitions", "error", err, "entity_type", entityType)
		return nil, fmt.Errorf("get state transitions: %w", err)
	}
	return records, nil
}

// GetTransitionStats returns counts per transition shape, highest first
func (s *auditServiceImpl) GetTransitionStats(ctx context.Context, entityType string) ([]entity.TransitionStat, error) {
	if entityType == "" {
		return nil, fmt.Errorf("%w: entity type is required", ErrInvalidQuery)
	}

	stats, err := s.auditRepo.Stats(ctx, entityType)
	if err != nil {
		s.logger.Error("Failed to load transition stats", "error", err, "entity_type", entityType)
		return nil, fmt.Errorf("get transition stats: %w", err)
	}
	return stats, nil
}
