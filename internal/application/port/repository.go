package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/statecore/internal/domain/entity"
)

var (
	// ErrEntityNotFound is returned when the entity row does not exist
	ErrEntityNotFound = errors.New("entity not found")

	// ErrStateConflict is returned when the entity exists but is no longer in the expected state
	ErrStateConflict = errors.New("entity state changed concurrently")

	// ErrEntityExists is returned when creating an entity whose id is taken
	ErrEntityExists = errors.New("entity already exists")

	// ErrUnknownEntityType is returned for entity types without a backing table
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// EntityStateRepository persists the lifecycle status of entities, one table per entity type
type EntityStateRepository interface {
	// Create inserts a new entity row in its initial state
	Create(ctx context.Context, entityType, id, status string, at time.Time) error

	// GetState returns the persisted state, or ErrEntityNotFound
	GetState(ctx context.Context, entityType, id string) (*entity.EntityState, error)

	// UpdateState moves the row from fromState to toState. It returns ErrEntityNotFound
	// when the row is missing and ErrStateConflict when it is in another state.
	UpdateState(ctx context.Context, entityType, id, fromState, toState string, at time.Time) error
}

// AuditRepository stores and projects audit records. Records are never updated or deleted.
type AuditRepository interface {
	Create(ctx context.Context, record *entity.AuditRecord) error

	// ListByEntity returns an entity's records, newest first
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.AuditRecord, error)

	// ListByTimeRange returns records with start <= created_at <= end, newest first
	ListByTimeRange(ctx context.Context, entityType string, start, end time.Time) ([]*entity.AuditRecord, error)

	// Stats returns counts grouped by (from, to, event), highest count first
	Stats(ctx context.Context, entityType string) ([]entity.TransitionStat, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
