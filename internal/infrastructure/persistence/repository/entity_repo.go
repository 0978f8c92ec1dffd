package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/entity"
	"github.com/garyjia/statecore/internal/infrastructure/persistence/sqlite"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DefaultEntityTables maps the built-in entity types to their tables
func DefaultEntityTables() map[string]string {
	return map[string]string{
		entity.TypeContentItem:    "content_items",
		entity.TypeTask:           "tasks",
		entity.TypeQuestionTicket: "question_tickets",
	}
}

// EntityStateRepository implements port.EntityStateRepository over one table per entity type
type EntityStateRepository struct {
	db     *sql.DB
	tables map[string]string
	logger *zap.Logger
}

// NewEntityStateRepository creates a repository for the given entity type to table mapping.
// Table names are interpolated into SQL, so they must be plain identifiers.
func NewEntityStateRepository(db *sql.DB, tables map[string]string, logger *zap.Logger) (*EntityStateRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(map[string]string, len(tables))
	for entityType, table := range tables {
		if !identifierPattern.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q for entity type %q", table, entityType)
		}
		copied[entityType] = table
	}
	return &EntityStateRepository{
		db:     db,
		tables: copied,
		logger: logger,
	}, nil
}

// EnsureTables creates missing entity tables. Migrations cover the built-in types;
// this handles types added through machine definition files.
func (r *EntityStateRepository) EnsureTables(ctx context.Context) error {
	names := make([]string, 0, len(r.tables))
	for _, table := range r.tables {
		names = append(names, table)
	}
	sort.Strings(names)

	for _, table := range names {
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				status TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)
		`, table)
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			r.logger.Error("Failed to create entity table", zap.String("table", table), zap.Error(err))
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	return nil
}

// Create inserts a new entity row
func (r *EntityStateRepository) Create(ctx context.Context, entityType, id, status string, at time.Time) error {
	table, err := r.table(entityType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, table)

	nanos := at.UTC().UnixNano()
	_, err = sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, id, status, nanos, nanos)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s/%s", port.ErrEntityExists, entityType, id)
		}
		r.logger.Error("Failed to create entity",
			zap.String("entity_type", entityType),
			zap.String("entity_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

// GetState retrieves the persisted state of an entity
func (r *EntityStateRepository) GetState(ctx context.Context, entityType, id string) (*entity.EntityState, error) {
	table, err := r.table(entityType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, status, created_at, updated_at
		FROM %s
		WHERE id = ?
	`, table)

	var (
		state              entity.EntityState
		createdAt, updated int64
	)
	err = sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&state.ID,
		&state.Status,
		&createdAt,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrEntityNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get entity state",
			zap.String("entity_type", entityType),
			zap.String("entity_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get entity state: %w", err)
	}

	state.Type = entityType
	state.CreatedAt = time.Unix(0, createdAt).UTC()
	state.UpdatedAt = time.Unix(0, updated).UTC()
	return &state, nil
}

// UpdateState applies a conditional update. When no row matches, the row is
// re-read in the same transaction to tell a missing entity from a lost race.
func (r *EntityStateRepository) UpdateState(ctx context.Context, entityType, id, fromState, toState string, at time.Time) error {
	table, err := r.table(entityType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, table)

	exec := sqlite.ExecutorFrom(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, toState, at.UTC().UnixNano(), id, fromState)
	if err != nil {
		r.logger.Error("Failed to update entity state",
			zap.String("entity_type", entityType),
			zap.String("entity_id", id),
			zap.Error(err))
		return fmt.Errorf("failed to update entity state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	current, err := r.GetState(ctx, entityType, id)
	if err != nil {
		return err
	}
	r.logger.Warn("Entity state changed concurrently",
		zap.String("entity_type", entityType),
		zap.String("entity_id", id),
		zap.String("expected", fromState),
		zap.String("actual", current.Status))
	return fmt.Errorf("%w: expected %s, found %s", port.ErrStateConflict, fromState, current.Status)
}

// Tables returns a copy of the entity type to table mapping
func (r *EntityStateRepository) Tables() map[string]string {
	out := make(map[string]string, len(r.tables))
	for k, v := range r.tables {
		out[k] = v
	}
	return out
}

func (r *EntityStateRepository) table(entityType string) (string, error) {
	table, ok := r.tables[entityType]
	if !ok {
		return "", fmt.Errorf("%w: %s", port.ErrUnknownEntityType, entityType)
	}
	return table, nil
}

// Verify interface compliance
var _ port.EntityStateRepository = (*EntityStateRepository)(nil)
