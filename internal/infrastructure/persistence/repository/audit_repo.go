package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/entity"
	"github.com/garyjia/statecore/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AuditRepository implements port.AuditRepository
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `id, entity_type, entity_id, from_state, to_state, event,
			actor, actor_id, metadata, created_at`

// Create appends an audit record
func (r *AuditRepository) Create(ctx context.Context, record *entity.AuditRecord) error {
	query := `
		INSERT INTO audit_logs (
			id, entity_type, entity_id, from_state, to_state, event,
			actor, actor_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var metadata sql.NullString
	if len(record.Metadata) > 0 {
		raw, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		record.ID,
		record.EntityType,
		record.EntityID,
		record.FromState,
		record.ToState,
		record.Event,
		record.Actor,
		record.ActorID,
		metadata,
		record.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		r.logger.Error("Failed to create audit record",
			zap.String("entity_type", record.EntityType),
			zap.String("entity_id", record.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create audit record: %w", err)
	}
	return nil
}

// ListByEntity returns all records for an entity, newest first
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, seq DESC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		r.logger.Error("Failed to list audit records",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

// ListByTimeRange returns records of one entity type created within [start, end], newest first
func (r *AuditRepository) ListByTimeRange(ctx context.Context, entityType string, start, end time.Time) ([]*entity.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE entity_type = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC, seq DESC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query,
		entityType, start.UTC().UnixNano(), end.UTC().UnixNano())
	if err != nil {
		r.logger.Error("Failed to list audit records by time range",
			zap.String("entity_type", entityType),
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

// Stats groups committed transitions of one entity type by shape
func (r *AuditRepository) Stats(ctx context.Context, entityType string) ([]entity.TransitionStat, error) {
	query := `
		SELECT from_state, to_state, event, COUNT(*) AS count
		FROM audit_logs
		WHERE entity_type = ?
		GROUP BY from_state, to_state, event
		ORDER BY count DESC, from_state ASC, to_state ASC, event ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, entityType)
	if err != nil {
		r.logger.Error("Failed to compute transition stats", zap.String("entity_type", entityType), zap.Error(err))
		return nil, fmt.Errorf("failed to compute transition stats: %w", err)
	}
	defer rows.Close()

	var stats []entity.TransitionStat
	for rows.Next() {
		var stat entity.TransitionStat
		if err := rows.Scan(&stat.FromState, &stat.ToState, &stat.Event, &stat.Count); err != nil {
			return nil, fmt.Errorf("failed to scan transition stat: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

func scanAuditRecords(rows *sql.Rows) ([]*entity.AuditRecord, error) {
	var records []*entity.AuditRecord
	for rows.Next() {
		var (
			record    entity.AuditRecord
			actorID   sql.NullString
			metadata  sql.NullString
			createdAt int64
		)
		err := rows.Scan(
			&record.ID,
			&record.EntityType,
			&record.EntityID,
			&record.FromState,
			&record.ToState,
			&record.Event,
			&record.Actor,
			&actorID,
			&metadata,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		record.ActorID = actorID.String
		record.CreatedAt = time.Unix(0, createdAt).UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &record.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Verify interface compliance
var _ port.AuditRepository = (*AuditRepository)(nil)
