package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/infrastructure/persistence/repository"
	"github.com/garyjia/statecore/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/statecore/migrations"
	"github.com/garyjia/statecore/pkg/database"
)

type testStore struct {
	db       *database.DB
	tx       *sqlite.DB
	entities *repository.EntityStateRepository
	audits   *repository.AuditRepository
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "statecore.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 4,
		BusyTimeout:  10 * time.Second,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(migrations.FS))

	entities, err := repository.NewEntityStateRepository(db.DB, repository.DefaultEntityTables(), logger)
	require.NoError(t, err)

	return &testStore{
		db:       db,
		tx:       sqlite.NewDB(db.DB, logger),
		entities: entities,
		audits:   repository.NewAuditRepository(db.DB, logger),
	}
}

func (s *testStore) auditCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM audit_logs`).Scan(&n))
	return n
}
