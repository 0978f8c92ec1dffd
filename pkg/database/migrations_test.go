package database

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunMigrations_AppliesInVersionOrderOnce(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`ALTER TABLE widgets ADD COLUMN color TEXT;`)},
		"001_widgets.sql":    {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
		"README.md":          {Data: []byte(`ignored`)},
	}

	migrator := NewMigrator(db, zap.NewNop())
	require.NoError(t, migrator.RunMigrations(fsys))
	// Second run is a no-op
	require.NoError(t, migrator.RunMigrations(fsys))

	_, err := db.Exec(`INSERT INTO widgets (id, color) VALUES ('w1', 'red')`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 2, count)

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM schema_migrations WHERE version = 2`).Scan(&name))
	assert.Equal(t, "add_column", name)
}

func TestRunMigrationsDir(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_gadgets.sql"),
		[]byte(`CREATE TABLE gadgets (id TEXT PRIMARY KEY);`), 0o600))

	require.NoError(t, NewMigrator(db, zap.NewNop()).RunMigrationsDir(dir))

	_, err := db.Exec(`INSERT INTO gadgets (id) VALUES ('g1')`)
	assert.NoError(t, err)
}

func TestRunMigrations_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"001_broken.sql": {Data: []byte(`CREATE TABLE oops (`)},
	}

	err := NewMigrator(db, zap.NewNop()).RunMigrations(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply migration 1")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestLoadMigrations(t *testing.T) {
	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
		want    []int
	}{
		{
			name: "sorted by version",
			fsys: fstest.MapFS{
				"010_c.sql": {Data: []byte("SELECT 1;")},
				"002_b.sql": {Data: []byte("SELECT 1;")},
				"001_a.sql": {Data: []byte("SELECT 1;")},
			},
			want: []int{1, 2, 10},
		},
		{
			name: "invalid filename",
			fsys: fstest.MapFS{
				"init.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: "invalid migration filename format",
		},
		{
			name: "duplicate version",
			fsys: fstest.MapFS{
				"001_a.sql":   {Data: []byte("SELECT 1;")},
				"001_dup.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: "duplicate migration version 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			migrations, err := loadMigrations(tt.fsys)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			var versions []int
			for _, m := range migrations {
				versions = append(versions, m.Version)
			}
			assert.Equal(t, tt.want, versions)
		})
	}
}

func TestRunMigrations_DetectsModifiedMigration(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db, zap.NewNop())

	require.NoError(t, migrator.RunMigrations(fstest.MapFS{
		"001_widgets.sql": {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
	}))

	err := migrator.RunMigrations(fstest.MapFS{
		"001_widgets.sql": {Data: []byte(`CREATE TABLE widgets (id INTEGER PRIMARY KEY);`)},
	})
	require.ErrorIs(t, err, ErrMigrationModified)
	assert.Contains(t, err.Error(), "version 1 (widgets)")
}

func TestMigrator_Version(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db, zap.NewNop())
	require.NoError(t, migrator.RunMigrations(fstest.MapFS{}))

	version, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	require.NoError(t, migrator.RunMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte(`CREATE TABLE a (id TEXT);`)},
		"007_b.sql": {Data: []byte(`CREATE TABLE b (id TEXT);`)},
	}))
	version, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, 7, version)
}

func TestNew(t *testing.T) {
	t.Run("creates parent directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")
		db, err := New(Config{Path: path, MaxOpenConns: 1}, nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("requires a path", func(t *testing.T) {
		_, err := New(Config{}, zap.NewNop())
		assert.EqualError(t, err, "database path is required")
	})
}
