package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	r := require.New(t)

	cfg := DefaultConfig()
	r.Equal("./data/tutorsync.db", cfg.DatabasePath)
	r.Equal(4, cfg.MaxConnections)
	r.Equal(time.Hour, cfg.ConnMaxLifetime)
	r.Equal(10*time.Minute, cfg.ConnMaxIdleTime)
	r.NoError(cfg.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestMigrationManager_AppliesInOrderOnce(t *testing.T) {
	r := require.New(t)
	db := openTestDB(t)

	source := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`ALTER TABLE widgets ADD COLUMN size INTEGER;`)},
		"001_widgets.sql":    {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
		"README.md":          {Data: []byte(`not a migration`)},
	}

	mgr := NewMigrationManager(db, source)
	r.NoError(mgr.ApplyMigrations())
	r.NoError(mgr.ApplyMigrations())

	versions, err := mgr.AppliedVersions()
	r.NoError(err)
	r.Equal([]string{"001", "002"}, versions)

	_, err = db.Exec(`INSERT INTO widgets (id, size) VALUES ('w1', 3)`)
	r.NoError(err)
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	r := require.New(t)
	db := openTestDB(t)

	mgr := NewMigrationManager(db, fstest.MapFS{
		"001_broken.sql": {Data: []byte(`CREATE TABLE oops (`)},
	})
	r.Error(mgr.ApplyMigrations())

	versions, err := mgr.AppliedVersions()
	r.NoError(err)
	r.Empty(versions)
}

func TestOpen_EmbeddedSchema(t *testing.T) {
	r := require.New(t)

	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "state.db")

	db, err := Open(cfg)
	r.NoError(err)
	defer func() { _ = db.Close() }()

	r.NoError(NewSchemaValidator(db).Validate())

	var journalMode string
	r.NoError(db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	r.Equal("wal", journalMode)

	_, err = db.Exec(`INSERT INTO local_storage (key, value) VALUES ('accessToken', 'abc')`)
	r.NoError(err)
}

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	require.Error(t, NewSchemaValidator(db).Validate())
}

func TestOpen_RejectsDriftedSchema(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "state.db")

	// Marked as migrated, but with a column of the wrong type.
	db, err := sql.Open("sqlite3", path)
	r.NoError(err)
	_, err = db.Exec(`
		CREATE TABLE local_storage (key TEXT PRIMARY KEY, value BLOB, updated_at DATETIME);
		CREATE TABLE schema_migrations (version TEXT PRIMARY KEY, applied_at DATETIME);
		INSERT INTO schema_migrations (version) VALUES ('001');
	`)
	r.NoError(err)
	r.NoError(db.Close())

	cfg := DefaultConfig()
	cfg.DatabasePath = path
	_, err = Open(cfg)
	r.ErrorContains(err, "invalid local schema")
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(&Config{})
	require.Error(t, err)
}
