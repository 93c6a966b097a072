package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// openVerifyTimeout bounds the connectivity ping performed by Open.
	openVerifyTimeout = 5 * time.Second

	// idleConnMaxAge is how long an idle connection is kept before being
	// recycled.
	idleConnMaxAge = 30 * time.Minute

	dirMode  = 0750
	fileMode = 0600
)

// Config selects the SQLite file and its pragmas. It maps to the
// database section of config.yaml.
type Config struct {
	// Path is the SQLite file location. Parent directories are created
	// on demand.
	Path string

	// WALMode enables write-ahead logging so history reads do not block
	// behind recorder writes.
	WALMode bool

	// BusyTimeout is the lock wait in seconds before SQLite reports
	// "database is locked".
	BusyTimeout int
}

// DB is the daemon's handle on the state store. It embeds *sql.DB, so
// repositories use the standard query surface directly; the wrapper
// adds open-time pragma setup, migrations, and a health probe.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the SQLite file described by cfg, creating the file
// and its directory on first run. Foreign keys are always on; WAL mode
// and the busy timeout follow the config. The pool is pinned to a
// single connection because SQLite allows one writer and the recorder
// is the only sustained write load.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(idleConnMaxAge)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), openVerifyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on the error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file may not exist until the first write; tighten permissions
	// when it does.
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck

	return db, nil
}

// Path returns the SQLite file location.
func (db *DB) Path() string {
	return db.path
}

// Close releases the underlying connection. Safe on a zero handle.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to confirm the store is reachable.
// Used by the startup health pass and the API health endpoint.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats exposes pool statistics for diagnostics.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}
