// Package db is the durable point store: an append-only, time-ordered table
// of recorded positions kept in a single SQLite file.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/trackheat/internal/monitoring"
)

// ErrStorageFault wraps every failure of the underlying medium (open, schema,
// read or write). Callers classify with errors.Is.
var ErrStorageFault = errors.New("storage fault")

var logf = monitoring.Prefixed("db")

// pragmas are applied by the driver to every pooled connection.
const pragmas = "_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=temp_store(MEMORY)"

// DB owns the SQLite handle. All access to the track goes through its
// methods; nothing else in the process touches the file.
type DB struct {
	*sql.DB
	path string

	initOnce sync.Once
	initErr  error
	initRuns int

	// writeMu serialises appends and clears so a read issued after a write
	// returns observes it.
	writeMu sync.Mutex
}

// NewDB opens (and creates if absent) the database file at path. The schema
// is not touched until Initialize or the first store operation.
func NewDB(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrStorageFault)
	}

	sqlDB, err := sql.Open("sqlite", path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageFault, path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStorageFault, path, err)
	}

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the file the store was opened on.
func (db *DB) Path() string { return db.path }

// Initialize brings the schema up to date. Only the first call does any work;
// every later or concurrent call waits for and returns that same outcome,
// including a failure.
func (db *DB) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.initOnce.Do(func() {
		db.initRuns++
		if err := db.MigrateUp(); err != nil {
			db.initErr = fmt.Errorf("%w: initialize schema: %v", ErrStorageFault, err)
			logf("schema initialisation failed for %s: %v", db.path, err)
			return
		}
		logf("schema ready at %s", db.path)
	})
	return db.initErr
}

// storageFault wraps err as ErrStorageFault unless it is a context error,
// which is passed through so cancellation stays distinguishable.
func storageFault(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageFault, op, err)
}
