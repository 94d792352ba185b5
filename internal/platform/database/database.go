// Package database opens the embedded SQLite store file that backs the
// ledger (spec §4.2: "a single embedded transactional store reachable from
// one process group"). It pairs with internal/platform/migrations, which
// owns schema versioning.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Options configures the SQLite connection pragmas. Field names mirror the
// spec's configuration keys (store.busy_timeout_ms, store.sync_mode,
// store.cache_mb) so internal/config can populate this struct directly.
type Options struct {
	Path          string
	BusyTimeoutMS int
	SyncMode      string // OFF | NORMAL | FULL | EXTRA
	CacheMB       int
}

// DefaultOptions returns the pragma defaults named in spec §6.
func DefaultOptions(path string) Options {
	return Options{
		Path:          path,
		BusyTimeoutMS: 5000,
		SyncMode:      "NORMAL",
		CacheMB:       64,
	}
}

// Open establishes the SQLite connection, applies WAL journaling and the
// configured pragmas, and verifies connectivity with a ping. The returned
// *sql.DB must be closed by the caller.
//
// A single writer at a time (spec §4.2 "Performance posture") is enforced
// by capping MaxOpenConns to 1: SQLite itself only serializes writers, not
// readers, through WAL, but sharing one *sql.DB across goroutines mid
// write-transaction is the simplest way to honor "one writer at a time"
// without a second coordination layer.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 5000
	}
	if opts.SyncMode == "" {
		opts.SyncMode = "NORMAL"
	}
	if opts.CacheMB <= 0 {
		opts.CacheMB = 64
	}

	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=%s&_cache_size=-%d&_foreign_keys=on",
		opts.Path, opts.BusyTimeoutMS, opts.SyncMode, opts.CacheMB*1024,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
