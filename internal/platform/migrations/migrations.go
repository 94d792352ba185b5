// Package migrations owns schema versioning for the embedded SQLite store.
// Each .sql file is embedded at build time and applied as a single exec per
// file, in lexical filename order, on every daemon start — every statement
// in those files is written to be idempotent (IF NOT EXISTS / DROP then
// CREATE), so replaying the full set on an already-migrated database is
// safe. This trades the generality of a versioned migration runner like
// golang-migrate for a contract simple enough to verify against an embed.FS
// directory listing.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
)

//go:embed *.sql
var files embed.FS

// Apply executes every embedded migration file against db, in lexical
// filename order, one file per db.ExecContext call.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
