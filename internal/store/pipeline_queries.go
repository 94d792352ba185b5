package store

import "context"

// ListActiveRules returns every rule row still in force (no superseding
// valid_until set yet), the full set internal/knowledge.Bridge.Reload needs
// to rebuild its in-memory registry at startup and after each mutation.
func (s *Store) ListActiveRules(ctx context.Context) ([]Rule, error) {
	var rows []Rule
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM rules WHERE valid_until IS NULL`)
	return rows, err
}

// ListRecentEntriesByVendor returns a vendor's most recent POSTED entries,
// newest first, feeding the AuditorAgent's time-decay weighted consistency
// check (spec §4.5 step 3).
func (s *Store) ListRecentEntriesByVendor(ctx context.Context, vendor string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []LedgerEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM ledger_entries
		WHERE vendor = ? AND state = ?
		ORDER BY occurred_at DESC
		LIMIT ?`,
		vendor, StatePosted, limit)
	return rows, err
}
