package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenCreatesFileAndPings(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(filepath.Join(dir, "ledger.db"))

	db, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestDefaultOptionsAppliesSpecDefaults(t *testing.T) {
	opts := DefaultOptions("ledger.db")
	if opts.BusyTimeoutMS != 5000 {
		t.Fatalf("expected busy timeout 5000, got %d", opts.BusyTimeoutMS)
	}
	if opts.SyncMode != "NORMAL" {
		t.Fatalf("expected sync mode NORMAL, got %s", opts.SyncMode)
	}
	if opts.CacheMB != 64 {
		t.Fatalf("expected cache 64MB, got %d", opts.CacheMB)
	}
}
