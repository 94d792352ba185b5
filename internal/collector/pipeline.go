package collector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nexledger/ledgerd/internal/store"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".heic": true, ".pdf": true,
}

// zipMagic is the four-byte signature shared by .xlsx (a zip container) and
// plain .zip files.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// processFile runs the per-file pipeline (spec §4.3, steps 1-7). Every step
// fails soft: on error the file is recorded FAILED with cause in
// collector_attempts and processFile returns nil, never aborting the
// worker that called it.
func (c *Collector) processFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return c.fail(ctx, path, "", fmt.Errorf("read file: %w", err))
	}

	sum := sha256.Sum256(raw)
	contentHash := hex.EncodeToString(sum[:])

	seen, err := c.st.HasContentHash(ctx, contentHash)
	if err != nil {
		return c.fail(ctx, path, contentHash, fmt.Errorf("dedup lookup: %w", err))
	}
	if seen {
		return nil // step: deduplicate by content hash, silently skip
	}

	// Step 1: magic number vs extension consistency check.
	ext := strings.ToLower(filepath.Ext(path))
	isZipContainer := bytes.HasPrefix(raw, zipMagic)
	if ext == ".xlsx" && !isZipContainer {
		return c.fail(ctx, path, contentHash, errMagicMismatch)
	}
	if ext != ".xlsx" && isZipContainer {
		return c.fail(ctx, path, contentHash, errMagicMismatch)
	}

	info, err := os.Stat(path)
	if err != nil {
		return c.fail(ctx, path, contentHash, fmt.Errorf("stat file: %w", err))
	}
	groupID := c.groups.assign(path, info.ModTime())
	now := c.nowFn()

	switch {
	case imageExtensions[ext]:
		return c.processImage(ctx, path, raw, contentHash, groupID, now)
	case ext == ".xlsx":
		return c.processXLSX(ctx, path, raw, contentHash, groupID, now)
	default:
		return c.processCSV(ctx, path, raw, contentHash, groupID, now)
	}
}

func (c *Collector) processImage(ctx context.Context, path string, raw []byte, contentHash, groupID string, now int64) error {
	if c.ocr == nil {
		return c.fail(ctx, path, contentHash, fmt.Errorf("collector: no OCR engine configured for %s", path))
	}
	result, err := c.ocr.Extract(ctx, path, raw)
	if err != nil {
		return c.fail(ctx, path, contentHash, fmt.Errorf("ocr extract: %w", err))
	}

	occurredAt := result.OccurredAt
	if occurredAt == 0 {
		occurredAt = now
	}

	doc := &store.DocumentRecord{
		TraceID:      uuid.NewString(),
		ContentHash:  contentHash,
		Source:       "INVOICE_OCR",
		Vendor:       result.Vendor,
		AmountMicros: result.AmountMicros,
		OccurredAt:   occurredAt,
		RawPath:      path,
		GroupID:      &groupID,
		Status:       "PENDING",
		InsertedAt:   now,
		UpdatedAt:    now,
	}
	if err := c.st.InsertDocumentRecord(ctx, doc); err != nil {
		return c.fail(ctx, path, contentHash, fmt.Errorf("persist document record: %w", err))
	}
	return c.succeed(ctx, path, contentHash, now)
}

func (c *Collector) processCSV(ctx context.Context, path string, raw []byte, contentHash, groupID string, now int64) error {
	text, _, err := decodeText(raw)
	if err != nil {
		return c.fail(ctx, path, contentHash, err)
	}

	rows := make(chan ParsedRow, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(rows)
		errCh <- parseCSVRows(text, rows)
	}()

	n, err := c.persistRows(ctx, path, rows, groupID, now)
	if parseErr := <-errCh; parseErr != nil {
		return c.fail(ctx, path, contentHash, parseErr)
	}
	if err != nil {
		return c.fail(ctx, path, contentHash, err)
	}
	if n == 0 {
		return c.fail(ctx, path, contentHash, errNoRows)
	}
	return c.succeed(ctx, path, contentHash, now)
}

func (c *Collector) processXLSX(ctx context.Context, path string, raw []byte, contentHash, groupID string, now int64) error {
	grid, err := readXLSXRows(raw)
	if err != nil {
		return c.fail(ctx, path, contentHash, err)
	}

	rows := make(chan ParsedRow, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(rows)
		errCh <- parseXLSXRows(grid, rows)
	}()

	n, err := c.persistRows(ctx, path, rows, groupID, now)
	if parseErr := <-errCh; parseErr != nil {
		return c.fail(ctx, path, contentHash, parseErr)
	}
	if err != nil {
		return c.fail(ctx, path, contentHash, err)
	}
	if n == 0 {
		return c.fail(ctx, path, contentHash, errNoRows)
	}
	return c.succeed(ctx, path, contentHash, now)
}

// persistRows drains rows, writing each as a pending_entry (step 7:
// "per-row write through persistence"). It keeps draining on a write error
// so a single bad row's failure doesn't leave the parser goroutine blocked
// on a full channel.
func (c *Collector) persistRows(ctx context.Context, path string, rows <-chan ParsedRow, groupID string, now int64) (int, error) {
	n := 0
	var firstErr error
	for row := range rows {
		p := &store.PendingEntry{
			TraceID:      uuid.NewString(),
			Source:       row.Source,
			Counterparty: row.Counterparty,
			AmountMicros: row.AmountMicros,
			OccurredAt:   row.OccurredAt,
			GroupID:      &groupID,
			Status:       "UNRECONCILED",
			InsertedAt:   now,
			UpdatedAt:    now,
		}
		if row.Description != "" {
			p.Description = &row.Description
		}
		if err := c.st.InsertPendingEntry(ctx, p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("persist pending entry for %s: %w", path, err)
			continue
		}
		n++
	}
	return n, firstErr
}

func (c *Collector) fail(ctx context.Context, path, contentHash string, cause error) error {
	now := c.nowFn()
	msg := cause.Error()
	if contentHash == "" {
		sum := sha256.Sum256([]byte(path + msg))
		contentHash = hex.EncodeToString(sum[:])
	}
	c.log.WithField("path", path).WithError(cause).Warn("collector: file failed, marking and moving on")
	if err := c.st.RecordAttempt(ctx, &store.CollectorAttempt{
		ContentHash: contentHash, FilePath: path, Status: "FAILED", Cause: &msg, AttemptedAt: now,
	}); err != nil {
		c.log.WithField("path", path).WithError(err).Error("collector: failed to record failed attempt")
	}
	return nil
}

func (c *Collector) succeed(ctx context.Context, path, contentHash string, now int64) error {
	if err := c.st.RecordAttempt(ctx, &store.CollectorAttempt{
		ContentHash: contentHash, FilePath: path, Status: "PARSED", AttemptedAt: now,
	}); err != nil {
		c.log.WithField("path", path).WithError(err).Error("collector: failed to record successful attempt")
	}
	return nil
}
