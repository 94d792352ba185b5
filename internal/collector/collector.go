// Package collector implements the Collector: it watches an input
// directory plus does a start-up full scan, parses each file into a
// structured pending_entry or document_record, deduplicates by full-file
// content hash, and persists the result through a bounded worker pool
// (spec §4.3).
package collector

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nexledger/ledgerd/internal/config"
	"github.com/nexledger/ledgerd/internal/store"
	"github.com/nexledger/ledgerd/pkg/logger"
)

// Store is the subset of *store.Store the Collector depends on.
type Store interface {
	HasContentHash(ctx context.Context, contentHash string) (bool, error)
	RecordAttempt(ctx context.Context, a *store.CollectorAttempt) error
	InsertDocumentRecord(ctx context.Context, d *store.DocumentRecord) error
	InsertPendingEntry(ctx context.Context, p *store.PendingEntry) error
	Heartbeat(ctx context.Context, workerName string, pid int, state string, now int64) error
}

// Collector is the collector worker: a fixed pool of parser goroutines fed
// by a bounded queue of discovered file paths.
type Collector struct {
	st    Store
	cfg   config.CollectorConfig
	log   *logger.Logger
	nowFn func() int64
	ocr   OCREngine

	workerName string
	pid        int

	groups *grouper
	queue  chan string
}

// New wires a Collector. ocr may be nil if no OCR backend is configured for
// this installation; invoice image files then fail soft with a clear cause
// instead of panicking on a nil interface call.
func New(st Store, cfg config.CollectorConfig, log *logger.Logger, nowFn func() int64, ocr OCREngine) *Collector {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Collector{
		st: st, cfg: cfg, log: log, nowFn: nowFn, ocr: ocr,
		workerName: "collector", pid: os.Getpid(),
		groups: newGrouper(time.Duration(cfg.GroupWindowS) * time.Second),
		queue:  make(chan string, queueSize),
	}
}

// Run performs the start-up full scan, then watches the input directory for
// new files (with a periodic rescan as a fallback for filesystem events a
// watcher can miss), feeding a fixed pool of cfg.Workers goroutines until
// ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.drainQueue(ctx)
		}()
	}

	if err := c.scanOnce(ctx); err != nil {
		c.log.WithError(err).Error("collector: start-up full scan failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.log.WithError(err).Warn("collector: filesystem watcher unavailable, falling back to scan-only mode")
	} else {
		defer watcher.Close()
		if err := c.watchTree(watcher); err != nil {
			c.log.WithError(err).Warn("collector: failed to register watch on input tree")
		}
	}

	scanInterval := time.Duration(c.cfg.ScanIntervalS) * time.Second
	if scanInterval <= 0 {
		scanInterval = 5 * time.Second
	}
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	events := watcherEvents(watcher)
	for {
		select {
		case <-ctx.Done():
			close(c.queue)
			wg.Wait()
			return nil
		case ev, ok := <-events:
			if !ok {
				continue
			}
			c.handleEvent(ctx, watcher, ev)
		case <-ticker.C:
			if err := c.scanOnce(ctx); err != nil {
				c.log.WithError(err).Warn("collector: periodic rescan failed")
			}
			now := c.nowFn()
			if err := c.st.Heartbeat(ctx, c.workerName, c.pid, "ALIVE", now); err != nil {
				c.log.WithError(err).Error("collector: failed to record heartbeat")
			}
		}
	}
}

// Probe is the logical liveness check the MasterDaemon's triple health
// check invokes (spec §4.1 check 3): the input directory must still be
// reachable.
func (c *Collector) Probe(ctx context.Context) error {
	_, err := os.Stat(c.cfg.InputDir)
	return err
}

// drainQueue is one of the fixed pool's parser goroutines. Each parse gets
// its own wall-clock timeout (spec §4.3: "each parse has a wall-clock
// timeout; timed-out tasks are aborted and reported, the worker survives").
// A timed-out processFile call is abandoned, not killed — Go has no
// mid-function cancellation. Only processFile's store calls observe
// fileCtx; the file read, decoding and parsing run to completion regardless.
func (c *Collector) drainQueue(ctx context.Context) {
	for path := range c.queue {
		fileCtx, cancel := context.WithTimeout(ctx, c.perFileTimeout())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := c.processFile(fileCtx, path); err != nil {
				c.log.WithField("path", path).WithError(err).Error("collector: unexpected pipeline error")
			}
		}()
		select {
		case <-done:
		case <-fileCtx.Done():
			c.log.WithField("path", path).Warn("collector: file parse timed out, worker continues")
		}
		cancel()
	}
}

func (c *Collector) perFileTimeout() time.Duration {
	if c.cfg.PerFileTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.cfg.PerFileTimeoutS) * time.Second
}

func (c *Collector) scanOnce(ctx context.Context) error {
	if c.cfg.InputDir == "" {
		return nil
	}
	return filepath.WalkDir(c.cfg.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // a single unreadable entry doesn't abort the scan
		}
		if d.IsDir() {
			return nil
		}
		c.enqueue(ctx, path)
		return nil
	})
}

func (c *Collector) enqueue(ctx context.Context, path string) {
	select {
	case c.queue <- path:
	case <-ctx.Done():
	}
}

func (c *Collector) watchTree(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(c.cfg.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}

func (c *Collector) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if watcher != nil && ev.Op&fsnotify.Create != 0 {
			_ = watcher.Add(ev.Name)
		}
		return
	}
	c.enqueue(ctx, ev.Name)
}

// watcherEvents returns w's event channel, or a nil channel (which select
// never picks) if the watcher could not be created.
func watcherEvents(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}
