package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexledger/ledgerd/internal/config"
	"github.com/nexledger/ledgerd/internal/metrics"
	"github.com/nexledger/ledgerd/internal/store"
	"github.com/nexledger/ledgerd/pkg/logger"
)

// Store is the subset of *store.Store the MasterDaemon depends on.
type Store interface {
	Heartbeat(ctx context.Context, workerName string, pid int, state string, now int64) error
	GetHeartbeat(ctx context.Context, workerName string) (*store.Heartbeat, error)
	ListHeartbeats(ctx context.Context) ([]store.Heartbeat, error)
	SetHeartbeatState(ctx context.Context, workerName, state string, panicSnapshot *string, now int64) error
	IncrementRestartCount(ctx context.Context, workerName string, now int64) (int, error)
	ReleaseOrphanedLocks(ctx context.Context, staleBefore, now int64) (int, error)
	InsertOutboxEvent(ctx context.Context, ev *store.OutboxEvent) error
	Compact(ctx context.Context) error
}

// Snapshotter is the subset of *store.Snapshotter the checkpoint task needs.
type Snapshotter interface {
	Snapshot(ctx context.Context, description string, now int64) (*store.Snapshot, error)
}

// IntegritySampler is the subset of *match.Engine the chain-verify
// maintenance task needs.
type IntegritySampler interface {
	VerifyIntegritySample(ctx context.Context, now int64) (*store.ChainBreak, error)
}

var allStates = []string{"ALIVE", "STUCK", "DEAD", "QUARANTINED"}

// MasterDaemon supervises the declared worker set, runs the triple-check
// health model, applies the restart/quarantine policy, and schedules
// maintenance (spec §4.1). It owns the single cancellation token that
// propagates into every supervised worker.
type MasterDaemon struct {
	st          Store
	snap        Snapshotter
	sampler     IntegritySampler
	cfg         config.DaemonConfig
	log         *logger.Logger
	pid         int
	nowFn       func() int64
	bootTimeout time.Duration

	workers []*Worker
	sup     map[string]*supervisedWorker

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	maintWg     sync.WaitGroup
	maintCancel context.CancelFunc
}

const defaultBootTimeout = 10 * time.Second

// New wires a MasterDaemon. workers must already be in the declared
// dependency order (InteractionHub first, then the pipeline, then
// Collector last, per spec §4.1). bootTimeout bounds how long Start waits
// for each worker's initial heartbeat before failing; zero uses the
// production default of 10s.
func New(st Store, snap Snapshotter, sampler IntegritySampler, cfg config.DaemonConfig, log *logger.Logger, nowFn func() int64, bootTimeout time.Duration, workers []*Worker) *MasterDaemon {
	sup := make(map[string]*supervisedWorker, len(workers))
	for _, w := range workers {
		sup[w.Name] = newSupervisedWorker(w)
	}
	if bootTimeout <= 0 {
		bootTimeout = defaultBootTimeout
	}
	return &MasterDaemon{
		st: st, snap: snap, sampler: sampler, cfg: cfg, log: log,
		pid: os.Getpid(), nowFn: nowFn, bootTimeout: bootTimeout, workers: workers, sup: sup,
	}
}

// Start brings up every worker in declared order, waiting for each one's
// initial ALIVE heartbeat before moving to the next (or a boot timeout),
// then starts the health loop and maintenance schedule. It returns once
// every worker has reported alive or the boot has failed.
func (d *MasterDaemon) Start(ctx context.Context) error {
	d.rootCtx, d.rootCancel = context.WithCancel(ctx)

	for _, w := range d.workers {
		if err := d.startOne(w); err != nil {
			d.shutdownStarted(d.cfg.GraceShutdown())
			return fmt.Errorf("daemon: boot worker %s: %w", w.Name, err)
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.healthLoop(d.rootCtx)
	}()

	maintCtx, maintCancel := context.WithCancel(d.rootCtx)
	d.maintCancel = maintCancel
	d.maintWg.Add(1)
	go func() {
		defer d.maintWg.Done()
		d.maintenanceLoop(maintCtx)
	}()

	return nil
}

func (d *MasterDaemon) startOne(w *Worker) error {
	sw := d.sup[w.Name]
	sw.spawn(d.rootCtx, func(err error) { d.onWorkerExit(sw, err) })

	deadline := time.Now().Add(d.bootTimeout)
	for time.Now().Before(deadline) {
		hb, err := d.st.GetHeartbeat(d.rootCtx, w.Name)
		if err == nil && hb.State == "ALIVE" {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("boot timeout after %s waiting for initial heartbeat", d.bootTimeout)
}

// onWorkerExit runs on the supervising goroutine whenever a worker's Run
// returns, whether from a fatal error, a panic, or clean cancellation. A
// clean shutdown (root context already cancelled) is not restarted.
func (d *MasterDaemon) onWorkerExit(sw *supervisedWorker, err error) {
	if d.rootCtx.Err() != nil {
		return // daemon is shutting down, not a failure to restart
	}
	if err == nil {
		err = fmt.Errorf("daemon: worker %s exited without being cancelled", sw.w.Name)
	}

	now := d.nowFn()
	d.log.WithField("worker", sw.w.Name).WithError(err).Warn("daemon: worker exited, applying restart policy")

	sw.mu.Lock()
	sw.consecutiveFailures++
	attempt := sw.consecutiveFailures
	sw.mu.Unlock()

	if attempt > d.cfg.QuarantineAfterTries {
		d.quarantine(sw, err, now)
		return
	}

	_, incErr := d.st.IncrementRestartCount(d.rootCtx, sw.w.Name, now)
	if incErr != nil {
		d.log.WithField("worker", sw.w.Name).WithError(incErr).Error("daemon: failed to record restart count")
	}
	metrics.WorkerRestarts.WithLabelValues(sw.w.Name).Inc()

	delay := restartBackoff(2*time.Second, attempt, time.Duration(d.cfg.MaxRestartBackoffS)*time.Second)
	time.AfterFunc(delay, func() {
		if d.rootCtx.Err() != nil {
			return
		}
		sw.spawn(d.rootCtx, func(err error) { d.onWorkerExit(sw, err) })
	})
}

// quarantine permanently stops supervising sw after it has exhausted its
// restart attempts, records a panic snapshot, and raises a CRITICAL
// outbox event (spec §4.1: "a CRITICAL outbox event is enqueued").
func (d *MasterDaemon) quarantine(sw *supervisedWorker, cause error, now int64) {
	sw.mu.Lock()
	sw.quarantined = true
	sw.mu.Unlock()

	snapshot := fmt.Sprintf("%v\n%s", cause, debug.Stack())
	if err := d.st.SetHeartbeatState(d.rootCtx, sw.w.Name, "QUARANTINED", &snapshot, now); err != nil {
		d.log.WithField("worker", sw.w.Name).WithError(err).Error("daemon: failed to record quarantine state")
	}
	metrics.SetHeartbeatState(sw.w.Name, allStates, "QUARANTINED")

	payload, _ := json.Marshal(map[string]string{"worker": sw.w.Name, "cause": cause.Error()})
	if err := d.st.InsertOutboxEvent(d.rootCtx, &store.OutboxEvent{
		EventID: uuid.NewString(), Kind: "CRITICAL", Payload: payload,
		Status: "PENDING", NextAttemptAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		d.log.WithField("worker", sw.w.Name).WithError(err).Error("daemon: failed to enqueue quarantine alert")
	}
	d.log.WithField("worker", sw.w.Name).Error("daemon: worker quarantined after exhausting restart attempts")
}

// healthLoop runs the triple check for every worker on cfg.HealthCheckIntervalS.
func (d *MasterDaemon) healthLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.HealthCheckIntervalS) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepHealth(ctx)
		}
	}
}

func (d *MasterDaemon) sweepHealth(ctx context.Context) {
	metrics.SampleProcess()

	now := d.nowFn()
	for _, w := range d.workers {
		sw := d.sup[w.Name]
		sw.mu.Lock()
		quarantined := sw.quarantined
		sw.mu.Unlock()
		if quarantined {
			continue
		}

		verdict := d.checkHealth(ctx, sw, now)
		metrics.SetHeartbeatState(w.Name, allStates, verdict.String())

		switch verdict {
		case healthAlive:
			sw.mu.Lock()
			sw.consecutiveFailures = 0
			sw.mu.Unlock()
		case healthStuck:
			if err := d.st.SetHeartbeatState(ctx, w.Name, "STUCK", nil, now); err != nil {
				d.log.WithField("worker", w.Name).WithError(err).Error("daemon: failed to record stuck state")
			}
			sw.stop()
		case healthDead:
			// onWorkerExit already fired from the goroutine's own defer; nothing
			// further to do here besides letting the restart policy run its course.
		}
	}
}

// Shutdown issues cooperative cancellation to every worker and waits up to
// grace for them to exit; any still running past that point are abandoned
// and marked DEAD. The panic_snapshot recorded for each holds the stack of
// the goroutine running the shutdown, not the abandoned worker's own stack.
func (d *MasterDaemon) Shutdown(grace time.Duration) {
	if d.maintCancel != nil {
		d.maintCancel()
	}
	d.shutdownStarted(grace)
}

func (d *MasterDaemon) shutdownStarted(grace time.Duration) {
	if d.rootCancel != nil {
		d.rootCancel()
	}

	done := make(chan struct{})
	go func() {
		for _, w := range d.workers {
			d.sup[w.Name].stop()
		}
		d.wg.Wait()
		d.maintWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		now := d.nowFn()
		for _, w := range d.workers {
			sw := d.sup[w.Name]
			if sw.alive.Load() {
				snapshot := string(debug.Stack())
				_ = d.st.SetHeartbeatState(context.Background(), w.Name, "DEAD", &snapshot, now)
				d.log.WithField("worker", w.Name).Warn("daemon: force-terminating worker past shutdown grace period")
			}
		}
	}
}

// ReloadConfig swaps in a new DaemonConfig; each supervised worker picks
// up anything it reads from cfg at its own next idle point, matching spec
// §4.1's reload_config() contract ("observes the new configuration at its
// next idle point") rather than forcing an immediate restart.
func (d *MasterDaemon) ReloadConfig(cfg config.DaemonConfig) {
	d.cfg = cfg
}
