package daemon

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// maintenanceLoop runs the coarser-cadence upkeep tasks named in spec
// §4.1: checkpoint and orphan-lock cleanup on plain tickers (their config
// knobs are seconds intervals), statistics compaction and chain-verify
// sampling on cron schedules (their config knobs are cron expressions).
func (d *MasterDaemon) maintenanceLoop(ctx context.Context) {
	c := cron.New()
	if d.cfg.CompactCron != "" {
		if _, err := c.AddFunc(d.cfg.CompactCron, func() { d.runCompact(ctx) }); err != nil {
			d.log.WithError(err).Error("daemon: invalid compact_cron expression, compaction disabled")
		}
	}
	if d.cfg.ChainVerifyCron != "" && d.sampler != nil {
		if _, err := c.AddFunc(d.cfg.ChainVerifyCron, func() { d.runChainVerify(ctx) }); err != nil {
			d.log.WithError(err).Error("daemon: invalid chain_verify_cron expression, sampling disabled")
		}
	}
	c.Start()
	defer c.Stop()

	checkpointEvery := time.Duration(d.cfg.CheckpointEveryS) * time.Second
	if checkpointEvery <= 0 {
		checkpointEvery = 60 * time.Second
	}
	checkpointTicker := time.NewTicker(checkpointEvery)
	defer checkpointTicker.Stop()

	orphanEvery := time.Duration(d.cfg.OrphanLockEveryS) * time.Second
	if orphanEvery <= 0 {
		orphanEvery = 300 * time.Second
	}
	orphanTicker := time.NewTicker(orphanEvery)
	defer orphanTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkpointTicker.C:
			d.runCheckpoint(ctx)
		case <-orphanTicker.C:
			d.runOrphanLockCleanup(ctx)
		}
	}
}

func (d *MasterDaemon) runCheckpoint(ctx context.Context) {
	if d.snap == nil {
		return
	}
	now := d.nowFn()
	if _, err := d.snap.Snapshot(ctx, "scheduled checkpoint", now); err != nil {
		d.log.WithError(err).Error("daemon: checkpoint snapshot failed")
	}
}

func (d *MasterDaemon) runCompact(ctx context.Context) {
	if err := d.st.Compact(ctx); err != nil {
		d.log.WithError(err).Error("daemon: statistics compaction failed")
	}
}

func (d *MasterDaemon) runOrphanLockCleanup(ctx context.Context) {
	now := d.nowFn()
	after := time.Duration(d.cfg.OrphanLockAfterS) * time.Second
	if after <= 0 {
		after = 5 * time.Minute
	}
	staleBefore := now - after.Milliseconds()
	n, err := d.st.ReleaseOrphanedLocks(ctx, staleBefore, now)
	if err != nil {
		d.log.WithError(err).Error("daemon: orphaned lock cleanup failed")
		return
	}
	if n > 0 {
		d.log.WithField("count", n).Info("daemon: released orphaned entry locks")
	}
}

func (d *MasterDaemon) runChainVerify(ctx context.Context) {
	now := d.nowFn()
	brk, err := d.sampler.VerifyIntegritySample(ctx, now)
	if err != nil {
		d.log.WithError(err).Error("daemon: scheduled chain verification failed")
		return
	}
	if brk != nil {
		d.log.WithField("ledger_entry_id", brk.ID).Error("daemon: chain integrity break detected during scheduled sample")
	}
}
