package daemon

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// healthVerdict is the outcome of one worker's triple check (spec §4.1).
type healthVerdict int

const (
	healthAlive healthVerdict = iota
	healthStuck
	healthDead
)

func (v healthVerdict) String() string {
	switch v {
	case healthAlive:
		return "ALIVE"
	case healthStuck:
		return "STUCK"
	default:
		return "DEAD"
	}
}

// checkHealth runs the triple check for one worker: process liveness, then
// (if live) heartbeat staleness, then a logical probe with its own
// deadline. Any failing check short-circuits the rest — a dead process has
// nothing left to probe.
func (d *MasterDaemon) checkHealth(ctx context.Context, sw *supervisedWorker, now int64) healthVerdict {
	if !sw.alive.Load() {
		return healthDead
	}

	hb, err := d.st.GetHeartbeat(ctx, sw.w.Name)
	if err == nil && now-hb.LastBeatAt > d.cfg.HealthTimeout().Milliseconds() {
		return healthStuck
	}

	if sw.w.Probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout())
		err := sw.w.Probe(probeCtx)
		cancel()
		if err != nil {
			return healthStuck
		}
	}

	return healthAlive
}

// restartBackoff computes exponential backoff with full jitter, capped at
// cfg.MaxRestartBackoffS, for the attempt'th restart (1-indexed), matching
// the shape spec §4.1 names: "2 s, 4 s, ..., 60 s".
func restartBackoff(base time.Duration, attempt int, cap time.Duration) time.Duration {
	scaled := float64(base) * math.Pow(2, float64(attempt-1))
	if capped := float64(cap); scaled > capped {
		scaled = capped
	}
	return time.Duration(rand.Float64() * scaled)
}
