package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMemoryBytes and ProcessCPUPercent supplement the Go-runtime-level
// process collector with the same resident-memory/CPU view an operator
// watching `top` would have, sampled straight from the OS rather than from
// Go's own runtime stats (spec §4.1's health model already samples
// liveness; this is the resource dimension alongside it).
var (
	ProcessMemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Subsystem: "daemon",
		Name:      "process_resident_memory_bytes",
		Help:      "Resident memory of the ledgerd process, sampled each health sweep.",
	})

	ProcessCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Subsystem: "daemon",
		Name:      "process_cpu_percent",
		Help:      "CPU utilization of the ledgerd process since the last sample, as a percentage.",
	})
)

func init() {
	Registry.MustRegister(ProcessMemoryBytes, ProcessCPUPercent)
}

// SampleProcess refreshes ProcessMemoryBytes/ProcessCPUPercent from the OS.
// Errors are swallowed: a failed sample just leaves the gauges at their
// last known value, which matters less than a metrics hiccup aborting the
// health sweep it's piggybacking on.
func SampleProcess() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		ProcessMemoryBytes.Set(float64(mem.RSS))
	}
	if pct, err := proc.CPUPercent(); err == nil {
		ProcessCPUPercent.Set(pct)
	}
}
