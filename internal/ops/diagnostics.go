package ops

import (
	"runtime"
	"time"
)

// SystemStats contains process-level runtime statistics
type SystemStats struct {
	Version   string
	Commit    string
	Uptime    time.Duration
	StartTime time.Time

	GoVersion       string
	NumGoroutines   int
	MemAllocMB      float64
	MemTotalAllocMB float64
	MemSysMB        float64
	NumGC           uint32
}

// EngineStats contains entity-store statistics. The store implements
// EngineStatsSource; ops stays import-free of the store package.
type EngineStats struct {
	Communities        int
	Channels           int
	ConfirmedMessages  int
	OptimisticMessages int
	ArchivedEvents     int
	SeenEvents         int
}

// EngineStatsSource provides a consistent stats snapshot
type EngineStatsSource interface {
	StatsSnapshot() EngineStats
}

// Diagnostics collects runtime and engine statistics for logging
type Diagnostics struct {
	version   string
	commit    string
	startTime time.Time
	source    EngineStatsSource
}

// NewDiagnostics creates a diagnostics collector
func NewDiagnostics(version, commit string, source EngineStatsSource) *Diagnostics {
	return &Diagnostics{
		version:   version,
		commit:    commit,
		startTime: time.Now(),
		source:    source,
	}
}

// System returns current process statistics
func (d *Diagnostics) System() SystemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemStats{
		Version:         d.version,
		Commit:          d.commit,
		Uptime:          time.Since(d.startTime),
		StartTime:       d.startTime,
		GoVersion:       runtime.Version(),
		NumGoroutines:   runtime.NumGoroutine(),
		MemAllocMB:      float64(m.Alloc) / 1024 / 1024,
		MemTotalAllocMB: float64(m.TotalAlloc) / 1024 / 1024,
		MemSysMB:        float64(m.Sys) / 1024 / 1024,
		NumGC:           m.NumGC,
	}
}

// Engine returns the entity-store statistics, zero values without a source
func (d *Diagnostics) Engine() EngineStats {
	if d.source == nil {
		return EngineStats{}
	}
	return d.source.StatsSnapshot()
}

// LogDiagnostics logs a full diagnostics snapshot
func (l *Logger) LogDiagnostics(d *Diagnostics) {
	sys := d.System()
	eng := d.Engine()

	l.Info("diagnostics",
		"uptime", sys.Uptime.Round(time.Second).String(),
		"goroutines", sys.NumGoroutines,
		"mem_alloc_mb", int(sys.MemAllocMB),
		"num_gc", sys.NumGC,
		"communities", eng.Communities,
		"channels", eng.Channels,
		"confirmed_messages", eng.ConfirmedMessages,
		"optimistic_messages", eng.OptimisticMessages,
		"archived_events", eng.ArchivedEvents,
		"seen_events", eng.SeenEvents)
}
