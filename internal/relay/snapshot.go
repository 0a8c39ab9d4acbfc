package relay

import (
	"os"
	"sync/atomic"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// counters accumulate over the lifetime of the relay server process and
// reset only on restart.
type counters struct {
	startedAt      time.Time
	totalCalls     atomic.Int64
	successCalls   atomic.Int64
	errorCalls     atomic.Int64
	totalLatencyMs atomic.Int64
	persistentHits atomic.Int64
	spawnFallbacks atomic.Int64
}

// Snapshot is the wire shape of the metrics query.
type Snapshot struct {
	TotalCalls          int64   `json:"totalCalls"`
	SuccessCalls        int64   `json:"successCalls"`
	ErrorCalls          int64   `json:"errorCalls"`
	AvgLatencyMs        float64 `json:"avgLatencyMs"`
	PersistentHits      int64   `json:"persistentHits"`
	SpawnFallbacks      int64   `json:"spawnFallbacks"`
	UptimeSeconds       int64   `json:"uptime"`
	PersistentCLIActive bool    `json:"persistentCliActive"`
	PendingRequests     int     `json:"pendingRequests"`
	PID                 int     `json:"pid"`
	MemoryMB            float64 `json:"memoryMB"`
}

func (c *counters) snapshot(workerAlive bool, pending int) Snapshot {
	total := c.totalCalls.Load()
	var avg float64
	if total > 0 {
		avg = float64(c.totalLatencyMs.Load()) / float64(total)
	}
	return Snapshot{
		TotalCalls:          total,
		SuccessCalls:        c.successCalls.Load(),
		ErrorCalls:          c.errorCalls.Load(),
		AvgLatencyMs:        avg,
		PersistentHits:      c.persistentHits.Load(),
		SpawnFallbacks:      c.spawnFallbacks.Load(),
		UptimeSeconds:       int64(time.Since(c.startedAt).Seconds()),
		PersistentCLIActive: workerAlive,
		PendingRequests:     pending,
		PID:                 os.Getpid(),
		MemoryMB:            selfRSSMB(),
	}
}

// selfRSSMB reports the relay server's resident set size. Best effort; 0
// when the platform cannot answer.
func selfRSSMB() float64 {
	p, err := gopsproc.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mi, err := p.MemoryInfo()
	if err != nil || mi == nil {
		return 0
	}
	return float64(mi.RSS) / (1024 * 1024)
}
