// Package diag samples process and host health for heartbeat reporting.
package diag

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const snapshotTTL = 2 * time.Second

type Snapshot struct {
	CPUUsage    float64   `json:"cpu_usage"`
	CPUCores    int       `json:"cpu_cores"`
	LoadAverage []float64 `json:"load_average,omitempty"`

	HostMemoryUsedBytes uint64 `json:"host_memory_used_bytes"`
	ProcessRSSBytes     uint64 `json:"process_rss_bytes"`
	Goroutines          int    `json:"goroutines"`

	Platform    string `json:"platform"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type Sampler struct {
	log *slog.Logger

	mu      sync.Mutex
	hasSnap bool
	snap    Snapshot
	takenAt time.Time

	self *process.Process
}

func NewSampler(log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	s := &Sampler{log: log}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.self = p
	}
	return s
}

// Sample returns a recent snapshot, collecting a fresh one when the cached copy has
// expired. Individual collectors failing degrade the snapshot instead of failing it.
func (s *Sampler) Sample(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasSnap && time.Since(s.takenAt) < snapshotTTL {
		return s.snap
	}

	snap := Snapshot{
		CPUCores:    runtime.NumCPU(),
		Goroutines:  runtime.NumGoroutine(),
		Platform:    runtime.GOOS,
		TimestampMs: time.Now().UnixMilli(),
	}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		snap.CPUUsage = pcts[0]
	} else if err != nil {
		s.log.Debug("cpu sample failed", "err", err)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		snap.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		snap.HostMemoryUsedBytes = vm.Used
	}
	if s.self != nil {
		if info, err := s.self.MemoryInfoWithContext(ctx); err == nil && info != nil {
			snap.ProcessRSSBytes = info.RSS
		}
	}

	s.snap = snap
	s.hasSnap = true
	s.takenAt = time.Now()
	return snap
}
