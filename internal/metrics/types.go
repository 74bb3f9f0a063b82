package metrics

import (
	"context"
	"errors"
	"math"
	"time"
)

// Sentinels used when a process field cannot be read.
const (
	UnknownName = "Unknown"
	UnknownUser = "N/A"
)

var (
	// ErrNotFound means the process exited between listing and querying.
	ErrNotFound = errors.New("process not found")
	// ErrAccessDenied means the process exists but cannot be inspected.
	ErrAccessDenied = errors.New("access denied")
)

// Status is the normalized scheduling state of a process.
type Status string

const (
	StatusRunning  Status = "running"
	StatusSleeping Status = "sleeping"
	StatusStopped  Status = "stopped"
	StatusIdle     Status = "idle"
	StatusZombie   Status = "zombie"
	StatusUnknown  Status = "unknown"
)

// ProcessRecord is one process as observed by a single sample.
type ProcessRecord struct {
	PID           int32   `json:"pid" yaml:"pid"`
	Name          string  `json:"name" yaml:"name"`
	User          string  `json:"user" yaml:"user"`
	CPUPercent    float64 `json:"cpuPercent" yaml:"cpu_percent"`
	MemoryPercent float64 `json:"memoryPercent" yaml:"memory_percent"`
	Status        Status  `json:"status" yaml:"status"`
}

// SystemStats holds host-wide aggregates for one sample.
type SystemStats struct {
	CPUPercent       float64   `json:"cpuPercent" yaml:"cpu_percent"`
	MemoryUsedBytes  uint64    `json:"memoryUsedBytes" yaml:"memory_used_bytes"`
	MemoryTotalBytes uint64    `json:"memoryTotalBytes" yaml:"memory_total_bytes"`
	MemoryPercent    float64   `json:"memoryPercent" yaml:"memory_percent"`
	ProcessCount     int       `json:"processCount" yaml:"process_count"`
	TakenAt          time.Time `json:"takenAt" yaml:"taken_at"`
}

// Source reads the host process table.
type Source interface {
	ListPids(ctx context.Context) ([]int32, error)
	Query(ctx context.Context, pid int32) (ProcessRecord, error)
	SystemStats(ctx context.Context) (SystemStats, error)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*10) / 10
}
