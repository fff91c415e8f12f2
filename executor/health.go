package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/melosso/reef/errors"
	"github.com/melosso/reef/schedule"
)

// HealthSnapshot is the output of a health-check run.
type HealthSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	MemoryUsedGB  float64   `json:"memory_used_gb"`
	MemoryTotalGB float64   `json:"memory_total_gb"`
	MemoryPercent float64   `json:"memory_percent"`
	CPUPercent    float64   `json:"cpu_percent"`
	Goroutines    int       `json:"goroutines"`
	DatabaseOK    bool      `json:"database_ok"`
}

// HealthCheckHandler returns the handler for HealthCheck jobs. Each run
// snapshots memory, CPU and database reachability into the execution's
// output.
func HealthCheckHandler(db *sql.DB) Handler {
	return func(ctx context.Context, job *schedule.Job, exec *schedule.JobExecution) (*Result, error) {
		snap := HealthSnapshot{
			Timestamp:  time.Now().UTC(),
			Goroutines: runtime.NumGoroutine(),
		}

		v, err := mem.VirtualMemory()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read memory stats")
		}
		snap.MemoryTotalGB = float64(v.Total) / 1024 / 1024 / 1024
		snap.MemoryUsedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
		snap.MemoryPercent = v.UsedPercent

		// Instantaneous sample; 0 on platforms without support.
		if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
			snap.CPUPercent = percents[0]
		}

		if db != nil {
			snap.DatabaseOK = db.PingContext(ctx) == nil
		}

		out, err := json.Marshal(snap)
		if err != nil {
			return nil, errors.Wrap(err, "failed to serialize health snapshot")
		}
		if !snap.DatabaseOK && db != nil {
			return nil, errors.New("database ping failed")
		}
		return &Result{Output: string(out), BytesProcessed: int64(len(out))}, nil
	}
}
