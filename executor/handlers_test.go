package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melosso/reef/schedule"
)

func TestHealthCheckHandler(t *testing.T) {
	rig := newTestRig(t)
	handler := HealthCheckHandler(rig.db)

	result, err := handler(context.Background(), &schedule.Job{ID: "jb_health"}, &schedule.JobExecution{})
	require.NoError(t, err)

	var snap HealthSnapshot
	require.NoError(t, json.Unmarshal([]byte(result.Output), &snap))
	assert.True(t, snap.DatabaseOK)
	assert.Greater(t, snap.MemoryTotalGB, 0.0)
	assert.Greater(t, snap.Goroutines, 0)
}

func TestBackupHandlerCopiesWithoutClobbering(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "reef.db")
	require.NoError(t, os.WriteFile(src, []byte("sqlite bytes"), 0o644))
	backupDir := filepath.Join(dir, "backups")

	handler := BackupHandler(src, backupDir)
	result, err := handler(context.Background(), &schedule.Job{ID: "jb_backup"}, &schedule.JobExecution{})
	require.NoError(t, err)
	assert.Equal(t, int64(len("sqlite bytes")), result.BytesProcessed)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Output), &out))
	backupPath := out["backup_path"].(string)
	copied, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(copied))

	// A second run within the same second must refuse to overwrite.
	_, err = handler(context.Background(), &schedule.Job{ID: "jb_backup"}, &schedule.JobExecution{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestBackupHandlerMissingSource(t *testing.T) {
	dir := t.TempDir()
	handler := BackupHandler(filepath.Join(dir, "nope.db"), filepath.Join(dir, "backups"))
	_, err := handler(context.Background(), &schedule.Job{ID: "jb_backup"}, &schedule.JobExecution{})
	require.Error(t, err)
}

type fakeCleaner struct{ deleted int64 }

func (f *fakeCleaner) CleanupOldState(time.Duration, time.Time) (int64, error) {
	return f.deleted, nil
}

func TestCleanupHandler(t *testing.T) {
	rig := newTestRig(t)
	rig.createJob(t, "jb_hist2", nil)

	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	exec, err := rig.execs.StartExecution("jb_hist2", schedule.TriggerSchedule, "test-node", old)
	require.NoError(t, err)
	exec.Status = schedule.ExecutionCompleted
	require.NoError(t, rig.execs.FinishExecution(exec))

	handler := CleanupHandler(rig.execs, 90*24*time.Hour, &fakeCleaner{deleted: 4})
	result, err := handler(context.Background(), &schedule.Job{ID: "jb_cleanup"}, &schedule.JobExecution{})
	require.NoError(t, err)

	var out map[string]int64
	require.NoError(t, json.Unmarshal([]byte(result.Output), &out))
	assert.Equal(t, int64(1), out["executions_deleted"])
	assert.Equal(t, int64(4), out["state_rows_deleted"])
	assert.Equal(t, int64(5), result.RowsProcessed)
}
