package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/melosso/reef/errors"
	"github.com/melosso/reef/schedule"
)

// BackupHandler returns the handler for BackupDatabase jobs. It copies the
// SQLite file to a timestamped path under backupDir, refusing to overwrite
// an existing backup.
func BackupHandler(dbPath, backupDir string) Handler {
	return func(ctx context.Context, job *schedule.Job, exec *schedule.JobExecution) (*Result, error) {
		if dbPath == "" {
			return nil, errors.New("no database path configured for backup")
		}
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create backup directory")
		}

		stamp := time.Now().UTC().Format("20060102T150405Z")
		target := filepath.Join(backupDir,
			fmt.Sprintf("%s.%s.bak", filepath.Base(dbPath), stamp))

		if _, err := os.Stat(target); err == nil {
			return nil, errors.Newf("backup target already exists: %s", target)
		}

		written, err := copyFile(ctx, dbPath, target)
		if err != nil {
			// Half-written backups are worse than no backup.
			os.Remove(target)
			return nil, errors.Wrap(err, "failed to copy database")
		}

		out, _ := json.Marshal(map[string]interface{}{
			"backup_path": target,
			"bytes":       written,
		})
		return &Result{Output: string(out), BytesProcessed: written}, nil
	}
}

func copyFile(ctx context.Context, src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(out, readerContext{ctx, in})
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return written, err
}

// readerContext aborts a copy when the context is cancelled.
type readerContext struct {
	ctx context.Context
	r   io.Reader
}

func (rc readerContext) Read(p []byte) (int, error) {
	if err := rc.ctx.Err(); err != nil {
		return 0, err
	}
	return rc.r.Read(p)
}
