package pipeline

import (
	"context"
	"time"

	"github.com/melosso/reef/deltasync"
	"github.com/melosso/reef/format"
)

// ProfileSource resolves profiles and their connections.
type ProfileSource interface {
	GetProfile(id string) (*Profile, error)
	GetConnection(id string) (*Connection, error)
	// TouchLastExecuted records the profile's last successful run.
	TouchLastExecuted(profileID string, at time.Time) error
}

// QueryExecutor runs the profile's query and pre/post-processing
// commands against a source connection.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, conn *Connection, query string, params map[string]interface{}) ([]format.Row, time.Duration, error)
	ExecuteCommand(ctx context.Context, conn *Connection, command string) (int64, time.Duration, error)
}

// DeltaSyncer diffs rows against stored hash state and commits after
// delivery. *deltasync.Syncer is the default implementation.
type DeltaSyncer interface {
	ProcessDelta(profileID, reefIDColumn string, rows []format.Row) (*deltasync.Result, error)
	Commit(profileID string, result *deltasync.Result, onlyReefIDs []string) error
}

// Destination uploads a locally staged file. Save retries internally up
// to maxRetries; exhaustion is terminal for the execution. Compensate is
// the saga rollback: delete a previously delivered output.
type Destination interface {
	Save(ctx context.Context, localPath, destType, destConfig string, maxRetries int) (finalPath string, err error)
	Compensate(ctx context.Context, finalPath, destType, destConfig string) error
}

// Transformer renders rows through a template instead of a built-in
// serializer.
type Transformer interface {
	Transform(rows []format.Row, templateSource string) (string, error)
}

// EmailSender delivers one rendered email.
type EmailSender interface {
	Send(ctx context.Context, email RenderedEmail) error
}

// ApprovalStore holds rendered emails pending human approval.
type ApprovalStore interface {
	CreatePendingApproval(ctx context.Context, profileID, executionID string, email RenderedEmail) (string, error)
}

// ExecutionNotifier receives terminal execution events. Implementations
// must never block or fail the execution path.
type ExecutionNotifier interface {
	ExecutionSucceeded(profileID, executionID string)
	ExecutionFailed(profileID, executionID, message string)
}

// Auditor records what happened. Failures are swallowed by the caller.
type Auditor interface {
	Log(entityType, entityID, action, actor, details string) error
}
