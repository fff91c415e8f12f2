// Package pipeline drives profile executions: the multi-phase export
// state machine running pre-processing, query, delta sync, fan-out,
// delivery and post-processing with saga-style compensation.
package pipeline

import (
	"fmt"
	"time"

	"github.com/melosso/reef/errors"
)

// ExecutionStatus values for profile executions and their splits.
const (
	ExecStatusRunning = "Running"
	ExecStatusSuccess = "Success"
	ExecStatusFailed  = "Failed"
	ExecStatusPartial = "Partial"
)

// ApprovalStatus values, populated only when the email-approval workflow
// is engaged.
const (
	ApprovalPending  = "Pending"
	ApprovalApproved = "Approved"
	ApprovalRejected = "Rejected"
	ApprovalSent     = "Sent"
	ApprovalFailed   = "Failed"
)

// Split-key sentinel groups. Null and empty are deliberately distinct
// groups because downstream filenames depend on the difference.
const (
	SplitKeyNull  = "_NULL_"
	SplitKeyEmpty = "_EMPTY_"
)

// Profile describes one export: where rows come from, how they are
// diffed, fanned out, rendered and delivered.
type Profile struct {
	ID           string
	Name         string
	Enabled      bool
	ConnectionID string

	Query string

	// Delta sync
	DeltaSyncEnabled      bool
	ReefIDColumn          string
	IncludeDeleted        bool
	RunPostProcessOnEmpty bool

	// Pre/post-processing commands, with placeholder substitution.
	PreProcessCommand            string
	PreProcessContinueOnError    bool
	PostProcessCommand           string
	PostProcessRollbackOnFailure bool
	PostProcessPerSplit          bool

	// Multi-output splitting
	SplitEnabled bool
	SplitColumn  string

	// Email export branch
	EmailExport           bool
	EmailRequiresApproval bool
	EmailSubjectTemplate  string
	EmailBodyTemplate     string
	EmailRecipientsColumn string

	// SuccessThresholdPct converts a partial email delivery into a
	// reported success when at least this percentage succeeded. Zero
	// means every email must succeed.
	SuccessThresholdPct float64

	// Output
	OutputFormat       string // json, xml, csv, yaml
	TemplateSource     string // non-empty switches delivery to the transformer
	OutputFilename     string // supports placeholders
	DestinationType    string
	DestinationConfig  string
	DeliveryMaxRetries int

	DependsOnProfileIDs []string
}

// Validate checks the combinations the orchestrator cannot run with.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return errors.New("profile id is required")
	}
	if p.Query == "" {
		return errors.Newf("profile %s has no query", p.ID)
	}
	if p.DeltaSyncEnabled && p.ReefIDColumn == "" {
		return errors.Newf("profile %s enables delta sync without a reef id column", p.ID)
	}
	if p.SplitEnabled && p.SplitColumn == "" {
		return errors.Newf("profile %s enables splitting without a split column", p.ID)
	}
	if p.EmailExport && p.SplitEnabled {
		return errors.Newf("profile %s cannot combine email export with splitting", p.ID)
	}
	if p.EmailExport && p.EmailRecipientsColumn == "" {
		return errors.Newf("profile %s is an email export without a recipients column", p.ID)
	}
	if p.SuccessThresholdPct < 0 || p.SuccessThresholdPct > 100 {
		return errors.Newf("profile %s success threshold must be 0-100", p.ID)
	}
	return nil
}

// Connection is a source database a profile queries against.
type Connection struct {
	ID     string
	Name   string
	Active bool
	Driver string
	DSN    string
}

// PhaseResult captures one pre/post-processing phase on an execution.
type PhaseResult struct {
	Status    string
	Started   *time.Time
	Completed *time.Time
	Error     string
	TimeMs    int64
}

// ProfileExecution is one run of a profile. The row is created Running
// before any validation so every attempt is auditable, and receives
// exactly one terminal mutation; only delta counters may be updated
// post-hoc.
type ProfileExecution struct {
	ID             string
	ProfileID      string
	JobExecutionID string

	Status          string
	RowCount        int
	OutputPath      string
	OutputMessage   string
	ExecutionTimeMs int64
	ErrorMessage    string

	PreProcess  PhaseResult
	PostProcess PhaseResult

	ApprovalStatus string

	NewRows         int
	ChangedRows     int
	DeletedRows     int
	UnchangedRows   int
	TotalHashedRows int

	WasSplit          bool
	SplitCount        int
	SplitSuccessCount int
	SplitFailureCount int

	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ExecutionSplit is one fan-out unit: a file per split-key value, or one
// rendered email.
type ExecutionSplit struct {
	ID                 string
	ProfileExecutionID string
	SplitKey           string
	RowCount           int
	Status             string
	OutputPath         string
	FileSizeBytes      int64
	ErrorMessage       string
	StartedAt          time.Time
	CompletedAt        *time.Time
}

// RenderedEmail is one email produced by the email-export branch.
type RenderedEmail struct {
	ReefID     string
	Recipients string
	Subject    string
	Body       string
}

func (e RenderedEmail) String() string {
	return fmt.Sprintf("to=%s subject=%q", e.Recipients, e.Subject)
}
