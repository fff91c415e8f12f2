package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/melosso/reef/deltasync"
	"github.com/melosso/reef/errors"
	"github.com/melosso/reef/format"
)

// Config carries orchestrator-level settings.
type Config struct {
	// TempDir is where staged output files are written before delivery.
	// Empty means the system temp directory.
	TempDir string
	// Actor is recorded on audit entries for scheduled executions.
	Actor string
}

// Deps bundles the orchestrator's collaborators. Store, Profiles and
// Queries are required; the rest may be nil when the matching profile
// feature is unused.
type Deps struct {
	Store       *Store
	Profiles    ProfileSource
	Queries     QueryExecutor
	Delta       DeltaSyncer
	Destination Destination
	Transformer Transformer
	Emails      EmailSender
	Approvals   ApprovalStore
	Notifier    ExecutionNotifier
	Auditor     Auditor
}

// Orchestrator drives a profile execution through its phases: validate,
// pre-process, query, delta sync, fan out, deliver, post-process,
// finalize.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  *zap.SugaredLogger
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, log *zap.SugaredLogger) *Orchestrator {
	if cfg.Actor == "" {
		cfg.Actor = "scheduler"
	}
	return &Orchestrator{deps: deps, cfg: cfg, log: log}
}

// Execute runs one profile execution to completion. The execution row is
// created before any validation, receives exactly one terminal status and
// is returned in its final state. A non-nil error means the execution
// failed; retries are the caller's concern.
func (o *Orchestrator) Execute(ctx context.Context, profileID string, params map[string]interface{}, jobExecutionID string) (*ProfileExecution, error) {
	started := time.Now().UTC()

	exec, err := o.deps.Store.CreateExecution(profileID, jobExecutionID, started)
	if err != nil {
		return nil, err
	}

	profile, conn, verr := o.validate(exec)
	if verr != nil {
		return o.fail(exec, nil, started, verr)
	}

	tempDir, err := os.MkdirTemp(o.cfg.TempDir, "reef-export-")
	if err != nil {
		return o.fail(exec, profile, started, errors.Wrap(err, "failed to create temp directory"))
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil && o.log != nil {
			o.log.Warnw("Failed to remove temp directory", "path", tempDir, "error", err)
		}
	}()

	if err := o.runPreProcess(ctx, profile, conn, exec); err != nil {
		return o.fail(exec, profile, started, err)
	}

	rows, elapsed, err := o.deps.Queries.ExecuteQuery(ctx, conn, profile.Query, params)
	if err != nil {
		return o.fail(exec, profile, started, errors.Wrapf(err, "query failed for profile %s", profile.ID))
	}
	exec.RowCount = len(rows)
	if o.log != nil {
		o.log.Infow("Profile query returned",
			"profile_id", profile.ID,
			"execution_id", exec.ID,
			"rows", len(rows),
			"elapsed", elapsed)
	}

	exportRows, deltaResult, err := o.runDelta(profile, exec, rows)
	if err != nil {
		return o.fail(exec, profile, started, err)
	}

	if deltaResult != nil && len(exportRows) == 0 {
		return o.finishNoChanges(ctx, profile, conn, exec, deltaResult, started)
	}

	switch {
	case profile.EmailExport:
		err = o.runEmailBranch(ctx, profile, exec, exportRows, deltaResult)
	case profile.SplitEnabled:
		err = o.runSplitBranch(ctx, profile, conn, exec, exportRows, deltaResult, tempDir)
	default:
		err = o.runPlainDelivery(ctx, profile, conn, exec, exportRows, deltaResult, tempDir)
	}
	if err != nil {
		return o.fail(exec, profile, started, err)
	}
	if exec.Status == ExecStatusFailed {
		return o.fail(exec, profile, started, errors.New(exec.ErrorMessage))
	}

	if exec.Status == ExecStatusRunning {
		exec.Status = ExecStatusSuccess
	}
	return o.finalize(exec, profile, started)
}

// validate loads the profile and connection and checks the preconditions
// the pipeline cannot run without. Any failure is terminal for this
// execution.
func (o *Orchestrator) validate(exec *ProfileExecution) (*Profile, *Connection, error) {
	profile, err := o.deps.Profiles.GetProfile(exec.ProfileID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "profile %s not found", exec.ProfileID)
	}
	if !profile.Enabled {
		return nil, nil, errors.Newf("profile %s is disabled", profile.ID)
	}
	if err := profile.Validate(); err != nil {
		return nil, nil, err
	}

	conn, err := o.deps.Profiles.GetConnection(profile.ConnectionID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connection %s not found", profile.ConnectionID)
	}
	if !conn.Active {
		return nil, nil, errors.Newf("connection %s is inactive", conn.ID)
	}

	for _, depID := range profile.DependsOnProfileIDs {
		latest, err := o.deps.Store.LatestExecution(depID)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to check dependency profile %s", depID)
		}
		if latest == nil {
			return nil, nil, errors.Newf("dependency profile %s has never run", depID)
		}
		if latest.Status != ExecStatusSuccess {
			return nil, nil, errors.Newf("dependency profile %s last execution is %s", depID, latest.Status)
		}
	}

	return profile, conn, nil
}

func (o *Orchestrator) runPreProcess(ctx context.Context, profile *Profile, conn *Connection, exec *ProfileExecution) error {
	if profile.PreProcessCommand == "" {
		return nil
	}
	phaseStart := time.Now().UTC()
	exec.PreProcess.Started = &phaseStart

	command := executionVars(profile, exec).Render(profile.PreProcessCommand)
	_, elapsed, err := o.deps.Queries.ExecuteCommand(ctx, conn, command)

	completed := time.Now().UTC()
	exec.PreProcess.Completed = &completed
	exec.PreProcess.TimeMs = elapsed.Milliseconds()

	if err != nil {
		exec.PreProcess.Status = ExecStatusFailed
		exec.PreProcess.Error = err.Error()
		if !profile.PreProcessContinueOnError {
			return errors.Wrapf(err, "pre-processing failed for profile %s", profile.ID)
		}
		if o.log != nil {
			o.log.Warnw("Pre-processing failed, continuing",
				"profile_id", profile.ID,
				"execution_id", exec.ID,
				"error", err)
		}
		return nil
	}
	exec.PreProcess.Status = ExecStatusSuccess
	return nil
}

// runDelta diffs the result set against stored hash state. The hash
// commit is deferred until delivery has provably succeeded.
func (o *Orchestrator) runDelta(profile *Profile, exec *ProfileExecution, rows []format.Row) ([]format.Row, *deltasync.Result, error) {
	if !profile.DeltaSyncEnabled {
		return rows, nil, nil
	}
	if o.deps.Delta == nil {
		return nil, nil, errors.Newf("profile %s enables delta sync but no delta syncer is configured", profile.ID)
	}

	result, err := o.deps.Delta.ProcessDelta(profile.ID, profile.ReefIDColumn, rows)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "delta sync failed for profile %s", profile.ID)
	}

	exec.NewRows = len(result.NewRows)
	exec.ChangedRows = len(result.ChangedRows)
	exec.UnchangedRows = len(result.UnchangedRows)
	exec.DeletedRows = len(result.DeletedReefIDs)
	exec.TotalHashedRows = result.TotalHashedRows

	exportRows := result.ExportRows()
	if profile.IncludeDeleted {
		for _, id := range result.DeletedReefIDs {
			exportRows = append(exportRows, format.Row{
				profile.ReefIDColumn: id,
				"_deleted":           true,
			})
		}
	}
	exec.RowCount = len(exportRows)

	if o.log != nil {
		o.log.Infow("Delta sync computed",
			"profile_id", profile.ID,
			"execution_id", exec.ID,
			"new", exec.NewRows,
			"changed", exec.ChangedRows,
			"unchanged", exec.UnchangedRows,
			"deleted", exec.DeletedRows)
	}
	return exportRows, result, nil
}

// finishNoChanges handles the valid zero-rows-after-diff outcome. The
// commit still runs so deleted hash entries are dropped.
func (o *Orchestrator) finishNoChanges(ctx context.Context, profile *Profile, conn *Connection, exec *ProfileExecution, result *deltasync.Result, started time.Time) (*ProfileExecution, error) {
	if err := o.deps.Delta.Commit(profile.ID, result, nil); err != nil {
		return o.fail(exec, profile, started, errors.Wrapf(err, "delta commit failed for profile %s", profile.ID))
	}

	exec.Status = ExecStatusSuccess
	exec.OutputMessage = "No changes detected"

	if profile.RunPostProcessOnEmpty && profile.PostProcessCommand != "" {
		if err := o.runPostProcess(ctx, profile, conn, exec, executionVars(profile, exec)); err != nil {
			return o.fail(exec, profile, started, err)
		}
	}
	return o.finalize(exec, profile, started)
}

// runEmailBranch renders one email per row. With approval required the
// rendered emails are parked and the execution succeeds immediately;
// otherwise each send is tracked as a split and the delta commit covers
// only rows whose email went out.
func (o *Orchestrator) runEmailBranch(ctx context.Context, profile *Profile, exec *ProfileExecution, rows []format.Row, deltaResult *deltasync.Result) error {
	emails := make([]RenderedEmail, 0, len(rows))
	keys := make([]string, 0, len(rows))
	for i, row := range rows {
		email, key, err := o.renderEmail(profile, exec, row, i)
		if err != nil {
			return err
		}
		emails = append(emails, email)
		keys = append(keys, key)
	}

	if profile.EmailRequiresApproval {
		if o.deps.Approvals == nil {
			return errors.Newf("profile %s requires approval but no approval store is configured", profile.ID)
		}
		for _, email := range emails {
			if _, err := o.deps.Approvals.CreatePendingApproval(ctx, profile.ID, exec.ID, email); err != nil {
				return errors.Wrapf(err, "failed to store pending approval for profile %s", profile.ID)
			}
		}
		exec.ApprovalStatus = ApprovalPending
		exec.Status = ExecStatusSuccess
		exec.OutputMessage = fmt.Sprintf("%d emails pending approval", len(emails))
		return nil
	}

	if o.deps.Emails == nil {
		return errors.Newf("profile %s is an email export but no email sender is configured", profile.ID)
	}

	exec.WasSplit = true
	exec.SplitCount = len(emails)
	var delivered []string
	for i, email := range emails {
		split, err := o.deps.Store.CreateSplit(exec.ID, keys[i], 1, time.Now().UTC())
		if err != nil {
			return err
		}
		if sendErr := o.deps.Emails.Send(ctx, email); sendErr != nil {
			split.Status = ExecStatusFailed
			split.ErrorMessage = sendErr.Error()
			exec.SplitFailureCount++
			if o.log != nil {
				o.log.Warnw("Email delivery failed",
					"profile_id", profile.ID,
					"execution_id", exec.ID,
					"recipients", email.Recipients,
					"error", sendErr)
			}
		} else {
			split.Status = ExecStatusSuccess
			exec.SplitSuccessCount++
			if email.ReefID != "" {
				delivered = append(delivered, email.ReefID)
			}
		}
		if err := o.deps.Store.FinishSplit(split); err != nil {
			return err
		}
	}

	if deltaResult != nil && len(delivered) > 0 {
		if err := o.deps.Delta.Commit(profile.ID, deltaResult, delivered); err != nil {
			return errors.Wrapf(err, "delta commit failed for profile %s", profile.ID)
		}
	}

	exec.Status = emailOutcome(profile, exec)
	exec.OutputMessage = fmt.Sprintf("%d of %d emails delivered", exec.SplitSuccessCount, exec.SplitCount)
	if exec.Status == ExecStatusFailed {
		exec.ErrorMessage = exec.OutputMessage
	}
	return nil
}

// emailOutcome maps per-email results onto an execution status, applying
// the profile's success threshold.
func emailOutcome(profile *Profile, exec *ProfileExecution) string {
	if exec.SplitFailureCount == 0 {
		return ExecStatusSuccess
	}
	if exec.SplitSuccessCount == 0 {
		return ExecStatusFailed
	}
	if profile.SuccessThresholdPct > 0 {
		pct := float64(exec.SplitSuccessCount) / float64(exec.SplitCount) * 100
		if pct >= profile.SuccessThresholdPct {
			return ExecStatusSuccess
		}
	}
	return ExecStatusPartial
}

func (o *Orchestrator) renderEmail(profile *Profile, exec *ProfileExecution, row format.Row, index int) (RenderedEmail, string, error) {
	vars := executionVars(profile, exec)
	for col, val := range row {
		vars.Set(col, valueString(val))
	}

	recipients := valueString(row[profile.EmailRecipientsColumn])
	if recipients == "" {
		return RenderedEmail{}, "", errors.Newf("row %d has no recipients in column %q", index, profile.EmailRecipientsColumn)
	}

	email := RenderedEmail{
		Recipients: recipients,
		Subject:    vars.Render(profile.EmailSubjectTemplate),
		Body:       vars.Render(profile.EmailBodyTemplate),
	}

	key := fmt.Sprintf("email_%d", index)
	if profile.DeltaSyncEnabled {
		id := valueString(row[profile.ReefIDColumn])
		if id != "" {
			email.ReefID = id
			key = id
		}
	}
	return email, key, nil
}

// runSplitBranch fans rows out into one file per distinct split-key
// value. Splits fail independently and the delta commit is scoped to the
// rows of splits that delivered.
func (o *Orchestrator) runSplitBranch(ctx context.Context, profile *Profile, conn *Connection, exec *ProfileExecution, rows []format.Row, deltaResult *deltasync.Result, tempDir string) error {
	groups, order := groupBySplitKey(rows, profile.SplitColumn)

	exec.WasSplit = true
	exec.SplitCount = len(order)

	var delivered []string
	for _, key := range order {
		groupRows := groups[key]
		split, err := o.deps.Store.CreateSplit(exec.ID, key, len(groupRows), time.Now().UTC())
		if err != nil {
			return err
		}

		finalPath, size, splitErr := o.deliverRows(ctx, profile, exec, groupRows, tempDir, key)
		if splitErr == nil && profile.PostProcessPerSplit && profile.PostProcessCommand != "" {
			splitErr = o.runSplitPostProcess(ctx, profile, conn, exec, key, finalPath, size)
		}

		if splitErr != nil {
			split.Status = ExecStatusFailed
			split.ErrorMessage = splitErr.Error()
			exec.SplitFailureCount++
			if o.log != nil {
				o.log.Warnw("Split delivery failed",
					"profile_id", profile.ID,
					"execution_id", exec.ID,
					"split_key", key,
					"error", splitErr)
			}
		} else {
			split.Status = ExecStatusSuccess
			split.OutputPath = finalPath
			split.FileSizeBytes = size
			exec.SplitSuccessCount++
			if profile.DeltaSyncEnabled {
				for _, row := range groupRows {
					if id := valueString(row[profile.ReefIDColumn]); id != "" {
						delivered = append(delivered, id)
					}
				}
			}
		}
		if err := o.deps.Store.FinishSplit(split); err != nil {
			return err
		}
	}

	if deltaResult != nil && len(delivered) > 0 {
		if err := o.deps.Delta.Commit(profile.ID, deltaResult, delivered); err != nil {
			return errors.Wrapf(err, "delta commit failed for profile %s", profile.ID)
		}
	}

	switch {
	case exec.SplitFailureCount == 0:
		exec.Status = ExecStatusSuccess
	case exec.SplitSuccessCount == 0:
		exec.Status = ExecStatusFailed
		exec.ErrorMessage = fmt.Sprintf("all %d splits failed", exec.SplitCount)
	default:
		exec.Status = ExecStatusPartial
	}
	exec.OutputMessage = fmt.Sprintf("%d of %d splits delivered", exec.SplitSuccessCount, exec.SplitCount)

	if !profile.PostProcessPerSplit && profile.PostProcessCommand != "" && exec.Status != ExecStatusFailed {
		if err := o.runPostProcess(ctx, profile, conn, exec, executionVars(profile, exec)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runSplitPostProcess(ctx context.Context, profile *Profile, conn *Connection, exec *ProfileExecution, splitKey, outputPath string, size int64) error {
	vars := executionVars(profile, exec).
		Set("splitkey", splitKey).
		Set("outputpath", outputPath).
		SetInt("filesize", size)
	command := vars.Render(profile.PostProcessCommand)
	if _, _, err := o.deps.Queries.ExecuteCommand(ctx, conn, command); err != nil {
		if profile.PostProcessRollbackOnFailure && o.deps.Destination != nil {
			if cerr := o.deps.Destination.Compensate(ctx, outputPath, profile.DestinationType, profile.DestinationConfig); cerr != nil && o.log != nil {
				o.log.Warnw("Compensation failed",
					"profile_id", profile.ID,
					"split_key", splitKey,
					"path", outputPath,
					"error", cerr)
			}
		}
		return errors.Wrapf(err, "post-processing failed for split %q", splitKey)
	}
	return nil
}

// runPlainDelivery formats the whole row set into one file, uploads it,
// then commits delta state and runs post-processing.
func (o *Orchestrator) runPlainDelivery(ctx context.Context, profile *Profile, conn *Connection, exec *ProfileExecution, rows []format.Row, deltaResult *deltasync.Result, tempDir string) error {
	finalPath, size, err := o.deliverRows(ctx, profile, exec, rows, tempDir, "")
	if err != nil {
		return err
	}
	exec.OutputPath = finalPath

	if deltaResult != nil {
		if err := o.deps.Delta.Commit(profile.ID, deltaResult, nil); err != nil {
			return errors.Wrapf(err, "delta commit failed for profile %s", profile.ID)
		}
	}

	if profile.PostProcessCommand != "" {
		vars := executionVars(profile, exec).SetInt("filesize", size)
		if err := o.runPostProcess(ctx, profile, conn, exec, vars); err != nil {
			return err
		}
	}
	return nil
}

// deliverRows stages rows to a local file and uploads it. Returns the
// destination's final path and the staged file size.
func (o *Orchestrator) deliverRows(ctx context.Context, profile *Profile, exec *ProfileExecution, rows []format.Row, tempDir, splitKey string) (string, int64, error) {
	if o.deps.Destination == nil {
		return "", 0, errors.Newf("profile %s has no destination configured", profile.ID)
	}

	localPath := filepath.Join(tempDir, o.outputFilename(profile, exec, splitKey))
	f, err := os.Create(localPath)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to create output file")
	}

	var size int64
	if profile.TemplateSource != "" {
		if o.deps.Transformer == nil {
			f.Close()
			return "", 0, errors.Newf("profile %s has a template but no transformer is configured", profile.ID)
		}
		rendered, terr := o.deps.Transformer.Transform(rows, profile.TemplateSource)
		if terr != nil {
			f.Close()
			return "", 0, errors.Wrapf(terr, "template transform failed for profile %s", profile.ID)
		}
		n, werr := f.WriteString(rendered)
		if werr != nil {
			f.Close()
			return "", 0, errors.Wrap(werr, "failed to write output file")
		}
		size = int64(n)
	} else {
		outFormat, ferr := format.Parse(profile.OutputFormat)
		if ferr != nil {
			f.Close()
			return "", 0, ferr
		}
		size, err = format.Write(f, outFormat, rows)
		if err != nil {
			f.Close()
			return "", 0, errors.Wrapf(err, "failed to serialize output for profile %s", profile.ID)
		}
	}
	if err := f.Close(); err != nil {
		return "", 0, errors.Wrap(err, "failed to close output file")
	}

	finalPath, err := o.deps.Destination.Save(ctx, localPath, profile.DestinationType, profile.DestinationConfig, profile.DeliveryMaxRetries)
	if err != nil {
		return "", 0, errors.Wrapf(err, "delivery failed for profile %s", profile.ID)
	}
	return finalPath, size, nil
}

func (o *Orchestrator) outputFilename(profile *Profile, exec *ProfileExecution, splitKey string) string {
	ext := ".dat"
	if f, err := format.Parse(profile.OutputFormat); err == nil {
		ext = f.Extension()
	}
	if profile.OutputFilename != "" {
		vars := executionVars(profile, exec).Set("splitkey", splitKey)
		if name := vars.Render(profile.OutputFilename); name != "" {
			return name
		}
	}
	name := profile.ID + "_" + exec.StartedAt.UTC().Format("20060102_150405")
	if splitKey != "" {
		name += "_" + splitKey
	}
	return name + ext
}

// runPostProcess executes the post command with the fully populated
// context. On failure the execution is failed; with rollbackOnFailure the
// delivered output is compensated first.
func (o *Orchestrator) runPostProcess(ctx context.Context, profile *Profile, conn *Connection, exec *ProfileExecution, vars *Vars) error {
	phaseStart := time.Now().UTC()
	exec.PostProcess.Started = &phaseStart

	command := vars.Render(profile.PostProcessCommand)
	_, elapsed, err := o.deps.Queries.ExecuteCommand(ctx, conn, command)

	completed := time.Now().UTC()
	exec.PostProcess.Completed = &completed
	exec.PostProcess.TimeMs = elapsed.Milliseconds()

	if err == nil {
		exec.PostProcess.Status = ExecStatusSuccess
		return nil
	}

	exec.PostProcess.Status = ExecStatusFailed
	exec.PostProcess.Error = err.Error()

	if profile.PostProcessRollbackOnFailure && exec.OutputPath != "" && o.deps.Destination != nil {
		if cerr := o.deps.Destination.Compensate(ctx, exec.OutputPath, profile.DestinationType, profile.DestinationConfig); cerr != nil {
			if o.log != nil {
				o.log.Warnw("Compensation failed",
					"profile_id", profile.ID,
					"execution_id", exec.ID,
					"path", exec.OutputPath,
					"error", cerr)
			}
		} else if o.log != nil {
			o.log.Infow("Delivered output rolled back",
				"profile_id", profile.ID,
				"execution_id", exec.ID,
				"path", exec.OutputPath)
		}
	}
	return errors.Wrapf(err, "Post-processing failed for profile %s", profile.ID)
}

// fail applies the terminal Failed state and finalizes.
func (o *Orchestrator) fail(exec *ProfileExecution, profile *Profile, started time.Time, cause error) (*ProfileExecution, error) {
	exec.Status = ExecStatusFailed
	exec.ErrorMessage = cause.Error()
	if o.log != nil {
		o.log.Errorw("Profile execution failed",
			"profile_id", exec.ProfileID,
			"execution_id", exec.ID,
			"error", cause)
	}
	if _, err := o.finalize(exec, profile, started); err != nil {
		return exec, err
	}
	return exec, cause
}

// finalize writes the terminal row, bumps the profile's last-executed
// timestamp, and fires audit and notification hooks. Hook failures never
// change the outcome.
func (o *Orchestrator) finalize(exec *ProfileExecution, profile *Profile, started time.Time) (*ProfileExecution, error) {
	exec.ExecutionTimeMs = time.Since(started).Milliseconds()
	now := time.Now().UTC()
	exec.CompletedAt = &now

	if err := o.deps.Store.FinalizeExecution(exec); err != nil {
		return exec, err
	}
	if exec.TotalHashedRows > 0 || exec.NewRows > 0 || exec.DeletedRows > 0 {
		if err := o.deps.Store.UpdateDeltaCounters(exec); err != nil && o.log != nil {
			o.log.Warnw("Failed to record delta counters", "execution_id", exec.ID, "error", err)
		}
	}

	if profile != nil && (exec.Status == ExecStatusSuccess || exec.Status == ExecStatusPartial) {
		if err := o.deps.Profiles.TouchLastExecuted(profile.ID, now); err != nil && o.log != nil {
			o.log.Warnw("Failed to update last-executed timestamp", "profile_id", profile.ID, "error", err)
		}
	}

	o.audit(exec)
	o.notify(exec)

	if o.log != nil {
		o.log.Infow("Profile execution finished",
			"profile_id", exec.ProfileID,
			"execution_id", exec.ID,
			"status", exec.Status,
			"rows", exec.RowCount,
			"elapsed_ms", exec.ExecutionTimeMs)
	}
	return exec, nil
}

func (o *Orchestrator) audit(exec *ProfileExecution) {
	if o.deps.Auditor == nil {
		return
	}
	details := fmt.Sprintf("status=%s rows=%d elapsed_ms=%d", exec.Status, exec.RowCount, exec.ExecutionTimeMs)
	if exec.ErrorMessage != "" {
		details += " error=" + exec.ErrorMessage
	}
	if err := o.deps.Auditor.Log("profile", exec.ProfileID, "execute", o.cfg.Actor, details); err != nil && o.log != nil {
		o.log.Warnw("Audit log failed", "execution_id", exec.ID, "error", err)
	}
}

func (o *Orchestrator) notify(exec *ProfileExecution) {
	if o.deps.Notifier == nil {
		return
	}
	switch exec.Status {
	case ExecStatusSuccess, ExecStatusPartial:
		o.deps.Notifier.ExecutionSucceeded(exec.ProfileID, exec.ID)
	default:
		o.deps.Notifier.ExecutionFailed(exec.ProfileID, exec.ID, exec.ErrorMessage)
	}
}

// groupBySplitKey partitions rows by the split column, first-seen key
// order, with null and empty values mapped to their sentinel groups.
func groupBySplitKey(rows []format.Row, column string) (map[string][]format.Row, []string) {
	groups := make(map[string][]format.Row)
	var order []string
	for _, row := range rows {
		key := splitKeyFor(row[column])
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return groups, order
}

func splitKeyFor(v interface{}) string {
	if v == nil {
		return SplitKeyNull
	}
	s := valueString(v)
	if s == "" {
		return SplitKeyEmpty
	}
	return s
}

func valueString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
