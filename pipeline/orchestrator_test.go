package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melosso/reef/deltasync"
	"github.com/melosso/reef/errors"
	"github.com/melosso/reef/format"
	reeftest "github.com/melosso/reef/internal/testing"
)

type fakeProfiles struct {
	profiles    map[string]*Profile
	connections map[string]*Connection
	touched     []string
}

func (f *fakeProfiles) GetProfile(id string) (*Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, errors.Newf("no such profile: %s", id)
	}
	return p, nil
}

func (f *fakeProfiles) GetConnection(id string) (*Connection, error) {
	c, ok := f.connections[id]
	if !ok {
		return nil, errors.Newf("no such connection: %s", id)
	}
	return c, nil
}

func (f *fakeProfiles) TouchLastExecuted(profileID string, at time.Time) error {
	f.touched = append(f.touched, profileID)
	return nil
}

type fakeQueries struct {
	rows       []format.Row
	queryErr   error
	commands   []string
	commandErr func(command string) error
}

func (f *fakeQueries) ExecuteQuery(ctx context.Context, conn *Connection, query string, params map[string]interface{}) ([]format.Row, time.Duration, error) {
	if f.queryErr != nil {
		return nil, 0, f.queryErr
	}
	return f.rows, 5 * time.Millisecond, nil
}

func (f *fakeQueries) ExecuteCommand(ctx context.Context, conn *Connection, command string) (int64, time.Duration, error) {
	f.commands = append(f.commands, command)
	if f.commandErr != nil {
		if err := f.commandErr(command); err != nil {
			return 0, time.Millisecond, err
		}
	}
	return 1, time.Millisecond, nil
}

type commitCall struct {
	profileID   string
	onlyReefIDs []string
}

type fakeDelta struct {
	result     *deltasync.Result
	processErr error
	commits    []commitCall
}

func (f *fakeDelta) ProcessDelta(profileID, reefIDColumn string, rows []format.Row) (*deltasync.Result, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	return f.result, nil
}

func (f *fakeDelta) Commit(profileID string, result *deltasync.Result, onlyReefIDs []string) error {
	f.commits = append(f.commits, commitCall{profileID: profileID, onlyReefIDs: onlyReefIDs})
	return nil
}

type fakeDestination struct {
	saved       []string
	failMatch   string
	compensated []string
}

func (f *fakeDestination) Save(ctx context.Context, localPath, destType, destConfig string, maxRetries int) (string, error) {
	if f.failMatch != "" && strings.Contains(localPath, f.failMatch) {
		return "", errors.New("upload refused")
	}
	final := "dest://" + filepath.Base(localPath)
	f.saved = append(f.saved, final)
	return final, nil
}

func (f *fakeDestination) Compensate(ctx context.Context, finalPath, destType, destConfig string) error {
	f.compensated = append(f.compensated, finalPath)
	return nil
}

type fakeEmails struct {
	sent    []RenderedEmail
	failFor map[string]bool
}

func (f *fakeEmails) Send(ctx context.Context, email RenderedEmail) error {
	if f.failFor[email.Recipients] {
		return errors.Newf("smtp refused %s", email.Recipients)
	}
	f.sent = append(f.sent, email)
	return nil
}

type fakeApprovals struct {
	stored []RenderedEmail
}

func (f *fakeApprovals) CreatePendingApproval(ctx context.Context, profileID, executionID string, email RenderedEmail) (string, error) {
	f.stored = append(f.stored, email)
	return fmt.Sprintf("ap_%d", len(f.stored)), nil
}

type fakeNotifier struct {
	succeeded []string
	failed    []string
}

func (f *fakeNotifier) ExecutionSucceeded(profileID, executionID string) {
	f.succeeded = append(f.succeeded, executionID)
}

func (f *fakeNotifier) ExecutionFailed(profileID, executionID, message string) {
	f.failed = append(f.failed, executionID)
}

type fakeAuditor struct {
	entries []string
}

func (f *fakeAuditor) Log(entityType, entityID, action, actor, details string) error {
	f.entries = append(f.entries, fmt.Sprintf("%s/%s/%s", entityType, entityID, action))
	return nil
}

type orchRig struct {
	orch        *Orchestrator
	store       *Store
	profiles    *fakeProfiles
	queries     *fakeQueries
	delta       *fakeDelta
	destination *fakeDestination
	emails      *fakeEmails
	approvals   *fakeApprovals
	notifier    *fakeNotifier
	auditor     *fakeAuditor
}

func newOrchRig(t *testing.T, profile *Profile) *orchRig {
	t.Helper()

	rig := &orchRig{
		store: NewStore(reeftest.CreateTestDB(t)),
		profiles: &fakeProfiles{
			profiles:    map[string]*Profile{},
			connections: map[string]*Connection{"cn_1": {ID: "cn_1", Name: "source", Active: true}},
		},
		queries:     &fakeQueries{},
		delta:       &fakeDelta{},
		destination: &fakeDestination{},
		emails:      &fakeEmails{failFor: map[string]bool{}},
		approvals:   &fakeApprovals{},
		notifier:    &fakeNotifier{},
		auditor:     &fakeAuditor{},
	}
	if profile != nil {
		rig.profiles.profiles[profile.ID] = profile
	}

	rig.orch = New(Deps{
		Store:       rig.store,
		Profiles:    rig.profiles,
		Queries:     rig.queries,
		Delta:       rig.delta,
		Destination: rig.destination,
		Emails:      rig.emails,
		Approvals:   rig.approvals,
		Notifier:    rig.notifier,
		Auditor:     rig.auditor,
	}, Config{TempDir: t.TempDir()}, nil)
	return rig
}

func plainProfile() *Profile {
	return &Profile{
		ID:           "pr_1",
		Name:         "orders",
		Enabled:      true,
		ConnectionID: "cn_1",
		Query:        "SELECT * FROM orders",
		OutputFormat: "json",
	}
}

func orderRows(n int) []format.Row {
	rows := make([]format.Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, format.Row{
			"order_id": fmt.Sprintf("o%d", i),
			"email":    fmt.Sprintf("buyer%d@example.com", i),
		})
	}
	return rows
}

func TestExecutePlainDelivery(t *testing.T) {
	rig := newOrchRig(t, plainProfile())
	rig.queries.rows = orderRows(3)

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "ex_1")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusSuccess, exec.Status)
	assert.Equal(t, 3, exec.RowCount)
	require.Len(t, rig.destination.saved, 1)
	assert.Equal(t, rig.destination.saved[0], exec.OutputPath)
	assert.Equal(t, []string{"pr_1"}, rig.profiles.touched)
	assert.Equal(t, []string{exec.ID}, rig.notifier.succeeded)
	assert.Equal(t, []string{"profile/pr_1/execute"}, rig.auditor.entries)

	stored, err := rig.store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecStatusSuccess, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestExecuteRecordsAttemptBeforeValidation(t *testing.T) {
	rig := newOrchRig(t, nil)

	exec, err := rig.orch.Execute(context.Background(), "pr_missing", nil, "")
	require.Error(t, err)
	require.NotNil(t, exec)

	stored, gerr := rig.store.GetExecution(exec.ID)
	require.NoError(t, gerr)
	assert.Equal(t, ExecStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "pr_missing")
	assert.Equal(t, []string{exec.ID}, rig.notifier.failed)
}

func TestExecuteValidationIsTerminal(t *testing.T) {
	disabled := plainProfile()
	disabled.Enabled = false
	rig := newOrchRig(t, disabled)

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.Error(t, err)
	assert.Equal(t, ExecStatusFailed, exec.Status)
	assert.Empty(t, rig.queries.commands)
	assert.Empty(t, rig.destination.saved)
}

func TestExecuteInactiveConnectionFails(t *testing.T) {
	rig := newOrchRig(t, plainProfile())
	rig.profiles.connections["cn_1"].Active = false

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.Error(t, err)
	assert.Equal(t, ExecStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "inactive")
}

func TestExecuteDependencyGate(t *testing.T) {
	profile := plainProfile()
	profile.DependsOnProfileIDs = []string{"pr_dep"}
	rig := newOrchRig(t, profile)
	rig.queries.rows = orderRows(1)

	// Never ran.
	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.Error(t, err)
	assert.Contains(t, exec.ErrorMessage, "never run")

	// Failed last time.
	dep, err := rig.store.CreateExecution("pr_dep", "", time.Now())
	require.NoError(t, err)
	dep.Status = ExecStatusFailed
	require.NoError(t, rig.store.FinalizeExecution(dep))

	exec, err = rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.Error(t, err)
	assert.Contains(t, exec.ErrorMessage, "Failed")

	// Succeeded last time.
	dep2, err := rig.store.CreateExecution("pr_dep", "", time.Now())
	require.NoError(t, err)
	dep2.Status = ExecStatusSuccess
	require.NoError(t, rig.store.FinalizeExecution(dep2))

	_, err = rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
}

func TestPreProcessAbortsUnlessContinueOnError(t *testing.T) {
	profile := plainProfile()
	profile.PreProcessCommand = "EXEC prepare {executionid}"
	rig := newOrchRig(t, profile)
	rig.queries.rows = orderRows(1)
	rig.queries.commandErr = func(string) error { return errors.New("deadlock") }

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.Error(t, err)
	assert.Equal(t, ExecStatusFailed, exec.Status)
	assert.Equal(t, ExecStatusFailed, exec.PreProcess.Status)
	assert.Empty(t, rig.destination.saved)

	profile.PreProcessContinueOnError = true
	exec, err = rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusSuccess, exec.Status)
	assert.Equal(t, ExecStatusFailed, exec.PreProcess.Status)
	assert.Len(t, rig.destination.saved, 1)
}

func TestPreProcessCommandSubstitution(t *testing.T) {
	profile := plainProfile()
	profile.PreProcessCommand = "EXEC prepare '{profileid}', '{missing}'"
	rig := newOrchRig(t, profile)
	rig.queries.rows = orderRows(1)

	_, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	require.Len(t, rig.queries.commands, 1)
	assert.Equal(t, "EXEC prepare 'pr_1', ''", rig.queries.commands[0])
}

func deltaProfile() *Profile {
	p := plainProfile()
	p.DeltaSyncEnabled = true
	p.ReefIDColumn = "order_id"
	return p
}

func deltaResultOf(newRows, changed, unchanged []format.Row, deleted []string) *deltasync.Result {
	return &deltasync.Result{
		NewRows:         newRows,
		ChangedRows:     changed,
		UnchangedRows:   unchanged,
		DeletedReefIDs:  deleted,
		TotalHashedRows: len(newRows) + len(changed) + len(unchanged),
	}
}

func TestDeltaCommitOnlyAfterDelivery(t *testing.T) {
	rig := newOrchRig(t, deltaProfile())
	rig.queries.rows = orderRows(2)
	rig.delta.result = deltaResultOf(orderRows(2), nil, nil, nil)
	rig.destination.failMatch = "pr_1"

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.Error(t, err)
	assert.Equal(t, ExecStatusFailed, exec.Status)
	assert.Empty(t, rig.delta.commits, "delivery failed, nothing may be marked synced")
}

func TestDeltaCommitAfterSuccessfulDelivery(t *testing.T) {
	rig := newOrchRig(t, deltaProfile())
	rig.queries.rows = orderRows(2)
	rig.delta.result = deltaResultOf(orderRows(2), nil, nil, nil)

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusSuccess, exec.Status)
	require.Len(t, rig.delta.commits, 1)
	assert.Nil(t, rig.delta.commits[0].onlyReefIDs)
	assert.Equal(t, 2, exec.NewRows)
}

func TestDeltaNoChangesIsSuccess(t *testing.T) {
	profile := deltaProfile()
	profile.PostProcessCommand = "EXEC done {status}"
	profile.RunPostProcessOnEmpty = true
	rig := newOrchRig(t, profile)
	rig.queries.rows = orderRows(4)
	rig.delta.result = deltaResultOf(nil, nil, orderRows(4), []string{"o9"})

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusSuccess, exec.Status)
	assert.Equal(t, "No changes detected", exec.OutputMessage)
	assert.Empty(t, rig.destination.saved)
	require.Len(t, rig.delta.commits, 1, "commit still runs so deleted hashes are dropped")
	require.Len(t, rig.queries.commands, 1)
	assert.Contains(t, rig.queries.commands[0], "Success")
}

func emailProfile() *Profile {
	p := deltaProfile()
	p.EmailExport = true
	p.EmailRecipientsColumn = "email"
	p.EmailSubjectTemplate = "Order {order_id}"
	p.EmailBodyTemplate = "Hello, order {order_id} shipped."
	return p
}

func TestEmailPartialCommitCoversOnlyDelivered(t *testing.T) {
	rig := newOrchRig(t, emailProfile())
	rows := orderRows(5)
	rig.queries.rows = rows
	rig.delta.result = deltaResultOf(rows, nil, nil, nil)
	rig.emails.failFor["buyer2@example.com"] = true
	rig.emails.failFor["buyer4@example.com"] = true

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusPartial, exec.Status)
	assert.Equal(t, 5, exec.SplitCount)
	assert.Equal(t, 3, exec.SplitSuccessCount)
	assert.Equal(t, 2, exec.SplitFailureCount)

	require.Len(t, rig.delta.commits, 1)
	assert.ElementsMatch(t, []string{"o1", "o3", "o5"}, rig.delta.commits[0].onlyReefIDs)

	splits, err := rig.store.ListSplits(exec.ID)
	require.NoError(t, err)
	assert.Len(t, splits, 5)
}

func TestEmailSuccessThresholdUpgradesPartial(t *testing.T) {
	profile := emailProfile()
	profile.SuccessThresholdPct = 50
	rig := newOrchRig(t, profile)
	rig.queries.rows = orderRows(5)
	rig.delta.result = deltaResultOf(orderRows(5), nil, nil, nil)
	rig.emails.failFor["buyer5@example.com"] = true

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusSuccess, exec.Status)
	assert.Equal(t, 4, exec.SplitSuccessCount)
}

func TestEmailAllFailedIsFailed(t *testing.T) {
	rig := newOrchRig(t, emailProfile())
	rig.queries.rows = orderRows(2)
	rig.delta.result = deltaResultOf(orderRows(2), nil, nil, nil)
	rig.emails.failFor["buyer1@example.com"] = true
	rig.emails.failFor["buyer2@example.com"] = true

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.Error(t, err)
	assert.Equal(t, ExecStatusFailed, exec.Status)
	assert.Empty(t, rig.delta.commits)
}

func TestEmailApprovalShortCircuit(t *testing.T) {
	profile := emailProfile()
	profile.EmailRequiresApproval = true
	rig := newOrchRig(t, profile)
	rig.queries.rows = orderRows(3)
	rig.delta.result = deltaResultOf(orderRows(3), nil, nil, nil)

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusSuccess, exec.Status)
	assert.Equal(t, ApprovalPending, exec.ApprovalStatus)
	assert.Len(t, rig.approvals.stored, 3)
	assert.Empty(t, rig.emails.sent, "sending happens after approval, elsewhere")
	assert.Empty(t, rig.delta.commits, "nothing delivered yet")
	assert.Equal(t, "Order o1", rig.approvals.stored[0].Subject)
}

func splitRows() []format.Row {
	return []format.Row{
		{"order_id": "o1", "region": "NL"},
		{"order_id": "o2", "region": "NL"},
		{"order_id": "o3", "region": nil},
		{"order_id": "o4", "region": ""},
	}
}

func TestSplitFanOutWithSentinelGroups(t *testing.T) {
	profile := plainProfile()
	profile.SplitEnabled = true
	profile.SplitColumn = "region"
	rig := newOrchRig(t, profile)
	rig.queries.rows = splitRows()

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusSuccess, exec.Status)
	assert.True(t, exec.WasSplit)
	assert.Equal(t, 3, exec.SplitCount)
	assert.Equal(t, 3, exec.SplitSuccessCount)
	assert.Len(t, rig.destination.saved, 3)

	splits, err := rig.store.ListSplits(exec.ID)
	require.NoError(t, err)
	keys := make([]string, 0, len(splits))
	for _, sp := range splits {
		keys = append(keys, sp.SplitKey)
	}
	assert.ElementsMatch(t, []string{"NL", SplitKeyNull, SplitKeyEmpty}, keys)
}

func TestSplitFailureDoesNotStopOthers(t *testing.T) {
	profile := deltaProfile()
	profile.SplitEnabled = true
	profile.SplitColumn = "region"
	rig := newOrchRig(t, profile)
	rows := splitRows()
	rig.queries.rows = rows
	rig.delta.result = deltaResultOf(rows, nil, nil, nil)
	rig.destination.failMatch = "_NULL_"

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, ExecStatusPartial, exec.Status)
	assert.Equal(t, 2, exec.SplitSuccessCount)
	assert.Equal(t, 1, exec.SplitFailureCount)

	require.Len(t, rig.delta.commits, 1)
	assert.ElementsMatch(t, []string{"o1", "o2", "o4"}, rig.delta.commits[0].onlyReefIDs)
}

func TestPostProcessRollbackCompensates(t *testing.T) {
	profile := plainProfile()
	profile.PostProcessCommand = "EXEC archive {outputpath}"
	profile.PostProcessRollbackOnFailure = true
	rig := newOrchRig(t, profile)
	rig.queries.rows = orderRows(2)
	rig.queries.commandErr = func(string) error { return errors.New("archive table locked") }

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.Error(t, err)
	assert.Equal(t, ExecStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "Post-processing failed")
	require.Len(t, rig.destination.saved, 1)
	assert.Equal(t, rig.destination.saved, rig.destination.compensated)
	assert.Empty(t, rig.profiles.touched)
}

func TestPostProcessVarsAreReseeded(t *testing.T) {
	profile := plainProfile()
	profile.PostProcessCommand = "EXEC done '{outputpath}', {rowcount}, {filesize}"
	rig := newOrchRig(t, profile)
	rig.queries.rows = orderRows(2)

	exec, err := rig.orch.Execute(context.Background(), "pr_1", nil, "")
	require.NoError(t, err)
	require.Len(t, rig.queries.commands, 1)
	cmd := rig.queries.commands[0]
	assert.Contains(t, cmd, exec.OutputPath)
	assert.Contains(t, cmd, ", 2,")
	assert.NotContains(t, cmd, "{filesize}")
}
