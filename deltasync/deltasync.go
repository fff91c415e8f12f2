// Package deltasync detects row-level changes between profile runs by
// hashing row content keyed by the profile's reef-id column. Hash state is
// only written by an explicit commit, so a crash between query and
// delivery never marks rows as synced.
package deltasync

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/melosso/reef/errors"
	"github.com/melosso/reef/format"
)

// Result partitions a query result against the stored hash state.
type Result struct {
	NewRows        []format.Row
	ChangedRows    []format.Row
	UnchangedRows  []format.Row
	DeletedReefIDs []string

	// NewHashState maps reef id to content hash for every row seen in
	// this run. Commit persists a subset of it.
	NewHashState map[string]string

	TotalHashedRows int
}

// ExportRows returns the rows that continue downstream: new and changed.
func (r *Result) ExportRows() []format.Row {
	rows := make([]format.Row, 0, len(r.NewRows)+len(r.ChangedRows))
	rows = append(rows, r.NewRows...)
	rows = append(rows, r.ChangedRows...)
	return rows
}

// Syncer is the SQLite-backed hash state store.
type Syncer struct {
	db *sql.DB
}

// NewSyncer creates a delta syncer on the shared database.
func NewSyncer(db *sql.DB) *Syncer {
	return &Syncer{db: db}
}

// HashRow fingerprints a row's full content. Keys are sorted so map
// iteration order cannot change the hash.
func HashRow(row format.Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		h.WriteString(k)
		h.WriteString("\x1f")
		h.WriteString(canonicalValue(row[k]))
		h.WriteString("\x1e")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func canonicalValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// reefID extracts the id value from a row. Column matching is
// case-insensitive; a missing column or empty value is an error because
// diffing without a stable key would silently corrupt the hash state.
func reefID(row format.Row, column string) (string, error) {
	v, ok := row[column]
	if !ok {
		for k, rv := range row {
			if strings.EqualFold(k, column) {
				v, ok = rv, true
				break
			}
		}
	}
	if !ok {
		return "", errors.Newf("reef id column %q missing from result set", column)
	}
	id := canonicalValue(v)
	if id == "" || id == "\x00" {
		return "", errors.Newf("reef id column %q has an empty value", column)
	}
	return id, nil
}

// ProcessDelta diffs rows against the stored hash state for a profile.
// Nothing is written; the caller commits after delivery succeeds.
func (s *Syncer) ProcessDelta(profileID, reefIDColumn string, rows []format.Row) (*Result, error) {
	if reefIDColumn == "" {
		return nil, errors.New("delta sync requires a reef id column")
	}

	stored, err := s.loadHashes(profileID)
	if err != nil {
		return nil, err
	}

	result := &Result{NewHashState: make(map[string]string, len(rows))}
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		id, err := reefID(row, reefIDColumn)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, errors.Newf("duplicate reef id %q in result set", id)
		}
		seen[id] = true

		hash := HashRow(row)
		result.NewHashState[id] = hash
		result.TotalHashedRows++

		prev, exists := stored[id]
		switch {
		case !exists:
			result.NewRows = append(result.NewRows, row)
		case prev != hash:
			result.ChangedRows = append(result.ChangedRows, row)
		default:
			result.UnchangedRows = append(result.UnchangedRows, row)
		}
	}

	for id := range stored {
		if !seen[id] {
			result.DeletedReefIDs = append(result.DeletedReefIDs, id)
		}
	}
	sort.Strings(result.DeletedReefIDs)

	return result, nil
}

// Commit persists hash state after delivery. With a nil subset every row
// in the result is committed; otherwise only the listed reef ids are,
// which is how partial email delivery avoids marking failed rows as
// synced. Deleted ids are removed from state, subject to the same
// scoping.
func (s *Syncer) Commit(profileID string, result *Result, onlyReefIDs []string) error {
	include := func(string) bool { return true }
	if onlyReefIDs != nil {
		allowed := make(map[string]bool, len(onlyReefIDs))
		for _, id := range onlyReefIDs {
			allowed[id] = true
		}
		include = func(id string) bool { return allowed[id] }
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin delta commit")
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	upsert, err := tx.Prepare(`
		INSERT INTO delta_hashes (profile_id, reef_id, row_hash, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (profile_id, reef_id)
		DO UPDATE SET row_hash = excluded.row_hash, updated_at = excluded.updated_at`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare delta upsert")
	}
	defer upsert.Close()

	for id, hash := range result.NewHashState {
		if !include(id) {
			continue
		}
		if _, err := upsert.Exec(profileID, id, hash, now); err != nil {
			return errors.Wrapf(err, "failed to commit hash for reef id %s", id)
		}
	}

	for _, id := range result.DeletedReefIDs {
		if !include(id) {
			continue
		}
		if _, err := tx.Exec(`
			DELETE FROM delta_hashes WHERE profile_id = ? AND reef_id = ?`,
			profileID, id); err != nil {
			return errors.Wrapf(err, "failed to remove deleted reef id %s", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit delta state")
	}
	return nil
}

// ResetProfile drops all hash state for a profile, forcing the next run
// to treat every row as new.
func (s *Syncer) ResetProfile(profileID string) error {
	_, err := s.db.Exec(`DELETE FROM delta_hashes WHERE profile_id = ?`, profileID)
	if err != nil {
		return errors.Wrapf(err, "failed to reset delta state for profile %s", profileID)
	}
	return nil
}

// CleanupOldState removes hash rows not refreshed within the retention
// window. Returns the number of rows deleted.
func (s *Syncer) CleanupOldState(olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.Exec(`DELETE FROM delta_hashes WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up delta state")
	}
	return result.RowsAffected()
}

func (s *Syncer) loadHashes(profileID string) (map[string]string, error) {
	rows, err := s.db.Query(`
		SELECT reef_id, row_hash FROM delta_hashes WHERE profile_id = ?`, profileID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load delta state for profile %s", profileID)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, errors.Wrap(err, "failed to scan delta state")
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}
