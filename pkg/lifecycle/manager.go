package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crewlytics/crewsync/pkg/audit"
	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/storage"
)

// Manager rewrites deletes into timestamped markers and owns restore
type Manager struct {
	db       *sql.DB
	policy   *authz.Engine
	recorder *audit.Recorder
}

// NewManager creates a lifecycle manager
func NewManager(db *sql.DB, policy *authz.Engine, recorder *audit.Recorder) *Manager {
	return &Manager{db: db, policy: policy, recorder: recorder}
}

// IsVisible reports whether a record with the given deletion stamp should
// appear in a read. Every read path funnels through this; the default is
// to exclude soft-deleted rows.
func IsVisible(deletedAt *time.Time, includeDeleted bool) bool {
	if deletedAt == nil {
		return true
	}
	return includeDeleted
}

// softDeletable lists the tables that carry a deleted_at column
func softDeletable(table authz.Table) bool {
	switch table {
	case authz.TablePeriods, authz.TablePairings, authz.TableDutyDays, authz.TableBidLines:
		return true
	}
	return false
}

// SoftDelete stamps deleted_at on the record and writes the audit entry
// in the same transaction. Admin only. Deleting an already-deleted row
// is rejected with record_soft_deleted; a missing row is NotFound.
func (m *Manager) SoftDelete(ctx context.Context, ident *identity.Identity, table authz.Table, recordID int64) error {
	if err := m.policy.Require(ident, table, authz.OpDelete); err != nil {
		return err
	}
	if !softDeletable(table) {
		return fmt.Errorf("table %s does not support soft delete", table)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The deleted_at IS NULL predicate enforces the policy at the storage
	// boundary even if the row-state check above was bypassed.
	query := fmt.Sprintf(
		`UPDATE %s SET deleted_at = NOW(), updated_at = NOW(), updated_by = $1
		 WHERE id = $2 AND deleted_at IS NULL`, table)

	result, err := tx.ExecContext(ctx, query, ident.SubjectID, recordID)
	if err != nil {
		return fmt.Errorf("failed to soft delete %s/%d: %w", table, recordID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return m.classifyMiss(ctx, ident, table, recordID, authz.OpDelete)
	}

	err = m.recorder.Record(ctx, tx, &audit.Entry{
		ActorID:   ident.SubjectID,
		Action:    audit.ActionDelete,
		TableName: string(table),
		RecordID:  recordID,
		Diff:      map[string]interface{}{"soft_deleted": true},
	})
	if err != nil {
		return fmt.Errorf("audit write failed, aborting delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit soft delete: %w", err)
	}
	return nil
}

// Restore clears the deletion stamp. A distinct admin-only operation;
// restoring a live row is NotFound for the restore's purposes.
func (m *Manager) Restore(ctx context.Context, ident *identity.Identity, table authz.Table, recordID int64) error {
	if err := m.policy.Require(ident, table, authz.OpRestore); err != nil {
		return err
	}
	if !softDeletable(table) {
		return fmt.Errorf("table %s does not support restore", table)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		`UPDATE %s SET deleted_at = NULL, updated_at = NOW(), updated_by = $1
		 WHERE id = $2 AND deleted_at IS NOT NULL`, table)

	result, err := tx.ExecContext(ctx, query, ident.SubjectID, recordID)
	if err != nil {
		return fmt.Errorf("failed to restore %s/%d: %w", table, recordID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	err = m.recorder.Record(ctx, tx, &audit.Entry{
		ActorID:   ident.SubjectID,
		Action:    audit.ActionUpdate,
		TableName: string(table),
		RecordID:  recordID,
		Diff:      map[string]interface{}{"restored": true},
	})
	if err != nil {
		return fmt.Errorf("audit write failed, aborting restore: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}
	return nil
}

// classifyMiss distinguishes a missing row from an already-deleted one
// so callers get NotFound vs record_soft_deleted.
func (m *Manager) classifyMiss(ctx context.Context, ident *identity.Identity, table authz.Table, recordID int64, op authz.Operation) error {
	var deletedAt sql.NullTime
	query := fmt.Sprintf(`SELECT deleted_at FROM %s WHERE id = $1`, table)

	err := m.db.QueryRowContext(ctx, query, recordID).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect %s/%d: %w", table, recordID, err)
	}

	if deletedAt.Valid {
		return &authz.Error{Table: table, Operation: op, Reason: authz.ReasonRecordSoftDeleted}
	}
	return storage.ErrNotFound
}
