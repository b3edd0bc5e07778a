package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/observability"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx. Record is called with
// the transaction of the mutation it documents so the pair commits or
// rolls back as one unit.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Recorder writes and reads the audit trail
type Recorder struct {
	db      *sql.DB
	policy  *authz.Engine
	metrics *observability.Metrics
}

// NewRecorder creates an audit recorder. metrics may be nil.
func NewRecorder(db *sql.DB, policy *authz.Engine, metrics *observability.Metrics) *Recorder {
	return &Recorder{db: db, policy: policy, metrics: metrics}
}

// Record appends one entry using the given transaction (or plain
// connection). The entry's ID and OccurredAt are filled in on success.
// A failure here must fail the caller's transaction: an audit-less
// mutation is not permitted to persist.
func (r *Recorder) Record(ctx context.Context, tx DBTX, entry *Entry) error {
	if entry.ActorID == "" {
		return fmt.Errorf("audit entry requires an actor id")
	}
	if entry.Action != ActionInsert && entry.Action != ActionUpdate && entry.Action != ActionDelete {
		return fmt.Errorf("unknown audit action %q", entry.Action)
	}

	var diffJSON []byte
	if entry.Diff != nil {
		var err error
		diffJSON, err = json.Marshal(entry.Diff)
		if err != nil {
			return fmt.Errorf("failed to marshal diff: %w", err)
		}
	}

	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_entries (actor_id, action, table_name, record_id, occurred_at, diff)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := tx.QueryRowContext(ctx, query,
		entry.ActorID, entry.Action, entry.TableName, entry.RecordID,
		entry.OccurredAt, nullableBytes(diffJSON),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if r.metrics != nil {
		r.metrics.AuditEntriesTotal.WithLabelValues(string(entry.Action), entry.TableName).Inc()
	}

	return nil
}

// Search reads the audit trail. Admin only; standard users are denied
// before any query runs.
func (r *Recorder) Search(ctx context.Context, ident *identity.Identity, filter SearchFilter) ([]*Entry, error) {
	if err := r.policy.Require(ident, authz.TableAuditEntries, authz.OpRead); err != nil {
		return nil, err
	}

	query, args := buildSearchQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var diffJSON []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TableName, &e.RecordID, &e.OccurredAt, &diffJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(diffJSON) > 0 {
			if err := json.Unmarshal(diffJSON, &e.Diff); err != nil {
				return nil, fmt.Errorf("failed to decode diff for entry %d: %w", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// buildSearchQuery assembles the filtered SELECT with positional args
func buildSearchQuery(filter SearchFilter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, actor_id, action, table_name, record_id, occurred_at, diff FROM audit_entries`)

	var conds []string
	var args []interface{}

	add := func(cond string, value interface{}) {
		args = append(args, value)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if filter.ActorID != "" {
		add("actor_id = ", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = ", filter.Action)
	}
	if filter.TableName != "" {
		add("table_name = ", filter.TableName)
	}
	if filter.RecordID != nil {
		add("record_id = ", *filter.RecordID)
	}
	if filter.From != nil {
		add("occurred_at >= ", *filter.From)
	}
	if filter.To != nil {
		add("occurred_at < ", *filter.To)
	}

	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	sb.WriteString(" ORDER BY occurred_at DESC, id DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sb.WriteString(" OFFSET $" + strconv.Itoa(len(args)))
	}

	return sb.String(), args
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
