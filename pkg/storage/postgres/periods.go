package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crewlytics/crewsync/pkg/audit"
	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/identity"
)

// Period is a named reporting window, the parent of every record batch
type Period struct {
	ID        int64      `json:"id"`
	Label     string     `json:"label"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy string     `json:"updated_by"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// PeriodStore creates reporting periods. Reads go through the query
// gateway; this store only covers the one write the gateway does not.
type PeriodStore struct {
	db       *sql.DB
	policy   *authz.Engine
	recorder *audit.Recorder
}

// NewPeriodStore creates a period store
func NewPeriodStore(db *sql.DB, policy *authz.Engine, recorder *audit.Recorder) *PeriodStore {
	return &PeriodStore{db: db, policy: policy, recorder: recorder}
}

// Create inserts a period and its audit entry in one transaction.
// Label uniqueness among non-deleted periods is enforced by the
// partial unique index; a collision surfaces as a duplicate-key error.
func (s *PeriodStore) Create(ctx context.Context, ident *identity.Identity, label string, startDate, endDate time.Time) (*Period, error) {
	if err := s.policy.Require(ident, authz.TablePeriods, authz.OpInsert); err != nil {
		return nil, err
	}
	if label == "" {
		return nil, fmt.Errorf("period label is required")
	}
	if endDate.Before(startDate) {
		return nil, fmt.Errorf("period end date precedes start date")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p := &Period{
		Label:     label,
		StartDate: startDate,
		EndDate:   endDate,
		CreatedBy: ident.SubjectID,
		UpdatedBy: ident.SubjectID,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO periods (label, start_date, end_date, created_by, updated_by)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		label, startDate, endDate, ident.SubjectID, ident.SubjectID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create period %q: %w", label, err)
	}

	err = s.recorder.Record(ctx, tx, &audit.Entry{
		ActorID:   ident.SubjectID,
		Action:    audit.ActionInsert,
		TableName: string(authz.TablePeriods),
		RecordID:  p.ID,
		Diff:      map[string]interface{}{"label": label},
	})
	if err != nil {
		return nil, fmt.Errorf("audit write failed, aborting period create: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit period create: %w", err)
	}
	return p, nil
}
