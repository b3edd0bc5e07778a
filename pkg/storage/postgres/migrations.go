package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema DDL. Natural-key uniqueness is enforced with partial unique
// indexes over non-deleted rows, so a soft-deleted row frees its key for
// re-import. These storage constraints, not the application-tier dedupe
// pass, are the source of truth for uniqueness under concurrent writers.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS periods (
		id BIGSERIAL PRIMARY KEY,
		label VARCHAR(100) NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		created_by VARCHAR(100) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_by VARCHAR(100) NOT NULL,
		deleted_at TIMESTAMP WITH TIME ZONE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_label
		ON periods(label) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS pairings (
		id BIGSERIAL PRIMARY KEY,
		period_id BIGINT NOT NULL REFERENCES periods(id),
		external_id VARCHAR(50) NOT NULL,
		base VARCHAR(10) NOT NULL,
		fleet VARCHAR(10) NOT NULL,
		credit_hours NUMERIC(6,2) NOT NULL,
		block_hours NUMERIC(6,2) NOT NULL,
		days INTEGER NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		created_by VARCHAR(100) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_by VARCHAR(100) NOT NULL,
		deleted_at TIMESTAMP WITH TIME ZONE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_pairings_natural_key
		ON pairings(external_id, period_id) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_pairings_period ON pairings(period_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pairings_page ON pairings(created_at, id)`,

	`CREATE TABLE IF NOT EXISTS duty_days (
		id BIGSERIAL PRIMARY KEY,
		pairing_id BIGINT NOT NULL REFERENCES pairings(id),
		sequence_no INTEGER NOT NULL,
		duty_date DATE NOT NULL,
		legs INTEGER NOT NULL,
		duty_hours NUMERIC(5,2) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		created_by VARCHAR(100) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_by VARCHAR(100) NOT NULL,
		deleted_at TIMESTAMP WITH TIME ZONE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_duty_days_natural_key
		ON duty_days(pairing_id, sequence_no) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_duty_days_page ON duty_days(created_at, id)`,

	`CREATE TABLE IF NOT EXISTS bid_lines (
		id BIGSERIAL PRIMARY KEY,
		period_id BIGINT NOT NULL REFERENCES periods(id),
		line_number INTEGER NOT NULL,
		credit_hours NUMERIC(6,2) NOT NULL,
		block_hours NUMERIC(6,2) NOT NULL,
		days_off INTEGER NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		created_by VARCHAR(100) NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_by VARCHAR(100) NOT NULL,
		deleted_at TIMESTAMP WITH TIME ZONE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bid_lines_natural_key
		ON bid_lines(line_number, period_id) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_bid_lines_period ON bid_lines(period_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bid_lines_page ON bid_lines(created_at, id)`,

	// Append-only: no updated_*, no deleted_at, no UPDATE/DELETE path.
	`CREATE TABLE IF NOT EXISTS audit_entries (
		id BIGSERIAL PRIMARY KEY,
		actor_id VARCHAR(100) NOT NULL,
		action VARCHAR(10) NOT NULL,
		table_name VARCHAR(50) NOT NULL,
		record_id BIGINT NOT NULL,
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		diff JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_occurred
		ON audit_entries(occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_record
		ON audit_entries(table_name, record_id)`,

	// Fully derived; destroyed and rebuilt wholesale by the refresher.
	`CREATE TABLE IF NOT EXISTS trend_aggregates (
		period_id BIGINT PRIMARY KEY REFERENCES periods(id),
		pairing_count INTEGER NOT NULL,
		bid_line_count INTEGER NOT NULL,
		total_duty_days INTEGER NOT NULL,
		avg_credit_hours NUMERIC(8,2) NOT NULL,
		avg_block_hours NUMERIC(8,2) NOT NULL,
		avg_days_off NUMERIC(5,2) NOT NULL,
		computed_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
}

// Migrate applies the schema. Statements are idempotent; running Migrate
// on every process start is the expected deployment model.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
