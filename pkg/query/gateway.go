package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/observability"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Op is a filter comparison operator
type Op string

const (
	OpEq  Op = "eq"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

var sqlOps = map[Op]string{
	OpEq:  "=",
	OpGte: ">=",
	OpLte: "<=",
}

// Filter is one field predicate. Values arrive as strings and are
// passed to the store as positional parameters; the store coerces them
// to the column type.
type Filter struct {
	Field string
	Op    Op
	Value string
}

// Page is an offset/limit pagination request
type Page struct {
	Limit  int
	Offset int
}

// Result is one page of records plus a has-more probe
type Result struct {
	Records []map[string]interface{} `json:"records"`
	HasMore bool                     `json:"has_more"`
}

// tableSpec whitelists what a table exposes to the gateway
type tableSpec struct {
	columns      []string
	filterable   map[string]bool
	orderBy      string
	hasDeletedAt bool
}

var tableSpecs = map[authz.Table]tableSpec{
	authz.TablePeriods: {
		columns:      []string{"id", "label", "start_date", "end_date", "created_at", "created_by", "updated_at", "updated_by", "deleted_at"},
		filterable:   map[string]bool{"id": true, "label": true, "start_date": true, "end_date": true},
		orderBy:      "created_at, id",
		hasDeletedAt: true,
	},
	authz.TablePairings: {
		columns:      []string{"id", "period_id", "external_id", "base", "fleet", "credit_hours", "block_hours", "days", "created_at", "created_by", "updated_at", "updated_by", "deleted_at"},
		filterable:   map[string]bool{"id": true, "period_id": true, "external_id": true, "base": true, "fleet": true, "credit_hours": true, "block_hours": true, "days": true},
		orderBy:      "created_at, id",
		hasDeletedAt: true,
	},
	authz.TableDutyDays: {
		columns:      []string{"id", "pairing_id", "sequence_no", "duty_date", "legs", "duty_hours", "created_at", "created_by", "updated_at", "updated_by", "deleted_at"},
		filterable:   map[string]bool{"id": true, "pairing_id": true, "duty_date": true, "legs": true, "duty_hours": true},
		orderBy:      "created_at, id",
		hasDeletedAt: true,
	},
	authz.TableBidLines: {
		columns:      []string{"id", "period_id", "line_number", "credit_hours", "block_hours", "days_off", "created_at", "created_by", "updated_at", "updated_by", "deleted_at"},
		filterable:   map[string]bool{"id": true, "period_id": true, "line_number": true, "credit_hours": true, "block_hours": true, "days_off": true},
		orderBy:      "created_at, id",
		hasDeletedAt: true,
	},
	// Derived table: no lifecycle columns, ordered by its primary key.
	authz.TableTrendAggregates: {
		columns:    []string{"period_id", "pairing_count", "bid_line_count", "total_duty_days", "avg_credit_hours", "avg_block_hours", "avg_days_off", "computed_at"},
		filterable: map[string]bool{"period_id": true},
		orderBy:    "period_id",
	},
}

// Gateway executes whitelisted reads
type Gateway struct {
	db      *sql.DB
	policy  *authz.Engine
	metrics *observability.Metrics
}

// NewGateway creates a query gateway
func NewGateway(db *sql.DB, policy *authz.Engine, metrics *observability.Metrics) *Gateway {
	return &Gateway{db: db, policy: policy, metrics: metrics}
}

// Query runs one paginated read. includeDeleted widens visibility to
// soft-deleted rows and is admin-only.
func (g *Gateway) Query(ctx context.Context, ident *identity.Identity, table authz.Table, filters []Filter, page Page, includeDeleted bool) (*Result, error) {
	start := time.Now()

	op := authz.OpRead
	if includeDeleted {
		op = authz.OpReadDeleted
	}
	if err := g.policy.Require(ident, table, op); err != nil {
		g.count(table, "denied")
		return nil, err
	}

	spec, ok := tableSpecs[table]
	if !ok {
		g.count(table, "rejected")
		return nil, fmt.Errorf("table %s is not queryable", table)
	}

	query, args, err := buildQuery(ident, table, spec, filters, normalizePage(page), includeDeleted, g.policy)
	if err != nil {
		g.count(table, "rejected")
		return nil, err
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		g.count(table, "error")
		return nil, fmt.Errorf("query on %s failed: %w", table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows, spec.columns)
	if err != nil {
		g.count(table, "error")
		return nil, err
	}

	// One extra row was requested purely as the has-more probe.
	limit := normalizePage(page).Limit
	result := &Result{Records: records}
	if len(records) > limit {
		result.Records = records[:limit]
		result.HasMore = true
	}

	g.count(table, "ok")
	if g.metrics != nil {
		g.metrics.QueryDuration.WithLabelValues(string(table)).Observe(time.Since(start).Seconds())
	}
	return result, nil
}

func normalizePage(page Page) Page {
	if page.Limit <= 0 {
		page.Limit = DefaultLimit
	}
	if page.Limit > MaxLimit {
		page.Limit = MaxLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}

func buildQuery(ident *identity.Identity, table authz.Table, spec tableSpec, filters []Filter, page Page, includeDeleted bool, policy *authz.Engine) (string, []interface{}, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(spec.columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(string(table))

	var conds []string
	var args []interface{}

	if spec.hasDeletedAt {
		if pred := policy.VisibilityPredicate(ident, includeDeleted); pred != "" {
			conds = append(conds, pred)
		}
	}

	for _, f := range filters {
		if !spec.filterable[f.Field] {
			return "", nil, fmt.Errorf("field %s is not filterable on %s", f.Field, table)
		}
		sqlOp, ok := sqlOps[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("unknown filter operator %q", f.Op)
		}
		args = append(args, f.Value)
		conds = append(conds, fmt.Sprintf("%s %s $%d", f.Field, sqlOp, len(args)))
	}

	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(spec.orderBy)

	args = append(args, page.Limit+1)
	sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	args = append(args, page.Offset)
	sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))

	return sb.String(), args, nil
}

// scanRecords converts rows into field-keyed maps, decoding []byte
// values (numerics, text) to strings for JSON rendering
func scanRecords(rows *sql.Rows, columns []string) ([]map[string]interface{}, error) {
	var records []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				record[col] = string(v)
			default:
				record[col] = v
			}
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (g *Gateway) count(table authz.Table, status string) {
	if g.metrics != nil {
		g.metrics.QueryTotal.WithLabelValues(string(table), status).Inc()
	}
}
