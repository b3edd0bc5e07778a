package query

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/identity"
)

func setupGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewGateway(db, authz.NewEngine(), nil), mock, db
}

func admin() *identity.Identity {
	return &identity.Identity{SubjectID: "u-admin", Role: identity.RoleAdmin}
}

func user() *identity.Identity {
	return &identity.Identity{SubjectID: "u-user", Role: identity.RoleUser}
}

func pairingRows(n int) *sqlmock.Rows {
	cols := []string{"id", "period_id", "external_id", "base", "fleet", "credit_hours", "block_hours", "days", "created_at", "created_by", "updated_at", "updated_by", "deleted_at"}
	rows := sqlmock.NewRows(cols)
	now := time.Now()
	for i := 0; i < n; i++ {
		rows.AddRow(int64(i+1), int64(1), "P"+string(rune('A'+i)), "ORD", "737", []byte("18.25"), []byte("15.50"), 4, now, "u-admin", now, "u-admin", nil)
	}
	return rows
}

func TestGateway_Query(t *testing.T) {
	t.Run("default read excludes deleted rows", func(t *testing.T) {
		g, mock, db := setupGateway(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT .+ FROM pairings WHERE deleted_at IS NULL ORDER BY created_at, id LIMIT \$1 OFFSET \$2`).
			WithArgs(51, 0).
			WillReturnRows(pairingRows(2))

		result, err := g.Query(context.Background(), user(), authz.TablePairings, nil, Page{}, false)
		require.NoError(t, err)
		assert.Len(t, result.Records, 2)
		assert.False(t, result.HasMore)
		assert.Equal(t, "PA", result.Records[0]["external_id"])
		assert.Equal(t, "18.25", result.Records[0]["credit_hours"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admin with include_deleted drops the predicate", func(t *testing.T) {
		g, mock, db := setupGateway(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT .+ FROM pairings ORDER BY created_at, id LIMIT \$1 OFFSET \$2`).
			WithArgs(51, 0).
			WillReturnRows(pairingRows(1))

		_, err := g.Query(context.Background(), admin(), authz.TablePairings, nil, Page{}, true)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user denied include_deleted", func(t *testing.T) {
		g, mock, db := setupGateway(t)
		defer db.Close()

		_, err := g.Query(context.Background(), user(), authz.TablePairings, nil, Page{}, true)
		require.Error(t, err)
		assert.True(t, authz.IsDenied(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filters become positional predicates", func(t *testing.T) {
		g, mock, db := setupGateway(t)
		defer db.Close()

		mock.ExpectQuery(`WHERE deleted_at IS NULL AND period_id = \$1 AND credit_hours >= \$2`).
			WithArgs("1", "10", 51, 0).
			WillReturnRows(pairingRows(1))

		_, err := g.Query(context.Background(), user(), authz.TablePairings, []Filter{
			{Field: "period_id", Op: OpEq, Value: "1"},
			{Field: "credit_hours", Op: OpGte, Value: "10"},
		}, Page{}, false)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("has_more probe trims the extra row", func(t *testing.T) {
		g, mock, db := setupGateway(t)
		defer db.Close()

		mock.ExpectQuery(`LIMIT \$1 OFFSET \$2`).
			WithArgs(3, 2).
			WillReturnRows(pairingRows(3))

		result, err := g.Query(context.Background(), user(), authz.TablePairings, nil, Page{Limit: 2, Offset: 2}, false)
		require.NoError(t, err)
		assert.Len(t, result.Records, 2)
		assert.True(t, result.HasMore)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unfilterable field rejected", func(t *testing.T) {
		g, _, db := setupGateway(t)
		defer db.Close()

		_, err := g.Query(context.Background(), user(), authz.TablePairings, []Filter{
			{Field: "created_by; DROP TABLE pairings", Op: OpEq, Value: "x"},
		}, Page{}, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not filterable")
	})

	t.Run("unknown operator rejected", func(t *testing.T) {
		g, _, db := setupGateway(t)
		defer db.Close()

		_, err := g.Query(context.Background(), user(), authz.TablePairings, []Filter{
			{Field: "period_id", Op: Op("like"), Value: "%"},
		}, Page{}, false)
		require.Error(t, err)
	})

	t.Run("audit entries not queryable through the gateway", func(t *testing.T) {
		g, _, db := setupGateway(t)
		defer db.Close()

		_, err := g.Query(context.Background(), admin(), authz.TableAuditEntries, nil, Page{}, false)
		require.Error(t, err)
	})

	t.Run("trend aggregates skip the visibility predicate", func(t *testing.T) {
		g, mock, db := setupGateway(t)
		defer db.Close()

		cols := []string{"period_id", "pairing_count", "bid_line_count", "total_duty_days", "avg_credit_hours", "avg_block_hours", "avg_days_off", "computed_at"}
		mock.ExpectQuery(`SELECT .+ FROM trend_aggregates ORDER BY period_id LIMIT \$1 OFFSET \$2`).
			WithArgs(51, 0).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(int64(1), 12, 8, 40, []byte("17.50"), []byte("15.00"), []byte("13.25"), time.Now()))

		result, err := g.Query(context.Background(), user(), authz.TableTrendAggregates, nil, Page{}, false)
		require.NoError(t, err)
		require.Len(t, result.Records, 1)
		assert.Equal(t, "17.50", result.Records[0]["avg_credit_hours"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name string
		in   Page
		want Page
	}{
		{"zero gets defaults", Page{}, Page{Limit: DefaultLimit}},
		{"over max clamped", Page{Limit: 10000}, Page{Limit: MaxLimit}},
		{"negative offset zeroed", Page{Limit: 10, Offset: -5}, Page{Limit: 10}},
		{"valid passes through", Page{Limit: 10, Offset: 20}, Page{Limit: 10, Offset: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePage(tt.in); got != tt.want {
				t.Errorf("normalizePage(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildQuery_OrderAndArgs(t *testing.T) {
	spec := tableSpecs[authz.TablePairings]

	query, args, err := buildQuery(user(), authz.TablePairings, spec, []Filter{
		{Field: "base", Op: OpEq, Value: "ORD"},
	}, Page{Limit: 25, Offset: 50}, false, authz.NewEngine())
	require.NoError(t, err)

	assert.True(t, strings.Contains(query, "deleted_at IS NULL"))
	assert.True(t, strings.Contains(query, "base = $1"))
	assert.True(t, strings.Contains(query, "ORDER BY created_at, id"))
	assert.True(t, strings.Contains(query, "LIMIT $2"))
	assert.True(t, strings.Contains(query, "OFFSET $3"))
	assert.Equal(t, []interface{}{"ORD", 26, 50}, args)
}
