package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewlytics/crewsync/pkg/aggregate"
	"github.com/crewlytics/crewsync/pkg/audit"
	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/lifecycle"
	"github.com/crewlytics/crewsync/pkg/query"
	"github.com/crewlytics/crewsync/pkg/storage/postgres"
	"github.com/crewlytics/crewsync/pkg/sync"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	server   *Server
	router   http.Handler
	mock     sqlmock.Sqlmock
	db       *sql.DB
	resolver *identity.Resolver
}

func newTestServer(t *testing.T) *testServer {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	resolver, err := identity.NewResolver([]byte(testSecret), time.Hour)
	require.NoError(t, err)

	policy := authz.NewEngine()
	recorder := audit.NewRecorder(db, policy, nil)
	engine := sync.NewEngine(db, policy, recorder, nil, nil, sync.Config{
		Parallelism: 1,
		Retry:       sync.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 2.0},
	})

	s := NewServer(
		resolver,
		policy,
		engine,
		query.NewGateway(db, policy, nil),
		lifecycle.NewManager(db, policy, recorder),
		recorder,
		aggregate.NewRefresher(db, nil, nil),
		postgres.NewPeriodStore(db, policy, recorder),
		nil,
		nil,
	)

	return &testServer{server: s, router: s.Router(), mock: mock, db: db, resolver: resolver}
}

func (ts *testServer) token(t *testing.T, role identity.Role) string {
	token, err := ts.resolver.Issue("u-"+string(role), role, "Test User")
	require.NoError(t, err)
	return token
}

func (ts *testServer) request(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	t.Run("missing header", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "GET", "/api/v1/pairings", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		ts := newTestServer(t)
		req := httptest.NewRequest("GET", "/api/v1/pairings", nil)
		req.Header.Set("Authorization", "Basic dXNlcg==")
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "GET", "/api/v1/pairings", "not-a-token", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("request id echoed", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "GET", "/api/v1/pairings", "", "")
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})
}

func TestHandleTokenRefresh(t *testing.T) {
	ts := newTestServer(t)

	token := ts.token(t, identity.RoleUser)
	w := ts.request(t, "POST", "/api/v1/auth/refresh", "", `{"token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])

	w = ts.request(t, "POST", "/api/v1/auth/refresh", "", `{"token":"crew_bogus.sig"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleQuery(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ts := newTestServer(t)

		cols := []string{"id", "period_id", "external_id", "base", "fleet", "credit_hours", "block_hours", "days", "created_at", "created_by", "updated_at", "updated_by", "deleted_at"}
		now := time.Now()
		ts.mock.ExpectQuery(`SELECT .+ FROM pairings WHERE deleted_at IS NULL`).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(int64(1), int64(1), "P1", "ORD", "737", []byte("18.25"), []byte("15.50"), 4, now, "u", now, "u", nil))

		w := ts.request(t, "GET", "/api/v1/pairings?filter=period_id:eq:1", ts.token(t, identity.RoleUser), "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Records []map[string]interface{} `json:"records"`
			HasMore bool                     `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Records, 1)
		assert.Equal(t, "P1", resp.Records[0]["external_id"])
	})

	t.Run("unknown table", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "GET", "/api/v1/flights", ts.token(t, identity.RoleUser), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("user denied include_deleted", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "GET", "/api/v1/pairings?include_deleted=true", ts.token(t, identity.RoleUser), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("malformed filter", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "GET", "/api/v1/pairings?filter=oops", ts.token(t, identity.RoleUser), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleSync(t *testing.T) {
	body := `{"records":[{"external_id":"P1","base":"ORD","fleet":"737","credit_hours":"18.25","block_hours":"15.50","days":"4"}]}`

	t.Run("forbidden for standard user", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "POST", "/api/v1/periods/1/pairings/sync", ts.token(t, identity.RoleUser), body)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("deleted period rejected", func(t *testing.T) {
		ts := newTestServer(t)
		ts.mock.ExpectQuery(`SELECT id FROM periods`).WillReturnError(sql.ErrNoRows)

		w := ts.request(t, "POST", "/api/v1/periods/1/pairings/sync", ts.token(t, identity.RoleAdmin), body)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("success reports dispositions", func(t *testing.T) {
		ts := newTestServer(t)
		ts.mock.ExpectQuery(`SELECT id FROM periods`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
		ts.mock.ExpectQuery(`SELECT external_id FROM pairings`).
			WillReturnRows(sqlmock.NewRows([]string{"external_id"}))
		ts.mock.ExpectBegin()
		ts.mock.ExpectQuery(`INSERT INTO pairings`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
		ts.mock.ExpectQuery(`INSERT INTO audit_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
		ts.mock.ExpectCommit()

		w := ts.request(t, "POST", "/api/v1/periods/1/pairings/sync", ts.token(t, identity.RoleAdmin), body)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Inserted         int `json:"inserted"`
			SkippedDuplicate int `json:"skipped_duplicate"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Inserted)
		assert.NoError(t, ts.mock.ExpectationsWereMet())
	})
}

func TestHandleSoftDeleteAndRestore(t *testing.T) {
	t.Run("delete forbidden for user", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "DELETE", "/api/v1/pairings/42", ts.token(t, identity.RoleUser), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("delete success", func(t *testing.T) {
		ts := newTestServer(t)
		ts.mock.ExpectBegin()
		ts.mock.ExpectExec(`UPDATE pairings SET deleted_at = NOW\(\)`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		ts.mock.ExpectQuery(`INSERT INTO audit_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
		ts.mock.ExpectCommit()

		w := ts.request(t, "DELETE", "/api/v1/pairings/42", ts.token(t, identity.RoleAdmin), "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.NoError(t, ts.mock.ExpectationsWereMet())
	})

	t.Run("delete missing row", func(t *testing.T) {
		ts := newTestServer(t)
		ts.mock.ExpectBegin()
		ts.mock.ExpectExec(`UPDATE pairings`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		ts.mock.ExpectQuery(`SELECT deleted_at FROM pairings`).
			WillReturnError(sql.ErrNoRows)
		ts.mock.ExpectRollback()

		w := ts.request(t, "DELETE", "/api/v1/pairings/42", ts.token(t, identity.RoleAdmin), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, ts.mock.ExpectationsWereMet())
	})

	t.Run("restore success", func(t *testing.T) {
		ts := newTestServer(t)
		ts.mock.ExpectBegin()
		ts.mock.ExpectExec(`UPDATE pairings SET deleted_at = NULL`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		ts.mock.ExpectQuery(`INSERT INTO audit_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
		ts.mock.ExpectCommit()

		w := ts.request(t, "POST", "/api/v1/pairings/42/restore", ts.token(t, identity.RoleAdmin), "")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestHandleRefresh(t *testing.T) {
	t.Run("forbidden for user", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "POST", "/api/v1/aggregates/refresh", ts.token(t, identity.RoleUser), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("scoped refresh", func(t *testing.T) {
		ts := newTestServer(t)
		ts.mock.ExpectBegin()
		ts.mock.ExpectExec(`DELETE FROM trend_aggregates WHERE period_id = \$1`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		ts.mock.ExpectExec(`INSERT INTO trend_aggregates`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		ts.mock.ExpectCommit()

		w := ts.request(t, "POST", "/api/v1/aggregates/refresh", ts.token(t, identity.RoleAdmin), `{"period_id":3}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			RowsWritten int64 `json:"rows_written"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(1), resp.RowsWritten)
	})
}

func TestHandleCreatePeriod(t *testing.T) {
	body := `{"label":"MAR26","start_date":"2026-03-01","end_date":"2026-03-31"}`

	t.Run("forbidden for user", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "POST", "/api/v1/periods", ts.token(t, identity.RoleUser), body)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("created", func(t *testing.T) {
		ts := newTestServer(t)
		now := time.Now()
		ts.mock.ExpectBegin()
		ts.mock.ExpectQuery(`INSERT INTO periods`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(5), now, now))
		ts.mock.ExpectQuery(`INSERT INTO audit_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
		ts.mock.ExpectCommit()

		w := ts.request(t, "POST", "/api/v1/periods", ts.token(t, identity.RoleAdmin), body)
		require.Equal(t, http.StatusCreated, w.Code)

		var resp struct {
			ID    int64  `json:"id"`
			Label string `json:"label"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(5), resp.ID)
		assert.Equal(t, "MAR26", resp.Label)
	})

	t.Run("bad dates", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "POST", "/api/v1/periods", ts.token(t, identity.RoleAdmin),
			`{"label":"MAR26","start_date":"03/01/2026","end_date":"2026-03-31"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleAudit(t *testing.T) {
	t.Run("search admin only", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "GET", "/api/v1/audit", ts.token(t, identity.RoleUser), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("search", func(t *testing.T) {
		ts := newTestServer(t)
		now := time.Now().UTC()
		ts.mock.ExpectQuery(`FROM audit_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "actor_id", "action", "table_name", "record_id", "occurred_at", "diff"}).
				AddRow(int64(1), "u-admin", "insert", "pairings", int64(9), now, nil))

		w := ts.request(t, "GET", "/api/v1/audit?table=pairings", ts.token(t, identity.RoleAdmin), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"record_id":9`)
	})

	t.Run("export csv sets content type", func(t *testing.T) {
		ts := newTestServer(t)
		now := time.Now().UTC()
		ts.mock.ExpectQuery(`FROM audit_entries`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "actor_id", "action", "table_name", "record_id", "occurred_at", "diff"}).
				AddRow(int64(1), "u-admin", "insert", "pairings", int64(9), now, nil))

		w := ts.request(t, "GET", "/api/v1/audit/export?format=csv", ts.token(t, identity.RoleAdmin), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	})

	t.Run("export unknown format", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.request(t, "GET", "/api/v1/audit/export?format=xml", ts.token(t, identity.RoleAdmin), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
