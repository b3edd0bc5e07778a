package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/crewlytics/crewsync/pkg/audit"
	"github.com/crewlytics/crewsync/pkg/authz"
	"github.com/crewlytics/crewsync/pkg/httputil"
	"github.com/crewlytics/crewsync/pkg/query"
	"github.com/crewlytics/crewsync/pkg/sync"
)

// tableFromPath validates the {table} path variable
func tableFromPath(r *http.Request) (authz.Table, error) {
	table := authz.Table(mux.Vars(r)["table"])
	if !table.Valid() {
		return "", fmt.Errorf("unknown table %q", table)
	}
	return table, nil
}

func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	token, err := s.resolver.Refresh(req.Token)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"token": token})
}

func (s *Server) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label     string `json:"label"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
		return
	}

	period, err := s.periods.Create(r.Context(), IdentityFromRequest(r), req.Label, start, end)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, period)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	table, err := tableFromPath(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	periodID, err := httputil.ParsePathInt64(r, "periodID")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Records []sync.RawRecord `json:"records"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.engine.Sync(r.Context(), IdentityFromRequest(r), table, periodID, req.Records)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// parseFilters decodes repeated filter=field:op:value query parameters
func parseFilters(r *http.Request) ([]query.Filter, error) {
	var filters []query.Filter
	for _, raw := range r.URL.Query()["filter"] {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("filter %q is not field:op:value", raw)
		}
		filters = append(filters, query.Filter{
			Field: parts[0],
			Op:    query.Op(parts[1]),
			Value: parts[2],
		})
	}
	return filters, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	table, err := tableFromPath(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	filters, err := parseFilters(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.gateway.Query(r.Context(), IdentityFromRequest(r), table, filters,
		query.Page{Limit: limit, Offset: offset}, httputil.QueryBool(r, "include_deleted"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

func (s *Server) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	table, err := tableFromPath(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.lifecycle.SoftDelete(r.Context(), IdentityFromRequest(r), table, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	table, err := tableFromPath(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.lifecycle.Restore(r.Context(), IdentityFromRequest(r), table, id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// Rebuilding the derived table is a write on it.
	if err := s.policy.Require(IdentityFromRequest(r), authz.TableTrendAggregates, authz.OpInsert); err != nil {
		s.writeDomainError(w, err)
		return
	}

	var req struct {
		PeriodID *int64 `json:"period_id"`
	}
	if r.ContentLength > 0 {
		if err := httputil.ParseJSON(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err)
			return
		}
	}

	result, err := s.refresher.Refresh(r.Context(), req.PeriodID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// parseAuditFilter decodes audit search query parameters
func parseAuditFilter(r *http.Request) (audit.SearchFilter, error) {
	q := r.URL.Query()
	filter := audit.SearchFilter{
		ActorID:   q.Get("actor_id"),
		Action:    audit.Action(q.Get("action")),
		TableName: q.Get("table"),
	}

	if raw := q.Get("record_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid record_id: %s", raw)
		}
		filter.RecordID = &id
	}
	for key, dest := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return filter, fmt.Errorf("invalid %s timestamp: %s", key, raw)
			}
			*dest = &t
		}
	}

	var err error
	if filter.Limit, err = httputil.QueryInt(r, "limit", 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.QueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func (s *Server) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := s.recorder.Search(r.Context(), IdentityFromRequest(r), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries})
}

var exportContentTypes = map[audit.ExportFormat]string{
	audit.ExportFormatJSON:   "application/json",
	audit.ExportFormatCSV:    "text/csv",
	audit.ExportFormatNDJSON: "application/x-ndjson",
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.ExportFormatJSON
	}
	contentType, ok := exportContentTypes[format]
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
		return
	}

	data, err := s.recorder.Export(r.Context(), IdentityFromRequest(r), filter, format)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-export.%s"`, format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
