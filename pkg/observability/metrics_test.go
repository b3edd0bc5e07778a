package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.SyncBatchesTotal.WithLabelValues("pairings", "ok").Inc()
	m.SyncRecordsTotal.WithLabelValues("pairings", "inserted").Add(42)
	m.QueryTotal.WithLabelValues("pairings", "ok").Inc()
	m.RefreshTotal.WithLabelValues("ok").Inc()
	m.AuditEntriesTotal.WithLabelValues("insert", "pairings").Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"crewsync_sync_batches_total",
		"crewsync_sync_records_total",
		"crewsync_query_total",
		"crewsync_aggregate_refresh_total",
		"crewsync_audit_entries_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/pairings", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", w.Code)
	}

	// The scrape output should carry the observed request.
	scrape := httptest.NewRecorder()
	Handler(registry).ServeHTTP(scrape, httptest.NewRequest("GET", "/metrics", nil))

	body := scrape.Body.String()
	if !strings.Contains(body, "crewsync_http_requests_total") {
		t.Errorf("scrape output missing http request counter:\n%s", body)
	}
	if !strings.Contains(body, `status="418"`) {
		t.Errorf("scrape output missing observed status label:\n%s", body)
	}
}
