package postgres

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "postgres://r1/db", []string{"postgres://r1/db"}},
		{"multiple", "postgres://r1/db,postgres://r2/db", []string{"postgres://r1/db", "postgres://r2/db"}},
		{"whitespace trimmed", " postgres://r1/db , postgres://r2/db ", []string{"postgres://r1/db", "postgres://r2/db"}},
		{"empty entries dropped", "postgres://r1/db,,", []string{"postgres://r1/db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReplicaURLs(tt.input)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseReplicaURLs(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestMigrationsCoverEveryTable(t *testing.T) {
	ddl := ""
	for _, stmt := range migrations {
		ddl += stmt + "\n"
	}

	for _, table := range []string{"periods", "pairings", "duty_days", "bid_lines", "audit_entries", "trend_aggregates"} {
		if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("migrations missing table %s", table)
		}
	}

	// Natural-key uniqueness must only bind non-deleted rows.
	for _, idx := range []string{"idx_pairings_natural_key", "idx_duty_days_natural_key", "idx_bid_lines_natural_key", "idx_periods_label"} {
		if !strings.Contains(ddl, idx) {
			t.Errorf("migrations missing index %s", idx)
		}
	}
	if !strings.Contains(ddl, "WHERE deleted_at IS NULL") {
		t.Error("unique indexes should be partial over non-deleted rows")
	}
}
