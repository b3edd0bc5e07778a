package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/crewlytics/crewsync/pkg/identity"
)

// Export renders matching audit entries in the requested format.
// Subject to the same admin-only rule as Search.
func (r *Recorder) Export(ctx context.Context, ident *identity.Identity, filter SearchFilter, format ExportFormat) ([]byte, error) {
	entries, err := r.Search(ctx, ident, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	case ExportFormatJSON, "":
		return exportJSON(entries)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// exportJSON exports entries as a JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports entries as CSV
func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"ID", "ActorID", "Action", "TableName", "RecordID", "OccurredAt", "Diff"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		var diff string
		if entry.Diff != nil {
			diffJSON, err := json.Marshal(entry.Diff)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal diff: %w", err)
			}
			diff = string(diffJSON)
		}

		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.ActorID,
			string(entry.Action),
			entry.TableName,
			strconv.FormatInt(entry.RecordID, 10),
			entry.OccurredAt.Format("2006-01-02 15:04:05"),
			diff,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
