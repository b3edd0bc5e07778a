package audit

import (
	"time"
)

// Action represents the kind of mutation an entry documents
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Entry is a single immutable audit trail record
type Entry struct {
	ID         int64                  `json:"id"`
	ActorID    string                 `json:"actor_id"`
	Action     Action                 `json:"action"`
	TableName  string                 `json:"table_name"`
	RecordID   int64                  `json:"record_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Diff       map[string]interface{} `json:"diff,omitempty"`
}

// SearchFilter narrows audit trail reads
type SearchFilter struct {
	ActorID   string
	Action    Action
	TableName string
	RecordID  *int64
	From      *time.Time
	To        *time.Time

	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting the audit trail
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
