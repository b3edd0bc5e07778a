package sync

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crewlytics/crewsync/pkg/authz"
)

// FieldType identifies how a raw string value is converted
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldFloat
	FieldDate
)

const dateLayout = "2006-01-02"

// FieldSpec declares one column of a table's fixed input schema
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool
	MaxLen   int // strings only, 0 = unbounded
	HasRange bool
	Min      float64
	Max      float64
}

// Schema is the fixed per-table field list checked before any storage
// call. Unknown fields in the input are ignored.
type Schema struct {
	Table  authz.Table
	Fields []FieldSpec
}

var schemas = map[authz.Table]*Schema{
	authz.TablePairings: {
		Table: authz.TablePairings,
		Fields: []FieldSpec{
			{Name: "external_id", Type: FieldString, Required: true, MaxLen: 50},
			{Name: "base", Type: FieldString, Required: true, MaxLen: 10},
			{Name: "fleet", Type: FieldString, Required: true, MaxLen: 10},
			{Name: "credit_hours", Type: FieldFloat, Required: true, HasRange: true, Min: 0, Max: 400},
			{Name: "block_hours", Type: FieldFloat, Required: true, HasRange: true, Min: 0, Max: 400},
			{Name: "days", Type: FieldInt, Required: true, HasRange: true, Min: 1, Max: 31},
		},
	},
	authz.TableDutyDays: {
		Table: authz.TableDutyDays,
		Fields: []FieldSpec{
			{Name: "pairing_external_id", Type: FieldString, Required: true, MaxLen: 50},
			{Name: "sequence_no", Type: FieldInt, Required: true, HasRange: true, Min: 1, Max: 31},
			{Name: "duty_date", Type: FieldDate, Required: true},
			{Name: "legs", Type: FieldInt, Required: true, HasRange: true, Min: 0, Max: 8},
			{Name: "duty_hours", Type: FieldFloat, Required: true, HasRange: true, Min: 0, Max: 24},
		},
	},
	authz.TableBidLines: {
		Table: authz.TableBidLines,
		Fields: []FieldSpec{
			{Name: "line_number", Type: FieldInt, Required: true, HasRange: true, Min: 1, Max: 9999},
			{Name: "credit_hours", Type: FieldFloat, Required: true, HasRange: true, Min: 0, Max: 400},
			{Name: "block_hours", Type: FieldFloat, Required: true, HasRange: true, Min: 0, Max: 400},
			{Name: "days_off", Type: FieldInt, Required: true, HasRange: true, Min: 0, Max: 31},
		},
	},
}

// SchemaFor returns the input schema for a syncable table
func SchemaFor(table authz.Table) (*Schema, bool) {
	s, ok := schemas[table]
	return s, ok
}

// Validate converts a raw row into typed values, reporting the first
// field that fails. Typed values are keyed by field name.
func (s *Schema) Validate(raw RawRecord) (map[string]interface{}, error) {
	typed := make(map[string]interface{}, len(s.Fields))

	for _, f := range s.Fields {
		value, present := raw[f.Name]
		value = strings.TrimSpace(value)

		if value == "" {
			if f.Required {
				if !present {
					return nil, &ValidationError{Field: f.Name, Reason: "required field missing"}
				}
				return nil, &ValidationError{Field: f.Name, Reason: "required field empty"}
			}
			continue
		}

		converted, err := f.convert(value)
		if err != nil {
			return nil, err
		}
		typed[f.Name] = converted
	}

	return typed, nil
}

func (f *FieldSpec) convert(value string) (interface{}, error) {
	switch f.Type {
	case FieldString:
		if f.MaxLen > 0 && len(value) > f.MaxLen {
			return nil, &ValidationError{Field: f.Name, Reason: fmt.Sprintf("exceeds %d characters", f.MaxLen)}
		}
		return value, nil

	case FieldInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, &ValidationError{Field: f.Name, Reason: "not an integer"}
		}
		if err := f.checkRange(float64(n)); err != nil {
			return nil, err
		}
		return n, nil

	case FieldFloat:
		x, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, &ValidationError{Field: f.Name, Reason: "not a number"}
		}
		if err := f.checkRange(x); err != nil {
			return nil, err
		}
		return x, nil

	case FieldDate:
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return nil, &ValidationError{Field: f.Name, Reason: "not a date (want YYYY-MM-DD)"}
		}
		return t, nil
	}

	return nil, &ValidationError{Field: f.Name, Reason: "unknown field type"}
}

func (f *FieldSpec) checkRange(x float64) error {
	if !f.HasRange {
		return nil
	}
	if x < f.Min || x > f.Max {
		return &ValidationError{
			Field:  f.Name,
			Reason: fmt.Sprintf("out of range [%g, %g]", f.Min, f.Max),
		}
	}
	return nil
}

// naturalKey derives the dedupe key for a validated record. The key
// mirrors the storage layer's partial unique index for the table.
func naturalKey(table authz.Table, typed map[string]interface{}) string {
	switch table {
	case authz.TablePairings:
		return typed["external_id"].(string)
	case authz.TableBidLines:
		return strconv.FormatInt(typed["line_number"].(int64), 10)
	case authz.TableDutyDays:
		return fmt.Sprintf("%s/%d", typed["pairing_external_id"], typed["sequence_no"])
	}
	return ""
}
