package httputil

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestParseJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"ORD"}`))

	var dest struct {
		Name string `json:"name"`
	}
	if err := ParseJSON(r, &dest); err != nil {
		t.Fatalf("ParseJSON returned error: %v", err)
	}
	if dest.Name != "ORD" {
		t.Errorf("Name = %q, want ORD", dest.Name)
	}

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{broken`))
	if err := ParseJSON(r, &dest); err == nil {
		t.Error("ParseJSON should fail on malformed input")
	}
}

func TestParsePathInt64(t *testing.T) {
	r := httptest.NewRequest("GET", "/records/42", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "42"})

	val, err := ParsePathInt64(r, "id")
	if err != nil {
		t.Fatalf("ParsePathInt64 returned error: %v", err)
	}
	if val != 42 {
		t.Errorf("val = %d, want 42", val)
	}

	r = mux.SetURLVars(r, map[string]string{"id": "abc"})
	if _, err := ParsePathInt64(r, "id"); err == nil {
		t.Error("ParsePathInt64 should fail on non-numeric input")
	}

	r = mux.SetURLVars(r, map[string]string{})
	if _, err := ParsePathInt64(r, "id"); err == nil {
		t.Error("ParsePathInt64 should fail on missing parameter")
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=25", nil)

	val, err := QueryInt(r, "limit", 50)
	if err != nil || val != 25 {
		t.Errorf("QueryInt = %d, %v, want 25, nil", val, err)
	}

	val, err = QueryInt(r, "offset", 10)
	if err != nil || val != 10 {
		t.Errorf("QueryInt default = %d, %v, want 10, nil", val, err)
	}

	r = httptest.NewRequest("GET", "/?limit=many", nil)
	if _, err := QueryInt(r, "limit", 50); err == nil {
		t.Error("QueryInt should fail on non-numeric input")
	}
}

func TestQueryBool(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"/?include_deleted=true", true},
		{"/?include_deleted=1", true},
		{"/?include_deleted=false", false},
		{"/?include_deleted=yes", false},
		{"/", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", tt.url, nil)
		if got := QueryBool(r, "include_deleted"); got != tt.want {
			t.Errorf("QueryBool(%s) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
