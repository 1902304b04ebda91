package goal

import (
	"reflect"
	"testing"
	"time"
)

var contractNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func TestValidateFetchedDataNormalizesHeaders(t *testing.T) {
	rows := []map[string]any{
		{
			"id": "msg-1",
			"payload": map[string]any{
				"headers": []any{
					map[string]any{"name": "Subject", "value": "Build failed on main"},
					map[string]any{"name": "From", "value": "ci@example.com"},
				},
			},
		},
	}

	got := ValidateFetchedData(rows, nil, contractNow)
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	if got[0]["subject"] != "Build failed on main" {
		t.Errorf("subject = %v", got[0]["subject"])
	}
	if got[0]["from"] != "ci@example.com" {
		t.Errorf("from = %v", got[0]["from"])
	}
	if _, has := got[0]["payload"]; has {
		t.Error("raw payload survived normalization")
	}
	if got[0]["id"] != "msg-1" {
		t.Errorf("id = %v", got[0]["id"])
	}
}

func TestValidateFetchedDataPassesCanonicalRowsThrough(t *testing.T) {
	rows := []map[string]any{
		{"id": "c1", "message": "fix build", "date": "2026-08-14"},
	}

	got := ValidateFetchedData(rows, nil, contractNow)
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("canonical rows changed: %v", got)
	}
}

func TestValidateFetchedDataDropsRowsMissingRequiredFields(t *testing.T) {
	rows := []map[string]any{
		{"id": "c1", "message": "fix build"},
		{"id": "c2"},
		{"id": "c3", "message": ""},
		{"id": "c4", "message": nil},
	}
	contract := &Contract{RequiredFields: []string{"id", "message"}}

	got := ValidateFetchedData(rows, contract, contractNow)
	if len(got) != 1 || got[0]["id"] != "c1" {
		t.Errorf("kept = %v, want only c1", got)
	}
}

func TestValidateFetchedDataKeywordConstraint(t *testing.T) {
	rows := []map[string]any{
		{"id": "m1", "subject": "Build FAILED on main"},
		{"id": "m2", "subject": "Weekly newsletter"},
		{"id": "m3", "body": "the build failed again"},
	}

	// Field-scoped keyword.
	contract := &Contract{Constraint: &Constraint{Field: "subject", Keyword: "failed"}}
	got := ValidateFetchedData(rows, contract, contractNow)
	if len(got) != 1 || got[0]["id"] != "m1" {
		t.Errorf("field-scoped match = %v, want only m1", got)
	}

	// Any-field keyword.
	contract = &Contract{Constraint: &Constraint{Keyword: "failed"}}
	got = ValidateFetchedData(rows, contract, contractNow)
	if len(got) != 2 {
		t.Errorf("any-field match kept %d rows, want 2", len(got))
	}
}

func TestValidateFetchedDataTimeWindow(t *testing.T) {
	rows := []map[string]any{
		{"id": "recent", "date": contractNow.Add(-2 * time.Hour).Format(time.RFC3339)},
		{"id": "old", "date": contractNow.Add(-80 * time.Hour).Format(time.RFC3339)},
		{"id": "unparseable", "date": "sometime last tuesday"},
		{"id": "undated"},
	}
	contract := &Contract{Constraint: &Constraint{Within: "last 24 hours"}}

	got := ValidateFetchedData(rows, contract, contractNow)

	// Lenient windows keep unparseable and undated rows.
	ids := make(map[any]bool)
	for _, row := range got {
		ids[row["id"]] = true
	}
	if !ids["recent"] || ids["old"] {
		t.Errorf("window filter kept %v", ids)
	}
	if !ids["unparseable"] || !ids["undated"] {
		t.Errorf("lenient window dropped unparseable rows: %v", ids)
	}
}

func TestValidateFetchedDataOrderAndLimit(t *testing.T) {
	rows := []map[string]any{
		{"id": "b", "count": 2},
		{"id": "c", "count": 3},
		{"id": "a", "count": 1},
	}
	contract := &Contract{OrderBy: "count", Descending: true, Limit: 2}

	got := ValidateFetchedData(rows, contract, contractNow)
	if len(got) != 2 {
		t.Fatalf("limit kept %d rows, want 2", len(got))
	}
	if got[0]["id"] != "c" || got[1]["id"] != "b" {
		t.Errorf("order = %v, %v; want c, b", got[0]["id"], got[1]["id"])
	}
}

func TestValidateFetchedDataOrdersTimestamps(t *testing.T) {
	rows := []map[string]any{
		{"id": "late", "date": "2026-08-14T10:00:00Z"},
		{"id": "early", "date": "2026-08-12T10:00:00Z"},
	}
	contract := &Contract{OrderBy: "date"}

	got := ValidateFetchedData(rows, contract, contractNow)
	if got[0]["id"] != "early" {
		t.Errorf("chronological order = %v first, want early", got[0]["id"])
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		expr string
		want time.Duration
		ok   bool
	}{
		{"last 24 hours", 24 * time.Hour, true},
		{"last 1 hour", time.Hour, true},
		{"Last 3 Days", 72 * time.Hour, true},
		{"last 2 weeks", 14 * 24 * time.Hour, true},
		{"last 1 month", 30 * 24 * time.Hour, true},
		{"  last 7 days  ", 7 * 24 * time.Hour, true},
		{"yesterday", 0, false},
		{"last few days", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseWindow(tt.expr)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseWindow(%q) = %v, %v; want %v, %v", tt.expr, got, ok, tt.want, tt.ok)
		}
	}
}
