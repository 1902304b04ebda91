// Package goal reconciles AI-originated fetch results against concrete
// semantic contracts: it normalizes fetched rows, validates them against an
// answer contract, classifies whether the result satisfies the user's goal,
// and decides how the result should be presented.
package goal

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Contract describes the expected shape and constraints of fetched data
// for one entity type. Fields left zero place no requirement.
type Contract struct {
	EntityType     string   `json:"entity_type,omitempty"`
	RequiredFields []string `json:"required_fields,omitempty"`

	OrderBy    string `json:"order_by,omitempty"`
	Descending bool   `json:"descending,omitempty"`
	Limit      int    `json:"limit,omitempty"`

	// Constraint is the contract's single required constraint; nil means
	// every normalized row passes.
	Constraint *Constraint `json:"constraint,omitempty"`
}

// Constraint filters rows by a keyword substring or a relative time
// window. Exactly one of Keyword and Within is expected.
type Constraint struct {
	// Field names the row field to test. Empty means any string field for
	// keywords and the "date" field for time windows.
	Field string `json:"field,omitempty"`

	Keyword string `json:"keyword,omitempty"`

	// Within is a relative window like "last 24 hours" or "last 2 weeks".
	// An unparseable window passes every row through.
	Within string `json:"within,omitempty"`
}

// ValidateFetchedData normalizes raw rows into a canonical shape, applies
// the contract's ordering and limit, and drops rows missing required
// fields or failing the constraint. Already-normalized rows come through
// unchanged; a nil contract only normalizes.
func ValidateFetchedData(rows []map[string]any, contract *Contract, now time.Time) []map[string]any {
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, normalizeRow(row))
	}
	if contract == nil {
		return normalized
	}

	kept := normalized[:0]
	for _, row := range normalized {
		if !hasRequiredFields(row, contract.RequiredFields) {
			continue
		}
		if contract.Constraint != nil && !constraintHolds(row, contract.Constraint, now) {
			continue
		}
		kept = append(kept, row)
	}

	if contract.OrderBy != "" {
		orderRows(kept, contract.OrderBy, contract.Descending)
	}
	if contract.Limit > 0 && len(kept) > contract.Limit {
		kept = kept[:contract.Limit]
	}
	return kept
}

// normalizeRow lifts a header-array representation (the shape email APIs
// return, a list of {name, value} pairs) into named lowercase fields.
// Rows without headers are already canonical and pass through untouched.
func normalizeRow(row map[string]any) map[string]any {
	headers := headerList(row)
	if headers == nil {
		return row
	}

	out := make(map[string]any, len(row)+len(headers))
	for k, v := range row {
		if k == "headers" || k == "payload" {
			continue
		}
		out[k] = v
	}
	for _, h := range headers {
		pair, ok := h.(map[string]any)
		if !ok {
			continue
		}
		name, _ := pair["name"].(string)
		if name == "" {
			continue
		}
		field := strings.ToLower(name)
		if _, exists := out[field]; !exists {
			out[field] = pair["value"]
		}
	}
	return out
}

func headerList(row map[string]any) []any {
	if headers, ok := row["headers"].([]any); ok {
		return headers
	}
	if payload, ok := row["payload"].(map[string]any); ok {
		if headers, ok := payload["headers"].([]any); ok {
			return headers
		}
	}
	return nil
}

func hasRequiredFields(row map[string]any, required []string) bool {
	for _, field := range required {
		value, ok := row[field]
		if !ok || value == nil {
			return false
		}
		if s, isString := value.(string); isString && s == "" {
			return false
		}
	}
	return true
}

func constraintHolds(row map[string]any, c *Constraint, now time.Time) bool {
	switch {
	case c.Keyword != "":
		return keywordMatches(row, c.Field, c.Keyword)
	case c.Within != "":
		return withinWindow(row, c.Field, c.Within, now)
	}
	return true
}

func keywordMatches(row map[string]any, field, keyword string) bool {
	needle := strings.ToLower(keyword)
	if field != "" {
		s, _ := row[field].(string)
		return strings.Contains(strings.ToLower(s), needle)
	}
	for _, value := range row {
		if s, ok := value.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

var windowPattern = regexp.MustCompile(`(?i)^last\s+(\d+)\s+(hour|day|week|month)s?$`)

// ParseWindow parses a relative time window like "last 3 days" into a
// duration, reporting whether the expression was understood. Months count
// as 30 days.
func ParseWindow(expr string) (time.Duration, bool) {
	match := windowPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if match == nil {
		return 0, false
	}
	var n int
	for _, c := range match[1] {
		n = n*10 + int(c-'0')
	}
	switch strings.ToLower(match[2]) {
	case "hour":
		return time.Duration(n) * time.Hour, true
	case "day":
		return time.Duration(n) * 24 * time.Hour, true
	case "week":
		return time.Duration(n) * 7 * 24 * time.Hour, true
	case "month":
		return time.Duration(n) * 30 * 24 * time.Hour, true
	}
	return 0, false
}

// withinWindow keeps rows whose timestamp falls inside the window. An
// unparseable window, or a row timestamp that cannot be parsed, passes the
// row through: lenient by design, dropping data over a parse failure would
// hide real results.
func withinWindow(row map[string]any, field, expr string, now time.Time) bool {
	window, ok := ParseWindow(expr)
	if !ok {
		return true
	}
	if field == "" {
		field = "date"
	}
	raw, _ := row[field].(string)
	if raw == "" {
		return true
	}
	ts, ok := parseTimestamp(raw)
	if !ok {
		return true
	}
	return now.Sub(ts) <= window
}

var timestampLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// orderRows sorts rows by one field. Numbers compare numerically,
// timestamps chronologically, everything else as strings; missing values
// sort last.
func orderRows(rows []map[string]any, field string, descending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		less, ok := compareValues(rows[i][field], rows[j][field])
		if !ok {
			return rows[i][field] != nil && rows[j][field] == nil
		}
		if descending {
			return !less
		}
		return less
	})
}

func compareValues(a, b any) (less, ok bool) {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af < bf, true
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		at, aTime := parseTimestamp(as)
		bt, bTime := parseTimestamp(bs)
		if aTime && bTime {
			return at.Before(bt), true
		}
		return as < bs, true
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
