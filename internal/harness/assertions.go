package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/thoughtspace/sync/internal/ir"
	"github.com/thoughtspace/sync/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names),
// preventing SQL injection via identifier interpolation (identifiers can't
// be parameterized like values can).
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails, carrying enough
// context to debug the failure without re-running the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "\ntrace:\n")
	for i, ev := range e.Trace {
		mark := ""
		if ev.Skipped {
			mark = " (skipped)"
		}
		fmt.Fprintf(&buf, "  [%d] move(%s, %s->%s)%s\n", i+1, ev.Node, ev.OldParent, ev.NewParent, mark)
	}
	return buf.String()
}

func assertParentEquals(ctx context.Context, st *store.Store, a Assertion) error {
	parent, ok, err := st.ReadParent(ctx, ir.NodeID(a.Node))
	if err != nil {
		return fmt.Errorf("parent_equals: %w", err)
	}
	if !ok {
		return &AssertionError{
			Type:     AssertParentEquals,
			Expected: fmt.Sprintf("node %s to exist with parent %s", a.Node, a.Parent),
			Actual:   "node not found",
		}
	}
	if string(parent) != a.Parent {
		return &AssertionError{
			Type:     AssertParentEquals,
			Expected: fmt.Sprintf("%s.parent == %s", a.Node, a.Parent),
			Actual:   fmt.Sprintf("%s.parent == %s", a.Node, parent),
		}
	}
	return nil
}

func assertAppliedCount(result *Result, a Assertion) error {
	got := result.AppliedCount()
	if got != a.Count {
		return &AssertionError{
			Type:     AssertAppliedCount,
			Expected: fmt.Sprintf("%d applied operations", a.Count),
			Actual:   fmt.Sprintf("%d applied operations", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertSkippedCount(result *Result, a Assertion) error {
	got := result.SkippedCount()
	if got != a.Count {
		return &AssertionError{
			Type:     AssertSkippedCount,
			Expected: fmt.Sprintf("%d skipped operations", a.Count),
			Actual:   fmt.Sprintf("%d skipped operations", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalState queries a table with parameterized SQL and checks the
// first matching row contains the expected field values (subset match).
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match %s", a.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", a.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{Type: AssertFinalState, Expected: fmt.Sprintf("query table %s", a.Table), Actual: fmt.Sprintf("query error: %v", err)}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	for key, expected := range a.Expect {
		actual, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in columns %v", key, columns),
			}
		}
		if !stateValuesEqual(expected, actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s = %v (%T)", key, expected, expected),
				Actual:   fmt.Sprintf("%s = %v (%T)", key, actual, actual),
			}
		}
	}

	return nil
}

func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause", key)
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, where[key])
	}
	return strings.Join(clauses, " AND "), args, nil
}

func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML-parsed expected value against a value
// scanned back from SQLite, coercing the numeric/string/bool mismatches
// SQLite's dynamic typing produces.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		if a, ok := actual.(string); ok {
			return exp == a
		}
	case int:
		if a, ok := actual.(int64); ok {
			return int64(exp) == a
		}
	case int64:
		if a, ok := actual.(int64); ok {
			return exp == a
		}
	case bool:
		if a, ok := actual.(bool); ok {
			return exp == a
		}
		if a, ok := actual.(int64); ok {
			return exp == (a != 0)
		}
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides database access for assertions that query
// final state.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion, returning a failure message for
// each that does not hold.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertParentEquals:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: parent_equals requires database context", i)
			} else {
				err = assertParentEquals(actx.Ctx, actx.Store, a)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, a)
			}
		case AssertAppliedCount:
			err = assertAppliedCount(result, a)
		case AssertSkippedCount:
			err = assertSkippedCount(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
