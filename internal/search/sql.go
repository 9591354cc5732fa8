package search

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TimestampColumn is the column every stream is ordered by.
const TimestampColumn = "_timestamp"

var selectRe = regexp.MustCompile(`(?is)^\s*select\s`)

// DefaultSQL returns the base statement used when the request carries no
// SQL override.
func DefaultSQL(streamName string) string {
	return fmt.Sprintf(`SELECT * FROM "%s" `, streamName)
}

// AddFiltersWithAnd AND-combines the filter set into the statement's WHERE
// clause. Filter keys are applied in sorted order so the rewritten SQL is
// deterministic. Fails when the statement is not a plain SELECT or already
// carries grouping or pagination clauses that would change meaning.
func AddFiltersWithAnd(sql string, filters map[string]string) (string, error) {
	if len(filters) == 0 {
		return sql, nil
	}
	if !selectRe.MatchString(sql) {
		return "", fmt.Errorf("cannot merge filters: not a SELECT statement")
	}
	upper := strings.ToUpper(sql)
	for _, clause := range []string{" GROUP BY ", " LIMIT ", " OFFSET "} {
		if strings.Contains(upper, clause) {
			return "", fmt.Errorf("cannot merge filters: statement contains%s", strings.TrimRight(clause, " "))
		}
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.ReplaceAll(filters[k], "'", "''")
		conds = append(conds, fmt.Sprintf("%s = '%s'", k, v))
	}
	predicate := strings.Join(conds, " AND ")

	// Splice before any ORDER BY so the ordering clause stays terminal.
	base := strings.TrimRight(sql, " ")
	suffix := ""
	if idx := strings.LastIndex(strings.ToUpper(base), " ORDER BY "); idx >= 0 {
		suffix = base[idx:]
		base = strings.TrimRight(base[:idx], " ")
	}

	if strings.Contains(strings.ToUpper(base), " WHERE ") {
		return fmt.Sprintf("%s AND %s%s", base, predicate, suffix), nil
	}
	return fmt.Sprintf("%s WHERE %s%s", base, predicate, suffix), nil
}

// EnsureOrderByTimestamp rewrites the statement to sort by the timestamp
// column in the requested direction. Statements that already carry an
// ORDER BY are returned unchanged. Callers treat a failure here as
// non-fatal and fall back to the input SQL.
func EnsureOrderByTimestamp(sql string, descending bool) (string, error) {
	if !selectRe.MatchString(sql) {
		return "", fmt.Errorf("cannot inject order by: not a SELECT statement")
	}
	if strings.Contains(strings.ToUpper(sql), " ORDER BY ") {
		return sql, nil
	}
	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	return fmt.Sprintf("%s ORDER BY %s %s", strings.TrimRight(sql, " "), TimestampColumn, dir), nil
}
