package rewrite

import (
	"fmt"
	"regexp"
)

var (
	reHasOffset = regexp.MustCompile(`(?i)\bOFFSET\s+\d+\s+ROWS?\b`)
	reHasFetch  = regexp.MustCompile(`(?i)\bFETCH\s+(?:NEXT|FIRST)\b`)
	reOrderBy   = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
)

// ApplyPagination rewrites a SELECT with OFFSET/FETCH for the requested page.
// The dialect requires an ORDER BY for OFFSET, so a deterministic dummy
// ordering is added when the statement has none. Statements that already
// paginate are left untouched and reported as skipped.
func ApplyPagination(sql string, pageSize, page int) (string, bool) {
	m := masked(sql)
	if reHasOffset.MatchString(m) || reHasFetch.MatchString(m) {
		return sql, false
	}

	offset := (page - 1) * pageSize
	clause := fmt.Sprintf(" OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, pageSize)

	var edits []edit
	insertAt := len(sql)
	// Pagination precedes a trailing OPTION clause.
	if start, _, _, _, ok := findOptionTail(m); ok {
		insertAt = start
		for insertAt > 0 && (sql[insertAt-1] == ' ' || sql[insertAt-1] == '\n' || sql[insertAt-1] == '\t') {
			insertAt--
		}
		// The whitespace backed over still separates the clause from OPTION.
		if insertAt == start {
			clause += " "
		}
	}

	if !hasTopLevelOrderBy(m) {
		edits = append(edits, edit{pos: insertAt, text: " ORDER BY (SELECT NULL)" + clause})
	} else {
		edits = append(edits, edit{pos: insertAt, text: clause})
	}
	return applyEdits(trimTail(sql, insertAt, edits), edits), true
}

// hasTopLevelOrderBy reports an ORDER BY at parenthesis depth zero.
func hasTopLevelOrderBy(m string) bool {
	for _, loc := range reOrderBy.FindAllStringIndex(m, -1) {
		depth := 0
		for i := 0; i < loc[0]; i++ {
			switch m[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
		}
		if depth == 0 {
			return true
		}
	}
	return false
}

// trimTail drops a trailing semicolon when the insertion point is the end of
// the statement, so the clause lands inside the statement.
func trimTail(sql string, insertAt int, edits []edit) string {
	if insertAt != len(sql) {
		return sql
	}
	trimmed := sql
	for len(trimmed) > 0 {
		last := trimmed[len(trimmed)-1]
		if last == ';' || last == ' ' || last == '\n' || last == '\t' || last == '\r' {
			trimmed = trimmed[:len(trimmed)-1]
			continue
		}
		break
	}
	if len(trimmed) != len(sql) {
		edits[len(edits)-1].pos = len(trimmed)
	}
	return trimmed
}
