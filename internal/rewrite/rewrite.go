// Package rewrite performs the safety rewrites the executor applies to
// read-only statements: shared-read table hints, resource-control OPTION
// hints, and OFFSET/FETCH pagination. All rewriters are idempotent on their
// own output and edit the original statement text, so the result stays valid
// T-SQL.
package rewrite

import (
	"regexp"
	"strings"

	"github.com/shaharwiener/mcp-sql-server/internal/parser"
)

// The rewriters locate structure on a masked copy of the statement (string
// literals and line comments blanked, length preserved) and splice edits into the
// original at the same offsets.
func masked(sql string) string { return parser.Masked(sql) }

var reOptionTail = regexp.MustCompile(`(?i)\bOPTION\s*\(`)

// findOptionTail locates the trailing OPTION (...) clause. Returns the span
// of the whole clause and the span of its inner hint list.
func findOptionTail(m string) (start, end, innerStart, innerEnd int, ok bool) {
	loc := reOptionTail.FindStringIndex(m)
	if loc == nil {
		return 0, 0, 0, 0, false
	}
	open := strings.IndexByte(m[loc[0]:], '(') + loc[0]
	depth := 0
	for i := open; i < len(m); i++ {
		switch m[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				// Only a true tail counts: nothing but whitespace and a
				// semicolon may follow.
				if strings.TrimRight(strings.TrimSpace(m[i+1:]), ";") != "" {
					return 0, 0, 0, 0, false
				}
				return loc[0], i + 1, open + 1, i, true
			}
		}
	}
	return 0, 0, 0, 0, false
}

// splitHints splits an OPTION hint list on top-level commas.
func splitHints(inner string) []string {
	var out []string
	depth := 0
	last := 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(inner[last:i]))
				last = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(inner[last:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// edit is a pending splice: insert text at pos (del = bytes to drop first).
type edit struct {
	pos  int
	del  int
	text string
}

// applyEdits splices edits into sql, right to left so positions stay valid.
func applyEdits(sql string, edits []edit) string {
	for i := len(edits) - 1; i >= 0; i-- {
		e := edits[i]
		sql = sql[:e.pos] + e.text + sql[e.pos+e.del:]
	}
	return sql
}
