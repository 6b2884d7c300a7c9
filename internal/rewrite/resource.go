package rewrite

import (
	"fmt"
	"strings"
)

// EnsureResourceHints guarantees the statement carries a parallelism cap and
// a memory-grant cap. An existing OPTION clause is merged into, preserving
// its hints; caps already present are left untouched.
func EnsureResourceHints(sql string, maxdop, maxGrantPercent int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")
	m := masked(trimmed)

	maxdopHint := fmt.Sprintf("MAXDOP %d", maxdop)
	grantHint := fmt.Sprintf("MAX_GRANT_PERCENT = %d", maxGrantPercent)

	start, end, innerStart, innerEnd, ok := findOptionTail(m)
	if !ok {
		return trimmed + fmt.Sprintf(" OPTION (%s, %s)", maxdopHint, grantHint)
	}

	existing := splitHints(trimmed[innerStart:innerEnd])
	hints := existing
	if !hasHint(existing, "MAXDOP") {
		hints = append(hints, maxdopHint)
	}
	if !hasHint(existing, "MAX_GRANT_PERCENT") {
		hints = append(hints, grantHint)
	}
	if len(hints) == len(existing) {
		return trimmed
	}

	return trimmed[:start] + "OPTION (" + strings.Join(hints, ", ") + ")" + trimmed[end:]
}

func hasHint(hints []string, name string) bool {
	for _, h := range hints {
		if strings.Contains(strings.ToUpper(h), name) {
			return true
		}
	}
	return false
}
