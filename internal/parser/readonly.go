package parser

import "fmt"

// ValidateReadOnly is the strict syntactic gate in front of read-only
// execution: exactly one statement, a pure SELECT, and no SELECT ... INTO.
// It is not a substitute for the full review.
func ValidateReadOnly(sql string) (bool, string) {
	script, err := Parse(sql)
	if err != nil {
		return false, fmt.Sprintf("parsing error: %v", err)
	}
	if len(script.Statements) == 0 {
		return false, "empty query"
	}
	if len(script.Statements) > 1 {
		return false, "multi-statement batches are not allowed in read-only mode"
	}
	stmt := script.Statements[0]
	if stmt.Tag != TagSelect {
		return false, fmt.Sprintf("only SELECT statements are allowed, found: %s", stmt.Tag)
	}
	if stmt.HadSelectInto {
		return false, "SELECT INTO is not allowed (write operation)"
	}
	return true, ""
}
