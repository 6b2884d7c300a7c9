package parser

import (
	"regexp"
	"strings"
)

// The Vitess grammar is MySQL-flavored, so T-SQL surface syntax is normalized
// before parsing. Constructs the grammar has no production for are either
// rewritten to an equivalent it accepts or recorded and stripped; statements
// that are procedural T-SQL (EXEC, DECLARE, control flow) never reach the
// parser at all and are classified by the pre-pass matchers below.
var (
	reBracketIdent = regexp.MustCompile(`\[([^\]]+)\]`)
	reUnicodeLit   = regexp.MustCompile(`\bN'`)
	reTempName     = regexp.MustCompile(`#{1,2}[A-Za-z_]\w*`)
	reTopClause    = regexp.MustCompile(`(?i)\b(SELECT\s+(?:DISTINCT\s+)?)TOP\s*\(?\s*\d+\s*\)?\s*(?:PERCENT\s+)?`)
	reOffsetFetch  = regexp.MustCompile(`(?i)\bOFFSET\s+\d+\s+ROWS?(?:\s+FETCH\s+(?:NEXT|FIRST)\s+\d+\s+ROWS?\s+ONLY)?`)
	reOptionClause = regexp.MustCompile(`(?i)\bOPTION\s*\((?:[^()]|\([^()]*\))*\)\s*;?\s*$`)

	// Table hints: WITH followed by a parenthesized list whose first token is
	// a known hint keyword. A CTE's WITH never matches because its first
	// token is a column or query name.
	reTableHint = regexp.MustCompile(`(?i)\bWITH\s*\(\s*(?:NOLOCK|READUNCOMMITTED|READCOMMITTED(?:LOCK)?|REPEATABLEREAD|SERIALIZABLE|SNAPSHOT|HOLDLOCK|UPDLOCK|XLOCK|ROWLOCK|PAGLOCK|TABLOCKX?|READPAST|NOEXPAND|NOWAIT|FORCESCAN|FORCESEEK(?:\s*\([^)]*\))?|INDEX\s*\([^)]*\))(?:\s*,\s*[^()]*)?\)`)

	reFourPart  = regexp.MustCompile(`\b([A-Za-z_#]\w*)\.([A-Za-z_]\w*)\.([A-Za-z_]\w*)\.([A-Za-z_]\w*)\b`)
	reThreePart = regexp.MustCompile(`\b([A-Za-z_]\w*)\.([A-Za-z_]\w*)\.([A-Za-z_]\w*)\b`)

	reOpenRowset = regexp.MustCompile(`(?i)\b(OPENQUERY|OPENROWSET|OPENDATASOURCE)\s*\(`)

	// Pre-pass statement matchers for T-SQL the grammar cannot parse.
	reExecStmt  = regexp.MustCompile(`(?i)^\s*(?:EXEC|EXECUTE)\b`)
	reMergeStmt = regexp.MustCompile(`(?i)^\s*MERGE\b`)
	reProcDDL   = regexp.MustCompile(`(?i)^\s*(CREATE|ALTER)\s+(?:OR\s+ALTER\s+)?(?:PROC|PROCEDURE|FUNCTION|TRIGGER|VIEW)\b`)
	reCreate    = regexp.MustCompile(`(?i)^\s*CREATE\b`)
	reAlter     = regexp.MustCompile(`(?i)^\s*ALTER\b`)
	reDrop      = regexp.MustCompile(`(?i)^\s*DROP\b`)
	reTruncate  = regexp.MustCompile(`(?i)^\s*TRUNCATE\b`)
	reControl   = regexp.MustCompile(`(?i)^\s*(?:SET|DECLARE|BEGIN|COMMIT|ROLLBACK|SAVE|PRINT|IF|ELSE|WHILE|GOTO|RETURN|WAITFOR|USE|END|THROW|RAISERROR|GRANT|DENY|REVOKE|BACKUP|RESTORE|DBCC|BULK|GO)\b`)
	reDMLStart  = regexp.MustCompile(`(?i)^\s*(?:SELECT|INSERT|UPDATE|DELETE|WITH|\()`)

	reGoSeparator = regexp.MustCompile(`(?im)^\s*GO\s*(?:--.*)?$`)

	// SELECT ... INTO target: the grammar has no production for it, and the
	// readonly validator must see it as the write it is.
	reSelectLike       = regexp.MustCompile(`(?i)^\s*(?:SELECT|WITH|\()`)
	reSelectIntoClause = regexp.MustCompile(`(?i)\bINTO\s+(?:\[[^\]]*\]|[#\w]+)(?:\.(?:\[[^\]]*\]|[#\w]+))*`)
)

// normalizeTSQL rewrites one T-SQL statement into a form the Vitess grammar
// accepts, recording what was stripped.
func normalizeTSQL(sql string) (string, normalizeInfo) {
	info := normalizeInfo{}
	out := strings.TrimSpace(sql)
	out = strings.TrimRight(out, ";")

	out = replaceOutsideStrings(out, reBracketIdent, func(m string) string {
		name := m[1 : len(m)-1]
		if strings.ContainsAny(name, " -") {
			return "`" + name + "`"
		}
		return name
	})
	out = reUnicodeLit.ReplaceAllString(out, "'")
	// A leading # starts a comment in the MySQL grammar; temp-table names
	// survive only quoted.
	out = replaceOutsideStrings(out, reTempName, func(m string) string {
		return "`" + m + "`"
	})

	if reTableHint.MatchString(stripStrings(out)) {
		info.HadTableHints = true
		out = replaceOutsideStrings(out, reTableHint, func(string) string { return "" })
	}
	if reOptionClause.MatchString(stripStrings(out)) {
		info.HadOptionClause = true
		out = replaceOutsideStrings(out, reOptionClause, func(string) string { return "" })
	}
	if reTopClause.MatchString(stripStrings(out)) {
		info.HadTop = true
		out = replaceOutsideStrings(out, reTopClause, func(m string) string {
			return reTopClause.ReplaceAllString(m, "$1")
		})
	}
	if reOffsetFetch.MatchString(stripStrings(out)) {
		info.HadPagination = true
		out = replaceOutsideStrings(out, reOffsetFetch, func(string) string { return "" })
	}

	// Multi-part names are collapsed to the two rightmost parts, the only
	// qualification depth the grammar accepts. This is correct for both
	// table references (catalog.schema.table -> schema.table) and column
	// references (schema.table.column -> table.column); the full references
	// are recorded separately from table positions before the collapse.
	out = replaceOutsideStrings(out, reFourPart, func(m string) string {
		return reFourPart.ReplaceAllString(m, "$3.$4")
	})
	out = replaceOutsideStrings(out, reThreePart, func(m string) string {
		return reThreePart.ReplaceAllString(m, "$2.$3")
	})

	return strings.TrimSpace(out), info
}

type normalizeInfo struct {
	HadTableHints   bool
	HadOptionClause bool
	HadTop          bool
	HadPagination   bool
}

// replaceOutsideStrings applies a regex replacement only where the match
// falls outside string literals and comments.
func replaceOutsideStrings(sql string, re *regexp.Regexp, repl func(string) string) string {
	m := stripStrings(sql)
	locs := re.FindAllStringIndex(m, -1)
	if len(locs) == 0 {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql) + 16)
	prev := 0
	for _, loc := range locs {
		b.WriteString(sql[prev:loc[0]])
		b.WriteString(repl(sql[loc[0]:loc[1]]))
		prev = loc[1]
	}
	b.WriteString(sql[prev:])
	return b.String()
}

// Masked returns sql with string literals and line comments blanked, for
// callers that need to pattern-match statement structure without tripping on
// user data.
func Masked(sql string) string {
	return stripStrings(sql)
}

// stripStrings blanks out single-quoted literals (and line comments) so
// structural regexes cannot match inside user data.
func stripStrings(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	inString := false
	inComment := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
				b.WriteByte(c)
			} else {
				b.WriteByte(' ')
			}
		case inString:
			if c == '\'' {
				// Doubled quote escapes inside T-SQL strings.
				if i+1 < len(sql) && sql[i+1] == '\'' {
					b.WriteString("  ")
					i++
					continue
				}
				inString = false
			}
			b.WriteByte(' ')
		case c == '\'':
			inString = true
			b.WriteByte(' ')
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			inComment = true
			b.WriteString("  ")
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// splitBatches cuts a script on GO separator lines. GO is a client batch
// separator, not SQL, so it never reaches the parser.
func splitBatches(script string) []string {
	parts := reGoSeparator.Split(script, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
