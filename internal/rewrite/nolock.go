package rewrite

import (
	"fmt"
	"regexp"
	"strings"
)

// Injection failures surface as this error so the executor can decide whether
// the environment requires the hint (fail-closed) or not.
type NolockError struct {
	Reason string
}

func (e *NolockError) Error() string {
	return fmt.Sprintf("NOLOCK injection failed: %s", e.Reason)
}

var reWord = regexp.MustCompile(`\[[^\]]*\]|[A-Za-z_@#][\w$]*|.`)

type token struct {
	text string
	pos  int
}

func tokenize(m string) []token {
	var toks []token
	for _, loc := range reWord.FindAllStringIndex(m, -1) {
		t := m[loc[0]:loc[1]]
		if strings.TrimSpace(t) == "" {
			continue
		}
		toks = append(toks, token{text: t, pos: loc[0]})
	}
	return toks
}

// Keywords that terminate a table reference; an identifier following a table
// name that is none of these is its alias.
var refTerminators = map[string]bool{
	"ON": true, "WHERE": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "CROSS": true, "OUTER": true, "GROUP": true,
	"ORDER": true, "OPTION": true, "UNION": true, "EXCEPT": true,
	"INTERSECT": true, "HAVING": true, "WITH": true, "AS": true, "SET": true,
	"PIVOT": true, "UNPIVOT": true, "FOR": true, "TABLESAMPLE": true,
	"SELECT": true, "AND": true, "OR": true, "NOT": true, "WHEN": true,
}

func isIdent(t string) bool {
	c := t[0]
	return c == '[' || c == '_' || c == '#' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// InjectNolock appends the shared-read hint to every table reference that
// does not already carry one, merging into an existing hint list rather than
// adding a second WITH clause (the dialect rejects two).
func InjectNolock(sql string) (string, error) {
	m := masked(sql)
	toks := tokenize(m)
	var edits []edit

	for i := 0; i < len(toks); i++ {
		w := strings.ToUpper(toks[i].text)
		if w != "FROM" && w != "JOIN" {
			continue
		}
		next, err := injectRefList(sql, toks, i+1, w == "FROM", &edits)
		if err != nil {
			return "", err
		}
		i = next - 1
	}

	return applyEdits(sql, edits), nil
}

// injectRefList handles one table reference, and for a FROM list, the
// comma-separated references that follow it. Returns the index of the first
// token past the list.
func injectRefList(sql string, toks []token, i int, fromList bool, edits *[]edit) (int, error) {
	for {
		var err error
		i, err = injectRef(sql, toks, i, edits)
		if err != nil {
			return 0, err
		}
		if !fromList || i >= len(toks) || toks[i].text != "," {
			return i, nil
		}
		i++
	}
}

func injectRef(sql string, toks []token, i int, edits *[]edit) (int, error) {
	if i >= len(toks) {
		return 0, &NolockError{Reason: "statement ends where a table reference was expected"}
	}

	// Derived table or subquery: the scanner will reach its inner FROM on its
	// own, nothing to inject here.
	if toks[i].text == "(" {
		return i, nil
	}
	if !isIdent(toks[i].text) {
		return 0, &NolockError{Reason: fmt.Sprintf("unexpected token %q after FROM/JOIN", toks[i].text)}
	}

	// Dotted name.
	end := i
	for end+2 < len(toks) && toks[end+1].text == "." && isIdent(toks[end+2].text) {
		end += 2
	}
	refEnd := toks[end].pos + len(toks[end].text)
	i = end + 1

	// A parenthesis straight after the name means a table-valued function;
	// table hints do not apply.
	if i < len(toks) && toks[i].text == "(" {
		return skipParens(toks, i), nil
	}

	// Optional alias.
	if i < len(toks) && strings.ToUpper(toks[i].text) == "AS" {
		if i+1 < len(toks) && isIdent(toks[i+1].text) {
			refEnd = toks[i+1].pos + len(toks[i+1].text)
			i += 2
		}
	} else if i < len(toks) && isIdent(toks[i].text) && !refTerminators[strings.ToUpper(toks[i].text)] {
		refEnd = toks[i].pos + len(toks[i].text)
		i++
	}

	// Existing hint list: merge, never duplicate, never add a second clause.
	if i+1 < len(toks) && strings.ToUpper(toks[i].text) == "WITH" && toks[i+1].text == "(" {
		close := skipParens(toks, i+1)
		if close == 0 || close > len(toks) {
			return 0, &NolockError{Reason: "unterminated table hint list"}
		}
		closePos := toks[close-1].pos
		inner := strings.ToUpper(sql[toks[i+1].pos+1 : closePos])
		if !strings.Contains(inner, "NOLOCK") && !strings.Contains(inner, "READUNCOMMITTED") {
			text := ", NOLOCK"
			if strings.TrimSpace(inner) == "" {
				text = "NOLOCK"
			}
			*edits = append(*edits, edit{pos: closePos, text: text})
		}
		return close, nil
	}

	*edits = append(*edits, edit{pos: refEnd, text: " WITH (NOLOCK)"})
	return i, nil
}

// skipParens returns the index just past the parenthesized group opening at
// index i.
func skipParens(toks []token, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch toks[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}
