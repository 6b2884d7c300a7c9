// Package parser turns raw T-SQL scripts into classified statements with
// their referenced objects. It consumes the Vitess SQL parser for everything
// the grammar can express and falls back to pre-pass matchers for procedural
// T-SQL.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"vitess.io/vitess/go/vt/sqlparser"
)

// Tag classifies a top-level statement.
type Tag string

const (
	TagSelect Tag = "SELECT"
	TagInsert Tag = "INSERT"
	TagUpdate Tag = "UPDATE"
	TagDelete Tag = "DELETE"
	TagMerge  Tag = "MERGE"
	TagCreate Tag = "CREATE"
	TagAlter  Tag = "ALTER"
	TagDrop   Tag = "DROP"
	TagExec   Tag = "EXEC"
	TagOther  Tag = "OTHER"
)

// IsWrite reports whether the tag modifies data.
func (t Tag) IsWrite() bool {
	return t == TagInsert || t == TagUpdate || t == TagDelete || t == TagMerge
}

// IsDDL reports whether the tag modifies schema.
func (t Tag) IsDDL() bool {
	return t == TagCreate || t == TagAlter || t == TagDrop
}

// ObjectRef is a referenced database object in up-to-four-part form.
type ObjectRef struct {
	Server  string
	Catalog string
	Schema  string
	Name    string
}

// Qualified returns the dotted name with all present parts.
func (o ObjectRef) Qualified() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{o.Server, o.Catalog, o.Schema, o.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// LinkedServer reports whether the reference crosses a server boundary.
func (o ObjectRef) LinkedServer() bool { return o.Server != "" }

// Statement is one classified top-level statement.
type Statement struct {
	Raw        string
	Normalized string
	Tag        Tag

	// AST is set only for statements the grammar parsed; pre-pass-classified
	// statements (EXEC, MERGE, procedural DDL, control flow) carry nil.
	AST sqlparser.Statement

	Objects []ObjectRef

	HadTableHints   bool
	HadOptionClause bool
	HadTop          bool
	HadPagination   bool
	HadSelectInto   bool
	UsesOpenRowset  bool
}

// UsesLinkedServer reports whether any reference is four-part or the
// statement calls a rowset-over-linked-server function.
func (s *Statement) UsesLinkedServer() bool {
	if s.UsesOpenRowset {
		return true
	}
	for _, o := range s.Objects {
		if o.LinkedServer() {
			return true
		}
	}
	return false
}

// Script is a parsed multi-statement input.
type Script struct {
	Raw        string
	Statements []*Statement
}

// IsReadOnly reports whether every statement is a plain SELECT.
func (s *Script) IsReadOnly() bool {
	if len(s.Statements) == 0 {
		return false
	}
	for _, st := range s.Statements {
		if st.Tag != TagSelect {
			return false
		}
	}
	return true
}

// HasWriteOps reports whether any statement modifies data.
func (s *Script) HasWriteOps() bool {
	for _, st := range s.Statements {
		if st.Tag.IsWrite() {
			return true
		}
	}
	return false
}

// HasDDL reports whether any statement modifies schema.
func (s *Script) HasDDL() bool {
	for _, st := range s.Statements {
		if st.Tag.IsDDL() {
			return true
		}
	}
	return false
}

// ReferencedObjects returns the deduplicated qualified names across all
// statements, in first-reference order.
func (s *Script) ReferencedObjects() []string {
	seen := map[string]bool{}
	var out []string
	for _, st := range s.Statements {
		for _, o := range st.Objects {
			q := o.Qualified()
			if q == "" || seen[q] {
				continue
			}
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

var (
	parserOnce      sync.Once
	globalParser    *sqlparser.Parser
	globalParserErr error
)

func getParser() (*sqlparser.Parser, error) {
	parserOnce.Do(func() {
		globalParser, globalParserErr = sqlparser.New(sqlparser.Options{})
	})
	return globalParser, globalParserErr
}

// ParseError marks input the dialect grammar rejected.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parsing SQL: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Table-position references, used to record multi-part object names before
// normalization collapses them.
var reQualifiedRef = regexp.MustCompile(`(?i)\b(?:FROM|JOIN|INTO|UPDATE|MERGE|USING|EXEC|EXECUTE)\s+((?:[A-Za-z_#][\w$]*\.){0,3}[A-Za-z_#][\w$]*)`)

// Bare keywords the positional matcher can capture in statements like
// MERGE ... WHEN MATCHED THEN UPDATE SET.
var notAnObject = map[string]bool{
	"SET": true, "SELECT": true, "FROM": true, "WHERE": true, "VALUES": true,
	"DELETE": true, "TOP": true, "DISTINCT": true, "INTO": true,
}

// Parse splits a script into statements and classifies each. A grammar
// rejection anywhere yields a *ParseError.
func Parse(script string) (*Script, error) {
	p, err := getParser()
	if err != nil {
		return nil, fmt.Errorf("creating parser: %w", err)
	}

	out := &Script{Raw: script}
	for _, batch := range splitBatches(script) {
		pieces, err := p.SplitStatementToPieces(batch)
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		for _, piece := range pieces {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			stmt, err := parseStatement(p, piece)
			if err != nil {
				return nil, err
			}
			out.Statements = append(out.Statements, stmt)
		}
	}
	return out, nil
}

func parseStatement(p *sqlparser.Parser, raw string) (*Statement, error) {
	stmt := &Statement{Raw: raw}
	masked := stripStrings(raw)

	stmt.Objects = extractQualifiedRefs(masked)
	stmt.UsesOpenRowset = reOpenRowset.MatchString(masked)

	switch {
	case reExecStmt.MatchString(raw):
		stmt.Tag = TagExec
		return stmt, nil
	case reMergeStmt.MatchString(raw):
		stmt.Tag = TagMerge
		return stmt, nil
	case reProcDDL.MatchString(raw):
		if strings.EqualFold(reProcDDL.FindStringSubmatch(raw)[1], "ALTER") {
			stmt.Tag = TagAlter
		} else {
			stmt.Tag = TagCreate
		}
		return stmt, nil
	case reCreate.MatchString(raw):
		stmt.Tag = TagCreate
		return stmt, nil
	case reAlter.MatchString(raw):
		stmt.Tag = TagAlter
		return stmt, nil
	case reDrop.MatchString(raw):
		stmt.Tag = TagDrop
		return stmt, nil
	case reTruncate.MatchString(raw), reControl.MatchString(raw):
		stmt.Tag = TagOther
		return stmt, nil
	}

	parseInput := raw
	if reSelectLike.MatchString(raw) && reSelectIntoClause.MatchString(masked) {
		stmt.HadSelectInto = true
		parseInput = reSelectIntoClause.ReplaceAllString(raw, "")
	}

	normalized, info := normalizeTSQL(parseInput)
	stmt.Normalized = normalized
	stmt.HadTableHints = info.HadTableHints
	stmt.HadOptionClause = info.HadOptionClause
	stmt.HadTop = info.HadTop
	stmt.HadPagination = info.HadPagination

	ast, err := p.Parse(normalized)
	if err != nil {
		if stmt.UsesOpenRowset && reSelectLike.MatchString(raw) {
			// The grammar has no production for rowset functions; the SELECT
			// is kept without a tree so the linked-server rule still sees it.
			stmt.Tag = TagSelect
			return stmt, nil
		}
		if !reDMLStart.MatchString(raw) {
			// Not recognizably DML and not parseable: classify rather than
			// reject, matching how unknown admin statements are handled.
			stmt.Tag = TagOther
			return stmt, nil
		}
		return nil, &ParseError{Err: err}
	}
	stmt.AST = ast
	stmt.Tag = classify(ast)
	stmt.Objects = mergeObjects(stmt.Objects, astTables(ast))
	return stmt, nil
}

func classify(ast sqlparser.Statement) Tag {
	switch ast.(type) {
	case *sqlparser.Select, *sqlparser.Union:
		return TagSelect
	case *sqlparser.Insert:
		return TagInsert
	case *sqlparser.Update:
		return TagUpdate
	case *sqlparser.Delete:
		return TagDelete
	case *sqlparser.CreateTable, *sqlparser.CreateDatabase, *sqlparser.CreateView:
		return TagCreate
	case *sqlparser.AlterTable, *sqlparser.AlterDatabase, *sqlparser.AlterView:
		return TagAlter
	case *sqlparser.DropTable, *sqlparser.DropDatabase, *sqlparser.DropView:
		return TagDrop
	default:
		return TagOther
	}
}

// astTables collects every table reference in the parsed tree.
func astTables(ast sqlparser.Statement) []ObjectRef {
	var refs []ObjectRef
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		// Column and star qualifiers (u.id, u.*) name aliases, not objects.
		switch node.(type) {
		case *sqlparser.ColName, *sqlparser.StarExpr:
			return false, nil
		}
		if tn, ok := node.(sqlparser.TableName); ok && tn.Name.String() != "" {
			refs = append(refs, ObjectRef{Schema: tn.Qualifier.String(), Name: tn.Name.String()})
		}
		return true, nil
	}, ast)
	return refs
}

// extractQualifiedRefs records multi-part names found in table positions.
func extractQualifiedRefs(masked string) []ObjectRef {
	var refs []ObjectRef
	for _, m := range reQualifiedRef.FindAllStringSubmatch(masked, -1) {
		name := strings.Trim(m[1], ".")
		parts := strings.Split(name, ".")
		if len(parts) == 1 && notAnObject[strings.ToUpper(parts[0])] {
			continue
		}
		var ref ObjectRef
		switch len(parts) {
		case 4:
			ref = ObjectRef{Server: parts[0], Catalog: parts[1], Schema: parts[2], Name: parts[3]}
		case 3:
			ref = ObjectRef{Catalog: parts[0], Schema: parts[1], Name: parts[2]}
		case 2:
			ref = ObjectRef{Schema: parts[0], Name: parts[1]}
		default:
			ref = ObjectRef{Name: parts[0]}
		}
		refs = append(refs, ref)
	}
	return refs
}

// mergeObjects unions regex-position refs with AST refs, preferring the
// multi-part spellings and deduplicating on the two rightmost parts.
func mergeObjects(positional, fromAST []ObjectRef) []ObjectRef {
	tail := func(o ObjectRef) string {
		return strings.ToLower(o.Schema + "." + o.Name)
	}
	seen := map[string]bool{}
	out := make([]ObjectRef, 0, len(positional)+len(fromAST))
	for _, o := range positional {
		if !seen[tail(o)] {
			seen[tail(o)] = true
			out = append(out, o)
		}
	}
	for _, o := range fromAST {
		k := tail(o)
		if seen[k] || seen[strings.ToLower("."+o.Name)] {
			continue
		}
		// An unqualified AST name may be the tail of an already-recorded
		// multi-part reference.
		if o.Schema == "" {
			dup := false
			for _, p := range out {
				if strings.EqualFold(p.Name, o.Name) {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
		}
		seen[k] = true
		out = append(out, o)
	}
	return out
}
