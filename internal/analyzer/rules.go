package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/finding"
	"github.com/shaharwiener/mcp-sql-server/internal/parser"

	"vitess.io/vitess/go/vt/sqlparser"
)

// RuleContext is the input to one rule invocation. Statement rules see Stmt;
// script rules see only Script.
type RuleContext struct {
	Stmt   *parser.Statement
	Script *parser.Script
	Config *config.Config
}

// Rule is one named best-practice predicate. New rules are added by
// registration, not by editing a dispatch site.
type Rule struct {
	Code  string
	Name  string
	Check func(rc *RuleContext) []finding.Finding
}

func bp(code, description, snippet string) finding.Finding {
	return finding.Finding{
		Code:           code,
		Severity:       finding.Low,
		Category:       finding.BestPractice,
		Title:          "Best Practice Violation",
		Description:    description,
		Recommendation: "Review the SQL best practices guide.",
		Snippet:        finding.Snip(snippet, 50),
	}
}

var (
	reCrossJoin     = regexp.MustCompile(`(?i)\bCROSS\s+JOIN\b`)
	reFullOuterJoin = regexp.MustCompile(`(?i)\bFULL\s+(?:OUTER\s+)?JOIN\b`)
	reDeclareCursor = regexp.MustCompile(`(?i)\bDECLARE\b[\s\S]*\bCURSOR\b`)
	reTableVariable = regexp.MustCompile(`(?i)\bDECLARE\s+@\w+\s+(?:AS\s+)?TABLE\b`)
	reCreateProc    = regexp.MustCompile(`(?i)\bCREATE\s+(?:OR\s+ALTER\s+)?PROC(?:EDURE)?\b`)
	reCreateProcSP  = regexp.MustCompile(`(?i)\bCREATE\s+(?:OR\s+ALTER\s+)?PROC(?:EDURE)?\s+(?:\w+\.)?sp_`)
	reBeginTran     = regexp.MustCompile(`(?i)\bBEGIN\s+TRAN(?:SACTION)?\b`)
	reSetNocount    = regexp.MustCompile(`(?i)\bSET\s+NOCOUNT\s+ON\b`)
	reSetXactAbort  = regexp.MustCompile(`(?i)\bSET\s+XACT_ABORT\s+ON\b`)
	reTryCatch      = regexp.MustCompile(`(?i)\bBEGIN\s+TRY\b[\s\S]*\bBEGIN\s+CATCH\b`)
	reCommitOrRoll  = regexp.MustCompile(`(?i)\b(?:COMMIT|ROLLBACK)\b`)
	reExecConcat    = regexp.MustCompile(`(?i)\bEXEC(?:UTE)?\s*\(`)
)

func maskedText(stmt *parser.Statement) string {
	return parser.Masked(stmt.Raw)
}

// defaultStatementRules returns the per-statement registry, BP001-BP012 and
// BP016-BP018, BP020-BP022.
func defaultStatementRules() []Rule {
	return []Rule{
		{Code: "BP001", Name: "wildcard select", Check: checkSelectStar},
		{Code: "BP002", Name: "schema prefix", Check: checkSchemaPrefix},
		{Code: "BP003", Name: "cross join", Check: checkCrossJoin},
		{Code: "BP004", Name: "function in where", Check: checkFunctionsInWhere},
		{Code: "BP005", Name: "or in where", Check: checkOrInWhere},
		{Code: "BP006", Name: "distinct", Check: checkDistinct},
		{Code: "BP007", Name: "in with subquery", Check: checkInSubquery},
		{Code: "BP008", Name: "cursor", Check: checkCursor},
		{Code: "BP009", Name: "scalar function in select", Check: checkScalarFuncInSelect},
		{Code: "BP010", Name: "large in list", Check: checkLargeInList},
		{Code: "BP011", Name: "union without all", Check: checkUnion},
		{Code: "BP012", Name: "implicit conversion", Check: checkImplicitConversion},
		{Code: "BP016", Name: "outer join", Check: checkOuterJoin},
		{Code: "BP017", Name: "table variable", Check: checkTableVariable},
		{Code: "BP018", Name: "unparameterized dynamic sql", Check: checkDynamicSQL},
		{Code: "BP020", Name: "nested subqueries", Check: checkNestedSubqueries},
		{Code: "BP021", Name: "select without top", Check: checkSelectWithoutTop},
		{Code: "BP022", Name: "sp_ prefix", Check: checkProcPrefix},
	}
}

// defaultScriptRules returns the whole-script registry: procedural rules that
// need visibility across statement boundaries, BP013-BP015 and BP019.
func defaultScriptRules() []Rule {
	return []Rule{
		{Code: "BP013", Name: "set nocount", Check: checkSetNocount},
		{Code: "BP014", Name: "set xact_abort", Check: checkSetXactAbort},
		{Code: "BP015", Name: "try/catch", Check: checkTryCatch},
		{Code: "BP019", Name: "unclosed transaction", Check: checkUnclosedTransaction},
	}
}

func checkSelectStar(rc *RuleContext) []finding.Finding {
	if !rc.Config.BestPractices.EnforceNoSelectStar || rc.Stmt.AST == nil {
		return nil
	}
	var out []finding.Finding
	walkAST(rc.Stmt.AST, func(node sqlparser.SQLNode) {
		// COUNT(*) parses as its own aggregate node, never a StarExpr.
		if _, ok := node.(*sqlparser.StarExpr); ok {
			out = append(out, bp("BP001",
				"Avoid 'SELECT *'. Specify columns explicitly for better performance and maintainability.",
				rc.Stmt.Raw))
		}
	})
	return out
}

func checkSchemaPrefix(rc *RuleContext) []finding.Finding {
	if !rc.Config.BestPractices.EnforceSchemaPrefix {
		return nil
	}
	var out []finding.Finding
	for _, o := range rc.Stmt.Objects {
		if o.Schema == "" && !strings.HasPrefix(o.Name, "#") {
			out = append(out, bp("BP002",
				fmt.Sprintf("Table '%s' missing schema prefix. Use 'schema.table' format.", o.Name),
				rc.Stmt.Raw))
		}
	}
	return out
}

func checkCrossJoin(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	if reCrossJoin.MatchString(maskedText(rc.Stmt)) {
		out = append(out, bp("BP003",
			"Cross join detected. Ensure this is intentional as it can severely impact performance.",
			rc.Stmt.Raw))
	}
	if sel, ok := rc.Stmt.AST.(*sqlparser.Select); ok && len(sel.From) > 1 {
		out = append(out, bp("BP003",
			"Implicit cross join detected (comma-separated tables). Use explicit JOIN syntax.",
			rc.Stmt.Raw))
	}
	return out
}

func checkFunctionsInWhere(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	walkWheres(rc.Stmt.AST, func(where *sqlparser.Where) {
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			if fn, ok := node.(*sqlparser.FuncExpr); ok && containsColumn(fn) {
				out = append(out, bp("BP004",
					fmt.Sprintf("Function '%s' wraps column in WHERE clause. This prevents index usage. Consider rewriting.",
						sqlparser.String(fn)),
					rc.Stmt.Raw))
			}
			return true, nil
		}, where)
	})
	return out
}

func checkOrInWhere(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	walkWheres(rc.Stmt.AST, func(where *sqlparser.Where) {
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			if _, ok := node.(*sqlparser.OrExpr); ok {
				out = append(out, bp("BP005",
					"OR condition in WHERE clause detected. Consider using UNION ALL for better index usage.",
					rc.Stmt.Raw))
			}
			return true, nil
		}, where)
	})
	return out
}

func checkDistinct(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	walkAST(rc.Stmt.AST, func(node sqlparser.SQLNode) {
		if sel, ok := node.(*sqlparser.Select); ok && sel.Distinct {
			out = append(out, bp("BP006",
				"DISTINCT detected. Ensure it's necessary as it adds processing overhead. Consider fixing duplicates at source.",
				rc.Stmt.Raw))
		}
	})
	return out
}

func checkInSubquery(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	walkAST(rc.Stmt.AST, func(node sqlparser.SQLNode) {
		if cmp, ok := node.(*sqlparser.ComparisonExpr); ok && cmp.Operator == sqlparser.InOp {
			if _, sub := cmp.Right.(*sqlparser.Subquery); sub {
				out = append(out, bp("BP007",
					"IN with subquery detected. Consider using EXISTS for better performance.",
					rc.Stmt.Raw))
			}
		}
	})
	return out
}

func checkCursor(rc *RuleContext) []finding.Finding {
	if reDeclareCursor.MatchString(maskedText(rc.Stmt)) {
		return []finding.Finding{bp("BP008",
			"Cursor detected. Cursors process rows one-by-one and are slow. Use set-based operations instead.",
			rc.Stmt.Raw)}
	}
	return nil
}

func checkScalarFuncInSelect(rc *RuleContext) []finding.Finding {
	sel, ok := rc.Stmt.AST.(*sqlparser.Select)
	if !ok {
		return nil
	}
	var out []finding.Finding
	for _, se := range sel.SelectExprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			continue
		}
		if fn, ok := ae.Expr.(*sqlparser.FuncExpr); ok {
			out = append(out, bp("BP009",
				fmt.Sprintf("Scalar function '%s' in SELECT. Consider alternatives like CROSS APPLY for better performance.",
					sqlparser.String(fn)),
				rc.Stmt.Raw))
		}
	}
	return out
}

func checkLargeInList(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	walkAST(rc.Stmt.AST, func(node sqlparser.SQLNode) {
		if cmp, ok := node.(*sqlparser.ComparisonExpr); ok && cmp.Operator == sqlparser.InOp {
			if tuple, ok := cmp.Right.(sqlparser.ValTuple); ok && len(tuple) > 100 {
				out = append(out, bp("BP010",
					fmt.Sprintf("Large IN list detected (%d values). Consider using temp table or JOIN for better performance.", len(tuple)),
					rc.Stmt.Raw))
			}
		}
	})
	return out
}

func checkUnion(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	walkAST(rc.Stmt.AST, func(node sqlparser.SQLNode) {
		if u, ok := node.(*sqlparser.Union); ok && u.Distinct {
			out = append(out, bp("BP011",
				"UNION detected. If duplicates are acceptable, use UNION ALL to avoid deduplication overhead.",
				rc.Stmt.Raw))
		}
	})
	return out
}

func checkImplicitConversion(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	walkAST(rc.Stmt.AST, func(node sqlparser.SQLNode) {
		cmp, ok := node.(*sqlparser.ComparisonExpr)
		if !ok || cmp.Operator != sqlparser.EqualOp {
			return
		}
		_, leftCol := cmp.Left.(*sqlparser.ColName)
		lit, rightLit := cmp.Right.(*sqlparser.Literal)
		if leftCol && rightLit && lit.Type == sqlparser.StrVal {
			out = append(out, bp("BP012",
				"Potential implicit conversion detected. Ensure data types match to avoid index scan.",
				rc.Stmt.Raw))
		}
	})
	return out
}

func checkOuterJoin(rc *RuleContext) []finding.Finding {
	var out []finding.Finding
	walkAST(rc.Stmt.AST, func(node sqlparser.SQLNode) {
		if j, ok := node.(*sqlparser.JoinTableExpr); ok {
			switch j.Join {
			case sqlparser.LeftJoinType, sqlparser.NaturalLeftJoinType:
				out = append(out, bp("BP016",
					"LEFT OUTER JOIN detected. Prefer INNER JOIN when possible for better performance.",
					rc.Stmt.Raw))
			case sqlparser.RightJoinType, sqlparser.NaturalRightJoinType:
				out = append(out, bp("BP016",
					"RIGHT OUTER JOIN detected. Prefer INNER JOIN when possible for better performance.",
					rc.Stmt.Raw))
			}
		}
	})
	if reFullOuterJoin.MatchString(maskedText(rc.Stmt)) {
		out = append(out, bp("BP016",
			"FULL OUTER JOIN detected. Prefer INNER JOIN when possible for better performance.",
			rc.Stmt.Raw))
	}
	return out
}

func checkTableVariable(rc *RuleContext) []finding.Finding {
	if reTableVariable.MatchString(maskedText(rc.Stmt)) {
		return []finding.Finding{bp("BP017",
			"Table variable detected. For large datasets, use temp tables (#temp) which support indexing.",
			rc.Stmt.Raw)}
	}
	return nil
}

func checkDynamicSQL(rc *RuleContext) []finding.Finding {
	if rc.Stmt.Tag != parser.TagExec {
		return nil
	}
	masked := maskedText(rc.Stmt)
	if strings.Contains(masked, "+") || reExecConcat.MatchString(masked) {
		return []finding.Finding{bp("BP018",
			"Dynamic SQL detected. Ensure inputs are parameterized to prevent SQL injection.",
			rc.Stmt.Raw)}
	}
	return nil
}

func checkNestedSubqueries(rc *RuleContext) []finding.Finding {
	if rc.Stmt.AST == nil {
		return nil
	}
	selects := 0
	walkAST(rc.Stmt.AST, func(node sqlparser.SQLNode) {
		if _, ok := node.(*sqlparser.Select); ok {
			selects++
		}
	})
	if selects > 3 {
		return []finding.Finding{bp("BP020",
			"Multiple subqueries detected. Consider converting to JOINs or CTEs for better performance.",
			rc.Stmt.Raw)}
	}
	return nil
}

func checkSelectWithoutTop(rc *RuleContext) []finding.Finding {
	sel, ok := rc.Stmt.AST.(*sqlparser.Select)
	if !ok {
		return nil
	}
	if rc.Stmt.HadTop || rc.Stmt.HadPagination || sel.Limit != nil {
		return nil
	}
	// A bare aggregate returns one row; capping it is noise.
	if len(sel.SelectExprs) == 1 {
		if ae, ok := sel.SelectExprs[0].(*sqlparser.AliasedExpr); ok {
			if isAggregate(ae.Expr) {
				return nil
			}
		}
	}
	return []finding.Finding{bp("BP021",
		"SELECT without TOP/OFFSET. Consider limiting result sets to reduce server load.",
		rc.Stmt.Raw)}
}

func checkProcPrefix(rc *RuleContext) []finding.Finding {
	if reCreateProcSP.MatchString(maskedText(rc.Stmt)) {
		return []finding.Finding{bp("BP022",
			"Stored procedure uses 'sp_' prefix. Use 'usp_' for user-defined procedures ('sp_' is for system procedures).",
			rc.Stmt.Raw)}
	}
	return nil
}

func checkSetNocount(rc *RuleContext) []finding.Finding {
	masked := parser.Masked(rc.Script.Raw)
	if reCreateProc.MatchString(masked) && !reSetNocount.MatchString(masked) {
		return []finding.Finding{bp("BP013",
			"Stored procedure missing 'SET NOCOUNT ON'. This reduces network traffic.",
			rc.Script.Raw)}
	}
	return nil
}

func checkSetXactAbort(rc *RuleContext) []finding.Finding {
	masked := parser.Masked(rc.Script.Raw)
	if reBeginTran.MatchString(masked) && !reSetXactAbort.MatchString(masked) {
		return []finding.Finding{bp("BP014",
			"Transaction missing 'SET XACT_ABORT ON'. This ensures automatic rollback on errors.",
			rc.Script.Raw)}
	}
	return nil
}

func checkTryCatch(rc *RuleContext) []finding.Finding {
	masked := parser.Masked(rc.Script.Raw)
	if (reBeginTran.MatchString(masked) || reCreateProc.MatchString(masked)) && !reTryCatch.MatchString(masked) {
		return []finding.Finding{bp("BP015",
			"Consider using TRY...CATCH blocks for error handling in procedures and transactions.",
			rc.Script.Raw)}
	}
	return nil
}

func checkUnclosedTransaction(rc *RuleContext) []finding.Finding {
	masked := parser.Masked(rc.Script.Raw)
	if reBeginTran.MatchString(masked) && !reCommitOrRoll.MatchString(masked) {
		return []finding.Finding{bp("BP019",
			"Transaction started but no COMMIT or ROLLBACK found. Ensure transactions are properly closed.",
			rc.Script.Raw)}
	}
	return nil
}

func walkAST(ast sqlparser.Statement, fn func(sqlparser.SQLNode)) {
	if ast == nil {
		return
	}
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		fn(node)
		return true, nil
	}, ast)
}

func walkWheres(ast sqlparser.Statement, fn func(*sqlparser.Where)) {
	walkAST(ast, func(node sqlparser.SQLNode) {
		if w, ok := node.(*sqlparser.Where); ok && w != nil {
			fn(w)
		}
	})
}

func containsColumn(node sqlparser.SQLNode) bool {
	found := false
	_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
		if _, ok := n.(*sqlparser.ColName); ok {
			found = true
			return false, nil
		}
		return true, nil
	}, node)
	return found
}

func isAggregate(expr sqlparser.Expr) bool {
	switch expr.(type) {
	case *sqlparser.CountStar, *sqlparser.Count, *sqlparser.Sum, *sqlparser.Avg, *sqlparser.Min, *sqlparser.Max:
		return true
	}
	return false
}
