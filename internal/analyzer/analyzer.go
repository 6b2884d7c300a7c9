// Package analyzer runs the static half of the review pipeline: security
// rules and the best-practice rule registry over parsed statements, producing
// findings and the baseline risk score.
package analyzer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/finding"
	"github.com/shaharwiener/mcp-sql-server/internal/parser"

	"vitess.io/vitess/go/vt/sqlparser"
)

// Result holds the AST analysis output consumed by the review orchestrator.
type Result struct {
	Script      *parser.Script
	Findings    []finding.Finding
	RiskScore   int
	IsReadOnly  bool
	HasWriteOps bool
	HasDDL      bool
	SyntaxError bool
}

// Analyzer applies the security rules and the registered best-practice rules.
type Analyzer struct {
	cfg         *config.Config
	logger      *zap.Logger
	stmtRules   []Rule
	scriptRules []Rule
}

// New builds an analyzer with the default rule registry.
func New(cfg *config.Config, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		cfg:         cfg,
		logger:      logger,
		stmtRules:   defaultStatementRules(),
		scriptRules: defaultScriptRules(),
	}
}

// Analyze parses and scores a script. A parse failure yields a single SYN001
// CRITICAL finding with risk 100.
func (a *Analyzer) Analyze(sql string) *Result {
	script, err := parser.Parse(sql)
	if err != nil {
		a.logger.Warn("parse error", zap.Error(err))
		return &Result{
			SyntaxError: true,
			RiskScore:   100,
			Findings: []finding.Finding{{
				Code:           "SYN001",
				Severity:       finding.Critical,
				Category:       finding.Maintainability,
				Title:          "SQL Syntax Error",
				Description:    err.Error(),
				Recommendation: "Fix the syntax error to allow further analysis.",
			}},
		}
	}

	res := &Result{
		Script:      script,
		IsReadOnly:  script.IsReadOnly(),
		HasWriteOps: script.HasWriteOps(),
		HasDDL:      script.HasDDL(),
	}

	// Repeated violations count once: dedupe happens as findings are added,
	// before they contribute to the score.
	seen := map[string]bool{}
	addBP := func(f finding.Finding) {
		key := f.Code + "\x00" + f.Description
		if seen[key] {
			return
		}
		seen[key] = true
		res.RiskScore += 5
		res.Findings = append(res.Findings, f)
	}

	weights := a.cfg.Safety.RiskWeights
	for _, stmt := range script.Statements {
		a.applySecurityRules(stmt, res, weights)

		rc := &RuleContext{Stmt: stmt, Script: script, Config: a.cfg}
		for _, rule := range a.stmtRules {
			for _, f := range a.runRule(rule, rc) {
				addBP(f)
			}
		}
	}

	rc := &RuleContext{Script: script, Config: a.cfg}
	for _, rule := range a.scriptRules {
		for _, f := range a.runRule(rule, rc) {
			addBP(f)
		}
	}

	res.Findings = finding.Dedupe(res.Findings)
	if res.RiskScore > 100 {
		res.RiskScore = 100
	}
	return res
}

// runRule isolates a single rule: a rule that panics loses its findings but
// never fails the analysis.
func (a *Analyzer) runRule(rule Rule, rc *RuleContext) (out []finding.Finding) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("rule failed", zap.String("rule", rule.Code), zap.Any("panic", r))
			out = nil
		}
	}()
	return rule.Check(rc)
}

func (a *Analyzer) applySecurityRules(stmt *parser.Statement, res *Result, weights config.RiskWeights) {
	if stmt.Tag.IsWrite() {
		res.RiskScore += 100
		res.Findings = append(res.Findings, finding.Finding{
			Code:           "SEC001",
			Severity:       finding.Critical,
			Category:       finding.Security,
			Title:          "Write Operation Detected",
			Description:    fmt.Sprintf("The script contains a %s statement which modifies data.", stmt.Tag),
			Recommendation: "Ensure this write operation is intended and authorized for the target environment.",
			Snippet:        finding.Snip(stmt.Raw, 100),
		})

		if missingWhere(stmt) {
			res.RiskScore += weights.NoWhereClause
			res.Findings = append(res.Findings, finding.Finding{
				Code:           "SEC002",
				Severity:       finding.Critical,
				Category:       finding.Security,
				Title:          fmt.Sprintf("Missing WHERE Clause in %s", stmt.Tag),
				Description:    fmt.Sprintf("Executing %s without a WHERE clause will affect ALL rows in the table.", stmt.Tag),
				Recommendation: "Add a WHERE clause to restrict the scope of the operation.",
				Snippet:        finding.Snip(stmt.Raw, 100),
			})
		}
	}

	if stmt.Tag.IsDDL() {
		res.RiskScore += weights.DDLStatement
		res.Findings = append(res.Findings, finding.Finding{
			Code:           "SEC003",
			Severity:       finding.High,
			Category:       finding.Security,
			Title:          "DDL Statement Detected",
			Description:    fmt.Sprintf("The script contains a %s statement which modifies the schema.", stmt.Tag),
			Recommendation: "DDL changes should be managed via migration tools, not ad-hoc scripts.",
			Snippet:        finding.Snip(stmt.Raw, 100),
		})
	}

	if stmt.Tag == parser.TagExec {
		res.RiskScore += weights.DynamicSQL
		res.Findings = append(res.Findings, finding.Finding{
			Code:           "SEC004",
			Severity:       finding.High,
			Category:       finding.Security,
			Title:          "Dynamic SQL Execution",
			Description:    "Dynamic SQL (EXEC/EXECUTE) allows arbitrary code execution and is hard to analyze.",
			Recommendation: "Replace dynamic SQL with static SQL or parameterized queries where possible.",
			Snippet:        finding.Snip(stmt.Raw, 100),
		})
	}

	if !a.cfg.Safety.AllowLinkedServers && stmt.UsesLinkedServer() {
		res.RiskScore += 100
		res.Findings = append(res.Findings, finding.Finding{
			Code:           "SEC005",
			Severity:       finding.Critical,
			Category:       finding.Security,
			Title:          "Linked Server Access Detected",
			Description:    "Query attempts to access linked servers, which is disabled for security reasons.",
			Recommendation: "Linked server access is not allowed. Use direct database connections instead.",
			Snippet:        finding.Snip(stmt.Raw, 100),
		})
	}

	if crossJoins(stmt) > 0 {
		res.RiskScore += weights.CrossJoin
		res.Findings = append(res.Findings, finding.Finding{
			Code:           "PERF001",
			Severity:       finding.Medium,
			Category:       finding.Performance,
			Title:          "Cross Join Detected",
			Description:    "Cross joins generate a Cartesian product of rows, which can be performance-intensive.",
			Recommendation: "Use an INNER JOIN with a specific ON condition instead.",
			Snippet:        finding.Snip(stmt.Raw, 100),
		})
	}
}

func missingWhere(stmt *parser.Statement) bool {
	switch s := stmt.AST.(type) {
	case *sqlparser.Delete:
		return s.Where == nil
	case *sqlparser.Update:
		return s.Where == nil
	}
	return false
}

// The grammar folds CROSS JOIN into a plain join node, so explicit cross
// joins are detected on the statement text instead of the tree.
func crossJoins(stmt *parser.Statement) int {
	return len(reCrossJoin.FindAllString(maskedText(stmt), -1))
}
