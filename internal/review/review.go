// Package review composes static analysis, execution-plan analysis, and
// catalog metadata analysis into a single scored verdict.
package review

import (
	"context"

	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/analyzer"
	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/finding"
	"github.com/shaharwiener/mcp-sql-server/internal/plan"
)

// PlanProvider supplies estimated execution plans. The execution engine
// implements it; passing it in here keeps the dependency one-directional.
type PlanProvider interface {
	EstimatedPlan(ctx context.Context, sql, env, database string) (string, error)
}

// MetadataSource supplies schema-health findings for a target database.
type MetadataSource interface {
	SchemaFindings(ctx context.Context, env, database string) []finding.Finding
}

// Service orchestrates the three analyzers.
type Service struct {
	cfg      *config.Config
	analyzer *analyzer.Analyzer
	plans    PlanProvider
	metadata MetadataSource
	logger   *zap.Logger
}

// NewService builds the orchestrator. plans and metadata may be nil, in which
// case the corresponding analysis is skipped.
func NewService(cfg *config.Config, a *analyzer.Analyzer, plans PlanProvider,
	metadata MetadataSource, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, analyzer: a, plans: plans, metadata: metadata, logger: logger}
}

// Review analyzes sql against env/database and returns the merged report.
func (s *Service) Review(ctx context.Context, sql, env, database string) *Result {
	env = s.cfg.ResolveEnvironment(env)

	ast := s.analyzer.Analyze(sql)
	result := &Result{
		SafetyChecks: SafetyChecks{
			IsReadonly:  ast.IsReadOnly,
			HasWriteOps: ast.HasWriteOps,
			HasDDL:      ast.HasDDL,
		},
		Findings: ast.Findings,
	}
	if ast.Script != nil {
		result.SchemaContext.ReferencedObjects = ast.Script.ReferencedObjects()
	}

	// A script the grammar rejected is final: no plan is ever sought for a
	// syntactically invalid statement.
	if ast.SyntaxError {
		result.Summary = Summary{
			Status:      Rejected,
			RiskScore:   100,
			Verdict:     verdictSyntaxError,
			TopSeverity: finding.Critical,
		}
		return result
	}

	planFindings := s.planFindings(ctx, sql, env, database, result)
	metaFindings := s.metaFindings(ctx, env, database)
	result.Findings = finding.Dedupe(append(result.Findings, append(planFindings, metaFindings...)...))

	// Plan and metadata findings escalate the baseline score.
	score := ast.RiskScore
	for _, f := range append(planFindings, metaFindings...) {
		switch f.Severity {
		case finding.High:
			score += 15
		case finding.Medium:
			score += 5
		}
	}
	if score > 100 {
		score = 100
	}

	status := statusFor(score)
	verdict := verdictFor(status)
	if status != Approved && score > ast.RiskScore && statusFor(ast.RiskScore) != status {
		verdict = verdictPlanEscalation
	}

	result.Summary = Summary{
		Status:      status,
		RiskScore:   score,
		Verdict:     verdict,
		TopSeverity: finding.TopSeverity(result.Findings),
	}
	return result
}

// planFindings runs plan acquisition and plan-shape analysis. Any failure is
// logged and contributes nothing; plan analysis never fails a review.
func (s *Service) planFindings(ctx context.Context, sql, env, database string, result *Result) []finding.Finding {
	if s.plans == nil {
		return nil
	}
	planXML, err := s.plans.EstimatedPlan(ctx, sql, env, database)
	if err != nil {
		s.logger.Warn("execution plan analysis failed", zap.String("env", env), zap.Error(err))
		return nil
	}
	parsed, err := plan.Parse(planXML)
	if err != nil {
		s.logger.Warn("execution plan unparseable", zap.String("env", env), zap.Error(err))
		return nil
	}
	result.PerformanceInsights.ExecutionPlanAvailable = true
	cost := parsed.Cost()
	result.PerformanceInsights.EstimatedCost = &cost
	return parsed.Findings()
}

func (s *Service) metaFindings(ctx context.Context, env, database string) []finding.Finding {
	if s.metadata == nil {
		return nil
	}
	return s.metadata.SchemaFindings(ctx, env, database)
}
