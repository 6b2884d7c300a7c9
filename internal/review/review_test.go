package review

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/analyzer"
	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/finding"
)

const stubPlan = `<ShowPlanXML xmlns="http://schemas.microsoft.com/sqlserver/2004/07/showplan">
<BatchSequence><Batch><Statements>
<StmtSimple StatementSubTreeCost="3.5"><QueryPlan>
<RelOp PhysicalOp="Index Scan" EstimatedTotalSubtreeCost="3.5" EstimateRows="10">
<IndexScan><Object Schema="[dbo]" Table="[T]"/></IndexScan>
</RelOp>
</QueryPlan></StmtSimple>
</Statements></Batch></BatchSequence></ShowPlanXML>`

type stubPlanProvider struct {
	planXML string
	err     error
	calls   int
}

func (s *stubPlanProvider) EstimatedPlan(ctx context.Context, sql, env, database string) (string, error) {
	s.calls++
	return s.planXML, s.err
}

type stubMetadata struct {
	findings []finding.Finding
}

func (s *stubMetadata) SchemaFindings(ctx context.Context, env, database string) []finding.Finding {
	return s.findings
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:           "Int",
		AvailableEnvironments: []string{"Int", "Stg", "Prd"},
		Safety: config.SafetyConfig{
			RiskWeights: config.RiskWeights{
				NoWhereClause: 100, CrossJoin: 80, WildcardSel: 20,
				DynamicSQL: 90, DDLStatement: 100,
			},
		},
		BestPractices: config.BestPracticesConfig{
			EnforceSchemaPrefix: true,
			EnforceNoSelectStar: true,
		},
	}
}

func newService(plans PlanProvider, meta MetadataSource) *Service {
	cfg := testConfig()
	logger := zap.NewNop()
	return NewService(cfg, analyzer.New(cfg, logger), plans, meta, logger)
}

func TestReview_ApprovedSelect(t *testing.T) {
	svc := newService(nil, nil)
	res := svc.Review(context.Background(), "SELECT TOP 10 id FROM dbo.Users", "", "")
	if res.Summary.Status != Approved {
		t.Errorf("status = %s, want APPROVED (findings %v)", res.Summary.Status, res.Findings)
	}
	if !res.SafetyChecks.IsReadonly {
		t.Error("IsReadonly = false")
	}
	if res.PerformanceInsights.ExecutionPlanAvailable {
		t.Error("plan marked available with no provider")
	}
}

func TestReview_RejectedDelete(t *testing.T) {
	svc := newService(nil, nil)
	res := svc.Review(context.Background(), "DELETE FROM dbo.Users", "", "")
	if res.Summary.Status != Rejected {
		t.Errorf("status = %s, want REJECTED", res.Summary.Status)
	}
	if res.Summary.RiskScore != 100 {
		t.Errorf("risk = %d, want 100", res.Summary.RiskScore)
	}
	if res.Summary.TopSeverity != finding.Critical {
		t.Errorf("top severity = %s, want CRITICAL", res.Summary.TopSeverity)
	}
	if !res.SafetyChecks.HasWriteOps {
		t.Error("HasWriteOps = false")
	}
}

func TestReview_SyntaxErrorShortCircuits(t *testing.T) {
	plans := &stubPlanProvider{planXML: stubPlan}
	svc := newService(plans, nil)
	res := svc.Review(context.Background(), "SELECT FROM WHERE !!!", "", "")
	if res.Summary.Status != Rejected || res.Summary.RiskScore != 100 {
		t.Errorf("summary = %+v, want rejected/100", res.Summary)
	}
	if plans.calls != 0 {
		t.Error("plan acquisition attempted on a syntactically invalid statement")
	}
	if res.PerformanceInsights.ExecutionPlanAvailable {
		t.Error("execution_plan_available must stay false on syntax rejection")
	}
}

func TestReview_PlanFindingsEscalateScore(t *testing.T) {
	svc := newService(&stubPlanProvider{planXML: stubPlan}, nil)
	res := svc.Review(context.Background(), "SELECT TOP 10 id FROM dbo.Users", "", "")

	if !res.PerformanceInsights.ExecutionPlanAvailable {
		t.Fatal("plan not marked available")
	}
	if res.PerformanceInsights.EstimatedCost == nil || *res.PerformanceInsights.EstimatedCost != 3.5 {
		t.Errorf("estimated cost = %v, want 3.5", res.PerformanceInsights.EstimatedCost)
	}
	// The index-scan finding is HIGH: +15 over the AST baseline of 0.
	if res.Summary.RiskScore != 15 {
		t.Errorf("risk = %d, want 15", res.Summary.RiskScore)
	}
	hasBP025 := false
	for _, f := range res.Findings {
		if f.Code == "BP025" {
			hasBP025 = true
		}
	}
	if !hasBP025 {
		t.Errorf("BP025 missing from findings: %v", res.Findings)
	}
}

func TestReview_PlanFailureIsNotFatal(t *testing.T) {
	svc := newService(&stubPlanProvider{err: fmt.Errorf("connection refused")}, nil)
	res := svc.Review(context.Background(), "SELECT TOP 10 id FROM dbo.Users", "", "")
	if res.Summary.Status != Approved {
		t.Errorf("status = %s, want APPROVED despite plan failure", res.Summary.Status)
	}
	if res.PerformanceInsights.ExecutionPlanAvailable {
		t.Error("plan marked available after failure")
	}
}

func TestReview_MetadataEscalation(t *testing.T) {
	meta := &stubMetadata{}
	for i := 0; i < 6; i++ {
		meta.findings = append(meta.findings, finding.Finding{
			Code:        fmt.Sprintf("BP03%d", i+2),
			Severity:    finding.Medium,
			Category:    finding.Reliability,
			Title:       "Metadata Issue",
			Description: fmt.Sprintf("issue %d", i),
		})
	}
	svc := newService(nil, meta)
	res := svc.Review(context.Background(), "SELECT TOP 10 id FROM dbo.Users", "", "")
	// 6 MEDIUM metadata findings: +30 over baseline 0 crosses into WARNING.
	if res.Summary.Status != Warning {
		t.Errorf("status = %s, want WARNING (risk %d)", res.Summary.Status, res.Summary.RiskScore)
	}
	if res.Summary.Verdict != verdictPlanEscalation {
		t.Errorf("verdict = %q, want escalation verdict", res.Summary.Verdict)
	}
}

func TestReview_StatusMonotonicity(t *testing.T) {
	svc := newService(nil, nil)
	base := svc.Review(context.Background(), "SELECT TOP 10 id FROM dbo.Users", "", "")
	more := svc.Review(context.Background(), "SELECT * FROM Users", "", "")
	if Worse(base.Summary.Status, more.Summary.Status) {
		t.Errorf("status went down with strictly more findings: %s -> %s",
			base.Summary.Status, more.Summary.Status)
	}
}

func TestBlockingContract(t *testing.T) {
	r := &Result{Findings: []finding.Finding{
		{Code: "SEC001", Severity: finding.Critical, Category: finding.Security},
		{Code: "BP024", Severity: finding.High, Category: finding.Performance},
		{Code: "BP001", Severity: finding.High, Category: finding.BestPractice},
		{Code: "BP032", Severity: finding.Medium, Category: finding.Reliability},
	}}
	blocking := r.BlockingFindings()
	if len(blocking) != 2 {
		t.Fatalf("blocking = %d findings, want 2 (best-practice and MEDIUM never block)", len(blocking))
	}
	for _, f := range blocking {
		if f.Category == finding.BestPractice {
			t.Error("best-practice finding in blocking set")
		}
	}
}
