package analyzer

import (
	"testing"

	"go.uber.org/zap"

	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/finding"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:           "Int",
		AvailableEnvironments: []string{"Int", "Stg", "Prd"},
		Safety: config.SafetyConfig{
			RiskWeights: config.RiskWeights{
				NoWhereClause: 100,
				CrossJoin:     80,
				WildcardSel:   20,
				DynamicSQL:    90,
				DDLStatement:  100,
			},
		},
		BestPractices: config.BestPracticesConfig{
			EnforceSchemaPrefix: true,
			EnforceNoSelectStar: true,
		},
	}
}

func newTestAnalyzer() *Analyzer {
	return New(testConfig(), zap.NewNop())
}

func newAnalyzerWith(cfg *config.Config) *Analyzer {
	return New(cfg, zap.NewNop())
}

func codes(findings []finding.Finding) map[string]int {
	out := map[string]int{}
	for _, f := range findings {
		out[f.Code]++
	}
	return out
}

func TestAnalyze_SelectStarMissingSchema(t *testing.T) {
	res := newTestAnalyzer().Analyze("SELECT * FROM Users")

	got := codes(res.Findings)
	if got["BP001"] == 0 {
		t.Error("missing BP001 for SELECT *")
	}
	if got["BP002"] == 0 {
		t.Error("missing BP002 for unqualified table")
	}
	if !res.IsReadOnly {
		t.Error("IsReadOnly = false, want true")
	}
	if res.HasWriteOps || res.HasDDL {
		t.Error("write/DDL flags set on a plain SELECT")
	}
	if res.RiskScore >= 80 {
		t.Errorf("risk score %d should stay below rejection for BP-only findings", res.RiskScore)
	}
}

func TestAnalyze_DeleteWithoutWhere(t *testing.T) {
	res := newTestAnalyzer().Analyze("DELETE FROM dbo.Users")

	got := codes(res.Findings)
	if got["SEC001"] == 0 {
		t.Error("missing SEC001 for write operation")
	}
	if got["SEC002"] == 0 {
		t.Error("missing SEC002 for missing WHERE")
	}
	if res.RiskScore != 100 {
		t.Errorf("risk score = %d, want 100", res.RiskScore)
	}
	if !res.HasWriteOps {
		t.Error("HasWriteOps = false, want true")
	}
	if res.IsReadOnly {
		t.Error("IsReadOnly = true, want false")
	}
}

func TestAnalyze_DeleteWithWhere(t *testing.T) {
	res := newTestAnalyzer().Analyze("DELETE FROM dbo.Users WHERE id = 1")
	got := codes(res.Findings)
	if got["SEC001"] == 0 {
		t.Error("missing SEC001")
	}
	if got["SEC002"] != 0 {
		t.Error("SEC002 must not fire when WHERE is present")
	}
}

func TestAnalyze_SyntaxError(t *testing.T) {
	res := newTestAnalyzer().Analyze("SELECT FROM WHERE !!!")
	if !res.SyntaxError {
		t.Fatal("SyntaxError = false")
	}
	if res.RiskScore != 100 {
		t.Errorf("risk score = %d, want 100", res.RiskScore)
	}
	if len(res.Findings) != 1 || res.Findings[0].Code != "SYN001" {
		t.Fatalf("findings = %+v, want single SYN001", res.Findings)
	}
	if res.Findings[0].Severity != finding.Critical {
		t.Errorf("SYN001 severity = %s, want CRITICAL", res.Findings[0].Severity)
	}
}

func TestAnalyze_DDL(t *testing.T) {
	res := newTestAnalyzer().Analyze("DROP TABLE dbo.Users")
	got := codes(res.Findings)
	if got["SEC003"] == 0 {
		t.Error("missing SEC003 for DDL")
	}
	if !res.HasDDL {
		t.Error("HasDDL = false")
	}
	if res.RiskScore != 100 {
		t.Errorf("risk score = %d, want 100 (clamped)", res.RiskScore)
	}
}

func TestAnalyze_DynamicSQL(t *testing.T) {
	res := newTestAnalyzer().Analyze("EXEC('SELECT * FROM ' + @tbl)")
	got := codes(res.Findings)
	if got["SEC004"] == 0 {
		t.Error("missing SEC004 for EXEC")
	}
	if got["BP018"] == 0 {
		t.Error("missing BP018 for unparameterized dynamic SQL")
	}
}

func TestAnalyze_LinkedServer(t *testing.T) {
	res := newTestAnalyzer().Analyze("SELECT id FROM RemoteSrv.Reporting.dbo.Users")
	if codes(res.Findings)["SEC005"] == 0 {
		t.Error("missing SEC005 for four-part name")
	}
	if res.RiskScore != 100 {
		t.Errorf("risk score = %d, want 100", res.RiskScore)
	}
}

func TestAnalyze_LinkedServerAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.Safety.AllowLinkedServers = true
	res := New(cfg, zap.NewNop()).Analyze("SELECT id FROM RemoteSrv.Reporting.dbo.Users")
	if codes(res.Findings)["SEC005"] != 0 {
		t.Error("SEC005 fired although linked servers are allowed")
	}
}

func TestAnalyze_ScoreClamp(t *testing.T) {
	res := newTestAnalyzer().Analyze(
		"DELETE FROM dbo.A; DELETE FROM dbo.B; DROP TABLE dbo.C; EXEC dbo.usp_X")
	if res.RiskScore != 100 {
		t.Errorf("risk score = %d, want clamped 100", res.RiskScore)
	}
}

func TestAnalyze_DedupesFindings(t *testing.T) {
	res := newTestAnalyzer().Analyze("SELECT * FROM Users WHERE a = 1 OR a = 2 OR a = 3")
	seen := map[string]int{}
	for _, f := range res.Findings {
		seen[f.Code+f.Description]++
	}
	for k, n := range seen {
		if n > 1 {
			t.Errorf("duplicate finding %q (%d times)", k, n)
		}
	}
}
