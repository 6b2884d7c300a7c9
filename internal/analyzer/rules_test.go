package analyzer

import (
	"fmt"
	"strings"
	"testing"
)

// analyzeCodes runs the full analyzer and returns the set of finding codes.
func analyzeCodes(t *testing.T, sql string) map[string]int {
	t.Helper()
	res := newTestAnalyzer().Analyze(sql)
	if res.SyntaxError {
		t.Fatalf("unexpected syntax error for %q: %+v", sql, res.Findings)
	}
	return codes(res.Findings)
}

func TestBestPracticeRules(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		want   string
		absent bool
	}{
		{"select star", "SELECT * FROM dbo.Users", "BP001", false},
		{"count star exempt", "SELECT COUNT(*) FROM dbo.Users", "BP001", true},
		{"missing schema", "SELECT id FROM Users", "BP002", false},
		{"temp table exempt from schema", "SELECT id FROM #staging", "BP002", true},
		{"cross join", "SELECT a.id FROM dbo.A a CROSS JOIN dbo.B b", "BP003", false},
		{"comma join", "SELECT a.id FROM dbo.A a, dbo.B b WHERE a.id = b.id", "BP003", false},
		{"function in where", "SELECT id FROM dbo.Users WHERE UPPER(name) = 'X'", "BP004", false},
		{"or in where", "SELECT id FROM dbo.Users WHERE a = 1 OR b = 2", "BP005", false},
		{"distinct", "SELECT DISTINCT name FROM dbo.Users", "BP006", false},
		{"in subquery", "SELECT id FROM dbo.Users WHERE id IN (SELECT user_id FROM dbo.Orders)", "BP007", false},
		{"cursor", "DECLARE cur CURSOR FOR SELECT id FROM dbo.Users", "BP008", false},
		{"scalar function in select", "SELECT UPPER(name) FROM dbo.Users", "BP009", false},
		{"union without all", "SELECT id FROM dbo.A UNION SELECT id FROM dbo.B", "BP011", false},
		{"union all exempt", "SELECT id FROM dbo.A UNION ALL SELECT id FROM dbo.B", "BP011", true},
		{"string literal comparison", "SELECT id FROM dbo.Users WHERE code = '42'", "BP012", false},
		{"proc without nocount", "CREATE PROCEDURE dbo.usp_X AS SELECT 1", "BP013", false},
		{"tran without xact_abort", "BEGIN TRANSACTION; COMMIT", "BP014", false},
		{"tran without try/catch", "BEGIN TRANSACTION; COMMIT", "BP015", false},
		{"left outer join", "SELECT a.id FROM dbo.A a LEFT JOIN dbo.B b ON a.id = b.id", "BP016", false},
		{"table variable", "DECLARE @t TABLE (id INT)", "BP017", false},
		{"unclosed transaction", "BEGIN TRANSACTION", "BP019", false},
		{"select without top", "SELECT id FROM dbo.Users", "BP021", false},
		{"top exempt", "SELECT TOP 10 id FROM dbo.Users", "BP021", true},
		{"count exempt from top", "SELECT COUNT(*) FROM dbo.Users", "BP021", true},
		{"sp_ prefix", "CREATE PROCEDURE dbo.sp_Report AS SELECT 1", "BP022", false},
		{"usp_ prefix exempt", "CREATE PROCEDURE dbo.usp_Report AS SELECT 1", "BP022", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analyzeCodes(t, tt.sql)
			if tt.absent && got[tt.want] != 0 {
				t.Errorf("%s fired for %q", tt.want, tt.sql)
			}
			if !tt.absent && got[tt.want] == 0 {
				t.Errorf("%s missing for %q (got %v)", tt.want, tt.sql, got)
			}
		})
	}
}

func TestBP010_LargeInList(t *testing.T) {
	values := make([]string, 101)
	for i := range values {
		values[i] = fmt.Sprint(i)
	}
	sql := "SELECT id FROM dbo.Users WHERE id IN (" + strings.Join(values, ", ") + ")"
	if analyzeCodes(t, sql)["BP010"] == 0 {
		t.Error("BP010 missing for 101-element IN list")
	}

	small := "SELECT id FROM dbo.Users WHERE id IN (1, 2, 3)"
	if analyzeCodes(t, small)["BP010"] != 0 {
		t.Error("BP010 fired for a small IN list")
	}
}

func TestBP020_NestedSubqueries(t *testing.T) {
	sql := `SELECT id FROM dbo.A WHERE id IN (
		SELECT a_id FROM dbo.B WHERE id IN (
			SELECT b_id FROM dbo.C WHERE id IN (
				SELECT c_id FROM dbo.D)))`
	if analyzeCodes(t, sql)["BP020"] == 0 {
		t.Error("BP020 missing for deeply nested subqueries")
	}
}

func TestRulesHonorConfigToggles(t *testing.T) {
	cfg := testConfig()
	cfg.BestPractices.EnforceNoSelectStar = false
	cfg.BestPractices.EnforceSchemaPrefix = false
	res := newAnalyzerWith(cfg).Analyze("SELECT * FROM Users")
	got := codes(res.Findings)
	if got["BP001"] != 0 {
		t.Error("BP001 fired with enforce_no_select_star disabled")
	}
	if got["BP002"] != 0 {
		t.Error("BP002 fired with enforce_schema_prefix disabled")
	}
}
