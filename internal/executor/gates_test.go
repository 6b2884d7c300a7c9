package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/shaharwiener/mcp-sql-server/internal/config"
	"github.com/shaharwiener/mcp-sql-server/internal/sqlerr"
)

var errAny = errors.New("boom")

const expensivePlan = `<ShowPlanXML xmlns="http://schemas.microsoft.com/sqlserver/2004/07/showplan">
<BatchSequence><Batch><Statements>
<StmtSimple StatementSubTreeCost="12.5"><QueryPlan>
<RelOp PhysicalOp="Clustered Index Scan" EstimatedTotalSubtreeCost="12.5" EstimateRows="10"></RelOp>
</QueryPlan></StmtSimple>
</Statements></Batch></BatchSequence></ShowPlanXML>`

func expectPlanRetrieval(mock sqlmock.Sqlmock, query, planXML string) {
	mock.ExpectExec("SET SHOWPLAN_XML ON").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow(planXML))
	mock.ExpectExec("SET SHOWPLAN_XML OFF").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectRelease(mock sqlmock.Sqlmock) {
	mock.ExpectExec("IF @@TRANCOUNT > 0 ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(1))
}

func expectCreate(mock sqlmock.Sqlmock) {
	for _, stmt := range []string{
		"SET NOCOUNT ON", "SET XACT_ABORT ON", "SET LOCK_TIMEOUT",
		"SET DEADLOCK_PRIORITY LOW", "SET TRANSACTION ISOLATION LEVEL READ COMMITTED",
		"SET ARITHABORT ON",
	} {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func TestExecuteReadonly_CostGateRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Safety.EnableCostCheck = true
	cfg.Safety.MaxQueryCost = 1.0

	db, mock := newMockDB(t)
	expectCreate(mock)
	expectPlanRetrieval(mock, "SELECT id FROM dbo.T", expensivePlan)
	expectRelease(mock)

	exec := newTestExecutor(t, cfg, db, false)
	_, err := exec.ExecuteReadonly(context.Background(), Request{SQL: "SELECT id FROM dbo.T"})
	if !sqlerr.Is(err, sqlerr.QueryTooExpensive) {
		t.Errorf("error = %v, want QUERY_TOO_EXPENSIVE", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecuteReadonly_CostGateUnderThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Safety.EnableCostCheck = true
	cfg.Safety.MaxQueryCost = 50.0

	db, mock := newMockDB(t)
	expectCreate(mock)
	expectPlanRetrieval(mock, "SELECT id FROM dbo.T", expensivePlan)
	expectRelease(mock)
	// The released connection is validated on the way back out for the real
	// execution.
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(1))
	mock.ExpectQuery("SELECT id FROM dbo.T").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	expectRelease(mock)

	exec := newTestExecutor(t, cfg, db, false)
	res, err := exec.ExecuteReadonly(context.Background(), Request{SQL: "SELECT id FROM dbo.T"})
	if err != nil {
		t.Fatalf("ExecuteReadonly error: %v", err)
	}
	if res.RowCount != 1 {
		t.Errorf("RowCount = %d, want 1", res.RowCount)
	}
}

func TestExecuteReadonly_CostGateFailsOpen(t *testing.T) {
	cfg := testConfig()
	cfg.Safety.EnableCostCheck = true
	cfg.Safety.MaxQueryCost = 1.0

	db, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)
	expectCreate(mock)
	// Plan acquisition breaks; the gate must not cascade the failure.
	mock.ExpectExec("SET SHOWPLAN_XML ON").WillReturnError(errAny)
	mock.ExpectExec("SET SHOWPLAN_XML OFF").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("IF @@TRANCOUNT > 0 ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("IF @@TRANCOUNT > 0 ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(1))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(1))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(1))
	mock.ExpectQuery("SELECT id FROM dbo.T").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	exec := newTestExecutor(t, cfg, db, false)
	res, err := exec.ExecuteReadonly(context.Background(), Request{SQL: "SELECT id FROM dbo.T"})
	if err != nil {
		t.Fatalf("cost gate must fail open, got: %v", err)
	}
	if res.RowCount != 1 {
		t.Errorf("RowCount = %d, want 1", res.RowCount)
	}
}

func TestExecuteReadonly_NolockRewriteApplied(t *testing.T) {
	cfg := testConfig()
	cfg.AvailableEnvironments = []string{"Int", "Prd"}
	cfg.Database.Connections["Prd"] = config.Credentials{
		Server: "prd", Database: "ProdDB", Username: "ro", Password: config.Secret("pw"),
	}
	enabled := true
	cfg.Safety.EnvironmentOverrides = map[string]config.EnvOverride{
		"Prd": {EnableNolockHint: &enabled},
	}

	db, mock := newMockDB(t)
	expectCreate(mock)
	mock.ExpectQuery(`SELECT id FROM dbo.T WITH \(NOLOCK\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	expectRelease(mock)

	exec := newTestExecutor(t, cfg, db, false)
	res, err := exec.ExecuteReadonly(context.Background(),
		Request{SQL: "SELECT id FROM dbo.T", Env: "Prd"})
	if err != nil {
		t.Fatalf("ExecuteReadonly error: %v", err)
	}
	if !res.Limits.NolockEnabled {
		t.Error("limits_applied must report the shared-read hint")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("executed SQL missing the shared-read hint: %v", err)
	}
}

func TestExecuteReadonly_ResourceHintsApplied(t *testing.T) {
	cfg := testConfig()
	cfg.Safety.EnableResourceHints = true
	cfg.Safety.Maxdop = 1
	cfg.Safety.MaxGrantPercent = 10

	db, mock := newMockDB(t)
	expectCreate(mock)
	mock.ExpectQuery(`SELECT id FROM dbo.T OPTION \(MAXDOP 1, MAX_GRANT_PERCENT = 10\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	expectRelease(mock)

	exec := newTestExecutor(t, cfg, db, false)
	if _, err := exec.ExecuteReadonly(context.Background(), Request{SQL: "SELECT id FROM dbo.T"}); err != nil {
		t.Fatalf("ExecuteReadonly error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("executed SQL missing resource hints: %v", err)
	}
}
