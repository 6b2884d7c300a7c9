package analyzer

import (
	"testing"

	"go.uber.org/zap"
)

func BenchmarkAnalyze(b *testing.B) {
	a := New(testConfig(), zap.NewNop())
	sql := `SELECT u.id, u.name, UPPER(u.email)
		FROM Users u
		LEFT JOIN dbo.Orders o ON o.user_id = u.id
		WHERE YEAR(o.created_at) = 2024 OR o.total > 100`
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		res := a.Analyze(sql)
		if res.SyntaxError {
			b.Fatal("unexpected syntax error")
		}
	}
}
