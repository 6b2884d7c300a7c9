package parser

import "testing"

// Parse must never panic, whatever the input: every malformed script has to
// come back as either a classified statement list or a ParseError.
func FuzzParse(f *testing.F) {
	seeds := []string{
		"SELECT id FROM dbo.Users",
		"SELECT * FROM [dbo].[Users] WITH (NOLOCK) OPTION (MAXDOP 1)",
		"DELETE FROM dbo.T",
		"EXEC('DROP TABLE ' + @t)",
		"SELECT 1; SELECT 2\nGO\nSELECT 3",
		"WITH c AS (SELECT 1 AS x) SELECT x FROM c",
		"SELECT id FROM srv.cat.dbo.T",
		"SELECT 'unterminated",
		"-- only a comment",
		"SELECT TOP (5) a.b.c FROM x.y.z ORDER BY 1 OFFSET 5 ROWS",
		"))(('",
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, sql string) {
		script, err := Parse(sql)
		if err != nil {
			return
		}
		for _, stmt := range script.Statements {
			if stmt.Tag == "" {
				t.Errorf("statement without tag: %q", stmt.Raw)
			}
		}
		_ = script.ReferencedObjects()
		_, _ = ValidateReadOnly(sql)
	})
}

func BenchmarkParse(b *testing.B) {
	sql := "SELECT u.id, u.name FROM dbo.Users u WITH (NOLOCK) JOIN dbo.Orders o ON o.user_id = u.id WHERE o.total > 100 ORDER BY u.id OPTION (MAXDOP 1)"
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(sql); err != nil {
			b.Fatal(err)
		}
	}
}
