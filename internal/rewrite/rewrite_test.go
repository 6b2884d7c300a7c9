package rewrite

import (
	"errors"
	"strings"
	"testing"
)

func TestInjectNolock(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			"single table",
			"SELECT id FROM dbo.T",
			"SELECT id FROM dbo.T WITH (NOLOCK)",
		},
		{
			"aliased table",
			"SELECT t.id FROM dbo.T t",
			"SELECT t.id FROM dbo.T t WITH (NOLOCK)",
		},
		{
			"as alias",
			"SELECT t.id FROM dbo.T AS t",
			"SELECT t.id FROM dbo.T AS t WITH (NOLOCK)",
		},
		{
			"join",
			"SELECT a.id FROM dbo.A a JOIN dbo.B b ON a.id = b.id",
			"SELECT a.id FROM dbo.A a WITH (NOLOCK) JOIN dbo.B b WITH (NOLOCK) ON a.id = b.id",
		},
		{
			"comma list",
			"SELECT a.id FROM dbo.A a, dbo.B b WHERE a.id = b.id",
			"SELECT a.id FROM dbo.A a WITH (NOLOCK), dbo.B b WITH (NOLOCK) WHERE a.id = b.id",
		},
		{
			"existing nolock untouched",
			"SELECT id FROM dbo.T WITH (NOLOCK)",
			"SELECT id FROM dbo.T WITH (NOLOCK)",
		},
		{
			"merged into existing hints",
			"SELECT id FROM dbo.T WITH (INDEX(1))",
			"SELECT id FROM dbo.T WITH (INDEX(1), NOLOCK)",
		},
		{
			"subquery tables covered",
			"SELECT x.id FROM (SELECT id FROM dbo.Inner) x",
			"SELECT x.id FROM (SELECT id FROM dbo.Inner WITH (NOLOCK)) x",
		},
		{
			"no from clause",
			"SELECT 1",
			"SELECT 1",
		},
		{
			"from in string untouched",
			"SELECT 'FROM dbo.X' AS note FROM dbo.T",
			"SELECT 'FROM dbo.X' AS note FROM dbo.T WITH (NOLOCK)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InjectNolock(tt.sql)
			if err != nil {
				t.Fatalf("InjectNolock error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestInjectNolock_FailsOnUnparseableReference(t *testing.T) {
	for _, sql := range []string{
		"SELECT x FROM",
		"SELECT x FROM 'literal'",
	} {
		if _, err := InjectNolock(sql); err == nil {
			t.Errorf("InjectNolock(%q) succeeded, want error", sql)
		} else {
			var ne *NolockError
			if !errors.As(err, &ne) {
				t.Errorf("error %T is not *NolockError", err)
			}
		}
	}
}

func TestInjectNolock_TableValuedFunctionSkipped(t *testing.T) {
	got, err := InjectNolock("SELECT f.v FROM dbo.fn_Split('a,b') f")
	if err != nil {
		t.Fatalf("InjectNolock error: %v", err)
	}
	if strings.Contains(got, "NOLOCK") {
		t.Errorf("hint added to a table-valued function: %q", got)
	}
}

func TestInjectNolock_Idempotent(t *testing.T) {
	inputs := []string{
		"SELECT id FROM dbo.T",
		"SELECT a.id FROM dbo.A a JOIN dbo.B b ON a.id = b.id",
		"SELECT id FROM dbo.T WITH (INDEX(1))",
	}
	for _, sql := range inputs {
		once, err := InjectNolock(sql)
		if err != nil {
			t.Fatalf("first pass error: %v", err)
		}
		twice, err := InjectNolock(once)
		if err != nil {
			t.Fatalf("second pass error: %v", err)
		}
		if once != twice {
			t.Errorf("not idempotent:\nonce  %q\ntwice %q", once, twice)
		}
	}
}

func TestEnsureResourceHints(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			"no option clause",
			"SELECT id FROM dbo.T",
			"SELECT id FROM dbo.T OPTION (MAXDOP 1, MAX_GRANT_PERCENT = 10)",
		},
		{
			"trailing semicolon dropped",
			"SELECT id FROM dbo.T;",
			"SELECT id FROM dbo.T OPTION (MAXDOP 1, MAX_GRANT_PERCENT = 10)",
		},
		{
			"merges into existing option",
			"SELECT id FROM dbo.T OPTION (RECOMPILE)",
			"SELECT id FROM dbo.T OPTION (RECOMPILE, MAXDOP 1, MAX_GRANT_PERCENT = 10)",
		},
		{
			"existing maxdop preserved",
			"SELECT id FROM dbo.T OPTION (MAXDOP 4)",
			"SELECT id FROM dbo.T OPTION (MAXDOP 4, MAX_GRANT_PERCENT = 10)",
		},
		{
			"both present untouched",
			"SELECT id FROM dbo.T OPTION (MAXDOP 4, MAX_GRANT_PERCENT = 25)",
			"SELECT id FROM dbo.T OPTION (MAXDOP 4, MAX_GRANT_PERCENT = 25)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnsureResourceHints(tt.sql, 1, 10); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestEnsureResourceHints_Idempotent(t *testing.T) {
	once := EnsureResourceHints("SELECT id FROM dbo.T OPTION (RECOMPILE)", 1, 10)
	twice := EnsureResourceHints(once, 1, 10)
	if once != twice {
		t.Errorf("not idempotent:\nonce  %q\ntwice %q", once, twice)
	}
	if strings.Count(twice, "OPTION") != 1 {
		t.Errorf("more than one OPTION clause: %q", twice)
	}
}

func TestApplyPagination(t *testing.T) {
	got, applied := ApplyPagination("SELECT id FROM dbo.T ORDER BY id", 10, 3)
	if !applied {
		t.Fatal("pagination not applied")
	}
	want := "SELECT id FROM dbo.T ORDER BY id OFFSET 20 ROWS FETCH NEXT 10 ROWS ONLY"
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestApplyPagination_AddsDummyOrder(t *testing.T) {
	got, applied := ApplyPagination("SELECT id FROM dbo.T", 5, 1)
	if !applied {
		t.Fatal("pagination not applied")
	}
	want := "SELECT id FROM dbo.T ORDER BY (SELECT NULL) OFFSET 0 ROWS FETCH NEXT 5 ROWS ONLY"
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestApplyPagination_SubqueryOrderDoesNotCount(t *testing.T) {
	sql := "SELECT x.id FROM (SELECT TOP 5 id FROM dbo.T ORDER BY id) x"
	got, applied := ApplyPagination(sql, 5, 1)
	if !applied {
		t.Fatal("pagination not applied")
	}
	if !strings.Contains(got, "ORDER BY (SELECT NULL)") {
		t.Errorf("dummy ordering missing when only a subquery orders: %q", got)
	}
}

func TestApplyPagination_SkipsExistingPagination(t *testing.T) {
	sql := "SELECT id FROM dbo.T ORDER BY id OFFSET 5 ROWS FETCH NEXT 5 ROWS ONLY"
	got, applied := ApplyPagination(sql, 10, 2)
	if applied {
		t.Error("pagination applied over existing clauses")
	}
	if got != sql {
		t.Errorf("statement modified: %q", got)
	}
}

func TestApplyPagination_BeforeOptionClause(t *testing.T) {
	got, applied := ApplyPagination("SELECT id FROM dbo.T ORDER BY id OPTION (RECOMPILE)", 10, 1)
	if !applied {
		t.Fatal("pagination not applied")
	}
	want := "SELECT id FROM dbo.T ORDER BY id OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY OPTION (RECOMPILE)"
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}
