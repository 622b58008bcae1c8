package db

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	q := `UPDATE shifts SET status=?, version=version+1 WHERE id=? AND note='?' AND version=?`
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := `UPDATE shifts SET status=$1, version=version+1 WHERE id=$2 AND note='?' AND version=$3`
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("postgres rebind = %s", got)
	}
	if got := MySQL.Rebind(q); got != q {
		t.Fatalf("mysql rebind changed query: %s", got)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": SQLite, "sqlite": SQLite, "postgres": Postgres, "pgx": Postgres, "MySQL": MySQL} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestTimeRoundTripSortsLexically(t *testing.T) {
	a := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	b := a.Add(1500 * time.Millisecond)
	sa, sb := FormatTime(a), FormatTime(b)
	if len(sa) != len(sb) || sa >= sb {
		t.Fatalf("not lexically ordered: %s %s", sa, sb)
	}
	got, err := ParseTime(sb)
	if err != nil || !got.Equal(b) {
		t.Fatalf("parse = %v, %v", got, err)
	}
	if p, err := ParseNullTime(sql.NullString{}); p != nil || err != nil {
		t.Fatalf("null time = %v, %v", p, err)
	}
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(context.Background(), Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if conn.Dialect != SQLite {
		t.Fatalf("dialect = %s", conn.Dialect)
	}
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign_keys = %d, %v", fk, err)
	}
}

func TestOpenRequiresDSNForServerDrivers(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected dsn error")
	}
}
