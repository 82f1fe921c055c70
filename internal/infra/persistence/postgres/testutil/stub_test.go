package testutil

import (
	"context"
	"database/sql/driver"
	"io"
	"testing"
)

func TestStubFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	insert := "INSERT INTO fits (id, digest, created_at) VALUES ($1, $2, $3)"
	for _, row := range [][]any{{"b", "d2", int64(100)}, {"a", "d1", int64(100)}, {"c", "d3", int64(99)}} {
		args := []driver.NamedValue{{Ordinal: 1, Value: row[0]}, {Ordinal: 2, Value: row[1]}, {Ordinal: 3, Value: row[2]}}
		if _, err := conn.ExecContext(ctx, insert, args); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	rows, err := conn.QueryContext(ctx, "SELECT id FROM fits ORDER BY created_at, id", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var got []string
	dest := make([]driver.Value, 1)
	for rows.Next(dest) != io.EOF {
		got = append(got, dest[0].(string))
	}
	if len(got) != 3 || got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("unexpected order %v", got)
	}
	rows, err = conn.QueryContext(ctx, "SELECT id FROM fits WHERE id = $1 OR digest = $2", []driver.NamedValue{{Value: "zz"}, {Value: "d3"}})
	if err != nil {
		t.Fatalf("query where: %v", err)
	}
	if err := rows.Next(dest); err != nil || dest[0] != "c" {
		t.Fatalf("expected c by digest, got %v %v", dest[0], err)
	}
	if err := rows.Next(dest); err != io.EOF {
		t.Fatalf("expected single match, got %v", err)
	}
}

func TestStubParseErrors(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	for _, q := range []string{"UPDATE fits SET id = 1", "SELECT id", "SELECT id FROM fits WHERE id = ?"} {
		if _, err := conn.QueryContext(ctx, q, nil); err == nil {
			t.Errorf("expected parse error for %q", q)
		}
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO fits id VALUES 1", nil); err == nil {
		t.Fatalf("expected insert parse error")
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO fits (id) VALUES ($1)", nil); err == nil {
		t.Fatalf("expected arg mismatch error")
	}
}
