package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cellfit/internal/blob/core"
)

func TestStore_Missing(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected delete false")
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()
	md := map[string]string{"source": "fits/a.json"}
	info, err := store.Put(ctx, "exports/a/fit.json", strings.NewReader(`{"a":1}`), core.PutOptions{ContentType: "application/json", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["source"] = "mutated"
	if info.Size != 7 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "exports/a/fit.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := store.Get(ctx, "exports/a/fit.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"a":1}` || got.Metadata["source"] != "fits/a.json" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	got.Metadata["source"] = "changed"
	head, _ := store.Head(ctx, "exports/a/fit.json")
	if head.Metadata["source"] != "fits/a.json" {
		t.Fatalf("metadata aliased across calls")
	}
	if _, err := store.Put(ctx, "fits/b.json", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("put empty: %v", err)
	}
	list, err := store.List(ctx, "fits/")
	if err != nil || len(list) != 1 || list[0].Key != "fits/b.json" {
		t.Fatalf("unexpected list %+v (%v)", list, err)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 2 || all[0].Key != "exports/a/fit.json" {
		t.Fatalf("list not ordered: %+v", all)
	}
	if ok, err := store.Delete(ctx, "fits/b.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("fail") }

func TestStore_PutErrors(t *testing.T) {
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver")
	}
	if _, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := store.Put(context.Background(), " ", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
	if list, _ := store.List(context.Background(), ""); len(list) != 0 {
		t.Fatalf("failed puts must not store anything")
	}
}
