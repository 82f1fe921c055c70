package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"cellfit/internal/blob/core"
)

func TestStore_MockedFlow(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if store.Driver() != core.DriverS3 || store.Bucket() != "mock-bucket" {
		t.Fatalf("unexpected store identity")
	}
	payload := []byte(`{"genome":[]}`)
	info, err := store.Put(ctx, "fits/cell.json", bytes.NewReader(payload), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"specimen": "471087975"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ContentType != "application/json" || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["specimen"] != "471087975" {
		t.Fatalf("metadata lost: %+v", info.Metadata)
	}
	if _, err := store.Put(ctx, "fits/cell.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := store.Get(ctx, "fits/cell.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(body, payload) {
		t.Fatalf("unexpected body %q", body)
	}
	ok, err := store.Delete(ctx, "fits/cell.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "fits/cell.json")
	if err != nil || ok {
		t.Fatalf("second delete should report false: %v %v", ok, err)
	}
	if _, err := store.Head(ctx, "fits/cell.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "fits/cell.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestStore_ListPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	for i := 4; i >= 0; i-- {
		key := fmt.Sprintf("fits/%d.json", i)
		if _, err := store.Put(ctx, key, strings.NewReader("{}"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "exports/x/fit.csv", strings.NewReader("kind"), core.PutOptions{}); err != nil {
		t.Fatalf("put export: %v", err)
	}
	list, err := store.List(ctx, "fits/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 5 {
		t.Fatalf("expected 5 fits across pages, got %d", len(list))
	}
	for i, inf := range list {
		if inf.Key != fmt.Sprintf("fits/%d.json", i) || inf.Size != 2 {
			t.Fatalf("unexpected entry %d: %+v", i, inf)
		}
	}
	empty, err := store.List(ctx, "none/")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v %v", empty, err)
	}
}

func TestStore_EmptyKey(t *testing.T) {
	if _, err := NewMockForTests().Put(context.Background(), "", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket required error")
	}
	store, err := New(context.Background(), Config{Bucket: "fits", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "a", SecretAccessKey: "b"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Bucket() != "fits" {
		t.Fatalf("unexpected bucket %s", store.Bucket())
	}
}

func TestDecodeChunked(t *testing.T) {
	got, err := decodeChunked([]byte("5\r\nhello\r\n6;chunk-signature=abc\r\n world\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	if err != nil || string(got) != "hello world" {
		t.Fatalf("unexpected decode %q %v", got, err)
	}
	for _, bad := range []string{"zz\r\n", "5\r\nhi", "5"} {
		if _, err := decodeChunked([]byte(bad)); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestFakeBucketUnsupportedMethod(t *testing.T) {
	f := &fakeBucket{objects: map[string]fakeObject{}}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/mock-bucket/k", nil)
	resp, err := f.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %v %v", resp, err)
	}
}
