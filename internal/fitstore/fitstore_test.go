package fitstore

import (
	"errors"
	"strings"
	"testing"
)

func TestRecordValidate(t *testing.T) {
	if err := (Record{ID: "a", Digest: "d"}).Validate(); err != nil {
		t.Fatalf("expected valid record: %v", err)
	}
	if err := (Record{Digest: "d"}).Validate(); err == nil {
		t.Fatalf("expected id error")
	}
	if err := (Record{ID: "a"}).Validate(); err == nil || !strings.Contains(err.Error(), "digest") {
		t.Fatalf("expected digest error, got %v", err)
	}
}

func TestErrorHelpers(t *testing.T) {
	if err := NotFound("id", "x"); !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "id x") {
		t.Fatalf("unexpected not found error %v", err)
	}
	if err := Exists(Record{ID: "a", Digest: "d"}); !errors.Is(err, ErrExists) || !strings.Contains(err.Error(), "digest d") {
		t.Fatalf("unexpected exists error %v", err)
	}
}
