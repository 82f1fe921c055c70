package allenfit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cellfit/testutil"
)

func TestNumberAcceptsStringsAndNumbers(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{`"1.5"`, 1.5},
		{`" -2e-3 "`, -0.002},
		{`42`, 42},
		{`-0.25`, -0.25},
	}
	for _, tc := range cases {
		var n Number
		if err := json.Unmarshal([]byte(tc.raw), &n); err != nil {
			t.Fatalf("%s: unmarshal: %v", tc.raw, err)
		}
		got, err := n.Float()
		if err != nil {
			t.Fatalf("%s: float: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.raw, tc.want, got)
		}
	}
}

func TestNumberRejectsNonNumeric(t *testing.T) {
	var n Number
	if err := json.Unmarshal([]byte(`true`), &n); err == nil {
		t.Fatalf("expected error for boolean")
	}
	if err := json.Unmarshal([]byte(`null`), &n); err != nil {
		t.Fatalf("null should decode: %v", err)
	}
	if _, err := n.Float(); err == nil {
		t.Fatalf("expected missing value error")
	}
	if _, err := Number("1,5").Float(); err == nil {
		t.Fatalf("expected parse error")
	}
	for _, raw := range []string{"NaN", "nan", "inf", "+Inf", "-Infinity", "0x10", "-0X1p-2", "1e309"} {
		if v, err := Number(raw).Float(); err == nil {
			t.Fatalf("%s: expected rejection, got %v", raw, v)
		}
	}
}

func TestDecodeNamesOffendingBlock(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		path string
		want BlockRef
	}{
		{
			name: "boolean value",
			doc:  `{"genome": [{"section": "soma", "name": "cm", "value": "1"}, {"section": "soma", "mechanism": "", "name": "Ra", "value": true}]}`,
			path: "genome[1].value",
			want: BlockRef{Index: 1, Region: "soma", Name: "Ra"},
		},
		{
			name: "numeric section",
			doc:  `{"genome": [{"section": 5, "mechanism": "hh", "name": "gnabar_hh", "value": "0.1"}]}`,
			path: "genome[0].section",
			want: BlockRef{Index: 0, Mechanism: "hh", Name: "gnabar_hh"},
		},
		{
			name: "block not an object",
			doc:  `{"genome": [{"section": "soma", "name": "cm", "value": "1"}, "cm"]}`,
			path: "genome[1]",
			want: BlockRef{Index: 1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.doc))
			var malformed *MalformedInputError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected malformed input, got %v", err)
			}
			if malformed.Path != tc.path {
				t.Fatalf("want path %q, got %q", tc.path, malformed.Path)
			}
			ref, ok := Offending(err)
			if !ok {
				t.Fatalf("expected offending block in %v", err)
			}
			if ref != tc.want {
				t.Fatalf("want block %+v, got %+v", tc.want, ref)
			}
		})
	}
}

func TestReversalGroupRoundTrip(t *testing.T) {
	var g ReversalGroup
	if err := json.Unmarshal([]byte(`{"ena": "53", "section": "soma", "ek": -107}`), &g); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if g.Section != "soma" || len(g.Ions) != 2 || g.Ions[0].Key != "ena" || g.Ions[1].Key != "ek" {
		t.Fatalf("unexpected group %+v", g)
	}
	out, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"section":"soma","ena":"53","ek":"-107"}` {
		t.Fatalf("unexpected encoding %s", out)
	}
}

func TestReversalGroupRejectsNonObject(t *testing.T) {
	var g ReversalGroup
	if err := json.Unmarshal([]byte(`["soma"]`), &g); err == nil {
		t.Fatalf("expected error for array group")
	}
	if err := json.Unmarshal([]byte(`{"section": 3}`), &g); err == nil {
		t.Fatalf("expected error for numeric section")
	}
}

func TestKindAndOffending(t *testing.T) {
	ref := BlockRef{Index: 2, Region: "soma", Mechanism: "hh", Name: "gnabar"}
	cases := []struct {
		err  error
		kind string
	}{
		{&MalformedInputError{Path: "genome[2].value", Block: &ref}, KindMalformedInput},
		{&UnrecognizedPassiveParameterError{Block: ref}, KindUnrecognizedPassiveParameter},
		{&MissingMechanismSuffixError{Block: ref, Suffix: "_hh"}, KindMissingMechanismSuffix},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("ingest fit.json: %w", tc.err)
		if got := Kind(wrapped); got != tc.kind {
			t.Fatalf("want kind %s, got %s", tc.kind, got)
		}
		got, ok := Offending(wrapped)
		if !ok || got != ref {
			t.Fatalf("want block %+v, got %+v (%v)", ref, got, ok)
		}
		if !strings.Contains(tc.err.Error(), `region "soma"`) {
			t.Fatalf("error message should name the region: %s", tc.err)
		}
	}
	if Kind(errors.New("other")) != "" {
		t.Fatalf("foreign errors have no kind")
	}
	if _, ok := Offending(&MalformedInputError{Path: "passive[0].ra"}); ok {
		t.Fatalf("document-level errors have no offending block")
	}
}

func TestMalformedInputUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &MalformedInputError{Path: "conditions[0].celsius", Err: cause}
	if !errors.Is(err, cause) || !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected both the cause and the sentinel to match")
	}
}

// TestExtractorHasNoIO keeps the extractor free of filesystem, network and
// database access.
func TestExtractorHasNoIO(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ImportsAny("os", "net", "net/http", "database/sql", "cellfit/internal"), "allenfit is a pure transformation")
}
