package allenfit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Document is the subset of an Allen fit file the extractor reads. Absent
// keys decode to zero values and are reported by Extract.
type Document struct {
	Genome     []GenomeBlock `json:"genome"`
	Conditions []Conditions  `json:"conditions"`
	Passive    []Passive     `json:"passive"`
}

// GenomeBlock is one (region, mechanism, parameter, value) assignment.
// An empty Mechanism means passive.
type GenomeBlock struct {
	Mechanism string `json:"mechanism"`
	Section   string `json:"section"`
	Name      string `json:"name"`
	Value     Number `json:"value"`
}

// Conditions carries the experimental conditions of the fit.
type Conditions struct {
	Celsius Number          `json:"celsius"`
	VInit   Number          `json:"v_init"`
	Erev    []ReversalGroup `json:"erev"`
}

// Passive carries whole-cell passive properties.
type Passive struct {
	Ra Number `json:"ra"`
}

// ReversalGroup lists the ion reversal potentials of one region. Ions keep
// the key order of the source object.
type ReversalGroup struct {
	Section string
	Ions    []IonPotential
}

// IonPotential is one e<ion> entry of a reversal group, e.g. "eca": "140.0".
type IonPotential struct {
	Key   string
	Value Number
}

// Number is the textual form of a numeric value. Fit files store numbers as
// strings or as bare JSON numbers; both decode into a Number. The empty
// Number means the value was absent or null.
type Number string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*n = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(s)
		return nil
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		*n = Number(data)
		return nil
	}
	return fmt.Errorf("%w, got %s", errNotNumber, data)
}

var errNotNumber = errors.New("expected a number or numeric string")

// Float parses the number as a finite decimal. Hexadecimal mantissas and the
// NaN and Inf spellings strconv would otherwise accept are rejected.
func (n Number) Float() (float64, error) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return 0, errors.New("value missing")
	}
	digits := strings.TrimLeft(s, "+-")
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		return 0, fmt.Errorf("not a decimal number: %q", string(n))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("not a number: %q", string(n))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", string(n))
	}
	return v, nil
}

// UnmarshalJSON decodes genome blocks one at a time so that a type error
// inside a block names the block it came from.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		Genome     []json.RawMessage `json:"genome"`
		Conditions []Conditions      `json:"conditions"`
		Passive    []Passive         `json:"passive"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Document{Conditions: raw.Conditions, Passive: raw.Passive}
	if raw.Genome != nil {
		out.Genome = make([]GenomeBlock, len(raw.Genome))
		for i, block := range raw.Genome {
			if err := json.Unmarshal(block, &out.Genome[i]); err != nil {
				return genomeBlockError(i, block, err)
			}
		}
	}
	*d = out
	return nil
}

// genomeBlockError reports a block that failed to decode. The reference is
// filled from whichever string fields the block still carries.
func genomeBlockError(index int, block json.RawMessage, err error) error {
	ref := BlockRef{Index: index}
	var fields map[string]json.RawMessage
	if json.Unmarshal(block, &fields) == nil {
		ref.Region = stringField(fields["section"])
		ref.Mechanism = stringField(fields["mechanism"])
		ref.Name = stringField(fields["name"])
	}
	path := fmt.Sprintf("genome[%d]", index)
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			path += "." + typeErr.Field
		}
		return &MalformedInputError{Path: path, Block: &ref, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
	case errors.Is(err, errNotNumber):
		path += ".value"
	}
	return &MalformedInputError{Path: path, Block: &ref, Err: err}
}

func stringField(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// UnmarshalJSON decodes the group while keeping the order of its ion keys.
func (g *ReversalGroup) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("reversal potential group must be an object")
	}
	out := ReversalGroup{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if key == "section" {
			if err := json.Unmarshal(raw, &out.Section); err != nil {
				return fmt.Errorf("section: %w", err)
			}
			continue
		}
		var value Number
		if err := value.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out.Ions = append(out.Ions, IonPotential{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*g = out
	return nil
}

// MarshalJSON writes the group back as a flat object in key order.
func (g ReversalGroup) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	section, err := json.Marshal(g.Section)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"section":`)
	buf.Write(section)
	for _, ion := range g.Ions {
		key, err := json.Marshal(ion.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(string(ion.Value))
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MaxDocumentBytes bounds the size of a fit document callers should read
// before handing it to Decode.
const MaxDocumentBytes = 8 << 20

// Decode parses a fit document. Syntax and type errors are reported as
// *MalformedInputError; missing keys are left for Extract to report.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, decodeError(err)
	}
	return &doc, nil
}

func decodeError(err error) error {
	var malformed *MalformedInputError
	if errors.As(err, &malformed) {
		return malformed
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &MalformedInputError{Path: typeErr.Field, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &MalformedInputError{Reason: fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset), Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &MalformedInputError{Reason: "truncated document", Err: err}
	}
	return &MalformedInputError{Err: err}
}
