package allenfit

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrMalformedInput               = errors.New("allenfit: malformed input")
	ErrUnrecognizedPassiveParameter = errors.New("allenfit: unrecognized passive parameter")
	ErrMissingMechanismSuffix       = errors.New("allenfit: active mechanism parameter missing expected name suffix")
)

// BlockRef identifies a genome block in diagnostics. Mechanism is the value
// found in the document, empty for passive blocks.
type BlockRef struct {
	Index     int    `json:"index"`
	Region    string `json:"region"`
	Mechanism string `json:"mechanism"`
	Name      string `json:"name"`
}

func (b BlockRef) String() string {
	return fmt.Sprintf("genome[%d] (region %q, mechanism %q, parameter %q)", b.Index, b.Region, b.Mechanism, b.Name)
}

// MalformedInputError reports a missing key or a value of the wrong type.
type MalformedInputError struct {
	// Path locates the offending value, e.g. "conditions[0].v_init".
	Path string
	// Block is set when the value belongs to a genome block.
	Block  *BlockRef
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	msg := "allenfit: malformed input"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Block != nil {
		msg += " in " + e.Block.String()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Is matches ErrMalformedInput.
func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }

// UnrecognizedPassiveParameterError reports a passive block whose name is not
// one of cm, Ra, Vm or celsius.
type UnrecognizedPassiveParameterError struct {
	Block BlockRef
}

func (e *UnrecognizedPassiveParameterError) Error() string {
	return fmt.Sprintf("allenfit: unknown passive parameter name %q in %s", e.Block.Name, e.Block)
}

// Is matches ErrUnrecognizedPassiveParameter.
func (e *UnrecognizedPassiveParameterError) Is(target error) bool {
	return target == ErrUnrecognizedPassiveParameter
}

// MissingMechanismSuffixError reports an active mechanism block whose
// parameter name does not end in _<mechanism>.
type MissingMechanismSuffixError struct {
	Block  BlockRef
	Suffix string
}

func (e *MissingMechanismSuffixError) Error() string {
	return fmt.Sprintf("allenfit: parameter %q of mechanism %q does not end in %q in %s", e.Block.Name, e.Block.Mechanism, e.Suffix, e.Block)
}

// Is matches ErrMissingMechanismSuffix.
func (e *MissingMechanismSuffixError) Is(target error) bool {
	return target == ErrMissingMechanismSuffix
}

// Error kinds returned by Kind.
const (
	KindMalformedInput               = "malformed_input"
	KindUnrecognizedPassiveParameter = "unrecognized_passive_parameter"
	KindMissingMechanismSuffix       = "missing_mechanism_suffix"
)

// Kind classifies an extraction error. It returns "" for errors that did not
// originate in this package.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, ErrUnrecognizedPassiveParameter):
		return KindUnrecognizedPassiveParameter
	case errors.Is(err, ErrMissingMechanismSuffix):
		return KindMissingMechanismSuffix
	default:
		return ""
	}
}

// Offending returns the genome block an extraction error refers to, if any.
func Offending(err error) (BlockRef, bool) {
	var malformed *MalformedInputError
	if errors.As(err, &malformed) && malformed.Block != nil {
		return *malformed.Block, true
	}
	var passive *UnrecognizedPassiveParameterError
	if errors.As(err, &passive) {
		return passive.Block, true
	}
	var suffix *MissingMechanismSuffixError
	if errors.As(err, &suffix) {
		return suffix.Block, true
	}
	return BlockRef{}, false
}

func missing(path string) error {
	return &MalformedInputError{Path: path, Reason: "required key missing"}
}
