package cellmodel

import (
	"fmt"

	validator "gopkg.in/go-playground/validator.v9"
)

// CalciumSettings configures the calcium ion applied to the whole cell.
type CalciumSettings struct {
	InternalConcentration float64 `json:"internal_concentration" validate:"gt=0"` // mM
	ExternalConcentration float64 `json:"external_concentration" validate:"gt=0"` // mM
	Method                string  `json:"method" validate:"required"`
}

// Settings holds the driver parameters that are not part of the fit.
type Settings struct {
	// Morphology is the SWC file the cell is built from.
	Morphology string `json:"morphology" validate:"required"`
	// Current is the clamp amplitude in nA.
	Current float64 `json:"current" validate:"gt=0"`
	// TStart and TStop bound the stimulus in ms.
	TStart float64 `json:"t_start" validate:"gte=0"`
	TStop  float64 `json:"t_stop" validate:"gtfield=TStart"`
	// Threshold of the spike detector in mV.
	Threshold float64 `json:"threshold"`
	// Site is the locset label stimuli, detector and probe are placed on.
	Site string `json:"site" validate:"required"`
	// Frequency of the voltage probe in Hz; it also fixes the time step.
	Frequency float64 `json:"frequency" validate:"gt=0"`
	// MaxCompartmentLength is the discretisation length in µm.
	MaxCompartmentLength float64         `json:"max_compartment_length" validate:"gt=0"`
	Calcium              CalciumSettings `json:"calcium"`
	Labels               Labels          `json:"labels"`
	// AutoLabel binds regions missing from Labels to (region "<name>")
	// instead of failing.
	AutoLabel bool `json:"auto_label"`
}

// DefaultSettings mirrors the single cell example driver.
func DefaultSettings() Settings {
	return Settings{
		Morphology:           "cell.swc",
		Current:              0.15,
		TStart:               200,
		TStop:                1200,
		Threshold:            -40,
		Site:                 "center",
		Frequency:            200000,
		MaxCompartmentLength: 20,
		Calcium: CalciumSettings{
			InternalConcentration: 5e-5,
			ExternalConcentration: 2.0,
			Method:                DefaultPrefix + "nernst/x=ca",
		},
		Labels: DefaultLabels(),
	}
}

var validate = validator.New()

// Validate checks field ranges and that Site names a label.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("cellmodel: invalid settings: %w", err)
	}
	if _, ok := s.Labels.Lookup(s.Site); !ok {
		return &UnknownLabelError{Name: s.Site}
	}
	return nil
}

// UnknownLabelError reports a region or locset used by the plan that the
// label dictionary does not define.
type UnknownLabelError struct {
	Name string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("cellmodel: label %q is not defined", e.Name)
}
