// Package allenfit reshapes an Allen Brain Atlas single-cell fit document into
// the default parameters, per-region overrides, reversal potentials and
// mechanism parameters a cable-cell model is decorated with.
//
// The package performs no I/O beyond reading the reader handed to Load or
// Decode, holds no package state and is safe for concurrent use.
package allenfit

const (
	// PassiveMechanism is the label under which suffixed passive parameters
	// (for example g_pas) are emitted. It is distinct from any catalogue
	// mechanism so a real mechanism called "pas" cannot be picked up by mistake.
	PassiveMechanism = "default_pas"

	// passiveSource is the mechanism name the fit format uses, implicitly or
	// explicitly, for passive blocks.
	passiveSource = "pas"

	kelvinOffset = 273.15
)

// ParameterRecord bundles the passive electrical properties of the whole cell
// or of one region. A nil field is unset.
type ParameterRecord struct {
	// MembraneCapacitance in F/m².
	MembraneCapacitance *float64 `json:"membrane_capacitance"`
	// Temperature in K.
	Temperature *float64 `json:"temperature"`
	// RestingPotential in mV.
	RestingPotential *float64 `json:"resting_potential"`
	// AxialResistivity in Ω·cm.
	AxialResistivity *float64 `json:"axial_resistivity"`
}

// IsZero reports whether no field is set.
func (p ParameterRecord) IsZero() bool {
	return p.MembraneCapacitance == nil && p.Temperature == nil && p.RestingPotential == nil && p.AxialResistivity == nil
}

// RegionParameters pairs a region name with its parameter overrides.
type RegionParameters struct {
	Region     string          `json:"region"`
	Parameters ParameterRecord `json:"parameters"`
}

// ReversalPotential assigns the reversal potential of one ion species in a region.
type ReversalPotential struct {
	Region    string  `json:"region"`
	Ion       string  `json:"ion"`
	Potential float64 `json:"potential"`
}

// MechanismEntry holds the parameters of one mechanism painted onto one region.
type MechanismEntry struct {
	Region     string             `json:"region"`
	Mechanism  string             `json:"mechanism"`
	Parameters map[string]float64 `json:"parameters"`
}

// Fit is the result of extracting a fit document. Slices keep the order in
// which regions, ions and (region, mechanism) pairs first appear in the input.
type Fit struct {
	Default            ParameterRecord     `json:"default"`
	Regions            []RegionParameters  `json:"regions"`
	ReversalPotentials []ReversalPotential `json:"reversal_potentials"`
	Mechanisms         []MechanismEntry    `json:"mechanisms"`
}

// Region returns the overrides recorded for region.
func (f Fit) Region(region string) (ParameterRecord, bool) {
	for _, r := range f.Regions {
		if r.Region == region {
			return r.Parameters, true
		}
	}
	return ParameterRecord{}, false
}

// Mechanism returns the parameters recorded for mechanism on region.
func (f Fit) Mechanism(region, mechanism string) (map[string]float64, bool) {
	for _, m := range f.Mechanisms {
		if m.Region == region && m.Mechanism == mechanism {
			return m.Parameters, true
		}
	}
	return nil, false
}

func ptr(v float64) *float64 { return &v }
