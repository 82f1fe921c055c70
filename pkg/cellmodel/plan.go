package cellmodel

import (
	"strings"

	"cellfit/pkg/allenfit"
)

// Mechanism catalogues. The allen catalogue is extended with the default
// catalogue under DefaultPrefix, so "default_pas" names "pas" in the default
// catalogue.
const (
	CatalogueAllen   = "allen"
	CatalogueDefault = "default"
	DefaultPrefix    = "default_"
)

// StepKind names a decoration step.
type StepKind string

const (
	StepSetProperties   StepKind = "set-properties"
	StepPaintProperties StepKind = "paint-properties"
	StepPaintIon        StepKind = "paint-ion"
	StepSetIon          StepKind = "set-ion"
	StepPaintMechanism  StepKind = "paint-mechanism"
	StepPlace           StepKind = "place"
)

// Ion describes ion settings painted on a region or set cell-wide.
type Ion struct {
	Name                  string   `json:"name"`
	ReversalPotential     *float64 `json:"reversal_potential,omitempty"`
	InternalConcentration *float64 `json:"internal_concentration,omitempty"`
	ExternalConcentration *float64 `json:"external_concentration,omitempty"`
	Method                string   `json:"method,omitempty"`
}

// Mechanism is a catalogue mechanism with parameter overrides.
type Mechanism struct {
	// Name as it appears in the extended catalogue.
	Name string `json:"name"`
	// Catalogue and Base locate the mechanism before extension.
	Catalogue  string             `json:"catalogue"`
	Base       string             `json:"base"`
	Parameters map[string]float64 `json:"parameters"`
}

// CurrentClamp injects Amplitude nA from Start for Duration ms.
type CurrentClamp struct {
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"`
	Amplitude float64 `json:"amplitude"`
}

// SpikeDetector records a spike when the membrane crosses Threshold mV.
type SpikeDetector struct {
	Threshold float64 `json:"threshold"`
}

// Step is one decoration instruction. Only the fields relevant to Kind are set.
type Step struct {
	Kind       StepKind                  `json:"kind"`
	Region     string                    `json:"region,omitempty"`
	Locset     string                    `json:"locset,omitempty"`
	Properties *allenfit.ParameterRecord `json:"properties,omitempty"`
	Ion        *Ion                      `json:"ion,omitempty"`
	Mechanism  *Mechanism                `json:"mechanism,omitempty"`
	Clamp      *CurrentClamp             `json:"clamp,omitempty"`
	Detector   *SpikeDetector            `json:"detector,omitempty"`
}

// Probe samples the membrane voltage at a locset.
type Probe struct {
	Kind      string  `json:"kind"`
	Locset    string  `json:"locset"`
	Frequency float64 `json:"frequency"`
}

// Run holds the integration settings in ms.
type Run struct {
	TFinal float64 `json:"t_final"`
	Dt     float64 `json:"dt"`
}

// Plan is everything a driver needs to build and run the cell.
type Plan struct {
	Morphology           string  `json:"morphology"`
	Labels               Labels  `json:"labels"`
	MaxCompartmentLength float64 `json:"max_compartment_length"`
	Steps                []Step  `json:"steps"`
	Probe                Probe   `json:"probe"`
	Run                  Run     `json:"run"`
}

// Qualify splits a mechanism name of the extended catalogue into the source
// catalogue and the mechanism name inside it.
func Qualify(name string) (catalogue, base string) {
	if rest, ok := strings.CutPrefix(name, DefaultPrefix); ok && rest != "" {
		return CatalogueDefault, rest
	}
	return CatalogueAllen, name
}

// Build assembles the plan for fit. Steps follow the order of the fit:
// cell-wide properties, region overrides, reversal potentials, calcium,
// mechanisms, then clamp and detector on the stimulus site.
func Build(fit allenfit.Fit, s Settings) (Plan, error) {
	if err := s.Validate(); err != nil {
		return Plan{}, err
	}
	b := &builder{labels: s.Labels, auto: s.AutoLabel}

	def := fit.Default
	b.steps = append(b.steps, Step{Kind: StepSetProperties, Properties: &def})

	for _, r := range fit.Regions {
		if err := b.region(r.Region); err != nil {
			return Plan{}, err
		}
		props := r.Parameters
		b.steps = append(b.steps, Step{Kind: StepPaintProperties, Region: r.Region, Properties: &props})
	}
	for _, e := range fit.ReversalPotentials {
		if err := b.region(e.Region); err != nil {
			return Plan{}, err
		}
		v := e.Potential
		b.steps = append(b.steps, Step{Kind: StepPaintIon, Region: e.Region, Ion: &Ion{Name: e.Ion, ReversalPotential: &v}})
	}

	internal, external := s.Calcium.InternalConcentration, s.Calcium.ExternalConcentration
	b.steps = append(b.steps, Step{Kind: StepSetIon, Ion: &Ion{
		Name:                  "ca",
		InternalConcentration: &internal,
		ExternalConcentration: &external,
		Method:                s.Calcium.Method,
	}})

	for _, m := range fit.Mechanisms {
		if err := b.region(m.Region); err != nil {
			return Plan{}, err
		}
		catalogue, base := Qualify(m.Mechanism)
		params := make(map[string]float64, len(m.Parameters))
		for k, v := range m.Parameters {
			params[k] = v
		}
		b.steps = append(b.steps, Step{Kind: StepPaintMechanism, Region: m.Region, Mechanism: &Mechanism{
			Name:       m.Mechanism,
			Catalogue:  catalogue,
			Base:       base,
			Parameters: params,
		}})
	}

	b.steps = append(b.steps,
		Step{Kind: StepPlace, Locset: s.Site, Clamp: &CurrentClamp{Start: s.TStart, Duration: s.TStop - s.TStart, Amplitude: s.Current}},
		Step{Kind: StepPlace, Locset: s.Site, Detector: &SpikeDetector{Threshold: s.Threshold}},
	)

	return Plan{
		Morphology:           s.Morphology,
		Labels:               b.labels,
		MaxCompartmentLength: s.MaxCompartmentLength,
		Steps:                b.steps,
		Probe:                Probe{Kind: "voltage", Locset: s.Site, Frequency: s.Frequency},
		Run:                  Run{TFinal: s.TStart + s.TStop, Dt: 1000 / s.Frequency},
	}, nil
}

type builder struct {
	labels Labels
	auto   bool
	steps  []Step
}

func (b *builder) region(name string) error {
	if _, ok := b.labels.Lookup(name); ok {
		return nil
	}
	if !b.auto {
		return &UnknownLabelError{Name: name}
	}
	b.labels = b.labels.With(name, regionAlias(name))
	return nil
}
