package allenfit

import (
	"fmt"
	"io"
	"strings"
)

// passiveFields maps the recognised unsuffixed passive names onto the
// ParameterRecord field they set, converting units on the way.
var passiveFields = map[string]func(*ParameterRecord, float64){
	"cm":      func(p *ParameterRecord, v float64) { p.MembraneCapacitance = ptr(v / 100) },
	"Ra":      func(p *ParameterRecord, v float64) { p.AxialResistivity = ptr(v) },
	"Vm":      func(p *ParameterRecord, v float64) { p.RestingPotential = ptr(v) },
	"celsius": func(p *ParameterRecord, v float64) { p.Temperature = ptr(v + kelvinOffset) },
}

// Load decodes a fit document from r and extracts it.
func Load(r io.Reader) (Fit, error) {
	doc, err := Decode(r)
	if err != nil {
		return Fit{}, err
	}
	return Extract(doc)
}

// Extract routes every genome block of doc to a region override or a
// mechanism entry and derives the defaults and reversal potentials. The first
// invalid block aborts the call; no partial Fit is returned.
func Extract(doc *Document) (Fit, error) {
	if doc == nil {
		return Fit{}, &MalformedInputError{Reason: "nil document"}
	}
	switch {
	case doc.Genome == nil:
		return Fit{}, missing("genome")
	case len(doc.Conditions) == 0:
		return Fit{}, missing("conditions[0]")
	case len(doc.Passive) == 0:
		return Fit{}, missing("passive[0]")
	}

	regions := newRegionTable()
	mechs := newMechanismTable()
	for i, block := range doc.Genome {
		if err := route(i, block, regions, mechs); err != nil {
			return Fit{}, err
		}
	}

	def, err := defaults(doc.Conditions[0], doc.Passive[0])
	if err != nil {
		return Fit{}, err
	}
	erev, err := reversalPotentials(doc.Conditions[0])
	if err != nil {
		return Fit{}, err
	}
	return Fit{
		Default:            def,
		Regions:            regions.list(),
		ReversalPotentials: erev,
		Mechanisms:         mechs.list(),
	}, nil
}

func route(index int, block GenomeBlock, regions *regionTable, mechs *mechanismTable) error {
	ref := BlockRef{Index: index, Region: block.Section, Mechanism: block.Mechanism, Name: block.Name}
	path := fmt.Sprintf("genome[%d]", index)
	if block.Section == "" {
		return &MalformedInputError{Path: path + ".section", Block: &ref, Reason: "required key missing"}
	}
	if block.Name == "" {
		return &MalformedInputError{Path: path + ".name", Block: &ref, Reason: "required key missing"}
	}
	value, err := block.Value.Float()
	if err != nil {
		return &MalformedInputError{Path: path + ".value", Block: &ref, Err: err}
	}

	mech := block.Mechanism
	if mech == "" {
		mech = passiveSource
	}
	if name, ok := strings.CutSuffix(block.Name, "_"+mech); ok {
		if mech == passiveSource {
			mech = PassiveMechanism
		}
		mechs.entry(block.Section, mech)[name] = value
		return nil
	}
	if mech != passiveSource {
		return &MissingMechanismSuffixError{Block: ref, Suffix: "_" + mech}
	}
	set, ok := passiveFields[block.Name]
	if !ok {
		return &UnrecognizedPassiveParameterError{Block: ref}
	}
	set(regions.entry(block.Section), value)
	return nil
}

// defaults builds the whole-cell record. The fit format has no global
// capacitance, so it stays unset.
func defaults(cond Conditions, passive Passive) (ParameterRecord, error) {
	celsius, err := cond.Celsius.Float()
	if err != nil {
		return ParameterRecord{}, &MalformedInputError{Path: "conditions[0].celsius", Err: err}
	}
	vInit, err := cond.VInit.Float()
	if err != nil {
		return ParameterRecord{}, &MalformedInputError{Path: "conditions[0].v_init", Err: err}
	}
	ra, err := passive.Ra.Float()
	if err != nil {
		return ParameterRecord{}, &MalformedInputError{Path: "passive[0].ra", Err: err}
	}
	return ParameterRecord{
		Temperature:      ptr(celsius + kelvinOffset),
		RestingPotential: ptr(vInit),
		AxialResistivity: ptr(ra),
	}, nil
}

func reversalPotentials(cond Conditions) ([]ReversalPotential, error) {
	if cond.Erev == nil {
		return nil, missing("conditions[0].erev")
	}
	out := make([]ReversalPotential, 0, len(cond.Erev))
	for i, group := range cond.Erev {
		path := fmt.Sprintf("conditions[0].erev[%d]", i)
		if group.Section == "" {
			return nil, missing(path + ".section")
		}
		for _, ion := range group.Ions {
			keyPath := path + "." + ion.Key
			name, ok := strings.CutPrefix(ion.Key, "e")
			if !ok || name == "" {
				return nil, &MalformedInputError{Path: keyPath, Reason: "ion key must have the form e<ion>"}
			}
			v, err := ion.Value.Float()
			if err != nil {
				return nil, &MalformedInputError{Path: keyPath, Err: err}
			}
			out = append(out, ReversalPotential{Region: group.Section, Ion: name, Potential: v})
		}
	}
	return out, nil
}

// regionTable is an insertion-ordered get-or-create map of region overrides.
type regionTable struct {
	order   []string
	records map[string]*ParameterRecord
}

func newRegionTable() *regionTable {
	return &regionTable{records: make(map[string]*ParameterRecord)}
}

func (t *regionTable) entry(region string) *ParameterRecord {
	if rec, ok := t.records[region]; ok {
		return rec
	}
	rec := &ParameterRecord{}
	t.records[region] = rec
	t.order = append(t.order, region)
	return rec
}

func (t *regionTable) list() []RegionParameters {
	out := make([]RegionParameters, 0, len(t.order))
	for _, region := range t.order {
		out = append(out, RegionParameters{Region: region, Parameters: *t.records[region]})
	}
	return out
}

type mechanismKey struct {
	region, mechanism string
}

// mechanismTable is an insertion-ordered get-or-create map keyed by
// (region, mechanism).
type mechanismTable struct {
	order   []mechanismKey
	entries map[mechanismKey]map[string]float64
}

func newMechanismTable() *mechanismTable {
	return &mechanismTable{entries: make(map[mechanismKey]map[string]float64)}
}

func (t *mechanismTable) entry(region, mechanism string) map[string]float64 {
	key := mechanismKey{region: region, mechanism: mechanism}
	if params, ok := t.entries[key]; ok {
		return params
	}
	params := make(map[string]float64)
	t.entries[key] = params
	t.order = append(t.order, key)
	return params
}

func (t *mechanismTable) list() []MechanismEntry {
	out := make([]MechanismEntry, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, MechanismEntry{Region: key.region, Mechanism: key.mechanism, Parameters: t.entries[key]})
	}
	return out
}
