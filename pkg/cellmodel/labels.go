// Package cellmodel turns an extracted Allen fit into the ordered decoration
// plan a single-cell driver applies: labels, painted properties, ions,
// mechanisms, stimuli, probes and run settings. It does not simulate.
package cellmodel

import "fmt"

// Label names a region or locset expression.
type Label struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// Labels is an ordered label dictionary.
type Labels []Label

// DefaultLabels returns the SWC tag regions and the soma centre locset.
func DefaultLabels() Labels {
	return Labels{
		{Name: "soma", Expression: "(tag 1)"},
		{Name: "axon", Expression: "(tag 2)"},
		{Name: "dend", Expression: "(tag 3)"},
		{Name: "apic", Expression: "(tag 4)"},
		{Name: "center", Expression: "(location 0 0.5)"},
	}
}

// Lookup returns the expression bound to name.
func (l Labels) Lookup(name string) (string, bool) {
	for _, label := range l {
		if label.Name == name {
			return label.Expression, true
		}
	}
	return "", false
}

// With returns a copy of l with name bound to expression, replacing an
// existing binding in place or appending a new one.
func (l Labels) With(name, expression string) Labels {
	out := make(Labels, len(l), len(l)+1)
	copy(out, l)
	for i := range out {
		if out[i].Name == name {
			out[i].Expression = expression
			return out
		}
	}
	return append(out, Label{Name: name, Expression: expression})
}

func regionAlias(name string) string {
	return fmt.Sprintf("(region %q)", name)
}
