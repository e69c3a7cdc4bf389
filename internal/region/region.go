// Package region decides which selection regions apply to a sample and
// assembles their predicates.
package region

import (
	"strings"

	"github.com/decibelcooper/vcbana/internal/sample"
)

// BaseName is the name of the region every non-component sample is
// selected in. Its predicate prefixes every other region's predicate.
const BaseName = "base"

// Region is a named predicate fragment. The fragment of a non-base region
// does not include the base selection.
type Region struct {
	Name      string        `yaml:"name"`
	Family    sample.Family `yaml:"-"`
	Selection string        `yaml:"selection"`
}

func (r Region) IsBase() bool { return r.Family == sample.FamilyBase }

// InferFamily maps a region name to its family: names containing "base" are
// base regions, ttbb/ttbj are four-flavour sub-regions and ttcc/ttcj/ttLF
// powheg sub-regions.
func InferFamily(name string) sample.Family {
	switch {
	case strings.Contains(name, BaseName):
		return sample.FamilyBase
	case strings.Contains(name, "ttbb"), strings.Contains(name, "ttbj"):
		return sample.FamilyFourFlavor
	case strings.Contains(name, "ttcc"), strings.Contains(name, "ttcj"), strings.Contains(name, "ttLF"):
		return sample.FamilyPowheg
	}
	return sample.FamilyNone
}

// Applicable returns the regions s is selected in, in the order of regions.
// Regions are matched on family only, so the result never mixes the base
// region with component regions or the two component families.
func Applicable(s sample.Sample, regions []Region) []Region {
	var out []Region
	for _, r := range regions {
		if r.Family == sample.FamilyNone || r.Family != s.Family {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Base returns the base region of regions.
func Base(regions []Region) (Region, bool) {
	for _, r := range regions {
		if r.IsBase() {
			return r, true
		}
	}
	return Region{}, false
}

// Selection returns the full predicate of r: the base predicate for
// non-base regions, r's own fragment, then every non-empty extra clause,
// joined with &&.
func Selection(base, r Region, extras ...string) string {
	var parts []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		s = strings.TrimPrefix(s, "&&")
		s = strings.TrimSpace(s)
		if s != "" {
			parts = append(parts, s)
		}
	}
	if !r.IsBase() {
		add(base.Selection)
	}
	add(r.Selection)
	for _, e := range extras {
		add(e)
	}
	if len(parts) == 0 {
		return "1"
	}
	if len(parts) == 1 {
		return parts[0]
	}
	for i, p := range parts {
		parts[i] = "(" + p + ")"
	}
	return strings.Join(parts, " && ")
}
