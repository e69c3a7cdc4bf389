// Package sample classifies input datasets from the process identifier
// embedded in their file name. Classification happens once per sample; the
// weight, region and naming rules work on the resulting tags.
package sample

import (
	"path/filepath"
	"strings"
)

type Kind uint8

const (
	OtherBackground Kind = iota
	Data
	TtbarPowheg
	Ttbar4FS
	TtbarDPS
	Signal
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case TtbarPowheg:
		return "ttbar-powheg"
	case Ttbar4FS:
		return "ttbar-4fs"
	case TtbarDPS:
		return "ttbar-dps"
	case Signal:
		return "signal"
	}
	return "background"
}

// IsComponent reports whether the sample holds ttbar sub-processes that are
// separated by region rather than by file.
func (k Kind) IsComponent() bool {
	return k == TtbarPowheg || k == Ttbar4FS || k == TtbarDPS
}

// Family is the region family a sample is routed to.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyBase
	FamilyFourFlavor
	FamilyPowheg
)

func (f Family) String() string {
	switch f {
	case FamilyBase:
		return "base"
	case FamilyFourFlavor:
		return "four_flavor"
	case FamilyPowheg:
		return "powheg"
	}
	return "none"
}

// ParseFamily is the inverse of Family.String.
func ParseFamily(s string) (Family, bool) {
	for _, f := range []Family{FamilyNone, FamilyBase, FamilyFourFlavor, FamilyPowheg} {
		if f.String() == s {
			return f, true
		}
	}
	return FamilyNone, false
}

// Traits are the identifier tokens the event weight depends on.
type Traits struct {
	TopPt            bool
	FourFlavorWeight bool
}

type Sample struct {
	ID     string
	Path   string
	Kind   Kind
	Family Family
	Traits Traits
}

func (s Sample) IsData() bool { return s.Kind == Data }

// Rules holds the identifier tokens used by Classify.
//
// FourFlavorMatch selects the revision of the four-flavour region rule:
// "4f" matches the ttbb-4f component only, "bb" also routes a ttbb-dps
// component (when listed in Components) to the four-flavour regions.
type Rules struct {
	FileSuffix      string   `yaml:"file_suffix"`
	DataTokens      []string `yaml:"data_tokens"`
	SignalTokens    []string `yaml:"signal_tokens"`
	Components      []string `yaml:"components"`
	FourFlavorMatch string   `yaml:"four_flavor_match"`
	PowhegMatch     string   `yaml:"powheg_match"`
	FourFlavorToken string   `yaml:"four_flavor_token"`
	DPSToken        string   `yaml:"dps_token"`
	TtbarToken      string   `yaml:"ttbar_token"`
}

func DefaultRules() Rules {
	return Rules{
		FileSuffix:      "_tree.root",
		DataTokens:      []string{"data", "Data", "singlee", "singlemu"},
		SignalTokens:    []string{"Wcb"},
		Components:      []string{"ttbb-4f", "ttbar-powheg"},
		FourFlavorMatch: "4f",
		PowhegMatch:     "powheg",
		FourFlavorToken: "4f",
		DPSToken:        "dps",
		TtbarToken:      "ttbar",
	}
}

// ID strips the directory and the file suffix from path.
func (r Rules) ID(path string) string {
	id := filepath.Base(path)
	if r.FileSuffix != "" && strings.HasSuffix(id, r.FileSuffix) {
		return strings.TrimSuffix(id, r.FileSuffix)
	}
	return strings.TrimSuffix(id, filepath.Ext(id))
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if t != "" && strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func contains(s, token string) bool {
	return token != "" && strings.Contains(s, token)
}

func (r Rules) Classify(path string) Sample {
	s := Sample{ID: r.ID(path), Path: path}
	s.Traits = Traits{
		TopPt:            contains(s.ID, r.TtbarToken),
		FourFlavorWeight: contains(s.ID, r.FourFlavorToken),
	}

	switch {
	case containsAny(s.ID, r.DataTokens):
		s.Kind = Data
	case containsAny(s.ID, r.Components):
		switch {
		case contains(s.ID, r.FourFlavorToken):
			s.Kind = Ttbar4FS
		case contains(s.ID, r.PowhegMatch):
			s.Kind = TtbarPowheg
		case contains(s.ID, r.DPSToken):
			s.Kind = TtbarDPS
		default:
			// inclusive ttbar component without a scheme token
			s.Kind = TtbarPowheg
		}
	case containsAny(s.ID, r.SignalTokens):
		s.Kind = Signal
	default:
		s.Kind = OtherBackground
	}

	s.Family = FamilyBase
	if s.Kind.IsComponent() {
		switch {
		case contains(s.ID, r.FourFlavorMatch):
			s.Family = FamilyFourFlavor
		case contains(s.ID, r.PowhegMatch):
			s.Family = FamilyPowheg
		default:
			s.Family = FamilyNone
		}
	}
	return s
}
