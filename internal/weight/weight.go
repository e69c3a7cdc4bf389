// Package weight builds the per-event weight expression of a sample.
package weight

import (
	"strconv"
	"strings"

	"github.com/decibelcooper/vcbana/internal/sample"
)

// Base2018 is the nominal 2018 correction product: luminosity, generator and
// cross-section weights, efficiency corrections and the lepton trigger logic
// (including the HEM electron veto).
const Base2018 = "lumiwgt*genWeight*xsecWeight*l1PreFiringWeight*puWeight*muEffWeight*elEffWeight*flavTagWeight*" +
	"(((abs(lep1_pdgId)==11 && passTrigEl && ((year!=2018) || (year==2018 && !(lep1_phi>-1.57 && lep1_phi<-0.87 && lep1_eta<-1.3)))) || " +
	"(abs(lep1_pdgId)==13 && passTrigMu)) && passmetfilters)"

// Systematic is a weight variation applied as a ratio on top of the nominal
// weight. The zero value is the nominal case.
type Systematic struct {
	Name  string
	Ratio string
}

var Nominal = Systematic{}

func (s Systematic) IsNominal() bool { return s.Name == "" }

// Policy collects the versioned choices of the weight definition.
//
// FourFlavorTopPt applies the top-pt factor a second time to four-flavour
// samples. FlavorSchemeNorm, when non-zero, multiplies four-flavour samples
// by the 5FS/4FS normalization of earlier revisions (0.7559).
type Policy struct {
	Nominal          map[int]string `yaml:"nominal"`
	TopPtFactor      string         `yaml:"top_pt_factor"`
	FourFlavorTopPt  bool           `yaml:"four_flavor_top_pt"`
	FlavorSchemeNorm float64        `yaml:"flavor_scheme_norm"`
}

func DefaultPolicy() Policy {
	return Policy{
		Nominal:         map[int]string{2018: Base2018},
		TopPtFactor:     "topptWeight",
		FourFlavorTopPt: true,
	}
}

type Builder struct {
	Policy Policy
}

func NewBuilder(p Policy) *Builder {
	return &Builder{Policy: p}
}

// Build returns the weight expression for s in the given year. Years without
// a nominal expression get the constant "1" whatever the sample or
// systematic. Data samples are not special-cased here.
func (b *Builder) Build(year int, s sample.Sample, syst Systematic) string {
	base, ok := b.Policy.Nominal[year]
	if !ok || strings.TrimSpace(base) == "" {
		return "1"
	}

	var sb strings.Builder
	sb.WriteString(base)
	if b.Policy.TopPtFactor != "" {
		if s.Traits.TopPt {
			sb.WriteString("*" + b.Policy.TopPtFactor)
		}
		if s.Traits.FourFlavorWeight && b.Policy.FourFlavorTopPt {
			sb.WriteString("*" + b.Policy.TopPtFactor)
		}
	}
	if s.Traits.FourFlavorWeight && b.Policy.FlavorSchemeNorm != 0 {
		sb.WriteString("*" + strconv.FormatFloat(b.Policy.FlavorSchemeNorm, 'g', -1, 64))
	}
	if !syst.IsNominal() && syst.Ratio != "" {
		sb.WriteString("*(" + syst.Ratio + ")")
	}
	return sb.String()
}
