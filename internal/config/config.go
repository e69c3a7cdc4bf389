// Package config holds the analysis configuration: samples, regions,
// categories, systematics and the datacard layout. Default returns the
// reference analysis; Load overlays a YAML file on it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/decibelcooper/vcbana/internal/datacard"
	"github.com/decibelcooper/vcbana/internal/derive"
	"github.com/decibelcooper/vcbana/internal/region"
	"github.com/decibelcooper/vcbana/internal/route"
	"github.com/decibelcooper/vcbana/internal/sample"
	"github.com/decibelcooper/vcbana/internal/weight"
)

var ErrInvalid = errors.New("config: invalid configuration")

// Nuisance is a weight systematic with its up and down ratios. It expands
// to the variations <Name>_Up and <Name>_Down.
type Nuisance struct {
	Name string `yaml:"name" validate:"required"`
	Up   string `yaml:"up" validate:"required"`
	Down string `yaml:"down" validate:"required"`
}

// RegionDef declares a selection region. Family is inferred from the name
// when empty.
type RegionDef struct {
	Name      string `yaml:"name" validate:"required"`
	Family    string `yaml:"family,omitempty" validate:"omitempty,oneof=base four_flavor powheg"`
	Selection string `yaml:"selection"`
}

// Veto is an extra clause ANDed into every region of the samples whose ID
// contains Match.
type Veto struct {
	Match     string `yaml:"match" validate:"required"`
	Selection string `yaml:"selection" validate:"required"`
}

type Config struct {
	Year        int               `yaml:"year" validate:"gt=0"`
	Tree        string            `yaml:"tree" validate:"required"`
	Prefix      string            `yaml:"prefix"`
	Samples     sample.Rules      `yaml:"samples"`
	Weight      weight.Policy     `yaml:"weight"`
	Regions     []RegionDef       `yaml:"regions" validate:"required,min=1,dive"`
	Categories  []route.Category  `yaml:"categories" validate:"required,min=1,dive"`
	Systematics []Nuisance        `yaml:"systematics" validate:"dive"`
	Vetoes      []Veto            `yaml:"vetoes" validate:"dive"`
	Channels    map[string]string `yaml:"channels"`
	Derive      derive.Config     `yaml:"derive"`
	Datacard    datacard.Config   `yaml:"datacard"`
	Workers     int               `yaml:"workers" validate:"gte=0"`
}

func Default() Config {
	return Config{
		Year:    2018,
		Tree:    "Events",
		Prefix:  "Vcb_",
		Samples: sample.DefaultRules(),
		Weight:  weight.DefaultPolicy(),
		Regions: []RegionDef{
			{Name: "base", Selection: "n_ak4>=4 && (n_btagM+n_ctagM)>=3 && n_btagM>=1"},
			{Name: "ttbb", Selection: "genEventClassifier==9 && wcb==0"},
			{Name: "ttbj", Selection: "(genEventClassifier==7 || genEventClassifier==8) && wcb==0"},
			{Name: "ttcc", Selection: "genEventClassifier==6 && wcb==0"},
			{Name: "ttcj", Selection: "(genEventClassifier==4 || genEventClassifier==5) && wcb==0"},
			{Name: "ttLF", Selection: "tt_category==0 && higgs_decay==0 && wcb==0"},
		},
		Categories: []route.Category{
			scoreCategory("catWcb", "score_tt_Wcb"),
			scoreCategory("catBB", "score_ttbb"),
			scoreCategory("catBJ", "score_ttbj"),
			scoreCategory("catCC", "score_ttcc"),
			scoreCategory("catCJ", "score_ttcj"),
			scoreCategory("catLF", "score_ttLF"),
		},
		Systematics: []Nuisance{
			{Name: "CMS_puWeight", Up: "puWeightUp/puWeight", Down: "puWeightDown/puWeight"},
		},
		Vetoes: []Veto{
			// electron dataset events that also fired the muon trigger are
			// taken from the muon dataset
			{Match: "singlee", Selection: "passTrigMu==0"},
		},
		Channels: map[string]string{
			"electron": "passTrigEl",
			"muon":     "passTrigMu",
		},
		Derive:   derive.DefaultConfig(),
		Datacard: datacard.DefaultConfig(),
		Workers:  1,
	}
}

func scoreCategory(name, variable string) route.Category {
	return route.Category{
		Name:     name,
		Variable: variable,
		Bins:     20,
		Min:      0,
		Max:      1,
		Suffix:   route.RegionSuffix(name),
	}
}

// Load reads the YAML file at path over the defaults. Lists in the file
// replace the default lists.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config: %w", err)
	}
	if err := Parse(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw over cfg and validates the result.
func Parse(raw []byte, cfg *Config) error {
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return err
	}
	for i := range cfg.Categories {
		if cfg.Categories[i].Suffix == "" {
			cfg.Categories[i].Suffix = route.RegionSuffix(cfg.Categories[i].Name)
		}
	}
	return cfg.Validate()
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	regions, err := c.RegionList()
	if err != nil {
		return err
	}
	if _, ok := region.Base(regions); !ok {
		return fmt.Errorf("%w: no base region", ErrInvalid)
	}

	seen := make(map[string]bool)
	for _, cat := range c.Categories {
		if seen[cat.Name] {
			return fmt.Errorf("%w: duplicate category %q", ErrInvalid, cat.Name)
		}
		seen[cat.Name] = true
		if len(cat.Edges) == 0 && !(cat.Min < cat.Max) {
			return fmt.Errorf("%w: category %q has an empty range [%g, %g]", ErrInvalid, cat.Name, cat.Min, cat.Max)
		}
	}

	seen = make(map[string]bool)
	for _, n := range c.Systematics {
		if seen[n.Name] {
			return fmt.Errorf("%w: duplicate systematic %q", ErrInvalid, n.Name)
		}
		seen[n.Name] = true
	}
	return c.Datacard.Validate()
}

// Overrides are command-line settings applied over a loaded configuration.
// Zero values leave the configuration alone.
type Overrides struct {
	Tree    string
	Year    int
	Workers int
	Mode    string
}

// Apply sets the overrides on c and validates the result.
func (o Overrides) Apply(c *Config) error {
	if o.Tree != "" {
		c.Tree = o.Tree
	}
	if o.Year != 0 {
		c.Year = o.Year
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.Mode != "" {
		m, err := derive.ParseMode(o.Mode)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		c.Derive.Mode = m
	}
	return c.Validate()
}

// RegionList returns the regions with their families resolved.
func (c Config) RegionList() ([]region.Region, error) {
	out := make([]region.Region, 0, len(c.Regions))
	seen := make(map[string]bool)
	for _, def := range c.Regions {
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: duplicate region %q", ErrInvalid, def.Name)
		}
		seen[def.Name] = true

		fam := region.InferFamily(def.Name)
		if def.Family != "" {
			var ok bool
			fam, ok = sample.ParseFamily(def.Family)
			if !ok {
				return nil, fmt.Errorf("%w: region %q has unknown family %q", ErrInvalid, def.Name, def.Family)
			}
		}
		if fam == sample.FamilyNone {
			return nil, fmt.Errorf("%w: cannot infer the family of region %q", ErrInvalid, def.Name)
		}
		out = append(out, region.Region{Name: def.Name, Family: fam, Selection: def.Selection})
	}
	return out, nil
}

// Variations returns the nominal weight followed by the up and down
// variation of every nuisance.
func (c Config) Variations() []weight.Systematic {
	out := []weight.Systematic{weight.Nominal}
	for _, n := range c.Systematics {
		out = append(out,
			weight.Systematic{Name: n.Name + "_Up", Ratio: n.Up},
			weight.Systematic{Name: n.Name + "_Down", Ratio: n.Down},
		)
	}
	return out
}

// ChannelSelection returns the trigger clauses restricting the analysis to
// the named lepton channels.
func (c Config) ChannelSelection(channels ...string) (string, error) {
	var parts []string
	for _, ch := range channels {
		sel, ok := c.Channels[ch]
		if !ok {
			return "", fmt.Errorf("%w: unknown channel %q", ErrInvalid, ch)
		}
		parts = append(parts, sel)
	}
	return strings.Join(parts, " && "), nil
}

// VetoesFor returns the veto clauses applying to the sample with the given
// ID.
func (c Config) VetoesFor(id string) []string {
	var out []string
	for _, v := range c.Vetoes {
		if strings.Contains(id, v.Match) {
			out = append(out, v.Selection)
		}
	}
	return out
}
