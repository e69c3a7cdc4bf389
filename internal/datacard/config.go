package datacard

import (
	"errors"
	"fmt"
)

var ErrInvalid = errors.New("datacard: invalid configuration")

// ShapeSyst is a shape nuisance. Source is the variation name used in the
// category files (histograms <process>_<Source>_Up and _Down); it defaults to
// Name. An empty process list applies the nuisance to every process.
type ShapeSyst struct {
	Name      string   `yaml:"name" validate:"required"`
	Source    string   `yaml:"source,omitempty"`
	Processes []string `yaml:"processes,omitempty"`
}

func (s ShapeSyst) source() string {
	if s.Source != "" {
		return s.Source
	}
	return s.Name
}

// LnN is a log-normal rate nuisance. Down is zero for a symmetric value.
type LnN struct {
	Name      string   `yaml:"name" validate:"required"`
	Processes []string `yaml:"processes,omitempty"`
	Up        float64  `yaml:"up" validate:"gt=0"`
	Down      float64  `yaml:"down,omitempty" validate:"gte=0"`
}

func (l LnN) value() string {
	if l.Down == 0 {
		return fmt.Sprintf("%g", l.Up)
	}
	return fmt.Sprintf("%g/%g", l.Down, l.Up)
}

type Config struct {
	Analysis    string          `yaml:"analysis" validate:"required"`
	Channel     string          `yaml:"channel" validate:"required"`
	Backgrounds []string        `yaml:"backgrounds" validate:"required,min=1"`
	Signals     []string        `yaml:"signals" validate:"required,min=1"`
	Lumi        map[int]float64 `yaml:"lumi"`
	Shapes      []ShapeSyst     `yaml:"shapes" validate:"dive"`
	LnN         []LnN           `yaml:"lnn" validate:"dive"`
	AutoMCStats bool            `yaml:"auto_mc_stats"`
}

var (
	ttComponents = []string{"ttcc", "ttcj", "ttLF", "ttbb", "ttbj"}
	ttHModes     = []string{"ttHbb", "ttHcc"}
)

func DefaultConfig() Config {
	return Config{
		Analysis: "Vcb",
		Channel:  "SL",
		Backgrounds: []string{
			"singletop", "ttbb-dps", "ttbb", "ttbj", "ttcc", "ttcj", "ttLF",
			"wjets", "ttZ", "ttW", "diboson", "ttHbb", "ttHcc",
		},
		Signals: []string{"ttWcb"},
		Lumi:    map[int]float64{2018: 1.015},
		Shapes: []ShapeSyst{
			{Name: "CMS_puWeight"},
		},
		LnN: []LnN{
			{Name: "QCDscale_V", Processes: []string{"wjets"}, Up: 1.038},
			{Name: "QCDscale_singletop", Processes: []string{"singletop"}, Up: 1.031, Down: 1 - 0.021},
			{Name: "QCDscale_ttbar", Processes: ttComponents, Up: 1.024, Down: 1 - 0.035},
			{Name: "QCDscale_ttbar", Processes: []string{"ttW"}, Up: 1.255, Down: 1 - 0.164},
			{Name: "QCDscale_ttbar", Processes: []string{"ttZ"}, Up: 1.081, Down: 1 - 0.093},
			{Name: "QCDscale_ttbar", Processes: []string{"ttWcb"}, Up: 1.081, Down: 1 - 0.093},
			{Name: "QCDscale_ttH", Processes: ttHModes, Up: 1.058, Down: 1 - 0.092},
			{Name: "pdf_qqbar", Processes: []string{"wjets"}, Up: 1.008, Down: 1 - 0.004},
			{Name: "pdf_qg", Processes: []string{"singletop"}, Up: 1.028},
			{Name: "pdf_gg", Processes: ttComponents, Up: 1.042},
			{Name: "pdf_qqbar", Processes: []string{"ttW"}, Up: 1.036},
			{Name: "pdf_gg", Processes: []string{"ttZ"}, Up: 1.035},
			{Name: "pdf_qg", Processes: []string{"ttWcb"}, Up: 1.028},
			{Name: "pdf_Higgs_ttH", Processes: ttHModes, Up: 1.036},
		},
	}
}

// Validate checks the parts of the configuration struct tags cannot.
func (c Config) Validate() error {
	seen := make(map[string]bool)
	for _, p := range append(append([]string(nil), c.Signals...), c.Backgrounds...) {
		if seen[p] {
			return fmt.Errorf("%w: process %q listed twice", ErrInvalid, p)
		}
		seen[p] = true
	}
	for _, s := range c.Shapes {
		for _, p := range s.Processes {
			if !seen[p] {
				return fmt.Errorf("%w: shape %q names unknown process %q", ErrInvalid, s.Name, p)
			}
		}
	}
	return nil
}
