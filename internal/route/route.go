// Package route maps a (sample, region, systematic, category) unit of work
// to the output file and histogram name it is written to.
package route

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/decibelcooper/vcbana/internal/frame"
	"github.com/decibelcooper/vcbana/internal/region"
	"github.com/decibelcooper/vcbana/internal/sample"
	"github.com/decibelcooper/vcbana/internal/weight"
)

// DataObs is the name the fit tool expects for the observed data.
const DataObs = "data_obs"

var ErrDuplicateSlot = errors.New("route: histogram slot already written")

// Category is one discriminant and its binning. Each category is written
// to its own file.
type Category struct {
	Name     string    `yaml:"name" validate:"required"`
	Variable string    `yaml:"variable" validate:"required"`
	Bins     int       `yaml:"bins" validate:"required_without=Edges,gte=0"`
	Min      float64   `yaml:"min"`
	Max      float64   `yaml:"max"`
	Edges    []float64 `yaml:"edges,omitempty" validate:"omitempty,min=2"`
	Suffix   string    `yaml:"suffix"`
}

// RegionSuffix is the file suffix of a category: signal-region categories
// are the ones named after the W→cb score.
func RegionSuffix(name string) string {
	if strings.Contains(name, "Wcb") {
		return "_SR"
	}
	return "_CR"
}

// HistSpec returns the binning of c for a histogram called name.
func (c Category) HistSpec(name, title string) frame.HistSpec {
	return frame.HistSpec{
		Name:  name,
		Title: title,
		NBins: c.Bins,
		XMin:  c.Min,
		XMax:  c.Max,
		Edges: c.Edges,
	}
}

// Slot is the destination of one histogram.
type Slot struct {
	File string
	Hist string
}

func (s Slot) String() string { return s.File + ":" + s.Hist }

type Layout uint8

const (
	// LayoutCards writes one file per category, shared by all samples.
	LayoutCards Layout = iota
	// LayoutDump writes one file per sample and region with one histogram
	// per variable.
	LayoutDump
)

type Router struct {
	Layout Layout
	OutDir string
	Year   int
	Prefix string
}

// Bin is the datacard bin name of c, which is also its file base name.
func (r Router) Bin(c Category) string {
	return r.Prefix + c.Name + c.Suffix
}

// CategoryFile is the cards-layout file of c.
func (r Router) CategoryFile(c Category) string {
	return filepath.Join(r.OutDir, strconv.Itoa(r.Year), r.Bin(c)+".root")
}

// HistName is the cards-layout histogram name: the sample ID, or the region
// name for ttbar components, or DataObs for data, followed by _<systematic>
// for a non-nominal variation.
func HistName(s sample.Sample, reg region.Region, syst weight.Systematic) string {
	name := s.ID
	if s.Kind.IsComponent() {
		name = reg.Name
	}
	if s.IsData() {
		return DataObs
	}
	if !syst.IsNominal() {
		name += "_" + syst.Name
	}
	return name
}

func (r Router) Route(s sample.Sample, reg region.Region, syst weight.Systematic, c Category) Slot {
	if r.Layout == LayoutDump {
		file := "h_" + s.ID
		if !reg.IsBase() {
			file += "_" + reg.Name
		}
		hist := "h_" + c.Variable
		if !s.IsData() && !syst.IsNominal() {
			hist += "_" + syst.Name
		}
		return Slot{File: filepath.Join(r.OutDir, file+".root"), Hist: hist}
	}
	return Slot{File: r.CategoryFile(c), Hist: HistName(s, reg, syst)}
}

// Registry records the slots written during a run. A second claim on a slot
// is an error unless the slot holds data, whose datasets are summed.
type Registry struct {
	mu    sync.Mutex
	owner map[Slot]string
}

func NewRegistry() *Registry {
	return &Registry{owner: make(map[Slot]string)}
}

// Claim registers slot for the sample called owner. Shared reports whether
// the slot collects the histograms of several samples, which must then be
// summed rather than replaced.
func (r *Registry) Claim(slot Slot, owner string) (shared bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	shared = slot.Hist == DataObs
	prev, dup := r.owner[slot]
	if !dup {
		r.owner[slot] = owner
		return shared, nil
	}
	if shared && prev != owner {
		return true, nil
	}
	return false, fmt.Errorf("%w: %s by %s and %s", ErrDuplicateSlot, slot, prev, owner)
}
