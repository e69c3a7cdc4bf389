// Package datacard assembles the text datacard and the shapes file read by
// the statistical fit from the per-category histogram files.
package datacard

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/floats"

	"github.com/decibelcooper/vcbana/internal/rootio"
	"github.com/decibelcooper/vcbana/internal/route"
)

var ErrMissing = errors.New("datacard: missing histogram")

// Bin is one analysis category and the file holding its histograms.
type Bin struct {
	Name string
	File string
}

// ReadFunc reads the histogram called name from the file at path.
type ReadFunc func(path, name string) (*hbook.H1D, error)

// Process is one column of the datacard. Signal processes have an index
// of zero or less.
type Process struct {
	Name  string
	Index int
}

func (p Process) IsSignal() bool { return p.Index <= 0 }

type entry struct {
	nominal *hbook.H1D
	// shape nuisance name to up and down variations
	shapes map[string][2]*hbook.H1D
}

type binContent struct {
	name    string
	obs     *hbook.H1D
	entries map[string]*entry
}

// Card is an assembled datacard.
type Card struct {
	Name      string
	Processes []Process

	cfg  Config
	year int
	bins []binContent
}

// Integral is the sum of the in-range bin weights of h.
func Integral(h *hbook.H1D) float64 {
	ws := make([]float64, len(h.Binning.Bins))
	for i := range h.Binning.Bins {
		ws[i] = h.Binning.Bins[i].SumW()
	}
	return floats.Sum(ws)
}

func processes(cfg Config) []Process {
	var out []Process
	for i, s := range cfg.Signals {
		out = append(out, Process{Name: s, Index: -i})
	}
	for i, b := range cfg.Backgrounds {
		out = append(out, Process{Name: b, Index: i + 1})
	}
	return out
}

func applies(list []string, proc string) bool {
	if len(list) == 0 {
		return true
	}
	for _, p := range list {
		if p == proc {
			return true
		}
	}
	return false
}

// Assemble reads the observation, the nominal histogram of every process and
// the shape variations of every bin.
func Assemble(cfg Config, year int, bins []Bin, read ReadFunc) (*Card, error) {
	if read == nil {
		read = rootio.ReadH1D
	}
	c := &Card{
		Name:      fmt.Sprintf("%s_%s_%d", cfg.Analysis, cfg.Channel, year),
		Processes: processes(cfg),
		cfg:       cfg,
		year:      year,
	}
	for _, b := range bins {
		bc := binContent{name: b.Name, entries: make(map[string]*entry)}
		obs, err := read(b.File, route.DataObs)
		if err != nil {
			return nil, fmt.Errorf("%w: observation of bin %q: %v", ErrMissing, b.Name, err)
		}
		bc.obs = obs

		for _, p := range c.Processes {
			nom, err := read(b.File, p.Name)
			if err != nil {
				return nil, fmt.Errorf("%w: process %q of bin %q: %v", ErrMissing, p.Name, b.Name, err)
			}
			e := &entry{nominal: nom, shapes: make(map[string][2]*hbook.H1D)}
			for _, s := range cfg.Shapes {
				if !applies(s.Processes, p.Name) {
					continue
				}
				var v [2]*hbook.H1D
				for i, dir := range []string{"_Up", "_Down"} {
					name := p.Name + "_" + s.source() + dir
					v[i], err = read(b.File, name)
					if err != nil {
						return nil, fmt.Errorf("%w: shape %q of bin %q: %v", ErrMissing, name, b.Name, err)
					}
				}
				e.shapes[s.Name] = v
			}
			bc.entries[p.Name] = e
		}
		c.bins = append(c.bins, bc)
	}
	return c, nil
}

// Shapes returns the shapes file content: one directory per bin holding
// data_obs, the nominal processes and the <process>_<nuisance>Up/Down
// variations expected by the fit.
func (c *Card) Shapes() *rootio.Shapes {
	s := rootio.NewShapes()
	for _, b := range c.bins {
		s.Add(b.name, route.DataObs, b.obs)
		for _, p := range c.Processes {
			e := b.entries[p.Name]
			s.Add(b.name, p.Name, e.nominal)
			for _, sh := range c.cfg.Shapes {
				v, ok := e.shapes[sh.Name]
				if !ok {
					continue
				}
				s.Add(b.name, p.Name+"_"+sh.Name+"Up", v[0])
				s.Add(b.name, p.Name+"_"+sh.Name+"Down", v[1])
			}
		}
	}
	return s
}

type row struct {
	name, kind string
	values     map[string]string
}

func (c *Card) rows() []row {
	var rows []row
	if lumi, ok := c.cfg.Lumi[c.year]; ok {
		r := row{name: fmt.Sprintf("CMS_lumi_13TeV_%d", c.year), kind: "lnN", values: make(map[string]string)}
		for _, p := range c.Processes {
			r.values[p.Name] = fmt.Sprintf("%g", lumi)
		}
		rows = append(rows, r)
	}

	index := make(map[string]int)
	for _, l := range c.cfg.LnN {
		i, ok := index[l.Name]
		if !ok {
			i = len(rows)
			index[l.Name] = i
			rows = append(rows, row{name: l.Name, kind: "lnN", values: make(map[string]string)})
		}
		for _, p := range c.Processes {
			if _, set := rows[i].values[p.Name]; set || !applies(l.Processes, p.Name) {
				continue
			}
			rows[i].values[p.Name] = l.value()
		}
	}

	for _, s := range c.cfg.Shapes {
		r := row{name: s.Name, kind: "shape", values: make(map[string]string)}
		for _, p := range c.Processes {
			if applies(s.Processes, p.Name) {
				r.values[p.Name] = "1.0"
			}
		}
		rows = append(rows, r)
	}
	return rows
}

const separator = "----------------------------------------------------------------------------------------------------"

// WriteText writes the datacard text. shapesFile is the shapes file name as
// the fit should find it, relative to the datacard.
func (c *Card) WriteText(w io.Writer, shapesFile string) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "imax %d number of bins\n", len(c.bins))
	fmt.Fprintf(tw, "jmax %d number of processes minus 1\n", len(c.Processes)-1)
	fmt.Fprintf(tw, "kmax * number of nuisance parameters\n")
	fmt.Fprintln(tw, separator)
	fmt.Fprintf(tw, "shapes * * %s $CHANNEL/$PROCESS $CHANNEL/$PROCESS_$SYSTEMATIC\n", shapesFile)
	fmt.Fprintln(tw, separator)

	names := make([]string, len(c.bins))
	obs := make([]string, len(c.bins))
	for i, b := range c.bins {
		names[i] = b.name
		obs[i] = fmt.Sprintf("%g", Integral(b.obs))
	}
	fmt.Fprintf(tw, "bin\t%s\n", strings.Join(names, "\t"))
	fmt.Fprintf(tw, "observation\t%s\n", strings.Join(obs, "\t"))
	fmt.Fprintln(tw, separator)

	var bin, proc, idx, rate []string
	for _, b := range c.bins {
		for _, p := range c.Processes {
			bin = append(bin, b.name)
			proc = append(proc, p.Name)
			idx = append(idx, fmt.Sprint(p.Index))
			rate = append(rate, fmt.Sprintf("%g", Integral(b.entries[p.Name].nominal)))
		}
	}
	fmt.Fprintf(tw, "bin\t\t%s\n", strings.Join(bin, "\t"))
	fmt.Fprintf(tw, "process\t\t%s\n", strings.Join(proc, "\t"))
	fmt.Fprintf(tw, "process\t\t%s\n", strings.Join(idx, "\t"))
	fmt.Fprintf(tw, "rate\t\t%s\n", strings.Join(rate, "\t"))
	fmt.Fprintln(tw, separator)

	for _, r := range c.rows() {
		vals := make([]string, 0, len(bin))
		for range c.bins {
			for _, p := range c.Processes {
				v, ok := r.values[p.Name]
				if !ok {
					v = "-"
				}
				vals = append(vals, v)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.name, r.kind, strings.Join(vals, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if c.cfg.AutoMCStats {
		if _, err := fmt.Fprintf(w, "* autoMCStats 0\n"); err != nil {
			return err
		}
	}
	return nil
}

// Write writes <dir>/<name>.txt and <dir>/<name>_shapes.root and returns
// their paths.
func (c *Card) Write(dir string) (txt, shapes string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("could not create datacard directory: %w", err)
	}
	txt = filepath.Join(dir, c.Name+".txt")
	shapes = filepath.Join(dir, c.Name+"_shapes.root")

	if err := c.Shapes().Write(shapes); err != nil {
		return "", "", err
	}

	f, err := os.Create(txt)
	if err != nil {
		return "", "", fmt.Errorf("could not create datacard: %w", err)
	}
	defer f.Close()
	if err := c.WriteText(f, filepath.Base(shapes)); err != nil {
		return "", "", fmt.Errorf("could not write datacard: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("could not close datacard: %w", err)
	}
	return txt, shapes, nil
}
