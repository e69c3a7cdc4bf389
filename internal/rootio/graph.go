package rootio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rhist"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/plot/plotter"
)

// NamedXYs is a curve to be stored as a TGraph.
type NamedXYs struct {
	Name string
	XYs  plotter.XYer
}

// WriteCurves writes one TGraph per curve to a new file at path.
func WriteCurves(path string, curves ...NamedXYs) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}
	f, err := groot.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", path, err)
	}

	for _, c := range curves {
		pts := make([]hbook.Point2D, c.XYs.Len())
		for i := range pts {
			pts[i].X, pts[i].Y = c.XYs.XY(i)
		}
		s := hbook.NewS2D(pts...)
		if ann := s.Annotation(); ann != nil {
			ann["name"] = c.Name
		}
		if err := f.Put(c.Name, rhist.NewGraphFrom(s)); err != nil {
			f.Close()
			return fmt.Errorf("could not write curve %q: %w", c.Name, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not close %q: %w", path, err)
	}
	return nil
}

// ReadCurve returns the points of the TGraph called name.
func ReadCurve(path, name string) (plotter.XYs, error) {
	f, err := groot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", path, err)
	}
	defer f.Close()

	obj, err := f.Get(name)
	if err != nil {
		return nil, fmt.Errorf("could not find curve %q in %q: %w", name, path, err)
	}
	g, ok := obj.(rhist.Graph)
	if !ok {
		return nil, fmt.Errorf("rootio: %q in %q is a %s, not a graph", name, path, obj.Class())
	}
	xys := make(plotter.XYs, g.Len())
	for i := range xys {
		xys[i].X, xys[i].Y = g.XY(i)
	}
	return xys, nil
}

// Shapes collects histograms per directory and writes them in one go.
type Shapes struct {
	dirs map[string][]*hbook.H1D
}

func NewShapes() *Shapes {
	return &Shapes{dirs: make(map[string][]*hbook.H1D)}
}

// Add queues h under dir, renamed to name.
func (s *Shapes) Add(dir, name string, h *hbook.H1D) {
	ann := make(hbook.Annotation, len(h.Ann)+1)
	for k, v := range h.Ann {
		ann[k] = v
	}
	ann["name"] = name
	c := *h
	c.Ann = ann
	s.dirs[dir] = append(s.dirs[dir], &c)
}

func (s *Shapes) Dirs() []string {
	out := make([]string, 0, len(s.dirs))
	for d := range s.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Write creates the file at path with one directory per Add dir.
func (s *Shapes) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}
	f, err := groot.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", path, err)
	}

	for _, name := range s.Dirs() {
		dir, err := riofs.Dir(f).Mkdir(name)
		if err != nil {
			f.Close()
			return fmt.Errorf("could not create directory %q: %w", name, err)
		}
		for _, h := range s.dirs[name] {
			if err := dir.Put(h.Name(), rhist.NewH1DFrom(h)); err != nil {
				f.Close()
				return fmt.Errorf("could not write %s/%s: %w", name, h.Name(), err)
			}
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not close %q: %w", path, err)
	}
	return nil
}
