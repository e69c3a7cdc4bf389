// Package roc scans signal and background efficiencies over a threshold on
// a classifier score histogram.
package roc

import (
	"errors"
	"fmt"

	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot/plotter"
)

var (
	ErrEmptyHistogram = errors.New("roc: histogram has a zero integral")
	ErrInvalidStep    = errors.New("roc: step must be positive")
	ErrBinning        = errors.New("roc: histograms have different binnings")
)

// Point is the curve point of one threshold: X is the signal efficiency and
// Y is one minus the background efficiency.
type Point struct {
	Threshold float64
	X, Y      float64
}

// Curve is the sequence of points emitted by Scan, in increasing threshold
// order. It implements plotter.XYer.
type Curve struct {
	Name   string
	Points []Point
}

var _ plotter.XYer = Curve{}

func (c Curve) Len() int { return len(c.Points) }

func (c Curve) XY(i int) (x, y float64) { return c.Points[i].X, c.Points[i].Y }

// Area integrates the curve with the trapezoid rule over consecutive points
// in emission order. The threshold sweep traverses x downwards, hence the
// sign.
func (c Curve) Area() float64 {
	var area float64
	for i := 1; i < len(c.Points); i++ {
		x1, y1 := c.Points[i-1].X, c.Points[i-1].Y
		x2, y2 := c.Points[i].X, c.Points[i].Y
		area += -((x2 - x1) * (y2 + y1) / 2)
	}
	return area
}

// At returns the first point whose threshold is at least t.
func (c Curve) At(t float64) (Point, bool) {
	for _, p := range c.Points {
		if p.Threshold >= t {
			return p, true
		}
	}
	return Point{}, false
}

func sumW(h *hbook.H1D) []float64 {
	ws := make([]float64, len(h.Binning.Bins))
	for i := range h.Binning.Bins {
		ws[i] = h.Binning.Bins[i].SumW()
	}
	return ws
}

// findBin returns the index of the bin containing x, -1 below the range and
// len(bins) above it.
func findBin(h *hbook.H1D, x float64) int {
	bins := h.Binning.Bins
	if len(bins) == 0 || x < bins[0].XMin() {
		return -1
	}
	for i := range bins {
		if x < bins[i].XMax() {
			return i
		}
	}
	return len(bins)
}

// EfficiencyRight returns the fraction of the in-range integral of h held by
// the bin containing t and every bin above it. A threshold below the range
// selects every in-range bin; the underflow is never counted.
func EfficiencyRight(h *hbook.H1D, t float64) (float64, error) {
	ws := sumW(h)
	total := floats.Sum(ws)
	if total == 0 {
		return 0, fmt.Errorf("%w %q", ErrEmptyHistogram, h.Name())
	}
	i := findBin(h, t)
	switch {
	case i < 0:
		i = 0
	case i >= len(ws):
		return 0, nil
	}
	return floats.Sum(ws[i:]) / total, nil
}

// Scan sweeps a threshold from step up to 1, exclusive, and emits for each
// value the signal efficiency and one minus the background efficiency of
// the events at or above it.
func Scan(sig, bkg *hbook.H1D, step float64) (Curve, error) {
	if !(step > 0) {
		return Curve{}, fmt.Errorf("%w: %g", ErrInvalidStep, step)
	}
	for _, h := range []*hbook.H1D{sig, bkg} {
		if floats.Sum(sumW(h)) == 0 {
			return Curve{}, fmt.Errorf("%w %q", ErrEmptyHistogram, h.Name())
		}
	}

	var c Curve
	// accumulated rather than computed as i*step: the published working
	// points were produced by this sweep
	for t := step; t < 1; t += step {
		s, err := EfficiencyRight(sig, t)
		if err != nil {
			return Curve{}, err
		}
		b, err := EfficiencyRight(bkg, t)
		if err != nil {
			return Curve{}, err
		}
		c.Points = append(c.Points, Point{Threshold: t, X: s, Y: 1 - b})
	}
	return c, nil
}

// Sum adds same-binned histograms into a new one named name.
func Sum(name string, hs ...*hbook.H1D) (*hbook.H1D, error) {
	if len(hs) == 0 {
		return nil, fmt.Errorf("roc: no histogram to sum into %q", name)
	}
	out := hbook.NewH1DFromEdges(edges(hs[0]))
	for _, h := range hs {
		if !sameBinning(out, h) {
			return nil, fmt.Errorf("%w: %q and %q", ErrBinning, hs[0].Name(), h.Name())
		}
		out = hbook.AddH1D(out, h)
	}
	if out.Ann == nil {
		out.Ann = make(hbook.Annotation)
	}
	out.Ann["name"] = name
	return out, nil
}

func edges(h *hbook.H1D) []float64 {
	bins := h.Binning.Bins
	out := make([]float64, 0, len(bins)+1)
	for _, b := range bins {
		out = append(out, b.XMin())
	}
	if len(bins) > 0 {
		out = append(out, bins[len(bins)-1].XMax())
	}
	return out
}

func sameBinning(a, b *hbook.H1D) bool {
	ea, eb := edges(a), edges(b)
	if len(ea) != len(eb) {
		return false
	}
	for i := range ea {
		if ea[i] != eb[i] {
			return false
		}
	}
	return true
}
