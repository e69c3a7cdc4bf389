package roc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/hbook"
)

func newHist(name string, nbins int, fills map[float64]float64) *hbook.H1D {
	h := hbook.NewH1D(nbins, 0, 1)
	if h.Ann == nil {
		h.Ann = make(hbook.Annotation)
	}
	h.Ann["name"] = name
	for x, w := range fills {
		h.Fill(x, w)
	}
	return h
}

func TestScanIdentical(t *testing.T) {
	t.Parallel()

	fills := map[float64]float64{}
	for i := 0; i < 100; i++ {
		fills[(float64(i)+0.5)/100] = 1 + float64(i%7)
	}
	sig := newHist("sig", 100, fills)
	bkg := newHist("bkg", 100, fills)

	c, err := Scan(sig, bkg, 0.01)
	require.NoError(t, err)
	require.NotEmpty(t, c.Points)
	for _, p := range c.Points {
		assert.InDelta(t, 1-p.X, p.Y, 1e-12, "threshold %g", p.Threshold)
	}
}

func TestScanSeparated(t *testing.T) {
	t.Parallel()

	bkg := newHist("bkg", 10, map[float64]float64{0.25: 100})
	sig := newHist("sig", 10, map[float64]float64{0.85: 50})

	c, err := Scan(sig, bkg, 0.1)
	require.NoError(t, err)
	// ten additions of 0.1 stay just below 1
	assert.GreaterOrEqual(t, len(c.Points), 9)

	for _, tt := range []struct {
		threshold float64
		sigEff    float64
		bkgEff    float64
	}{
		{0.15, 1, 1},
		{0.35, 1, 0},
		{0.55, 1, 0},
		{0.75, 1, 0},
		{0.95, 0, 0},
	} {
		p, ok := c.At(tt.threshold)
		require.True(t, ok)
		assert.Equal(t, tt.sigEff, p.X, "threshold %g", p.Threshold)
		assert.Equal(t, tt.bkgEff, 1-p.Y, "threshold %g", p.Threshold)
	}

	// the curve reaches the (1, 1) corner
	p, ok := c.At(0.35)
	require.True(t, ok)
	assert.Equal(t, 1.0, p.X)
	assert.Equal(t, 1.0, p.Y)
}

func TestScanThresholds(t *testing.T) {
	t.Parallel()

	h := newHist("h", 10, map[float64]float64{0.5: 1})
	c, err := Scan(h, h, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 99, len(c.Points), 1)
	assert.Equal(t, 0.01, c.Points[0].Threshold)
	assert.Less(t, c.Points[len(c.Points)-1].Threshold, 1.0)
}

func TestScanErrors(t *testing.T) {
	t.Parallel()

	empty := hbook.NewH1D(10, 0, 1)
	full := newHist("full", 10, map[float64]float64{0.5: 1})

	_, err := Scan(empty, full, 0.1)
	assert.ErrorIs(t, err, ErrEmptyHistogram)
	_, err = Scan(full, empty, 0.1)
	assert.ErrorIs(t, err, ErrEmptyHistogram)
	_, err = Scan(full, full, 0)
	assert.ErrorIs(t, err, ErrInvalidStep)
	_, err = Scan(full, full, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidStep)
	_, err = EfficiencyRight(empty, 0.5)
	assert.ErrorIs(t, err, ErrEmptyHistogram)
}

func TestEfficiencyRight(t *testing.T) {
	t.Parallel()

	h := newHist("h", 4, map[float64]float64{0.1: 1, 0.3: 1, 0.6: 2, 0.9: 4})
	for _, tt := range []struct {
		t, want float64
	}{
		{-1, 1},
		{0, 1},
		{0.26, 7.0 / 8},
		{0.5, 6.0 / 8},
		{0.99, 4.0 / 8},
		{1, 0},
	} {
		got, err := EfficiencyRight(h, tt.t)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-12, "t=%g", tt.t)
	}

	// below the range only in-range bins count: underflow and overflow
	// stay out of both the numerator and the total
	shifted := hbook.NewH1D(4, 0.2, 1)
	shifted.Fill(0.1, 5)
	shifted.Fill(0.3, 1)
	shifted.Fill(0.9, 3)
	shifted.Fill(1.5, 7)
	got, err := EfficiencyRight(shifted, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 1, got, 1e-12)
	got, err = EfficiencyRight(shifted, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-12)
}

func TestArea(t *testing.T) {
	t.Parallel()

	// x decreasing as the threshold rises, as emitted by Scan
	c := Curve{Points: []Point{{X: 1, Y: 0}, {X: 0.5, Y: 0.5}, {X: 0, Y: 1}}}
	assert.InDelta(t, 0.5, c.Area(), 1e-12)

	perfect := Curve{Points: []Point{{X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}}
	assert.InDelta(t, 1, perfect.Area(), 1e-12)

	reversed := Curve{Points: []Point{{X: 0, Y: 1}, {X: 1, Y: 0}}}
	assert.InDelta(t, -0.5, reversed.Area(), 1e-12)

	assert.Equal(t, 0.0, Curve{}.Area())
	assert.Equal(t, 3, c.Len())
	x, y := c.XY(1)
	assert.Equal(t, [2]float64{0.5, 0.5}, [2]float64{x, y})
}

func TestSum(t *testing.T) {
	t.Parallel()

	a := newHist("a", 4, map[float64]float64{0.1: 1})
	b := newHist("b", 4, map[float64]float64{0.1: 2, 0.9: 3})
	s, err := Sum("stack", a, b)
	require.NoError(t, err)
	assert.Equal(t, "stack", s.Name())
	assert.Equal(t, 3.0, s.Binning.Bins[0].SumW())
	assert.Equal(t, 3.0, s.Binning.Bins[3].SumW())
	assert.Equal(t, 0.0, a.Binning.Bins[3].SumW())

	_, err = Sum("bad", a, newHist("c", 5, nil))
	assert.ErrorIs(t, err, ErrBinning)
	_, err = Sum("none")
	assert.Error(t, err)
}
