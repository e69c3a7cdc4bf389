package frame

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/hbook"
)

type fakeScope map[string]int

func (s fakeScope) lookup(name string) (int, Kind, bool) {
	i, ok := s[name]
	if !ok {
		return -1, Scalar, false
	}
	if i < 0 {
		return -i, Vector, true
	}
	return i, Scalar, true
}

func evalExpr(t *testing.T, expr string, vals map[string]float64) float64 {
	t.Helper()
	scope := fakeScope{}
	row := newRow(len(vals) + 1)
	i := 0
	for k, v := range vals {
		scope[k] = i
		row.vals[i] = v
		i++
	}
	fn, _, err := compileScalar(expr, scope)
	require.NoError(t, err)
	return fn(row)
}

func TestExprSemantics(t *testing.T) {
	t.Parallel()

	vals := map[string]float64{
		"n_ak4":      4,
		"n_btagM":    2,
		"n_ctagM":    1,
		"passTrigEl": 1,
		"passTrigMu": 0,
		"lep1_pdgId": -11,
		"lep1_phi":   -1.0,
		"lep1_eta":   -1.5,
		"year":       2018,
		"w":          0.5,
		"puWeight":   2,
		"puWeightUp": 3,
	}

	tests := []struct {
		expr string
		want float64
	}{
		{"n_ak4>=4 && (n_btagM+n_ctagM)>=3 && n_btagM>=1", 1},
		{"n_ak4>=5 || n_btagM==2", 1},
		{"!(n_ak4>=4)", 0},
		{"abs(lep1_pdgId)==11 && passTrigEl", 1},
		{"passTrigMu==0", 1},
		{"!(lep1_phi>-1.57 && lep1_phi<-0.87 && lep1_eta<-1.3)", 0},
		{"(year!=2018) || (year==2018 && !(lep1_phi>-1.57 && lep1_phi<-0.87 && lep1_eta<-1.3))", 0},
		{"w*(abs(lep1_pdgId)==11 && passTrigEl)", 0.5},
		{"w*puWeightUp/puWeight", 0.75},
		{"pow(2, 3) + min(1, 2) - max(1, 2)", 7},
		{"7 % 4", 3},
		{"1.e-1 * 10", 1},
		{"0.", 0},
		{"true + true", 2},
		{"-w", -0.5},
		{"lep1_eta<-1.3", 1},
		{"lep1_phi<-1.57", 0},
		{"lep1_eta<-w", 1},
		{"lep1_phi>-1.57&&lep1_phi<-0.87", 1},
		{"(n_btagM & 1) == 0", 1},
		{"(n_ak4 | 1) + 1", 6},
		{"n_ak4 & 4 && n_btagM", 1},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.InDelta(t, tt.want, evalExpr(t, tt.expr, vals), 1e-12)
		})
	}
}

func TestExprShortCircuit(t *testing.T) {
	t.Parallel()

	// the right operand would be NaN, which is truthy
	assert.Equal(t, 0.0, evalExpr(t, "x != 0 && (1/x) > 0", map[string]float64{"x": 0}))
	assert.Equal(t, 1.0, evalExpr(t, "x == 0 || (0/x) > 0", map[string]float64{"x": 0}))
}

func TestExprErrors(t *testing.T) {
	t.Parallel()

	scope := fakeScope{"a": 0, "jets": -1}
	tests := []struct {
		expr string
		err  error
	}{
		{"", ErrSyntax},
		{"a >= ", ErrSyntax},
		{"a && missing", ErrUnknownColumn},
		{`a == "x"`, ErrSyntax},
		{"nosuchfunc(a)", ErrSyntax},
		{"abs(a, a)", ErrSyntax},
		{"jets + 1", ErrType},
		{"jets", ErrType},
		{"size(a)", ErrType},
		{"a & 1 == 1", ErrSyntax},
		{"a == 1 | a", ErrSyntax},
		{"a | a + 1", ErrSyntax},
		{"a * a & 1", ErrSyntax},
		{"a ^ a | 1", ErrSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, _, err := compileScalar(tt.expr, scope)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "x < -1.3", normalize("x<-1.3"))
	assert.Equal(t, "a< -b && c < -2", normalize("a<-b && c <-2"))
	assert.Equal(t, "x <= -1", normalize("x <= -1"))
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()

	ids, err := Identifiers("abs(lep1_pdgId)==11 && pow(abs(x), 2) > y && at(jets, 0, 0) > 1 && true")
	require.NoError(t, err)
	assert.Equal(t, []string{"lep1_pdgId", "x", "y", "jets"}, ids)

	ids, err = Identifiers("lep1_phi<-0.87 && lep1_eta<-1.3")
	require.NoError(t, err)
	assert.Equal(t, []string{"lep1_phi", "lep1_eta"}, ids)
}

func binContents(h *hbook.H1D) []float64 {
	out := make([]float64, len(h.Binning.Bins))
	for i := range h.Binning.Bins {
		out[i] = h.Binning.Bins[i].SumW()
	}
	return out
}

func testTable() *Table {
	return NewTable().
		AddScalar("x", []float64{0.05, 0.15, 0.25, 0.35, 0.45}).
		AddScalar("cat", []float64{0, 1, 1, 2, 2}).
		AddScalar("w", []float64{1, 2, 3, 4, 5}).
		AddVector("jets", [][]float64{{0.05, 0.15}, {}, {0.25}, {0.35, 0.45, 0.05}, {0.15}})
}

func TestFrameFilterDefineHisto(t *testing.T) {
	t.Parallel()

	f := New(testTable())
	spec := HistSpec{Name: "h", NBins: 5, XMin: 0, XMax: 0.5}

	sel, err := f.Root().Filter("cat >= 1")
	require.NoError(t, err)
	weighted, err := sel.Define("weight", "w*2")
	require.NoError(t, err)
	hw, err := weighted.Histo1D(spec, "x", "weight")
	require.NoError(t, err)

	nested, err := sel.Filter("cat == 2")
	require.NoError(t, err)
	hn, err := nested.Histo1D(spec, "x", "")
	require.NoError(t, err)

	hall, err := f.Root().Histo1D(spec, "jets", "w")
	require.NoError(t, err)

	require.NoError(t, f.Run(context.Background()))

	assert.Equal(t, []float64{0, 4, 6, 8, 10}, binContents(hw.H1D()))
	assert.Equal(t, []float64{0, 0, 0, 1, 1}, binContents(hn.H1D()))
	assert.Equal(t, []float64{1 + 4, 1 + 5, 3, 4, 4}, binContents(hall.H1D()))
	assert.Equal(t, "h", hw.H1D().Name())

	assert.ErrorIs(t, f.Run(context.Background()), ErrAlreadyRun)
}

func TestFrameSiblingDefines(t *testing.T) {
	t.Parallel()

	f := New(testTable())
	spec := HistSpec{Name: "h", NBins: 5, XMin: 0, XMax: 0.5}

	a, err := f.Root().Filter("cat == 1")
	require.NoError(t, err)
	b, err := f.Root().Filter("cat == 2")
	require.NoError(t, err)

	aw, err := a.Define("weight", "1")
	require.NoError(t, err)
	bw, err := b.Define("weight", "10")
	require.NoError(t, err)

	_, err = aw.Define("weight", "2")
	assert.ErrorIs(t, err, ErrDefined)
	_, err = aw.Define("x", "2")
	assert.ErrorIs(t, err, ErrDefined)

	ha, err := aw.Histo1D(spec, "x", "weight")
	require.NoError(t, err)
	hb, err := bw.Histo1D(spec, "x", "weight")
	require.NoError(t, err)

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, []float64{0, 1, 1, 0, 0}, binContents(ha.H1D()))
	assert.Equal(t, []float64{0, 0, 0, 10, 10}, binContents(hb.H1D()))
}

func TestFrameSkipsNaN(t *testing.T) {
	t.Parallel()

	f := New(NewTable().
		AddScalar("num", []float64{1, 0, 1}).
		AddScalar("den", []float64{2, 0, 4}))
	ratio, err := f.Root().Define("ratio", "num/den")
	require.NoError(t, err)
	res, err := ratio.Histo1D(HistSpec{Name: "r", NBins: 2, XMin: 0, XMax: 1}, "ratio", "")
	require.NoError(t, err)

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, int64(1), res.Skipped())
	assert.Equal(t, []float64{1, 1}, binContents(res.H1D()))
}

func TestFrameVectorAccess(t *testing.T) {
	t.Parallel()

	f := New(testTable())
	lead, err := f.Root().Define("jet1", "at(jets, 0, -1)")
	require.NoError(t, err)
	n, err := lead.Define("njets", "size(jets)")
	require.NoError(t, err)
	res, err := n.Histo1D(HistSpec{Name: "n", Edges: []float64{-0.5, 0.5, 1.5, 2.5, 3.5}}, "njets", "")
	require.NoError(t, err)
	neg, err := n.Filter("jet1 < 0")
	require.NoError(t, err)
	resNeg, err := neg.Histo1D(HistSpec{Name: "neg", NBins: 1, XMin: -2, XMax: 0}, "jet1", "")
	require.NoError(t, err)

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, []float64{1, 2, 1, 1}, binContents(res.H1D()))
	assert.Equal(t, []float64{1}, binContents(resNeg.H1D()))
}

func TestFrameBookingErrors(t *testing.T) {
	t.Parallel()

	f := New(testTable())
	_, err := f.Root().Histo1D(HistSpec{Name: "h", NBins: 5, XMin: 0, XMax: 1}, "nope", "")
	assert.ErrorIs(t, err, ErrUnknownColumn)
	_, err = f.Root().Histo1D(HistSpec{Name: "h", NBins: 5, XMin: 0, XMax: 1}, "x", "jets")
	assert.ErrorIs(t, err, ErrType)
	_, err = f.Root().Histo1D(HistSpec{Name: "h", NBins: 0, XMin: 0, XMax: 1}, "x", "")
	assert.Error(t, err)
	_, err = f.Root().Filter("x > nope")
	assert.ErrorIs(t, err, ErrUnknownColumn)
	assert.True(t, f.HasColumn("jets"))
}
