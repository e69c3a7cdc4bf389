package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelcooper/vcbana/internal/config"
	"github.com/decibelcooper/vcbana/internal/datacard"
	"github.com/decibelcooper/vcbana/internal/frame"
	"github.com/decibelcooper/vcbana/internal/rootio"
	"github.com/decibelcooper/vcbana/internal/route"
	"github.com/decibelcooper/vcbana/internal/weight"
)

type tableSource struct {
	*frame.Table
	closed *bool
}

func (s tableSource) Close() error {
	*s.closed = true
	return nil
}

// events holds four events: one ttcc-like, one ttbb-like, one failing the
// base selection and one ttLF-like from the muon trigger.
func events() *frame.Table {
	cols := map[string][]float64{
		"n_ak4":              {4, 5, 3, 6},
		"n_btagM":            {2, 2, 2, 1},
		"n_ctagM":            {1, 1, 1, 2},
		"genEventClassifier": {6, 9, 6, 0},
		"wcb":                {0, 0, 0, 0},
		"tt_category":        {1, 1, 1, 0},
		"higgs_decay":        {0, 0, 0, 0},
		"passTrigEl":         {1, 1, 1, 0},
		"passTrigMu":         {0, 0, 0, 1},
		"genWeight":          {1, 1, 1, 1},
		"topptWeight":        {2, 2, 2, 2},
		"puWeight":           {1, 1, 1, 1},
		"puWeightUp":         {1.5, 1.5, 1.5, 1.5},
		"puWeightDown":       {0.5, 0.5, 0.5, 0.5},
		"score_tt_Wcb":       {0.05, 0.15, 0.25, 0.95},
		"score_ttbb":         {0.2, 0.2, 0.2, 0.2},
		"score_ttbj":         {0.2, 0.2, 0.2, 0.2},
		"score_ttcc":         {0.2, 0.2, 0.2, 0.2},
		"score_ttcj":         {0.2, 0.2, 0.2, 0.2},
		"score_ttLF":         {0.2, 0.2, 0.2, 0.2},
		"lumiwgt":            {2, 2, 2, 2},
		"xsecWeight":         {1, 1, 1, 1},
		"l1PreFiringWeight":  {1, 1, 1, 1},
		"muEffWeight":        {1, 1, 1, 1},
		"elEffWeight":        {1, 1, 1, 1},
		"flavTagWeight":      {1, 1, 1, 1},
		"passmetfilters":     {1, 1, 1, 1},
		"year":               {2018, 2018, 2018, 2018},
		// the second event is an electron in the HEM veto area
		"lep1_pdgId": {11, -11, 11, -13},
		"lep1_phi":   {0.3, -1.2, 0.3, 2.1},
		"lep1_eta":   {0.5, -1.5, 0.5, -2.0},
	}
	t := frame.NewTable()
	for _, name := range []string{
		"n_ak4", "n_btagM", "n_ctagM", "genEventClassifier", "wcb", "tt_category", "higgs_decay",
		"passTrigEl", "passTrigMu", "genWeight", "topptWeight", "puWeight", "puWeightUp", "puWeightDown",
		"score_tt_Wcb", "score_ttbb", "score_ttbj", "score_ttcc", "score_ttcj", "score_ttLF",
		"lumiwgt", "xsecWeight", "l1PreFiringWeight", "muEffWeight", "elEffWeight", "flavTagWeight",
		"passmetfilters", "year", "lep1_pdgId", "lep1_phi", "lep1_eta",
	} {
		t.AddScalar(name, cols[name])
	}
	return t
}

type opener struct {
	mu     sync.Mutex
	closed map[string]*bool
}

func (o *opener) open(path, tree string) (Source, error) {
	if strings.Contains(path, "broken") {
		return nil, fmt.Errorf("could not open %q: %w", path, rootio.ErrNoTree)
	}
	c := new(bool)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed == nil {
		o.closed = make(map[string]*bool)
	}
	o.closed[path] = c
	return tableSource{Table: events(), closed: c}, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Weight.Nominal = map[int]string{2018: "genWeight"}
	cfg.Categories = []route.Category{
		{Name: "catWcb", Variable: "score_tt_Wcb", Bins: 10, Min: 0, Max: 1, Suffix: "_SR"},
		{Name: "catCC", Variable: "fscore_ttcc", Bins: 2, Min: 0, Max: 1, Suffix: "_CR"},
	}
	return cfg
}

func integral(t *testing.T, path, name string) float64 {
	t.Helper()
	h, err := rootio.ReadH1D(path, name)
	require.NoError(t, err, name)
	return datacard.Integral(h)
}

func TestRunCards(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	op := &opener{}
	m := NewMetrics()
	opts := Options{Config: testConfig(), OutDir: out, Open: op.open, Metrics: m}

	inputs := []string{
		"in/wjets_tree.root",
		"in/ttbar-powheg_tree.root",
		"in/ttbb-4f_tree.root",
		"in/singlee_tree.root",
		"in/singlemu_tree.root",
		"in/broken_tree.root",
	}
	rep, err := Run(context.Background(), opts, inputs, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)

	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "broken", rep.Failures[0].Sample)
	assert.ErrorIs(t, rep.Err(), rootio.ErrNoTree)
	assert.Len(t, rep.Outcomes, 5)
	for path, closed := range op.closed {
		assert.True(t, *closed, path)
	}

	sr := filepath.Join(out, "2018", "Vcb_catWcb_SR.root")
	names, err := rootio.ListH1D(sr)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"data_obs",
		"ttLF", "ttLF_CMS_puWeight_Down", "ttLF_CMS_puWeight_Up",
		"ttbb", "ttbb_CMS_puWeight_Down", "ttbb_CMS_puWeight_Up",
		"ttbj", "ttbj_CMS_puWeight_Down", "ttbj_CMS_puWeight_Up",
		"ttcc", "ttcc_CMS_puWeight_Down", "ttcc_CMS_puWeight_Up",
		"ttcj", "ttcj_CMS_puWeight_Down", "ttcj_CMS_puWeight_Up",
		"wjets", "wjets_CMS_puWeight_Down", "wjets_CMS_puWeight_Up",
	}, names)

	assert.InDelta(t, 3, integral(t, sr, "wjets"), 1e-9)
	assert.InDelta(t, 4.5, integral(t, sr, "wjets_CMS_puWeight_Up"), 1e-9)
	assert.InDelta(t, 1.5, integral(t, sr, "wjets_CMS_puWeight_Down"), 1e-9)
	assert.InDelta(t, 2, integral(t, sr, "ttcc"), 1e-9)
	assert.InDelta(t, 2, integral(t, sr, "ttLF"), 1e-9)
	assert.InDelta(t, 0, integral(t, sr, "ttcj"), 1e-9)
	assert.InDelta(t, 2, integral(t, sr, "ttbb"), 1e-9)
	assert.InDelta(t, 0, integral(t, sr, "ttbj"), 1e-9)
	// singlee keeps the two electron-triggered events, singlemu all three
	assert.InDelta(t, 5, integral(t, sr, "data_obs"), 1e-9)

	cr := filepath.Join(out, "2018", "Vcb_catCC_CR.root")
	h, err := rootio.ReadH1D(cr, "wjets")
	require.NoError(t, err)
	assert.InDelta(t, 3, h.Binning.Bins[0].SumW(), 1e-9)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.samples.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.samples.WithLabelValues("failed")))
	// wjets 1x3x2, ttbar-powheg 3x3x2, ttbb-4f 2x3x2, data 2x1x2
	assert.Equal(t, 40.0, testutil.ToFloat64(m.histograms))
}

func TestRunDefaultWeights(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.Equal(t, weight.DefaultPolicy(), cfg.Weight)

	out := t.TempDir()
	op := &opener{}
	opts := Options{Config: cfg, OutDir: out, Open: op.open}
	inputs := []string{
		"in/wjets_tree.root",
		"in/ttbar-powheg_tree.root",
		"in/ttbb-4f_tree.root",
		"in/singlemu_tree.root",
	}
	rep, err := Run(context.Background(), opts, inputs, 2)
	require.NoError(t, err)
	require.NoError(t, rep.Err())
	assert.Len(t, rep.Outcomes, 4)

	sr := filepath.Join(out, "2018", "Vcb_catWcb_SR.root")
	// lumiwgt is 2 and the HEM electron gets a zero weight
	assert.InDelta(t, 4, integral(t, sr, "wjets"), 1e-9)
	assert.InDelta(t, 6, integral(t, sr, "wjets_CMS_puWeight_Up"), 1e-9)
	assert.InDelta(t, 2, integral(t, sr, "wjets_CMS_puWeight_Down"), 1e-9)
	// ttbar components carry topptWeight = 2
	assert.InDelta(t, 4, integral(t, sr, "ttcc"), 1e-9)
	assert.InDelta(t, 6, integral(t, sr, "ttcc_CMS_puWeight_Up"), 1e-9)
	assert.InDelta(t, 4, integral(t, sr, "ttLF"), 1e-9)
	assert.InDelta(t, 0, integral(t, sr, "ttbb"), 1e-9)
	// data is never weighted
	assert.InDelta(t, 3, integral(t, sr, "data_obs"), 1e-9)

	cr := filepath.Join(out, "2018", "Vcb_catLF_CR.root")
	assert.InDelta(t, 4, integral(t, cr, "ttLF"), 1e-9)
}

func TestRunChannelAndExtra(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	op := &opener{}
	opts := Options{
		Config:   testConfig(),
		OutDir:   out,
		Open:     op.open,
		Channels: []string{"electron"},
		Extra:    "score_tt_Wcb < 0.1",
	}
	rep, err := Run(context.Background(), opts, []string{"in/wjets_tree.root"}, 1)
	require.NoError(t, err)
	require.NoError(t, rep.Err())

	sr := filepath.Join(out, "2018", "Vcb_catWcb_SR.root")
	assert.InDelta(t, 1, integral(t, sr, "wjets"), 1e-9)
}

func TestRunDuplicateSlot(t *testing.T) {
	t.Parallel()

	op := &opener{}
	opts := Options{Config: testConfig(), OutDir: t.TempDir(), Open: op.open}
	rep, err := Run(context.Background(), opts, []string{"a/wjets_tree.root", "b/wjets_tree.root"}, 1)
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.True(t, errors.Is(rep.Failures[0].Err, route.ErrDuplicateSlot))
}

func TestProcessSampleDump(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	op := &opener{}
	opts := Options{
		Config:      testConfig(),
		Layout:      route.LayoutDump,
		OutDir:      out,
		Open:        op.open,
		NominalOnly: true,
		Variables: []route.Category{
			{Name: "n_ak4", Variable: "n_ak4", Bins: 10, Min: 0, Max: 10},
		},
	}
	s := opts.Config.Samples.Classify("in/ttbar-powheg_tree.root")
	res, err := ProcessSample(context.Background(), opts, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"ttcc", "ttcj", "ttLF"}, res.Regions)
	assert.Equal(t, 3, res.Histograms)

	h, err := rootio.ReadH1D(filepath.Join(out, "h_ttbar-powheg_ttcc.root"), "h_n_ak4")
	require.NoError(t, err)
	assert.InDelta(t, 2, h.Binning.Bins[4].SumW(), 1e-9)

	names, err := rootio.ListH1D(filepath.Join(out, "h_ttbar-powheg_ttLF.root"))
	require.NoError(t, err)
	assert.Equal(t, []string{"h_n_ak4"}, names)
}

func TestProcessSampleUnknownColumn(t *testing.T) {
	t.Parallel()

	op := &opener{}
	cfg := testConfig()
	cfg.Categories[0].Variable = "score_missing"
	opts := Options{Config: cfg, OutDir: t.TempDir(), Open: op.open}
	_, err := ProcessSample(context.Background(), opts, cfg.Samples.Classify("in/wjets_tree.root"))
	assert.ErrorIs(t, err, frame.ErrUnknownColumn)
	assert.True(t, *op.closed["in/wjets_tree.root"])
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"wjets_tree.root", "Data_tree.root", "h_wjets.root", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	got, err := Discover([]string{dir, dir}, "_tree.root")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "Data_tree.root"),
		filepath.Join(dir, "wjets_tree.root"),
	}, got)
}
