// Package pipeline runs the histogram production over a set of samples:
// selection per region, weights per systematic, derived columns, and
// routing of every filled histogram to its output slot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/decibelcooper/vcbana/internal/config"
	"github.com/decibelcooper/vcbana/internal/derive"
	"github.com/decibelcooper/vcbana/internal/frame"
	"github.com/decibelcooper/vcbana/internal/region"
	"github.com/decibelcooper/vcbana/internal/rootio"
	"github.com/decibelcooper/vcbana/internal/route"
	"github.com/decibelcooper/vcbana/internal/sample"
	"github.com/decibelcooper/vcbana/internal/weight"
)

// weightColumn is the frame column holding the event weight.
const weightColumn = "weight_column"

// Source is an opened sample.
type Source interface {
	frame.Source
	Close() error
}

// OpenFunc opens the event tree of a sample.
type OpenFunc func(path, tree string) (Source, error)

func openTree(path, tree string) (Source, error) {
	src, err := rootio.OpenTree(path, tree)
	if err != nil {
		return nil, err
	}
	return src, nil
}

type Options struct {
	Config config.Config
	Layout route.Layout
	OutDir string

	// Channels restricts the base selection to the named lepton channels.
	Channels []string
	// Extra is ANDed into the selection of every region.
	Extra string
	// Variables replaces the configured categories, as in the per-sample
	// dump layout.
	Variables []route.Category
	// NominalOnly skips the systematic variations.
	NominalOnly bool

	Open    OpenFunc
	Store   *rootio.Store
	Metrics *Metrics
}

type job struct {
	opts     Options
	router   route.Router
	builder  *weight.Builder
	regions  []region.Region
	base     region.Region
	channel  string
	registry *route.Registry
}

func newJob(opts Options) (*job, error) {
	cfg := opts.Config
	regions, err := cfg.RegionList()
	if err != nil {
		return nil, err
	}
	base, ok := region.Base(regions)
	if !ok {
		return nil, fmt.Errorf("%w: no base region", config.ErrInvalid)
	}
	channel, err := cfg.ChannelSelection(opts.Channels...)
	if err != nil {
		return nil, err
	}
	if opts.Open == nil {
		opts.Open = openTree
	}
	if opts.Store == nil {
		opts.Store = rootio.NewStore()
	}
	return &job{
		opts: opts,
		router: route.Router{
			Layout: opts.Layout,
			OutDir: opts.OutDir,
			Year:   cfg.Year,
			Prefix: cfg.Prefix,
		},
		builder:  weight.NewBuilder(cfg.Weight),
		regions:  regions,
		base:     base,
		channel:  channel,
		registry: route.NewRegistry(),
	}, nil
}

func (j *job) categories() []route.Category {
	if len(j.opts.Variables) > 0 {
		return j.opts.Variables
	}
	return j.opts.Config.Categories
}

// variations returns the systematics run for s. Data only gets the
// nominal pass.
func (j *job) variations(s sample.Sample) []weight.Systematic {
	if s.IsData() || j.opts.NominalOnly {
		return []weight.Systematic{weight.Nominal}
	}
	return j.opts.Config.Variations()
}

// weight returns the weight expression of s. Data is never weighted.
func (j *job) weight(s sample.Sample, syst weight.Systematic) string {
	if s.IsData() {
		return "1"
	}
	return j.builder.Build(j.opts.Config.Year, s, syst)
}

type booking struct {
	slot  route.Slot
	res   *frame.Result
	merge bool
}

// Outcome summarizes one processed sample.
type Outcome struct {
	Sample     sample.Sample
	Regions    []string
	Histograms int
	Skipped    int64
}

func (j *job) process(ctx context.Context, s sample.Sample) (Outcome, error) {
	out := Outcome{Sample: s}
	regions := region.Applicable(s, j.regions)
	if len(regions) == 0 {
		log.Warn().Str("sample", s.ID).Str("kind", s.Kind.String()).Msg("no region applies, skipping")
		return out, nil
	}

	src, err := j.opts.Open(s.Path, j.opts.Config.Tree)
	if err != nil {
		return out, err
	}
	defer src.Close()

	f := frame.New(src)
	root, err := derive.Apply(f.Root(), j.opts.Config.Derive)
	if err != nil {
		return out, err
	}

	extras := append([]string{j.channel, j.opts.Extra}, j.opts.Config.VetoesFor(s.ID)...)
	var books []booking
	for _, r := range regions {
		sel := region.Selection(j.base, r, extras...)
		log.Debug().Str("sample", s.ID).Str("region", r.Name).Str("selection", sel).Msg("booking region")
		node, err := root.Filter(sel)
		if err != nil {
			return out, fmt.Errorf("region %q: %w", r.Name, err)
		}
		out.Regions = append(out.Regions, r.Name)

		for _, syst := range j.variations(s) {
			w := j.weight(s, syst)
			wnode, err := node.Define(weightColumn, w)
			if err != nil {
				return out, fmt.Errorf("region %q, weight %q: %w", r.Name, syst.Name, err)
			}
			for _, cat := range j.categories() {
				slot := j.router.Route(s, r, syst, cat)
				shared, err := j.registry.Claim(slot, s.ID)
				if err != nil {
					return out, err
				}
				title := fmt.Sprintf("Histogram of %s for process %s", cat.Variable, slot.Hist)
				res, err := wnode.Histo1D(cat.HistSpec(slot.Hist, title), cat.Variable, weightColumn)
				if err != nil {
					return out, fmt.Errorf("category %q: %w", cat.Name, err)
				}
				books = append(books, booking{slot: slot, res: res, merge: shared})
			}
		}
	}

	if err := f.Run(ctx); err != nil {
		return out, err
	}

	byFile := make(map[string][]rootio.Item)
	var files []string
	for _, b := range books {
		if _, ok := byFile[b.slot.File]; !ok {
			files = append(files, b.slot.File)
		}
		byFile[b.slot.File] = append(byFile[b.slot.File], rootio.Item{H: b.res.H1D(), Merge: b.merge})
		out.Skipped += b.res.Skipped()
	}
	for _, file := range files {
		if err := j.opts.Store.Append(file, byFile[file]...); err != nil {
			return out, err
		}
		out.Histograms += len(byFile[file])
	}
	return out, nil
}

// ProcessSample runs a single sample.
func ProcessSample(ctx context.Context, opts Options, s sample.Sample) (Outcome, error) {
	j, err := newJob(opts)
	if err != nil {
		return Outcome{Sample: s}, err
	}
	return j.process(ctx, s)
}

// Failure is a sample that could not be processed.
type Failure struct {
	Sample string
	Err    error
}

// Report is the result of Run. A failed sample does not stop the others.
type Report struct {
	RunID    string
	Outcomes []Outcome
	Failures []Failure
}

// Err joins the failures, or returns nil.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Sample, f.Err))
	}
	return errors.Join(errs...)
}

// Run processes every input with at most workers samples in flight. The
// returned error is only set when the run could not start; per-sample
// errors are in the report.
func Run(ctx context.Context, opts Options, inputs []string, workers int) (Report, error) {
	rep := Report{RunID: uuid.NewString()}
	j, err := newJob(opts)
	if err != nil {
		return rep, err
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	for _, path := range inputs {
		s := opts.Config.Samples.Classify(path)
		grp.Go(func() error {
			start := time.Now()
			logger := log.With().Str("run", rep.RunID).Str("sample", s.ID).Logger()
			logger.Info().Str("kind", s.Kind.String()).Str("family", s.Family.String()).Msg("processing")

			res, err := j.process(ctx, s)
			opts.Metrics.sample(err == nil, time.Since(start).Seconds())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error().Err(err).Msg("sample failed")
				rep.Failures = append(rep.Failures, Failure{Sample: s.ID, Err: err})
				return nil
			}
			opts.Metrics.written(res.Histograms, res.Skipped)
			ev := logger.Info().Int("histograms", res.Histograms).Strs("regions", res.Regions)
			if res.Skipped > 0 {
				ev = ev.Int64("nan_skipped", res.Skipped)
			}
			ev.Dur("elapsed", time.Since(start)).Msg("done")
			rep.Outcomes = append(rep.Outcomes, res)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return rep, err
	}

	sort.Slice(rep.Outcomes, func(i, k int) bool { return rep.Outcomes[i].Sample.ID < rep.Outcomes[k].Sample.ID })
	sort.Slice(rep.Failures, func(i, k int) bool { return rep.Failures[i].Sample < rep.Failures[k].Sample })
	return rep, nil
}

// Discover lists the input files of dirs matching the sample file suffix.
func Discover(dirs []string, suffix string) ([]string, error) {
	if suffix == "" {
		suffix = ".root"
	}
	var out []string
	seen := make(map[string]bool)
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.root"))
		if err != nil {
			return nil, fmt.Errorf("could not list %q: %w", dir, err)
		}
		for _, m := range matches {
			if !strings.HasSuffix(m, suffix) || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}
