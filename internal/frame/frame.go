// Package frame is a small columnar event-processing engine in the spirit of
// ROOT's RDataFrame: a graph of filters and defined columns over a Source,
// with histograms booked on graph nodes and filled in a single event loop.
package frame

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go-hep.org/x/hep/hbook"
)

var (
	ErrSyntax        = errors.New("frame: invalid expression")
	ErrUnknownColumn = errors.New("frame: unknown column")
	ErrType          = errors.New("frame: type mismatch")
	ErrDefined       = errors.New("frame: column already defined")
	ErrAlreadyRun    = errors.New("frame: event loop already run")
)

type Kind uint8

const (
	Scalar Kind = iota
	Vector
)

func (k Kind) String() string {
	if k == Vector {
		return "vector"
	}
	return "scalar"
}

type Column struct {
	Name string
	Kind Kind
}

// Row holds the values of the current entry. Source columns occupy the
// first slots, in the order returned by Source.Columns; defined columns
// follow.
type Row struct {
	vals []float64
	vecs [][]float64
}

func newRow(n int) *Row {
	return &Row{vals: make([]float64, n), vecs: make([][]float64, n)}
}

func (r *Row) SetScalar(slot int, v float64)   { r.vals[slot] = v }
func (r *Row) SetVector(slot int, v []float64) { r.vecs[slot] = v }

// Source is a table of events the engine iterates over.
type Source interface {
	Columns() []Column
	// Scan loads the source columns listed in slots into row for every
	// entry, then calls fn. Columns not listed may hold stale values.
	Scan(ctx context.Context, slots []int, row *Row, fn func() error) error
}

// HistSpec describes a one-dimensional histogram. Edges, when set, take
// precedence over the uniform NBins/XMin/XMax binning.
type HistSpec struct {
	Name  string
	Title string
	NBins int
	XMin  float64
	XMax  float64
	Edges []float64
}

func (s HistSpec) validate() error {
	if len(s.Edges) > 0 {
		if len(s.Edges) < 2 {
			return fmt.Errorf("frame: histogram %q needs at least 2 edges", s.Name)
		}
		if !sort.Float64sAreSorted(s.Edges) {
			return fmt.Errorf("frame: histogram %q edges are not sorted", s.Name)
		}
		return nil
	}
	if s.NBins <= 0 || !(s.XMin < s.XMax) {
		return fmt.Errorf("frame: histogram %q has invalid binning (%d, %g, %g)", s.Name, s.NBins, s.XMin, s.XMax)
	}
	return nil
}

func (s HistSpec) NewH1D() *hbook.H1D {
	var h *hbook.H1D
	if len(s.Edges) > 0 {
		h = hbook.NewH1DFromEdges(s.Edges)
	} else {
		h = hbook.NewH1D(s.NBins, s.XMin, s.XMax)
	}
	if h.Ann == nil {
		h.Ann = make(hbook.Annotation)
	}
	h.Ann["name"] = s.Name
	if s.Title != "" {
		h.Ann["title"] = s.Title
	}
	return h
}

type node struct {
	id     int
	parent *node
	filter scalarFn
	name   string
	slot   int
	value  scalarFn
}

// Frame owns the computation graph over one Source.
type Frame struct {
	src     Source
	nsrc    int
	cols    []Column
	index   map[string]int
	nodes   []*node
	results []*Result
	need    map[int]struct{}
	ran     bool
}

func New(src Source) *Frame {
	cols := src.Columns()
	f := &Frame{
		src:   src,
		nsrc:  len(cols),
		cols:  append([]Column(nil), cols...),
		index: make(map[string]int, len(cols)),
		need:  make(map[int]struct{}),
	}
	for i, c := range cols {
		f.index[c.Name] = i
	}
	f.nodes = []*node{{id: 0, slot: -1}}
	return f
}

// Root is the unfiltered node of the graph.
func (f *Frame) Root() Node { return Node{f: f, n: f.nodes[0]} }

func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

func (f *Frame) addNode(n *node) Node {
	n.id = len(f.nodes)
	f.nodes = append(f.nodes, n)
	return Node{f: f, n: n}
}

func (f *Frame) require(slots map[int]struct{}) {
	for s := range slots {
		if s < f.nsrc {
			f.need[s] = struct{}{}
		}
	}
}

// Node is a position in the computation graph. Columns defined on a node
// are visible to the node and its descendants only, so sibling branches may
// define columns with the same name.
type Node struct {
	f *Frame
	n *node
}

func (n Node) lookup(name string) (int, Kind, bool) {
	for p := n.n; p != nil; p = p.parent {
		if p.value != nil && p.name == name {
			return p.slot, Scalar, true
		}
	}
	if i, ok := n.f.index[name]; ok {
		return i, n.f.cols[i].Kind, true
	}
	return -1, Scalar, false
}

// HasColumn reports whether name is visible from n.
func (n Node) HasColumn(name string) bool {
	_, _, ok := n.lookup(name)
	return ok
}

// Filter returns a child node keeping the entries for which expr is true.
func (n Node) Filter(expr string) (Node, error) {
	fn, slots, err := compileScalar(expr, n)
	if err != nil {
		return Node{}, fmt.Errorf("could not compile filter: %w", err)
	}
	n.f.require(slots)
	return n.f.addNode(&node{parent: n.n, filter: fn, slot: -1}), nil
}

// Define returns a child node carrying a new scalar column computed from
// expr.
func (n Node) Define(name, expr string) (Node, error) {
	if _, _, ok := n.lookup(name); ok {
		return Node{}, fmt.Errorf("%w: %q", ErrDefined, name)
	}
	fn, slots, err := compileScalar(expr, n)
	if err != nil {
		return Node{}, fmt.Errorf("could not define %q: %w", name, err)
	}
	n.f.require(slots)
	slot := len(n.f.cols)
	n.f.cols = append(n.f.cols, Column{Name: name, Kind: Scalar})
	return n.f.addNode(&node{parent: n.n, name: name, slot: slot, value: fn}), nil
}

// Histo1D books a histogram of column, weighted by the weight column (unit
// weights when weight is empty). Vector columns fill once per element. The
// histogram is filled by Frame.Run.
func (n Node) Histo1D(spec HistSpec, column, weight string) (*Result, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	xslot, xkind, ok := n.lookup(column)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownColumn, column)
	}
	res := &Result{node: n.n, xslot: xslot, xkind: xkind, wslot: -1, h: spec.NewH1D()}
	slots := map[int]struct{}{xslot: {}}
	if weight != "" {
		wslot, wkind, ok := n.lookup(weight)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownColumn, weight)
		}
		if wkind != Scalar {
			return nil, fmt.Errorf("%w: weight %q is a collection", ErrType, weight)
		}
		res.wslot = wslot
		slots[wslot] = struct{}{}
	}
	n.f.require(slots)
	n.f.results = append(n.f.results, res)
	return res, nil
}

// Run executes the event loop once for every booked histogram.
func (f *Frame) Run(ctx context.Context) error {
	if f.ran {
		return ErrAlreadyRun
	}
	f.ran = true
	if len(f.results) == 0 {
		return nil
	}

	need := make([]int, 0, len(f.need))
	for s := range f.need {
		need = append(need, s)
	}
	sort.Ints(need)

	row := newRow(len(f.cols))
	pass := make([]bool, len(f.nodes))
	return f.src.Scan(ctx, need, row, func() error {
		pass[0] = true
		for _, n := range f.nodes[1:] {
			ok := pass[n.parent.id]
			if ok && n.filter != nil {
				ok = truth(n.filter(row))
			}
			if ok && n.value != nil {
				row.vals[n.slot] = n.value(row)
			}
			pass[n.id] = ok
		}
		for _, res := range f.results {
			if pass[res.node.id] {
				res.fill(row)
			}
		}
		return nil
	})
}

// Result is a booked histogram.
type Result struct {
	node    *node
	xslot   int
	xkind   Kind
	wslot   int
	h       *hbook.H1D
	skipped int64
}

// H1D returns the histogram. It is empty until Frame.Run has completed.
func (r *Result) H1D() *hbook.H1D { return r.h }

// Skipped reports how many NaN values were not filled.
func (r *Result) Skipped() int64 { return r.skipped }

func (r *Result) fill(row *Row) {
	w := 1.0
	if r.wslot >= 0 {
		w = row.vals[r.wslot]
	}
	if r.xkind == Vector {
		for _, x := range row.vecs[r.xslot] {
			r.fill1(x, w)
		}
		return
	}
	r.fill1(row.vals[r.xslot], w)
}

func (r *Result) fill1(x, w float64) {
	if math.IsNaN(x) {
		r.skipped++
		return
	}
	r.h.Fill(x, w)
}
