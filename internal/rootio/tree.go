// Package rootio reads event trees and writes histograms with the groot
// ROOT file implementation.
package rootio

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/rtree"

	"github.com/decibelcooper/vcbana/internal/frame"
)

var (
	ErrNoTree     = errors.New("rootio: no such tree")
	ErrNoHist     = errors.New("rootio: no such histogram")
	ErrLeafType   = errors.New("rootio: unsupported leaf type")
	errNestedDirs = errors.New("rootio: nested directories are not supported")
)

// TreeSource exposes the numeric leaves of a tree as frame columns. Only
// the leaves a frame needs are read.
type TreeSource struct {
	f     *riofs.File
	t     rtree.Tree
	rvars []rtree.ReadVar
	cols  []frame.Column
	load  []func(row *frame.Row, slot int)
	index map[string]int
}

// OpenTree opens the tree called name in the ROOT file at path.
func OpenTree(path, name string) (*TreeSource, error) {
	f, err := groot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", path, err)
	}
	obj, err := f.Get(name)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w %q in %q: %v", ErrNoTree, name, path, err)
	}
	t, ok := obj.(rtree.Tree)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("%w %q in %q: found %s", ErrNoTree, name, path, obj.Class())
	}
	src, err := NewTreeSource(t)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not read tree %q in %q: %w", name, path, err)
	}
	src.f = f
	return src, nil
}

// NewTreeSource wraps an already opened tree. Leaves of an unsupported type
// are not exposed.
func NewTreeSource(t rtree.Tree) (*TreeSource, error) {
	s := &TreeSource{t: t, index: make(map[string]int)}
	for _, rv := range rtree.NewReadVars(t) {
		name := rv.Name
		if rv.Leaf != "" && rv.Leaf != rv.Name {
			name = rv.Name + "_" + rv.Leaf
		}
		if _, dup := s.index[name]; dup {
			continue
		}
		load, kind, err := loader(rv.Value)
		if err != nil {
			continue
		}
		s.index[name] = len(s.cols)
		s.rvars = append(s.rvars, rv)
		s.cols = append(s.cols, frame.Column{Name: name, Kind: kind})
		s.load = append(s.load, load)
	}
	if len(s.cols) == 0 {
		return nil, fmt.Errorf("%w: tree %q has no numeric leaf", ErrLeafType, t.Name())
	}
	return s, nil
}

func (s *TreeSource) Entries() int64 { return s.t.Entries() }

func (s *TreeSource) Columns() []frame.Column { return s.cols }

// Close releases the file opened by OpenTree.
func (s *TreeSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// countLeaf returns the name of the leaf-count of the leaf in slot, if any.
func (s *TreeSource) countLeaf(slot int) string {
	rv := s.rvars[slot]
	b := s.t.Branch(rv.Name)
	if b == nil {
		return ""
	}
	leaf := b.Leaf(rv.Leaf)
	if leaf == nil || leaf.LeafCount() == nil {
		return ""
	}
	return leaf.LeafCount().Name()
}

func (s *TreeSource) Scan(ctx context.Context, slots []int, row *frame.Row, fn func() error) error {
	var (
		rvars []rtree.ReadVar
		seen  = make(map[string]bool)
	)
	add := func(i int) {
		rv := s.rvars[i]
		key := rv.Name + "." + rv.Leaf
		if seen[key] {
			return
		}
		seen[key] = true
		rvars = append(rvars, rv)
	}
	for _, slot := range slots {
		add(slot)
		if cnt := s.countLeaf(slot); cnt != "" {
			if i, ok := s.index[cnt]; ok {
				add(i)
			}
		}
	}
	if len(rvars) == 0 {
		// nothing to read: still visit every entry
		for i := int64(0); i < s.t.Entries(); i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(); err != nil {
				return err
			}
		}
		return nil
	}

	r, err := rtree.NewReader(s.t, rvars)
	if err != nil {
		return fmt.Errorf("could not create tree reader: %w", err)
	}
	defer r.Close()

	err = r.Read(func(rtree.RCtx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, slot := range slots {
			s.load[slot](row, slot)
		}
		return fn()
	})
	if err != nil {
		return fmt.Errorf("could not read tree %q: %w", s.t.Name(), err)
	}
	return nil
}

type number interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

func scalar[T number](p *T) func(*frame.Row, int) {
	return func(row *frame.Row, slot int) { row.SetScalar(slot, float64(*p)) }
}

func vector[T number](p *[]T) func(*frame.Row, int) {
	var buf []float64
	return func(row *frame.Row, slot int) {
		buf = buf[:0]
		for _, v := range *p {
			buf = append(buf, float64(v))
		}
		row.SetVector(slot, buf)
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// loader returns the function copying the value behind ptr into a row.
func loader(ptr any) (func(*frame.Row, int), frame.Kind, error) {
	switch p := ptr.(type) {
	case *bool:
		return func(row *frame.Row, slot int) { row.SetScalar(slot, boolf(*p)) }, frame.Scalar, nil
	case *int8:
		return scalar(p), frame.Scalar, nil
	case *int16:
		return scalar(p), frame.Scalar, nil
	case *int32:
		return scalar(p), frame.Scalar, nil
	case *int64:
		return scalar(p), frame.Scalar, nil
	case *uint8:
		return scalar(p), frame.Scalar, nil
	case *uint16:
		return scalar(p), frame.Scalar, nil
	case *uint32:
		return scalar(p), frame.Scalar, nil
	case *uint64:
		return scalar(p), frame.Scalar, nil
	case *float32:
		return scalar(p), frame.Scalar, nil
	case *float64:
		return scalar(p), frame.Scalar, nil
	case *[]int32:
		return vector(p), frame.Vector, nil
	case *[]int64:
		return vector(p), frame.Vector, nil
	case *[]uint8:
		return vector(p), frame.Vector, nil
	case *[]float32:
		return vector(p), frame.Vector, nil
	case *[]float64:
		return vector(p), frame.Vector, nil
	case *[]bool:
		var buf []float64
		return func(row *frame.Row, slot int) {
			buf = buf[:0]
			for _, v := range *p {
				buf = append(buf, boolf(v))
			}
			row.SetVector(slot, buf)
		}, frame.Vector, nil
	}
	return arrayLoader(ptr)
}

// arrayLoader handles fixed-size leaves and the remaining slice types,
// whose Go types depend on the tree.
func arrayLoader(ptr any) (func(*frame.Row, int), frame.Kind, error) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer {
		return nil, frame.Scalar, fmt.Errorf("%w %T", ErrLeafType, ptr)
	}
	elem := rv.Elem()
	switch elem.Kind() {
	case reflect.Array, reflect.Slice:
	default:
		return nil, frame.Scalar, fmt.Errorf("%w %T", ErrLeafType, ptr)
	}
	conv, ok := numeric(elem.Type().Elem().Kind())
	if !ok {
		return nil, frame.Scalar, fmt.Errorf("%w %T", ErrLeafType, ptr)
	}
	var buf []float64
	return func(row *frame.Row, slot int) {
		buf = buf[:0]
		for i := 0; i < elem.Len(); i++ {
			buf = append(buf, conv(elem.Index(i)))
		}
		row.SetVector(slot, buf)
	}, frame.Vector, nil
}

func numeric(k reflect.Kind) (func(reflect.Value) float64, bool) {
	switch k {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return func(v reflect.Value) float64 { return float64(v.Int()) }, true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return func(v reflect.Value) float64 { return float64(v.Uint()) }, true
	case reflect.Float32, reflect.Float64:
		return func(v reflect.Value) float64 { return v.Float() }, true
	case reflect.Bool:
		return func(v reflect.Value) float64 { return boolf(v.Bool()) }, true
	}
	return nil, false
}
