package frame

import (
	"context"
	"fmt"
)

// Table is an in-memory Source.
type Table struct {
	cols    []Column
	scalars map[string][]float64
	vectors map[string][][]float64
	n       int
}

func NewTable() *Table {
	return &Table{
		scalars: make(map[string][]float64),
		vectors: make(map[string][][]float64),
		n:       -1,
	}
}

func (t *Table) check(name string, n int) {
	if _, dup := t.scalars[name]; dup {
		panic(fmt.Sprintf("frame: duplicate column %q", name))
	}
	if _, dup := t.vectors[name]; dup {
		panic(fmt.Sprintf("frame: duplicate column %q", name))
	}
	if t.n >= 0 && n != t.n {
		panic(fmt.Sprintf("frame: column %q has %d entries, want %d", name, n, t.n))
	}
	t.n = n
}

func (t *Table) AddScalar(name string, vs []float64) *Table {
	t.check(name, len(vs))
	t.scalars[name] = vs
	t.cols = append(t.cols, Column{Name: name, Kind: Scalar})
	return t
}

func (t *Table) AddVector(name string, vs [][]float64) *Table {
	t.check(name, len(vs))
	t.vectors[name] = vs
	t.cols = append(t.cols, Column{Name: name, Kind: Vector})
	return t
}

func (t *Table) Len() int {
	if t.n < 0 {
		return 0
	}
	return t.n
}

func (t *Table) Columns() []Column { return t.cols }

func (t *Table) Scan(ctx context.Context, slots []int, row *Row, fn func() error) error {
	for i := 0; i < t.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, s := range slots {
			c := t.cols[s]
			if c.Kind == Vector {
				row.SetVector(s, t.vectors[c.Name][i])
				continue
			}
			row.SetScalar(s, t.scalars[c.Name][i])
		}
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
