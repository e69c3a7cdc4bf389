package frame

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/scanner"
	"go/token"
	"math"
	"strings"
)

// Expressions follow the C-like dialect of ROOT selection strings: every
// value is a float64, booleans are 0 or 1, && and || short-circuit, and a
// non-zero value is true. Variable-length columns can only be indexed or
// passed to the vector functions (size, sum, at).
//
// The bitwise operators &, | and ^ bind differently in C and in Go, so an
// unparenthesized bitwise operation next to any other operator except &&
// and || is rejected: write (a & 1) == 1.

type scalarFn func(r *Row) float64

type vectorFn func(r *Row) []float64

type operand struct {
	s scalarFn
	v vectorFn
}

func (o operand) isVector() bool { return o.v != nil }

type resolver interface {
	lookup(name string) (slot int, kind Kind, ok bool)
}

type compiler struct {
	src   string
	res   resolver
	slots map[int]struct{}
}

func compileScalar(src string, res resolver) (scalarFn, map[int]struct{}, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	e, err := parser.ParseExpr(normalize(src))
	if err != nil {
		return nil, nil, fmt.Errorf("%w %q: %v", ErrSyntax, src, err)
	}
	c := &compiler{src: src, res: res, slots: make(map[int]struct{})}
	op, err := c.node(e)
	if err != nil {
		return nil, nil, err
	}
	if op.isVector() {
		return nil, nil, fmt.Errorf("%w: %q evaluates to a collection", ErrType, src)
	}
	return op.s, c.slots, nil
}

// Identifiers returns the column names referenced by an expression, in order
// of first appearance. Function names are not included.
func Identifiers(src string) ([]string, error) {
	e, err := parser.ParseExpr(normalize(strings.TrimSpace(src)))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrSyntax, src, err)
	}
	var (
		names []string
		seen  = make(map[string]bool)
		walk  func(n ast.Node) bool
	)
	walk = func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.CallExpr:
			for _, a := range n.Args {
				ast.Inspect(a, walk)
			}
			return false
		case *ast.Ident:
			if n.Name == "true" || n.Name == "false" || seen[n.Name] {
				return true
			}
			seen[n.Name] = true
			names = append(names, n.Name)
		}
		return true
	}
	ast.Inspect(e, walk)
	return names, nil
}

// normalize rewrites the Go tokens that have a different meaning in the C
// dialect: "x<-1" is a comparison with a negative number, not a channel
// receive.
func normalize(src string) string {
	if !strings.Contains(src, "<-") {
		return src
	}
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))
	var s scanner.Scanner
	s.Init(file, []byte(src), nil, 0)

	var (
		b    strings.Builder
		last int
	)
	for {
		pos, tok, _ := s.Scan()
		if tok == token.EOF {
			break
		}
		if tok != token.ARROW {
			continue
		}
		off := file.Offset(pos)
		b.WriteString(src[last:off])
		b.WriteString("< -")
		last = off + len("<-")
	}
	b.WriteString(src[last:])
	return b.String()
}

func isBitwise(op token.Token) bool {
	return op == token.AND || op == token.OR || op == token.XOR
}

// checkMixing rejects the operator combinations whose grouping differs
// between C and Go.
func (c *compiler) checkMixing(e *ast.BinaryExpr) error {
	for _, x := range []ast.Expr{e.X, e.Y} {
		sub, ok := x.(*ast.BinaryExpr)
		if !ok || sub.Op == e.Op {
			continue
		}
		logical := e.Op == token.LAND || e.Op == token.LOR
		if isBitwise(e.Op) || (isBitwise(sub.Op) && !logical) {
			return c.errorf(ErrSyntax, "parenthesize %s next to %s", sub.Op, e.Op)
		}
	}
	return nil
}

func (c *compiler) errorf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s in %q", err, fmt.Sprintf(format, args...), c.src)
}

func (c *compiler) node(e ast.Expr) (operand, error) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		return c.node(e.X)
	case *ast.BasicLit:
		return c.literal(e)
	case *ast.Ident:
		return c.ident(e)
	case *ast.UnaryExpr:
		return c.unary(e)
	case *ast.BinaryExpr:
		return c.binary(e)
	case *ast.CallExpr:
		return c.call(e)
	case *ast.IndexExpr:
		return c.index(e)
	}
	return operand{}, c.errorf(ErrSyntax, "unsupported construct %T", e)
}

func (c *compiler) literal(e *ast.BasicLit) (operand, error) {
	switch e.Kind {
	case token.INT, token.FLOAT:
	default:
		return operand{}, c.errorf(ErrSyntax, "unsupported literal %s", e.Value)
	}
	v := constant.MakeFromLiteral(e.Value, e.Kind, 0)
	if v.Kind() == constant.Unknown {
		return operand{}, c.errorf(ErrSyntax, "malformed literal %s", e.Value)
	}
	f, _ := constant.Float64Val(constant.ToFloat(v))
	return constScalar(f), nil
}

func constScalar(f float64) operand {
	return operand{s: func(*Row) float64 { return f }}
}

func (c *compiler) ident(e *ast.Ident) (operand, error) {
	slot, kind, ok := c.res.lookup(e.Name)
	if !ok {
		switch e.Name {
		case "true":
			return constScalar(1), nil
		case "false":
			return constScalar(0), nil
		}
		return operand{}, fmt.Errorf("%w %q in %q", ErrUnknownColumn, e.Name, c.src)
	}
	c.slots[slot] = struct{}{}
	if kind == Vector {
		return operand{v: func(r *Row) []float64 { return r.vecs[slot] }}, nil
	}
	return operand{s: func(r *Row) float64 { return r.vals[slot] }}, nil
}

func (c *compiler) scalar(e ast.Expr) (scalarFn, error) {
	op, err := c.node(e)
	if err != nil {
		return nil, err
	}
	if op.isVector() {
		return nil, c.errorf(ErrType, "collection used as a number")
	}
	return op.s, nil
}

func (c *compiler) vector(e ast.Expr) (vectorFn, error) {
	op, err := c.node(e)
	if err != nil {
		return nil, err
	}
	if !op.isVector() {
		return nil, c.errorf(ErrType, "number used as a collection")
	}
	return op.v, nil
}

func truth(v float64) bool { return v != 0 }

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *compiler) unary(e *ast.UnaryExpr) (operand, error) {
	x, err := c.scalar(e.X)
	if err != nil {
		return operand{}, err
	}
	switch e.Op {
	case token.ADD:
		return operand{s: x}, nil
	case token.SUB:
		return operand{s: func(r *Row) float64 { return -x(r) }}, nil
	case token.NOT:
		return operand{s: func(r *Row) float64 { return boolf(!truth(x(r))) }}, nil
	}
	return operand{}, c.errorf(ErrSyntax, "unsupported unary operator %s", e.Op)
}

func (c *compiler) binary(e *ast.BinaryExpr) (operand, error) {
	if err := c.checkMixing(e); err != nil {
		return operand{}, err
	}
	x, err := c.scalar(e.X)
	if err != nil {
		return operand{}, err
	}
	y, err := c.scalar(e.Y)
	if err != nil {
		return operand{}, err
	}

	var fn scalarFn
	switch e.Op {
	case token.ADD:
		fn = func(r *Row) float64 { return x(r) + y(r) }
	case token.SUB:
		fn = func(r *Row) float64 { return x(r) - y(r) }
	case token.MUL:
		fn = func(r *Row) float64 { return x(r) * y(r) }
	case token.QUO:
		fn = func(r *Row) float64 { return x(r) / y(r) }
	case token.REM:
		fn = func(r *Row) float64 { return math.Mod(x(r), y(r)) }
	case token.EQL:
		fn = func(r *Row) float64 { return boolf(x(r) == y(r)) }
	case token.NEQ:
		fn = func(r *Row) float64 { return boolf(x(r) != y(r)) }
	case token.LSS:
		fn = func(r *Row) float64 { return boolf(x(r) < y(r)) }
	case token.LEQ:
		fn = func(r *Row) float64 { return boolf(x(r) <= y(r)) }
	case token.GTR:
		fn = func(r *Row) float64 { return boolf(x(r) > y(r)) }
	case token.GEQ:
		fn = func(r *Row) float64 { return boolf(x(r) >= y(r)) }
	case token.LAND:
		fn = func(r *Row) float64 { return boolf(truth(x(r)) && truth(y(r))) }
	case token.LOR:
		fn = func(r *Row) float64 { return boolf(truth(x(r)) || truth(y(r))) }
	case token.AND:
		fn = func(r *Row) float64 { return float64(int64(x(r)) & int64(y(r))) }
	case token.OR:
		fn = func(r *Row) float64 { return float64(int64(x(r)) | int64(y(r))) }
	case token.XOR:
		fn = func(r *Row) float64 { return float64(int64(x(r)) ^ int64(y(r))) }
	default:
		return operand{}, c.errorf(ErrSyntax, "unsupported operator %s", e.Op)
	}
	return operand{s: fn}, nil
}

func (c *compiler) index(e *ast.IndexExpr) (operand, error) {
	v, err := c.vector(e.X)
	if err != nil {
		return operand{}, err
	}
	i, err := c.scalar(e.Index)
	if err != nil {
		return operand{}, err
	}
	return operand{s: func(r *Row) float64 {
		return element(v(r), i(r), math.NaN())
	}}, nil
}

func element(vs []float64, idx, def float64) float64 {
	if math.IsNaN(idx) || idx < 0 || idx >= float64(len(vs)) {
		return def
	}
	return vs[int(idx)]
}

var math1 = map[string]func(float64) float64{
	"abs":   math.Abs,
	"fabs":  math.Abs,
	"sqrt":  math.Sqrt,
	"exp":   math.Exp,
	"log":   math.Log,
	"log10": math.Log10,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"floor": math.Floor,
	"ceil":  math.Ceil,
}

var math2 = map[string]func(float64, float64) float64{
	"pow":   math.Pow,
	"min":   math.Min,
	"max":   math.Max,
	"atan2": math.Atan2,
	"fmod":  math.Mod,
	"hypot": math.Hypot,
}

func (c *compiler) call(e *ast.CallExpr) (operand, error) {
	id, ok := e.Fun.(*ast.Ident)
	if !ok {
		return operand{}, c.errorf(ErrSyntax, "unsupported call")
	}
	name := id.Name
	argc := len(e.Args)

	if f, ok := math1[name]; ok {
		if argc != 1 {
			return operand{}, c.errorf(ErrSyntax, "%s takes 1 argument, got %d", name, argc)
		}
		x, err := c.scalar(e.Args[0])
		if err != nil {
			return operand{}, err
		}
		return operand{s: func(r *Row) float64 { return f(x(r)) }}, nil
	}
	if f, ok := math2[name]; ok {
		if argc != 2 {
			return operand{}, c.errorf(ErrSyntax, "%s takes 2 arguments, got %d", name, argc)
		}
		x, err := c.scalar(e.Args[0])
		if err != nil {
			return operand{}, err
		}
		y, err := c.scalar(e.Args[1])
		if err != nil {
			return operand{}, err
		}
		return operand{s: func(r *Row) float64 { return f(x(r), y(r)) }}, nil
	}

	switch name {
	case "size", "length":
		if argc != 1 {
			return operand{}, c.errorf(ErrSyntax, "%s takes 1 argument, got %d", name, argc)
		}
		v, err := c.vector(e.Args[0])
		if err != nil {
			return operand{}, err
		}
		return operand{s: func(r *Row) float64 { return float64(len(v(r))) }}, nil

	case "sum":
		if argc != 1 {
			return operand{}, c.errorf(ErrSyntax, "sum takes 1 argument, got %d", argc)
		}
		v, err := c.vector(e.Args[0])
		if err != nil {
			return operand{}, err
		}
		return operand{s: func(r *Row) float64 {
			var s float64
			for _, x := range v(r) {
				s += x
			}
			return s
		}}, nil

	case "at":
		if argc != 2 && argc != 3 {
			return operand{}, c.errorf(ErrSyntax, "at takes 2 or 3 arguments, got %d", argc)
		}
		v, err := c.vector(e.Args[0])
		if err != nil {
			return operand{}, err
		}
		i, err := c.scalar(e.Args[1])
		if err != nil {
			return operand{}, err
		}
		def := func(*Row) float64 { return math.NaN() }
		if argc == 3 {
			def, err = c.scalar(e.Args[2])
			if err != nil {
				return operand{}, err
			}
		}
		return operand{s: func(r *Row) float64 {
			return element(v(r), i(r), def(r))
		}}, nil
	}

	return operand{}, c.errorf(ErrSyntax, "unknown function %s", name)
}
