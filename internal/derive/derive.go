// Package derive defines the derived columns histogrammed and selected on
// besides the raw tree branches.
package derive

import (
	"fmt"
	"strings"

	"github.com/decibelcooper/vcbana/internal/frame"
)

// Mode selects which derived columns are defined. The modes are
// alternatives and are never combined.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeScores
	ModeKinematics
)

func (m Mode) String() string {
	switch m {
	case ModeScores:
		return "scores"
	case ModeKinematics:
		return "kinematics"
	}
	return "none"
}

func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeNone, ModeScores, ModeKinematics} {
		if m.String() == s {
			return m, nil
		}
	}
	if s == "" {
		return ModeNone, nil
	}
	return ModeNone, fmt.Errorf("derive: unknown mode %q", s)
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ZeroSum is what a fractional score evaluates to when the raw scores sum
// to zero.
type ZeroSum uint8

const (
	// ZeroSumNaN lets the division propagate NaN/Inf. NaN values are not
	// filled into histograms.
	ZeroSumNaN ZeroSum = iota
	ZeroSumZero
)

func (z ZeroSum) String() string {
	if z == ZeroSumZero {
		return "zero"
	}
	return "nan"
}

func (z *ZeroSum) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "nan":
		*z = ZeroSumNaN
	case "zero":
		*z = ZeroSumZero
	default:
		return fmt.Errorf("derive: unknown zero-sum policy %q", b)
	}
	return nil
}

func (z ZeroSum) MarshalText() ([]byte, error) { return []byte(z.String()), nil }

// Definition is one derived column.
type Definition struct {
	Name string
	Expr string
}

// DefaultScores are the raw classifier outputs of the ttbar flavour
// categories, normalized by FractionalScores.
var DefaultScores = []string{"ttbb", "ttbj", "ttcc", "ttcj", "ttLF"}

// FractionalScores returns one fscore_<s> column per score, equal to the
// score_<s> branch divided by the sum of all of them.
func FractionalScores(scores []string, policy ZeroSum) []Definition {
	if len(scores) == 0 {
		return nil
	}
	terms := make([]string, len(scores))
	for i, s := range scores {
		terms[i] = "score_" + s
	}
	sum := "(" + strings.Join(terms, "+") + ")"

	defs := make([]Definition, len(scores))
	for i, s := range scores {
		expr := terms[i] + "/" + sum
		if policy == ZeroSumZero {
			expr = fmt.Sprintf("(%s != 0) * %s/(%s + (%s == 0))", sum, terms[i], sum, sum)
		}
		defs[i] = Definition{Name: "fscore_" + s, Expr: expr}
	}
	return defs
}

// JetSpec describes the fixed-position jet columns unpacked from the
// per-event jet collections.
type JetSpec struct {
	Prefix string   `yaml:"prefix"`
	Fields []string `yaml:"fields"`
	N      int      `yaml:"n"`
}

func DefaultJetSpec() JetSpec {
	return JetSpec{
		Prefix: "ak4",
		Fields: []string{"pt", "eta", "phi", "mass", "btag", "ctag"},
		N:      4,
	}
}

// Jets returns jet<i>_<field> for the leading N jets, i starting at 1, read
// from the <prefix>_<field> collection. Events with fewer jets get 0.
func Jets(spec JetSpec) []Definition {
	var defs []Definition
	for i := 1; i <= spec.N; i++ {
		for _, f := range spec.Fields {
			coll := f
			if spec.Prefix != "" {
				coll = spec.Prefix + "_" + f
			}
			defs = append(defs, Definition{
				Name: fmt.Sprintf("jet%d_%s", i, f),
				Expr: fmt.Sprintf("at(%s, %d, 0)", coll, i-1),
			})
		}
	}
	return defs
}

// Config holds the inputs of both modes.
type Config struct {
	Mode    Mode     `yaml:"mode"`
	Scores  []string `yaml:"scores"`
	ZeroSum ZeroSum  `yaml:"zero_sum"`
	Jets    JetSpec  `yaml:"jets"`
}

func DefaultConfig() Config {
	return Config{
		Mode:   ModeScores,
		Scores: append([]string(nil), DefaultScores...),
		Jets:   DefaultJetSpec(),
	}
}

// Definitions returns the columns of the selected mode.
func (c Config) Definitions() []Definition {
	switch c.Mode {
	case ModeScores:
		return FractionalScores(c.Scores, c.ZeroSum)
	case ModeKinematics:
		return Jets(c.Jets)
	}
	return nil
}

// Apply defines the columns of the selected mode on n. A column the source
// already provides is left alone.
func Apply(n frame.Node, c Config) (frame.Node, error) {
	for _, d := range c.Definitions() {
		if n.HasColumn(d.Name) {
			continue
		}
		var err error
		n, err = n.Define(d.Name, d.Expr)
		if err != nil {
			return frame.Node{}, fmt.Errorf("could not define %s column %q: %w", c.Mode, d.Name, err)
		}
	}
	return n, nil
}
