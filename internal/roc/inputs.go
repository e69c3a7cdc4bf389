package roc

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go-hep.org/x/hep/hbook"
)

var ErrNoInput = errors.New("roc: no input file matches")

// Background is a named background histogram, possibly summed over several
// files.
type Background struct {
	Name string
	H    *hbook.H1D
}

// Inputs selects the signal and background histograms among a set of
// per-sample files. Files are matched by substring on their base name.
type Inputs struct {
	Signal      string
	Backgrounds []string
	// Stack sums every non-data file other than the signal into a single
	// background called "stack".
	Stack bool
	// IncludeSignal keeps the signal files in the stack.
	IncludeSignal bool
	IsData        func(path string) bool
	Read          func(path, name string) (*hbook.H1D, error)
}

func (in Inputs) matching(files []string, token string, keep func(string) bool) []string {
	var out []string
	for _, f := range files {
		if !strings.Contains(filepath.Base(f), token) {
			continue
		}
		if keep != nil && !keep(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (in Inputs) sum(name string, files []string, hist string) (*hbook.H1D, error) {
	hs := make([]*hbook.H1D, 0, len(files))
	for _, f := range files {
		h, err := in.Read(f, hist)
		if err != nil {
			return nil, err
		}
		hs = append(hs, h)
	}
	return Sum(name, hs...)
}

// Collect reads the histogram hist from files and returns the signal and the
// backgrounds to scan it against.
func (in Inputs) Collect(files []string, hist string) (*hbook.H1D, []Background, error) {
	isData := in.IsData
	if isData == nil {
		isData = func(string) bool { return false }
	}
	isSignal := func(f string) bool {
		return in.Signal != "" && strings.Contains(filepath.Base(f), in.Signal)
	}

	sigFiles := in.matching(files, in.Signal, func(f string) bool { return !isData(f) })
	if in.Signal == "" || len(sigFiles) == 0 {
		return nil, nil, fmt.Errorf("%w signal %q", ErrNoInput, in.Signal)
	}
	sig, err := in.sum("signal", sigFiles, hist)
	if err != nil {
		return nil, nil, err
	}

	if in.Stack {
		stackFiles := in.matching(files, "", func(f string) bool {
			return !isData(f) && (in.IncludeSignal || !isSignal(f))
		})
		if len(stackFiles) == 0 {
			return nil, nil, fmt.Errorf("%w the background stack", ErrNoInput)
		}
		h, err := in.sum("stack", stackFiles, hist)
		if err != nil {
			return nil, nil, err
		}
		return sig, []Background{{Name: "stack", H: h}}, nil
	}

	var bkgs []Background
	for _, b := range in.Backgrounds {
		bfiles := in.matching(files, b, func(f string) bool { return !isData(f) && !isSignal(f) })
		if len(bfiles) == 0 {
			return nil, nil, fmt.Errorf("%w background %q", ErrNoInput, b)
		}
		h, err := in.sum(b, bfiles, hist)
		if err != nil {
			return nil, nil, err
		}
		bkgs = append(bkgs, Background{Name: b, H: h})
	}
	if len(bkgs) == 0 {
		return nil, nil, fmt.Errorf("%w: no background requested", ErrNoInput)
	}
	return sig, bkgs, nil
}
