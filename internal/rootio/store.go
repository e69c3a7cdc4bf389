package rootio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rhist"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/root"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hbook/rootcnv"
)

// Item is one histogram to append. A Merge item is added bin by bin to a
// histogram of the same name appended earlier through the same Store,
// instead of replacing it. Histograms left by a previous run are always
// replaced.
type Item struct {
	H     *hbook.H1D
	Merge bool
}

// Store appends histograms to ROOT files. Appends to the same path are
// serialized; appends to different paths may run concurrently.
type Store struct {
	mu    sync.Mutex
	files map[string]*fileState
}

type fileState struct {
	sync.Mutex
	written map[string]bool
}

func NewStore() *Store {
	return &Store{files: make(map[string]*fileState)}
}

func (s *Store) lock(path string) *fileState {
	path = filepath.Clean(path)
	s.mu.Lock()
	st, ok := s.files[path]
	if !ok {
		st = &fileState{written: make(map[string]bool)}
		s.files[path] = st
	}
	s.mu.Unlock()
	st.Lock()
	return st
}

// Append adds items to the file at path, creating it and its directory if
// needed. Objects already in the file are kept unless an item of the same
// name replaces them. The file is rewritten to a temporary file which is
// then renamed over the original.
func (s *Store) Append(path string, items ...Item) error {
	st := s.lock(path)
	defer st.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	objs, order, err := readAll(path)
	if err != nil {
		return err
	}

	added := make(map[string]bool, len(items))
	for _, it := range items {
		name := it.H.Name()
		if name == "" {
			return fmt.Errorf("rootio: unnamed histogram for %q", path)
		}
		h := it.H
		if prev, ok := objs[name]; ok && it.Merge && (st.written[name] || added[name]) {
			old, err := toH1D(prev)
			if err != nil {
				return fmt.Errorf("could not merge %q in %q: %w", name, path, err)
			}
			h = hbook.AddH1D(old, h)
			h.Ann = it.H.Ann
		}
		if _, ok := objs[name]; !ok {
			order = append(order, name)
		}
		objs[name] = rhist.NewH1DFrom(h)
		added[name] = true
	}

	tmp := path + ".tmp"
	if err := writeAll(tmp, objs, order); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("could not replace %q: %w", path, err)
	}
	for name := range added {
		st.written[name] = true
	}
	return nil
}

func readAll(path string) (map[string]root.Object, []string, error) {
	objs := make(map[string]root.Object)
	f, err := groot.Open(path)
	if err != nil {
		if _, serr := os.Stat(path); os.IsNotExist(serr) {
			return objs, nil, nil
		}
		return nil, nil, fmt.Errorf("could not open %q: %w", path, err)
	}
	defer f.Close()

	var order []string
	for _, k := range f.Keys() {
		if _, dup := objs[k.Name()]; dup {
			// older cycle of the same key
			continue
		}
		obj, err := k.Object()
		if err != nil {
			return nil, nil, fmt.Errorf("could not read %q from %q: %w", k.Name(), path, err)
		}
		if _, ok := obj.(riofs.Directory); ok {
			return nil, nil, fmt.Errorf("%w: %q in %q", errNestedDirs, k.Name(), path)
		}
		objs[k.Name()] = obj
		order = append(order, k.Name())
	}
	return objs, order, nil
}

func writeAll(path string, objs map[string]root.Object, order []string) error {
	f, err := groot.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", path, err)
	}
	for _, name := range order {
		if err := f.Put(name, objs[name]); err != nil {
			f.Close()
			return fmt.Errorf("could not write %q to %q: %w", name, path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not close %q: %w", path, err)
	}
	return nil
}

func toH1D(obj root.Object) (*hbook.H1D, error) {
	h, ok := obj.(rhist.H1)
	if !ok {
		return nil, fmt.Errorf("%w: found %s", ErrNoHist, obj.Class())
	}
	return rootcnv.H1D(h), nil
}

// ReadH1D returns the histogram called name from the file at path. Name may
// include directories, as in "bin/process".
func ReadH1D(path, name string) (*hbook.H1D, error) {
	f, err := groot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", path, err)
	}
	defer f.Close()

	obj, err := riofs.Dir(f).Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q in %q: %v", ErrNoHist, name, path, err)
	}
	h, err := toH1D(obj)
	if err != nil {
		return nil, fmt.Errorf("could not read %q in %q: %w", name, path, err)
	}
	if h.Ann == nil {
		h.Ann = make(hbook.Annotation)
	}
	h.Ann["name"] = name
	return h, nil
}

// ListH1D returns the names of the one-dimensional histograms of the file
// at path, sorted.
func ListH1D(path string) ([]string, error) {
	f, err := groot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %q: %w", path, err)
	}
	defer f.Close()

	var names []string
	seen := make(map[string]bool)
	for _, k := range f.Keys() {
		if seen[k.Name()] {
			continue
		}
		seen[k.Name()] = true
		obj, err := k.Object()
		if err != nil {
			return nil, fmt.Errorf("could not read %q from %q: %w", k.Name(), path, err)
		}
		if _, ok := obj.(rhist.H1); ok {
			names = append(names, k.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
