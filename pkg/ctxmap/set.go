package ctxmap

import (
	"fmt"
	"sort"

	"github.com/bastiangx/ctxserve/pkg/errdefs"
)

// TokenSet is the set of tokens an entry carries on one dimension.
type TokenSet [][]byte

// Set is the ordered collection of mappings of one completion field.
// The order fixes where each dimension's token sits in an indexed key and
// cannot change without reindexing.
type Set struct {
	mappings []*Mapping
	byName   map[string]int
	width    int
}

// NewSet creates a set. Names must be unique.
func NewSet(mappings ...*Mapping) (*Set, error) {
	s := &Set{byName: make(map[string]int, len(mappings))}
	for i, m := range mappings {
		if m == nil {
			return nil, errdefs.NewConfigError(fmt.Sprintf("#%d", i), "nil mapping", nil)
		}
		if _, dup := s.byName[m.name]; dup {
			return nil, errdefs.NewConfigError(m.name, "duplicate context name", nil)
		}
		s.byName[m.name] = i
		s.mappings = append(s.mappings, m)
		s.width += m.Width()
	}
	return s, nil
}

// Len returns the number of dimensions.
func (s *Set) Len() int { return len(s.mappings) }

// At returns the mapping of dimension i.
func (s *Set) At(i int) *Mapping { return s.mappings[i] }

// Mappings returns the mappings in layout order.
func (s *Set) Mappings() []*Mapping { return append([]*Mapping(nil), s.mappings...) }

// Lookup returns the mapping and its dimension index.
func (s *Set) Lookup(name string) (*Mapping, int, bool) {
	i, ok := s.byName[name]
	if !ok {
		return nil, -1, false
	}
	return s.mappings[i], i, true
}

// Names returns the mapping names in layout order.
func (s *Set) Names() []string {
	names := make([]string, len(s.mappings))
	for i, m := range s.mappings {
		names[i] = m.name
	}
	return names
}

// PrefixWidth is the total byte length of the context prefix of every key.
func (s *Set) PrefixWidth() int { return s.width }

// ValidateEntry checks the raw context values of one document without
// assigning category ids. It returns the number of distinct tokens each
// dimension would encode to, in layout order.
func (s *Set) ValidateEntry(raw map[string][]any) ([]int, error) {
	if err := s.checkNames(keys(raw)); err != nil {
		return nil, err
	}
	counts := make([]int, len(s.mappings))
	for i, m := range s.mappings {
		n, err := m.tokenCount(raw[m.name])
		if err != nil {
			return nil, err
		}
		counts[i] = n
	}
	return counts, nil
}

// EncodeEntry encodes the raw context values of one document, one TokenSet
// per dimension in layout order. Missing dimensions get the mapping's
// defaults or the unconstrained token.
func (s *Set) EncodeEntry(raw map[string][]any) ([]TokenSet, error) {
	if err := s.checkNames(keys(raw)); err != nil {
		return nil, err
	}
	out := make([]TokenSet, len(s.mappings))
	for i, m := range s.mappings {
		values := raw[m.name]
		if len(values) == 0 {
			toks, err := m.EncodeMissing()
			if err != nil {
				return nil, err
			}
			out[i] = toks
			continue
		}
		var set TokenSet
		seen := make(map[string]bool)
		for _, v := range values {
			toks, err := m.EncodeIndex(v)
			if err != nil {
				return nil, err
			}
			for _, t := range toks {
				if seen[string(t)] {
					continue
				}
				seen[string(t)] = true
				set = append(set, t)
			}
		}
		out[i] = set
	}
	return out, nil
}

// ParseQueryContexts resolves raw request contexts, in layout order.
func (s *Set) ParseQueryContexts(raw map[string][]QueryContext) ([]InternalQueryContext, error) {
	if err := s.checkNames(keys(raw)); err != nil {
		return nil, err
	}
	var out []InternalQueryContext
	for _, m := range s.mappings {
		for _, qc := range raw[m.name] {
			ctxs, err := m.EncodeQuery(qc)
			if err != nil {
				return nil, err
			}
			out = append(out, ctxs...)
		}
	}
	return out, nil
}

// Decode decodes the token of dimension dim.
func (s *Set) Decode(dim int, token []byte) (string, error) {
	if dim < 0 || dim >= len(s.mappings) {
		return "", fmt.Errorf("dimension %d out of range", dim)
	}
	return s.mappings[dim].Decode(token)
}

// SplitPrefix cuts the context prefix of an indexed key into per-dimension tokens.
func (s *Set) SplitPrefix(key []byte) ([][]byte, []byte, error) {
	if len(key) < s.width {
		return nil, nil, fmt.Errorf("key shorter than context prefix (%d < %d)", len(key), s.width)
	}
	toks := make([][]byte, len(s.mappings))
	off := 0
	for i, m := range s.mappings {
		toks[i] = key[off : off+m.Width()]
		off += m.Width()
	}
	return toks, key[off:], nil
}

func (s *Set) checkNames(names []string) error {
	for _, n := range names {
		if _, ok := s.byName[n]; !ok {
			return &errdefs.UnknownContextError{Name: n, Known: s.Names()}
		}
	}
	return nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
