package suggest

import (
	"bytes"

	"github.com/bastiangx/ctxserve/pkg/automaton"
	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/errdefs"
)

// maxSegment is the widest context token a plan can track.
const maxSegment = 16

// Plan is a request resolved against one index. A plan holds a stateful
// matcher and must be used by one query at a time.
type Plan struct {
	Matcher  automaton.Matcher
	Contexts []ctxmap.InternalQueryContext

	dims      []dimFilter
	dimOf     []int
	dimStart  []int
	suffixMax []uint64
	width     int
}

// dimFilter decides which tokens pass on one dimension and their boost.
type dimFilter struct {
	name        string
	width       int
	constrained bool
	wildcard    bool
	contexts    []ctxmap.InternalQueryContext
	maxBoost    uint64
}

// viable reports whether a partial token can still complete to a passing one.
func (f *dimFilter) viable(partial []byte) bool {
	if !f.constrained {
		return true
	}
	if f.wildcard && allZero(partial) {
		return true
	}
	for _, c := range f.contexts {
		n := len(partial)
		if len(c.Value) < n {
			n = len(c.Value)
		}
		if bytes.Equal(partial[:n], c.Value[:n]) {
			return true
		}
	}
	return false
}

// boost returns the boost for a complete token. Several contexts matching
// the same token take the largest boost.
func (f *dimFilter) boost(token []byte) (uint64, bool) {
	if !f.constrained {
		return 1, true
	}
	var best uint32
	for _, c := range f.contexts {
		if c.Boost > best && c.Matches(token) {
			best = c.Boost
		}
	}
	if best > 0 {
		return uint64(best), true
	}
	if f.wildcard && ctxmap.IsUnconstrained(token) {
		return 1, true
	}
	return 0, false
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != ctxmap.Wildcard {
			return false
		}
	}
	return true
}

// Translate checks req against the index capabilities and set, then builds
// the matcher and the per-dimension context filters.
func Translate(req *Request, set *ctxmap.Set, caps completion.Capability) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !caps.Has(req.Mode.capability()) {
		return nil, &errdefs.UnsupportedModeError{
			Mode:   req.Mode.String(),
			Reason: "index serves " + caps.String(),
		}
	}
	if set == nil {
		var err error
		if set, err = ctxmap.NewSet(); err != nil {
			return nil, err
		}
	}

	required := make(map[string]bool, len(req.Required))
	for _, name := range req.Required {
		if _, _, ok := set.Lookup(name); !ok {
			return nil, &errdefs.UnknownContextError{Name: name, Known: set.Names()}
		}
		if len(req.Contexts[name]) == 0 {
			return nil, errdefs.InvalidRequest("required context %q has no query values", name)
		}
		required[name] = true
	}

	contexts, err := set.ParseQueryContexts(req.Contexts)
	if err != nil {
		return nil, err
	}
	matcher, err := req.matcher()
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Matcher:  matcher,
		Contexts: contexts,
		dims:     make([]dimFilter, set.Len()),
	}
	for i := 0; i < set.Len(); i++ {
		m := set.At(i)
		if m.Width() > maxSegment {
			return nil, errdefs.NewConfigError(m.Name(), "token wider than the executor supports", nil)
		}
		f := dimFilter{
			name:        m.Name(),
			width:       m.Width(),
			constrained: len(req.Contexts[m.Name()]) > 0,
			wildcard:    !required[m.Name()],
			maxBoost:    1,
		}
		for _, c := range contexts {
			if c.Name != m.Name() {
				continue
			}
			f.contexts = append(f.contexts, c)
			if uint64(c.Boost) > f.maxBoost {
				f.maxBoost = uint64(c.Boost)
			}
		}
		p.dims[i] = f
		p.dimStart = append(p.dimStart, p.width)
		for j := 0; j < f.width; j++ {
			p.dimOf = append(p.dimOf, i)
		}
		p.width += f.width
	}

	p.suffixMax = make([]uint64, len(p.dims)+1)
	p.suffixMax[len(p.dims)] = 1
	for i := len(p.dims) - 1; i >= 0; i-- {
		p.suffixMax[i] = satMul(p.suffixMax[i+1], p.dims[i].maxBoost)
	}
	return p, nil
}
