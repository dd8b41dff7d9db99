/*
Package automaton provides the match automata used to walk a completion index.

A Matcher is stepped one key byte at a time. Acceptance is prefix acceptance:
once a state accepts, every continuation of the key is a match, so the
executor can emit a whole subtree without stepping further.

Fuzzy and regex matchers work on code points. They are driven through a
lazily determinized adapter that assembles UTF-8 bytes into runes and
interns every reached state, so a matcher is cheap to step repeatedly but
must not be shared between goroutines.
*/
package automaton

import (
	"strings"
	"unicode/utf8"
)

// State is an opaque matcher state. Dead never matches anything.
type State int32

const Dead State = -1

// Matcher is a deterministic byte automaton with prefix acceptance.
type Matcher interface {
	Start() State
	Step(s State, b byte) State
	Accepts(s State) bool
}

// runeStepper is a rune automaton over comparable states identified by key.
type runeStepper[S any] interface {
	start() S
	step(s S, r rune) (S, bool)
	accepts(s S) bool
	key(s S) string
}

type lazyState[S any] struct {
	inner   S
	pending string
	accept  bool
}

type edge struct {
	from State
	b    byte
}

// lazyDFA adapts a runeStepper to Matcher.
type lazyDFA[S any] struct {
	impl   runeStepper[S]
	states []lazyState[S]
	index  map[string]State
	trans  map[edge]State
	start  State
}

func newLazyDFA[S any](impl runeStepper[S]) *lazyDFA[S] {
	d := &lazyDFA[S]{
		impl:  impl,
		index: make(map[string]State),
		trans: make(map[edge]State),
	}
	d.start = d.intern(impl.start(), "")
	return d
}

func (d *lazyDFA[S]) intern(s S, pending string) State {
	var sb strings.Builder
	sb.WriteString(d.impl.key(s))
	sb.WriteByte(0)
	sb.WriteString(pending)
	k := sb.String()
	if id, ok := d.index[k]; ok {
		return id
	}
	id := State(len(d.states))
	d.states = append(d.states, lazyState[S]{
		inner:   s,
		pending: pending,
		accept:  pending == "" && d.impl.accepts(s),
	})
	d.index[k] = id
	return id
}

func (d *lazyDFA[S]) Start() State { return d.start }

func (d *lazyDFA[S]) Accepts(s State) bool {
	return s >= 0 && d.states[s].accept
}

func (d *lazyDFA[S]) Step(s State, b byte) State {
	if s < 0 {
		return Dead
	}
	st := d.states[s]
	if st.accept {
		return s
	}
	if next, ok := d.trans[edge{s, b}]; ok {
		return next
	}

	inner := st.inner
	buf := st.pending + string([]byte{b})
	next := Dead
	alive := true
	for alive && buf != "" && utf8.FullRuneInString(buf) {
		r, size := utf8.DecodeRuneInString(buf)
		buf = buf[size:]
		inner, alive = d.impl.step(inner, r)
		if alive && d.impl.accepts(inner) {
			// accepting is absorbing; trailing bytes do not matter
			buf = ""
		}
	}
	if alive {
		next = d.intern(inner, buf)
	}
	d.trans[edge{s, b}] = next
	return next
}

// Size returns the number of states materialized so far.
func (d *lazyDFA[S]) Size() int { return len(d.states) }

// Walk steps m over key and returns the final state.
func Walk(m Matcher, s State, key []byte) State {
	for _, b := range key {
		if s == Dead || m.Accepts(s) {
			return s
		}
		s = m.Step(s, b)
	}
	return s
}

// MatchString reports whether m accepts some prefix of key.
func MatchString(m Matcher, key string) bool {
	return m.Accepts(Walk(m, m.Start(), []byte(key)))
}
