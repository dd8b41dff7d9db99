package automaton

import (
	"encoding/binary"
	"fmt"
	"regexp/syntax"
	"sort"

	"github.com/bastiangx/ctxserve/pkg/errdefs"
)

// DefaultMaxStates bounds the compiled program size of a regex.
const DefaultMaxStates = 10000

// RegexConfig controls regex compilation.
type RegexConfig struct {
	// MaxStates is the largest accepted program, 0 means DefaultMaxStates.
	MaxStates int
	// CaseInsensitive folds case when matching.
	CaseInsensitive bool
}

// Regex matches keys having a prefix matched by the pattern.
// Patterns are implicitly anchored at the start of the key.
type Regex struct {
	*lazyDFA[regexState]
}

// NewRegex compiles pattern. End anchors and word boundaries cannot be
// decided on a key prefix and are rejected.
func NewRegex(pattern string, cfg RegexConfig) (*Regex, error) {
	flags := syntax.Perl
	if cfg.CaseInsensitive {
		flags |= syntax.FoldCase
	}
	re, err := syntax.Parse(pattern, flags)
	if err != nil {
		return nil, &errdefs.PatternError{Pattern: pattern, Reason: "cannot parse", Cause: err}
	}
	prog, err := syntax.Compile(re.Simplify())
	if err != nil {
		return nil, &errdefs.PatternError{Pattern: pattern, Reason: "cannot compile", Cause: err}
	}
	limit := cfg.MaxStates
	if limit <= 0 {
		limit = DefaultMaxStates
	}
	if len(prog.Inst) > limit {
		return nil, &errdefs.PatternError{
			Pattern: pattern,
			Reason:  fmt.Sprintf("program has %d states, limit is %d", len(prog.Inst), limit),
		}
	}
	for _, inst := range prog.Inst {
		if inst.Op != syntax.InstEmptyWidth {
			continue
		}
		op := syntax.EmptyOp(inst.Arg)
		if op&^(syntax.EmptyBeginText|syntax.EmptyBeginLine) != 0 {
			return nil, &errdefs.PatternError{
				Pattern: pattern,
				Reason:  "end anchors and word boundaries are not supported",
			}
		}
	}
	st := &regexStepper{prog: prog}
	return &Regex{lazyDFA: newLazyDFA[regexState](st)}, nil
}

// regexState is the sorted set of rune-consuming or match instructions
// reachable after the input seen so far.
type regexState []uint32

type regexStepper struct {
	prog *syntax.Prog
}

func (s *regexStepper) closure(pcs []uint32, atStart bool) regexState {
	seen := make(map[uint32]bool)
	var out regexState
	stack := append([]uint32(nil), pcs...)
	for len(stack) > 0 {
		pc := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[pc] {
			continue
		}
		seen[pc] = true
		inst := &s.prog.Inst[pc]
		switch inst.Op {
		case syntax.InstAlt, syntax.InstAltMatch:
			stack = append(stack, inst.Out, inst.Arg)
		case syntax.InstNop, syntax.InstCapture:
			stack = append(stack, inst.Out)
		case syntax.InstEmptyWidth:
			if atStart {
				stack = append(stack, inst.Out)
			}
		case syntax.InstFail:
		default:
			out = append(out, pc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *regexStepper) start() regexState {
	return s.closure([]uint32{uint32(s.prog.Start)}, true)
}

func (s *regexStepper) step(st regexState, r rune) (regexState, bool) {
	var next []uint32
	for _, pc := range st {
		inst := &s.prog.Inst[pc]
		ok := false
		switch inst.Op {
		case syntax.InstRune1:
			ok = r == inst.Rune[0]
		case syntax.InstRune:
			ok = inst.MatchRune(r)
		case syntax.InstRuneAny:
			ok = true
		case syntax.InstRuneAnyNotNL:
			ok = r != '\n'
		}
		if ok {
			next = append(next, inst.Out)
		}
	}
	if len(next) == 0 {
		return nil, false
	}
	out := s.closure(next, false)
	return out, len(out) > 0
}

func (s *regexStepper) accepts(st regexState) bool {
	for _, pc := range st {
		if s.prog.Inst[pc].Op == syntax.InstMatch {
			return true
		}
	}
	return false
}

func (s *regexStepper) key(st regexState) string {
	buf := make([]byte, 4*len(st))
	for i, pc := range st {
		binary.LittleEndian.PutUint32(buf[4*i:], pc)
	}
	return string(buf)
}
