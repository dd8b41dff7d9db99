package automaton

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bastiangx/ctxserve/pkg/errdefs"
)

// MaxFuzziness is the largest supported edit distance.
const MaxFuzziness = 2

// FuzzyConfig controls the fuzzy prefix matcher.
type FuzzyConfig struct {
	// MaxEdits is the edit distance allowed, 0 to MaxFuzziness.
	MaxEdits int
	// PrefixLength runes at the start of the input must match literally.
	PrefixLength int
	// MinLength is the input length in runes below which no edits are allowed.
	MinLength int
	// Transpositions counts swapping two adjacent runes as one edit.
	Transpositions bool
}

// Fuzzy matches keys having a prefix within MaxEdits
// Damerau-Levenshtein (optimal string alignment) edits of the input.
// Distances are measured in code points.
type Fuzzy struct {
	*lazyDFA[fuzzyState]
}

// NewFuzzy builds a fuzzy prefix matcher for input.
func NewFuzzy(input string, cfg FuzzyConfig) (*Fuzzy, error) {
	if cfg.MaxEdits < 0 || cfg.MaxEdits > MaxFuzziness {
		return nil, &errdefs.UnsupportedModeError{
			Mode:   "fuzzy",
			Reason: fmt.Sprintf("fuzziness %d outside [0, %d]", cfg.MaxEdits, MaxFuzziness),
		}
	}
	if cfg.PrefixLength < 0 || cfg.MinLength < 0 {
		return nil, errdefs.InvalidRequest("fuzzy prefix length and min length must not be negative")
	}
	runes := []rune(input)
	k := cfg.MaxEdits
	if len(runes) < cfg.MinLength {
		k = 0
	}
	lit := cfg.PrefixLength
	if lit > len(runes) {
		lit = len(runes)
	}
	f := &fuzzyStepper{
		literal: runes[:lit],
		rest:    runes[lit:],
		k:       int8(k),
		trans:   cfg.Transpositions,
	}
	return &Fuzzy{newLazyDFA[fuzzyState](f)}, nil
}

type fuzzyState struct {
	lit  int
	row  []int8
	prev []int8
	last rune
}

type fuzzyStepper struct {
	literal []rune
	rest    []rune
	k       int8
	trans   bool
}

func (f *fuzzyStepper) initialRow() []int8 {
	row := make([]int8, len(f.rest)+1)
	for i := range row {
		row[i] = f.clamp(i)
	}
	return row
}

func (f *fuzzyStepper) clamp(v int) int8 {
	if v > int(f.k)+1 {
		return f.k + 1
	}
	return int8(v)
}

func (f *fuzzyStepper) start() fuzzyState {
	if len(f.literal) == 0 {
		return fuzzyState{row: f.initialRow()}
	}
	return fuzzyState{}
}

func (f *fuzzyStepper) step(s fuzzyState, r rune) (fuzzyState, bool) {
	if s.lit < len(f.literal) {
		if f.literal[s.lit] != r {
			return s, false
		}
		next := fuzzyState{lit: s.lit + 1}
		if next.lit == len(f.literal) {
			next.row = f.initialRow()
		}
		return next, true
	}

	a := f.rest
	row := make([]int8, len(a)+1)
	row[0] = f.clamp(int(s.row[0]) + 1)
	best := row[0]
	for i := 1; i <= len(a); i++ {
		cost := 1
		if a[i-1] == r {
			cost = 0
		}
		v := int(s.row[i-1]) + cost
		if d := int(s.row[i]) + 1; d < v {
			v = d
		}
		if ins := int(row[i-1]) + 1; ins < v {
			v = ins
		}
		if f.trans && s.prev != nil && i >= 2 && a[i-1] == s.last && a[i-2] == r {
			if t := int(s.prev[i-2]) + 1; t < v {
				v = t
			}
		}
		row[i] = f.clamp(v)
		if row[i] < best {
			best = row[i]
		}
	}
	if best > f.k {
		return s, false
	}
	next := fuzzyState{lit: s.lit, row: row}
	if f.trans {
		next.prev = s.row
		next.last = r
	}
	return next, true
}

func (f *fuzzyStepper) accepts(s fuzzyState) bool {
	return s.lit == len(f.literal) && s.row != nil && s.row[len(s.row)-1] <= f.k
}

func (f *fuzzyStepper) key(s fuzzyState) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(s.lit))
	sb.WriteByte('|')
	for _, v := range s.row {
		sb.WriteByte(byte('0' + v))
	}
	if f.trans && s.prev != nil {
		sb.WriteByte('|')
		for _, v := range s.prev {
			sb.WriteByte(byte('0' + v))
		}
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatInt(int64(s.last), 36))
	}
	return sb.String()
}
