package suggest

import (
	"fmt"
	"strings"

	"github.com/bastiangx/ctxserve/pkg/automaton"
	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/errdefs"
)

// Mode selects how Input is matched against surface forms.
type Mode int

const (
	ModePrefix Mode = iota
	ModeFuzzy
	ModeRegex
)

func (m Mode) String() string {
	switch m {
	case ModePrefix:
		return "prefix"
	case ModeFuzzy:
		return "fuzzy"
	case ModeRegex:
		return "regex"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a wire or config name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prefix":
		return ModePrefix, nil
	case "fuzzy":
		return ModeFuzzy, nil
	case "regex":
		return ModeRegex, nil
	}
	return 0, errdefs.InvalidRequest("unknown mode %q", s)
}

func (m Mode) capability() completion.Capability {
	switch m {
	case ModeFuzzy:
		return completion.CapFuzzy
	case ModeRegex:
		return completion.CapRegex
	default:
		return completion.CapPrefix
	}
}

// FuzzyOptions control fuzzy prefix matching.
type FuzzyOptions struct {
	Fuzziness      int
	PrefixLength   int
	MinLength      int
	Transpositions bool
}

// DefaultFuzzyOptions allow one edit after a literal first rune,
// for inputs of at least three runes.
func DefaultFuzzyOptions() FuzzyOptions {
	return FuzzyOptions{
		Fuzziness:      1,
		PrefixLength:   1,
		MinLength:      3,
		Transpositions: true,
	}
}

// RegexOptions control regex compilation.
type RegexOptions struct {
	MaxStates       int
	CaseInsensitive bool
}

// Request is one suggestion query.
type Request struct {
	Input string
	Mode  Mode
	// Fuzzy is used in ModeFuzzy; nil means DefaultFuzzyOptions.
	Fuzzy *FuzzyOptions
	// Regex is used in ModeRegex; Input is the pattern.
	Regex *RegexOptions
	// Contexts boost or filter by context dimension.
	Contexts map[string][]ctxmap.QueryContext
	// Required dimensions drop entries without a matching token,
	// including entries indexed without a value.
	Required       []string
	SkipDuplicates bool
	Size           int
}

// Validate checks the request shape. Context names are checked against
// the index at translation time.
func (r *Request) Validate() error {
	if r == nil {
		return errdefs.InvalidRequest("nil request")
	}
	if r.Size <= 0 {
		return errdefs.InvalidRequest("size must be positive, got %d", r.Size)
	}
	if r.Input == "" {
		return errdefs.InvalidRequest("empty input")
	}
	switch r.Mode {
	case ModePrefix, ModeFuzzy, ModeRegex:
	default:
		return errdefs.InvalidRequest("unknown mode %d", int(r.Mode))
	}
	return nil
}

func (r *Request) matcher() (automaton.Matcher, error) {
	switch r.Mode {
	case ModeFuzzy:
		opts := DefaultFuzzyOptions()
		if r.Fuzzy != nil {
			opts = *r.Fuzzy
		}
		m, err := automaton.NewFuzzy(r.Input, automaton.FuzzyConfig{
			MaxEdits:       opts.Fuzziness,
			PrefixLength:   opts.PrefixLength,
			MinLength:      opts.MinLength,
			Transpositions: opts.Transpositions,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case ModeRegex:
		var opts RegexOptions
		if r.Regex != nil {
			opts = *r.Regex
		}
		m, err := automaton.NewRegex(r.Input, automaton.RegexConfig{
			MaxStates:       opts.MaxStates,
			CaseInsensitive: opts.CaseInsensitive,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return automaton.NewPrefix(r.Input), nil
	}
}
