// Package ctxmap defines the contextual dimensions of a completion field and how raw
// context values become fixed-width tokens in front of every indexed surface form.
package ctxmap

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bastiangx/ctxserve/pkg/errdefs"
)

// Kind selects the variant of a Mapping.
type Kind int

const (
	KindCategory Kind = iota
	KindGeo
)

func (k Kind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindGeo:
		return "geo"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "category":
		return KindCategory, nil
	case "geo":
		return KindGeo, nil
	}
	return 0, fmt.Errorf("unknown context type %q", s)
}

// Wildcard fills the token of a dimension an entry has no value for.
const Wildcard byte = 0x00

// Mapping is one named contextual dimension. It is a tagged variant:
// exactly one of category or geo is set, selected by kind.
type Mapping struct {
	name     string
	kind     Kind
	category *categoryMapping
	geo      *geoMapping
}

// Name returns the immutable mapping name.
func (m *Mapping) Name() string { return m.name }

// Kind returns the mapping variant.
func (m *Mapping) Kind() Kind { return m.kind }

// Width is the fixed byte width of this dimension's token.
func (m *Mapping) Width() int {
	switch m.kind {
	case KindGeo:
		return m.geo.precision
	default:
		return categoryTokenWidth
	}
}

// Unconstrained returns the reserved token matching "no value on this dimension".
func (m *Mapping) Unconstrained() []byte {
	return bytes.Repeat([]byte{Wildcard}, m.Width())
}

// IsUnconstrained reports whether token is the reserved wildcard token.
func IsUnconstrained(token []byte) bool {
	for _, b := range token {
		if b != Wildcard {
			return false
		}
	}
	return len(token) > 0
}

// Validate checks that raw can be encoded by this mapping.
func (m *Mapping) Validate(raw any) error {
	switch m.kind {
	case KindGeo:
		_, err := m.geo.cell(m.name, raw)
		return err
	default:
		_, err := categoryValue(m.name, raw)
		return err
	}
}

// tokenCount returns how many distinct tokens values encode to.
func (m *Mapping) tokenCount(values []any) (int, error) {
	if len(values) == 0 {
		if m.kind == KindCategory && len(m.category.defaults) > 0 {
			values = make([]any, len(m.category.defaults))
			for i, d := range m.category.defaults {
				values[i] = d
			}
		} else {
			return 1, nil
		}
	}
	seen := make(map[string]bool)
	for _, v := range values {
		if m.kind == KindGeo {
			toks, err := m.geo.encodeIndex(m.name, v)
			if err != nil {
				return 0, err
			}
			for _, t := range toks {
				seen[string(t)] = true
			}
			continue
		}
		c, err := categoryValue(m.name, v)
		if err != nil {
			return 0, err
		}
		seen[c] = true
	}
	return len(seen), nil
}

// EncodeIndex turns one raw document value into its index tokens.
// Category values are assigned stable ids on first sight; geo values may
// expand to several cells when neighbour expansion is enabled.
func (m *Mapping) EncodeIndex(raw any) ([][]byte, error) {
	switch m.kind {
	case KindGeo:
		return m.geo.encodeIndex(m.name, raw)
	default:
		return m.category.encodeIndex(m.name, raw)
	}
}

// EncodeMissing returns the tokens used when a document has no value for this dimension.
func (m *Mapping) EncodeMissing() ([][]byte, error) {
	if m.kind == KindCategory && len(m.category.defaults) > 0 {
		out := make([][]byte, 0, len(m.category.defaults))
		for _, d := range m.category.defaults {
			toks, err := m.category.encodeIndex(m.name, d)
			if err != nil {
				return nil, err
			}
			out = append(out, toks...)
		}
		return out, nil
	}
	return [][]byte{m.Unconstrained()}, nil
}

// EncodeQuery resolves one raw query context into internal contexts.
// A category value never indexed yields no contexts: it can only match
// entries through the unconstrained token.
func (m *Mapping) EncodeQuery(qc QueryContext) ([]InternalQueryContext, error) {
	boost := qc.Boost
	if boost == 0 {
		boost = 1
	}
	switch m.kind {
	case KindGeo:
		return m.geo.encodeQuery(m.name, qc, boost)
	default:
		return m.category.encodeQuery(m.name, qc, boost)
	}
}

// Decode is the inverse of EncodeIndex for a single token.
func (m *Mapping) Decode(token []byte) (string, error) {
	if len(token) != m.Width() {
		return "", fmt.Errorf("context %q: token width %d, want %d", m.name, len(token), m.Width())
	}
	if IsUnconstrained(token) {
		return "", fmt.Errorf("context %q: unconstrained token has no value", m.name)
	}
	switch m.kind {
	case KindGeo:
		return string(token), nil
	default:
		return m.category.decode(m.name, token)
	}
}

// Precision returns the geo precision, 0 for category mappings.
func (m *Mapping) Precision() int {
	if m.kind == KindGeo {
		return m.geo.precision
	}
	return 0
}

// Neighbors reports whether geo neighbour expansion is enabled.
func (m *Mapping) Neighbors() bool {
	return m.kind == KindGeo && m.geo.neighbors
}

// Defaults returns the category default values.
func (m *Mapping) Defaults() []string {
	if m.kind != KindCategory {
		return nil
	}
	return append([]string(nil), m.category.defaults...)
}

// Categories returns the category token table, nil for geo mappings.
func (m *Mapping) Categories() *CategoryTable {
	if m.kind != KindCategory {
		return nil
	}
	return m.category.table
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errdefs.NewConfigError(name, "name must not be empty", nil)
	}
	return nil
}
