package completion

import "strings"

// MaxWeight is the largest weight an entry may carry.
const MaxWeight = 1<<31 - 1

// Entry is one completion candidate handed to Build.
type Entry struct {
	SurfaceForm string
	Weight      uint32
	// Contexts maps a context name to its raw values
	// (category strings, ctxmap.GeoPoint or geohash strings).
	Contexts map[string][]any
}

// Capability is a traversal mode an index can serve.
type Capability uint8

const (
	CapPrefix Capability = 1 << iota
	CapFuzzy
	CapRegex

	CapAll = CapPrefix | CapFuzzy | CapRegex
)

// Has reports whether c includes every capability of other.
func (c Capability) Has(other Capability) bool { return c&other == other }

func (c Capability) String() string {
	var parts []string
	if c.Has(CapPrefix) {
		parts = append(parts, "prefix")
	}
	if c.Has(CapFuzzy) {
		parts = append(parts, "fuzzy")
	}
	if c.Has(CapRegex) {
		parts = append(parts, "regex")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// ParseCapabilities parses mode names as used in configuration files.
func ParseCapabilities(modes []string) (Capability, bool) {
	var c Capability
	for _, m := range modes {
		switch strings.ToLower(strings.TrimSpace(m)) {
		case "prefix":
			c |= CapPrefix
		case "fuzzy":
			c |= CapFuzzy
		case "regex":
			c |= CapRegex
		default:
			return 0, false
		}
	}
	return c, true
}
