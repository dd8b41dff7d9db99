package ctxmap

import (
	"bytes"
	"fmt"
)

// QueryContext is one raw context value of a suggestion request.
type QueryContext struct {
	// Value is a category string, or a GeoPoint / geohash string for geo mappings.
	Value any
	// Boost multiplies the weight of matching entries. Zero means 1.
	Boost uint32
	// Prefix matches every known category value starting with Value.
	Prefix bool
	// Precision narrows a geo context to a coarser cell. Zero means the mapping precision.
	Precision int
	// Neighbours adds the neighbouring cells at each listed precision.
	Neighbours []int
}

// InternalQueryContext is a query context resolved against a mapping.
type InternalQueryContext struct {
	Name  string
	Value []byte
	Boost uint32
	// IsPrefix marks a geo cell coarser than the mapping precision:
	// it matches every indexed cell it is a prefix of.
	IsPrefix bool
}

// Matches reports whether an indexed token satisfies this context.
func (c InternalQueryContext) Matches(token []byte) bool {
	if c.IsPrefix {
		return bytes.HasPrefix(token, c.Value)
	}
	return bytes.Equal(token, c.Value)
}

func (c InternalQueryContext) String() string {
	kind := "exact"
	if c.IsPrefix {
		kind = "prefix"
	}
	return fmt.Sprintf("%s:%x^%d(%s)", c.Name, c.Value, c.Boost, kind)
}
