package ctxmap

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/bastiangx/ctxserve/pkg/errdefs"
	"github.com/tchap/go-patricia/v2/patricia"
)

// categoryTokenWidth is a big-endian uint32 id. Id 0 is the wildcard.
const categoryTokenWidth = 4

// CategoryTable assigns stable ids to category strings. Ids are never reused,
// so a token always decodes to the value it was created for.
// Writes happen during index builds only; lookups are safe concurrently.
type CategoryTable struct {
	mu     sync.RWMutex
	trie   *patricia.Trie
	values []string
}

// NewCategoryTable returns an empty table.
func NewCategoryTable() *CategoryTable {
	return &CategoryTable{trie: patricia.NewTrie()}
}

// Assign returns the id of value, creating one if the value is new.
func (t *CategoryTable) Assign(value string) (uint32, error) {
	if id, ok := t.Lookup(value); ok {
		return id, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if item := t.trie.Get(patricia.Prefix(value)); item != nil {
		return item.(uint32), nil
	}
	if len(t.values) >= math.MaxUint32-1 {
		return 0, fmt.Errorf("category table full (%d values)", len(t.values))
	}
	t.values = append(t.values, value)
	id := uint32(len(t.values))
	t.trie.Insert(patricia.Prefix(value), id)
	return id, nil
}

// Lookup returns the id of an already assigned value.
func (t *CategoryTable) Lookup(value string) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.trie.Get(patricia.Prefix(value))
	if item == nil {
		return 0, false
	}
	return item.(uint32), true
}

// Value returns the string an id was assigned to.
func (t *CategoryTable) Value(id uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id == 0 || int(id) > len(t.values) {
		return "", false
	}
	return t.values[id-1], true
}

// WithPrefix returns the ids of all values starting with prefix, in id order.
func (t *CategoryTable) WithPrefix(prefix string) []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []uint32
	err := t.trie.VisitSubtree(patricia.Prefix(prefix), func(_ patricia.Prefix, item patricia.Item) error {
		ids = append(ids, item.(uint32))
		return nil
	})
	if err != nil {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of assigned values.
func (t *CategoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}

type categoryMapping struct {
	defaults []string
	table    *CategoryTable
}

// NewCategory creates a category mapping. Defaults are applied to documents
// without a value for this dimension.
func NewCategory(name string, defaults ...string) (*Mapping, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(defaults))
	uniq := make([]string, 0, len(defaults))
	for _, d := range defaults {
		if d == "" {
			return nil, errdefs.NewConfigError(name, "default category values must not be empty", nil)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		uniq = append(uniq, d)
	}
	return &Mapping{
		name: name,
		kind: KindCategory,
		category: &categoryMapping{
			defaults: uniq,
			table:    NewCategoryTable(),
		},
	}, nil
}

func categoryValue(mapping string, raw any) (string, error) {
	var v string
	switch t := raw.(type) {
	case string:
		v = t
	case fmt.Stringer:
		v = t.String()
	default:
		return "", errdefs.NewConfigError(mapping, fmt.Sprintf("category value must be a string, got %T", raw), nil)
	}
	if v == "" {
		return "", errdefs.NewConfigError(mapping, "category value must not be empty", nil)
	}
	return v, nil
}

func categoryToken(id uint32) []byte {
	tok := make([]byte, categoryTokenWidth)
	binary.BigEndian.PutUint32(tok, id)
	return tok
}

func (c *categoryMapping) encodeIndex(mapping string, raw any) ([][]byte, error) {
	v, err := categoryValue(mapping, raw)
	if err != nil {
		return nil, err
	}
	id, err := c.table.Assign(v)
	if err != nil {
		return nil, errdefs.NewConfigError(mapping, "cannot assign category token", err)
	}
	return [][]byte{categoryToken(id)}, nil
}

func (c *categoryMapping) encodeQuery(mapping string, qc QueryContext, boost uint32) ([]InternalQueryContext, error) {
	v, err := categoryValue(mapping, qc.Value)
	if err != nil {
		return nil, errdefs.InvalidRequest("%v", err)
	}
	var ids []uint32
	if qc.Prefix {
		ids = c.table.WithPrefix(v)
	} else if id, ok := c.table.Lookup(v); ok {
		ids = []uint32{id}
	}
	out := make([]InternalQueryContext, 0, len(ids))
	for _, id := range ids {
		out = append(out, InternalQueryContext{
			Name:  mapping,
			Value: categoryToken(id),
			Boost: boost,
		})
	}
	return out, nil
}

func (c *categoryMapping) decode(mapping string, token []byte) (string, error) {
	id := binary.BigEndian.Uint32(token)
	v, ok := c.table.Value(id)
	if !ok {
		return "", fmt.Errorf("context %q: token %d was never assigned", mapping, id)
	}
	return v, nil
}
