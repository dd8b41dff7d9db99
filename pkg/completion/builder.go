package completion

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/errdefs"
	"github.com/charmbracelet/log"
)

// DefaultMaxExpansions bounds the keys a single entry may produce.
const DefaultMaxExpansions = 256

// Options tune a build.
type Options struct {
	// MaxExpansions is the largest cartesian product of per-dimension
	// tokens one entry may expand to. 0 means DefaultMaxExpansions.
	MaxExpansions int
	// Modes lists the traversal modes the index serves. 0 means CapAll.
	Modes Capability
}

type buildNode struct {
	children map[byte]*buildNode
	outs     []int32
	max      uint32
}

func (n *buildNode) child(b byte) *buildNode {
	if n.children == nil {
		n.children = make(map[byte]*buildNode)
	}
	c, ok := n.children[b]
	if !ok {
		c = &buildNode{}
		n.children[b] = c
	}
	return c
}

// Build encodes every entry through set and freezes the result into an Index.
// Any invalid entry fails the whole build; no index is returned with an error.
// Entries are validated before any category id is assigned, so a rejected
// batch leaves the set's category tables untouched.
func Build(set *ctxmap.Set, entries []Entry, opts Options) (*Index, error) {
	start := time.Now()
	if set == nil {
		var err error
		if set, err = ctxmap.NewSet(); err != nil {
			return nil, &errdefs.BuildError{Entry: -1, Cause: err}
		}
	}
	if opts.MaxExpansions <= 0 {
		opts.MaxExpansions = DefaultMaxExpansions
	}
	if opts.Modes == 0 {
		opts.Modes = CapAll
	}

	root := &buildNode{}
	stored := make([]storedEntry, len(entries))
	keys := 0
	key := make([]byte, 0, 64)

	for i, e := range entries {
		if err := validateEntry(set, e, opts.MaxExpansions); err != nil {
			return nil, &errdefs.BuildError{Entry: i, Surface: e.SurfaceForm, Cause: err}
		}
	}

	for i, e := range entries {
		tokens, err := set.EncodeEntry(e.Contexts)
		if err != nil {
			return nil, &errdefs.BuildError{Entry: i, Surface: e.SurfaceForm, Cause: err}
		}

		stored[i] = storedEntry{surface: e.SurfaceForm, weight: e.Weight}
		id := int32(i)
		// odometer over the cartesian product of token sets
		pos := make([]int, len(tokens))
		for {
			key = key[:0]
			for d, ts := range tokens {
				key = append(key, ts[pos[d]]...)
			}
			key = append(key, e.SurfaceForm...)
			insert(root, key, id, e.Weight)
			keys++

			d := len(pos) - 1
			for d >= 0 {
				pos[d]++
				if pos[d] < len(tokens[d]) {
					break
				}
				pos[d] = 0
				d--
			}
			if d < 0 {
				break
			}
		}
	}

	ix := freeze(root, stored)
	ix.set = set
	ix.keys = keys
	ix.caps = opts.Modes

	log.Debugf("Built completion index: %d entries, %d keys, %d nodes in %v",
		len(stored), keys, len(ix.nodes), time.Since(start))
	return ix, nil
}

func validateEntry(set *ctxmap.Set, e Entry, maxExpansions int) error {
	if e.SurfaceForm == "" {
		return errors.New("empty surface form")
	}
	if e.Weight > MaxWeight {
		return fmt.Errorf("weight %d exceeds %d", e.Weight, MaxWeight)
	}
	counts, err := set.ValidateEntry(e.Contexts)
	if err != nil {
		return err
	}
	n := 1
	for _, c := range counts {
		n *= c
		if n > maxExpansions {
			return fmt.Errorf("context values expand to more than %d keys", maxExpansions)
		}
	}
	return nil
}

func insert(root *buildNode, key []byte, id int32, weight uint32) {
	n := root
	if weight > n.max {
		n.max = weight
	}
	for _, b := range key {
		n = n.child(b)
		if weight > n.max {
			n.max = weight
		}
	}
	for _, o := range n.outs {
		if o == id {
			return
		}
	}
	n.outs = append(n.outs, id)
}

type labeled struct {
	label byte
	node  *buildNode
}

// freeze lays the builder trie out breadth first so that every node's
// children occupy a contiguous run of the node slice.
func freeze(root *buildNode, entries []storedEntry) *Index {
	ix := &Index{entries: entries}
	ix.nodes = append(ix.nodes, node{maxWeight: root.max})
	queue := []*buildNode{root}

	for qi := 0; qi < len(queue); qi++ {
		bn := queue[qi]
		nd := &ix.nodes[qi]

		outs := append([]int32(nil), bn.outs...)
		sort.Slice(outs, func(a, b int) bool {
			ea, eb := entries[outs[a]], entries[outs[b]]
			if ea.weight != eb.weight {
				return ea.weight > eb.weight
			}
			if ea.surface != eb.surface {
				return ea.surface < eb.surface
			}
			return outs[a] < outs[b]
		})
		nd.firstOut = int32(len(ix.outputs))
		nd.numOut = int32(len(outs))
		ix.outputs = append(ix.outputs, outs...)

		kids := make([]labeled, 0, len(bn.children))
		for b, c := range bn.children {
			kids = append(kids, labeled{b, c})
		}
		sort.Slice(kids, func(a, b int) bool {
			if kids[a].node.max != kids[b].node.max {
				return kids[a].node.max > kids[b].node.max
			}
			return kids[a].label < kids[b].label
		})
		nd.firstChild = int32(len(ix.nodes))
		nd.numChild = int32(len(kids))
		for _, k := range kids {
			ix.nodes = append(ix.nodes, node{label: k.label, maxWeight: k.node.max})
			queue = append(queue, k.node)
		}
	}
	return ix
}
