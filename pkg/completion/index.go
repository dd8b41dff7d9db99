// Package completion holds the immutable weighted index a suggestion query walks.
//
// Keys are the context prefix produced by a ctxmap.Set followed by the
// surface form. Nodes live in one flat slice; the children of a node are a
// contiguous run ordered by descending subtree weight, so a best-first walk
// reaches heavy completions first.
package completion

import (
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
)

// NodeID indexes a node of an Index.
type NodeID int32

type node struct {
	label      byte
	maxWeight  uint32
	firstChild int32
	numChild   int32
	firstOut   int32
	numOut     int32
}

type storedEntry struct {
	surface string
	weight  uint32
}

// Index is read-only after Build and safe for concurrent queries.
type Index struct {
	set     *ctxmap.Set
	nodes   []node
	outputs []int32
	entries []storedEntry
	keys    int
	caps    Capability
}

// IndexStats describes the shape of an index.
type IndexStats struct {
	Entries    int
	Keys       int
	Nodes      int
	MaxWeight  uint32
	Dimensions int
}

// Root is the node every key starts from.
func (ix *Index) Root() NodeID { return 0 }

// Set returns the context mappings the keys were encoded with.
func (ix *Index) Set() *ctxmap.Set { return ix.set }

// Capabilities returns the modes this index was built to serve.
func (ix *Index) Capabilities() Capability { return ix.caps }

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Children returns the first child and the child count of n.
// Child i of n is first+i.
func (ix *Index) Children(n NodeID) (first NodeID, count int) {
	nd := &ix.nodes[n]
	return NodeID(nd.firstChild), int(nd.numChild)
}

// Label is the byte on the edge into n.
func (ix *Index) Label(n NodeID) byte { return ix.nodes[n].label }

// MaxWeight is the largest entry weight in the subtree of n.
func (ix *Index) MaxWeight(n NodeID) uint32 { return ix.nodes[n].maxWeight }

// Outputs returns the ids of entries whose key ends at n, heaviest first.
// The slice must not be modified.
func (ix *Index) Outputs(n NodeID) []int32 {
	nd := &ix.nodes[n]
	return ix.outputs[nd.firstOut : nd.firstOut+nd.numOut]
}

// Entry returns the surface form and weight of entry id.
func (ix *Index) Entry(id int32) (string, uint32) {
	e := ix.entries[id]
	return e.surface, e.weight
}

func (ix *Index) Stats() IndexStats {
	st := IndexStats{
		Entries: len(ix.entries),
		Keys:    ix.keys,
		Nodes:   len(ix.nodes),
	}
	if len(ix.nodes) > 0 {
		st.MaxWeight = ix.nodes[0].maxWeight
	}
	if ix.set != nil {
		st.Dimensions = ix.set.Len()
	}
	return st
}
