package suggest

import (
	"container/heap"
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bastiangx/ctxserve/pkg/automaton"
	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/metrics"
	"github.com/charmbracelet/log"
)

// DefaultOverCollect is how many raw hits per requested result are gathered
// before duplicates are removed.
const DefaultOverCollect = 3

// cancelCheckInterval is the number of frontier pops between context checks.
const cancelCheckInterval = 128

type phase int

const (
	phaseInit phase = iota
	phaseTraversing
	phaseCollecting
	phaseDeduplicating
	phaseDone
)

func (p phase) String() string {
	return [...]string{"init", "traversing", "collecting", "deduplicating", "done"}[p]
}

// item is either a trie node still to expand or a scored hit.
type item struct {
	bound uint64
	hit   bool
	seq   uint64

	node  completion.NodeID
	state automaton.State
	depth int
	boost uint64
	seg   [maxSegment]byte

	entry   int32
	surface string
	weight  uint32
}

// frontier pops the highest bound first. At equal bound nodes come before
// hits, so every hit of a given score is known before the first one leaves.
type frontier []item

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	a, b := &f[i], &f[j]
	if a.bound != b.bound {
		return a.bound > b.bound
	}
	if a.hit != b.hit {
		return !a.hit
	}
	if a.hit {
		if a.surface != b.surface {
			return a.surface < b.surface
		}
		return a.entry < b.entry
	}
	return a.seq < b.seq
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(item)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}

type executor struct {
	ix   *completion.Index
	plan *Plan
	req  *Request

	frontier frontier
	seq      uint64
	pops     int

	// seen holds entries already emitted; the first emission carries the
	// best score because hits leave the frontier in score order.
	seen *roaring.Bitmap
	raw  []RankedCompletion

	phase     phase
	requeries int
}

func newExecutor(ix *completion.Index, plan *Plan, req *Request) *executor {
	return &executor{
		ix:    ix,
		plan:  plan,
		req:   req,
		seen:  roaring.New(),
		phase: phaseInit,
	}
}

// Query runs req against a single index.
func Query(ctx context.Context, ix *completion.Index, req *Request) ([]RankedCompletion, error) {
	return query(ctx, ix, req, DefaultOverCollect, nil)
}

func query(ctx context.Context, ix *completion.Index, req *Request, overCollect int, m *metrics.Metrics) ([]RankedCompletion, error) {
	plan, err := Translate(req, ix.Set(), ix.Capabilities())
	if err != nil {
		return nil, err
	}
	ex := newExecutor(ix, plan, req)
	out, err := ex.run(ctx, overCollect)
	m.Requeried(ex.requeries)
	return out, err
}

func (ex *executor) run(ctx context.Context, overCollect int) ([]RankedCompletion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if overCollect < 1 {
		overCollect = 1
	}
	size := ex.req.Size
	budget := size
	if ex.req.SkipDuplicates {
		budget = size * overCollect
	}

	root := ex.ix.Root()
	ex.push(item{
		bound: satMul(uint64(ex.ix.MaxWeight(root)), ex.plan.suffixMax[0]),
		node:  root,
		state: ex.plan.Matcher.Start(),
		boost: 1,
	})

	for {
		ex.phase = phaseTraversing
		exhausted, err := ex.traverse(ctx, budget)
		if err != nil {
			return nil, err
		}

		ex.phase = phaseDeduplicating
		out := ex.dedup()
		if len(out) >= size || exhausted || !ex.req.SkipDuplicates {
			if len(out) > size {
				out = out[:size]
			}
			ex.phase = phaseDone
			log.Debugf("Query %q (%s): %d results, %d raw hits, %d pops, %d requeries",
				ex.req.Input, ex.req.Mode, len(out), len(ex.raw), ex.pops, ex.requeries)
			return out, nil
		}
		budget *= 2
		ex.requeries++
	}
}

func (ex *executor) push(it item) {
	it.seq = ex.seq
	ex.seq++
	heap.Push(&ex.frontier, it)
}

// traverse pops the frontier until budget raw hits are collected.
// It reports whether the frontier ran dry.
func (ex *executor) traverse(ctx context.Context, budget int) (bool, error) {
	for len(ex.raw) < budget {
		if ex.frontier.Len() == 0 {
			return true, nil
		}
		ex.pops++
		if ex.pops%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}
		it := heap.Pop(&ex.frontier).(item)
		if it.hit {
			ex.collect(it)
			continue
		}
		ex.expand(it)
	}
	return ex.frontier.Len() == 0, nil
}

func (ex *executor) collect(it item) {
	ex.phase = phaseCollecting
	if !ex.seen.CheckedAdd(uint32(it.entry)) {
		ex.phase = phaseTraversing
		return
	}
	ex.raw = append(ex.raw, RankedCompletion{
		SurfaceForm:  it.surface,
		Weight:       it.weight,
		AppliedBoost: it.boost,
		Score:        it.bound,
	})
	ex.phase = phaseTraversing
}

func (ex *executor) expand(it item) {
	ix, p := ex.ix, ex.plan

	if it.depth >= p.width && p.Matcher.Accepts(it.state) {
		for _, id := range ix.Outputs(it.node) {
			if ex.seen.Contains(uint32(id)) {
				continue
			}
			surface, weight := ix.Entry(id)
			ex.push(item{
				bound:   satMul(uint64(weight), it.boost),
				hit:     true,
				entry:   id,
				surface: surface,
				weight:  weight,
				boost:   it.boost,
			})
		}
	}

	first, count := ix.Children(it.node)
	for i := 0; i < count; i++ {
		child := first + completion.NodeID(i)
		b := ix.Label(child)
		next := it
		next.node = child
		next.depth = it.depth + 1

		remaining := uint64(1)
		if it.depth < p.width {
			d := p.dimOf[it.depth]
			f := &p.dims[d]
			off := it.depth - p.dimStart[d]
			next.seg[off] = b
			if !f.viable(next.seg[:off+1]) {
				continue
			}
			if off+1 == f.width {
				boost, ok := f.boost(next.seg[:f.width])
				if !ok {
					continue
				}
				next.boost = satMul(it.boost, boost)
				next.seg = [maxSegment]byte{}
				remaining = p.suffixMax[d+1]
			} else {
				remaining = p.suffixMax[d]
			}
		} else {
			next.state = p.Matcher.Step(it.state, b)
			if next.state == automaton.Dead {
				continue
			}
		}
		next.bound = satMul(satMul(uint64(ix.MaxWeight(child)), next.boost), remaining)
		ex.push(next)
	}
}

// dedup applies skipDuplicates to the raw hits. Raw hits are already in
// result order, so the first instance of a surface is its best.
func (ex *executor) dedup() []RankedCompletion {
	if !ex.req.SkipDuplicates {
		return append([]RankedCompletion(nil), ex.raw...)
	}
	seen := make(map[string]bool, len(ex.raw))
	out := make([]RankedCompletion, 0, len(ex.raw))
	for _, rc := range ex.raw {
		if seen[rc.SurfaceForm] {
			continue
		}
		seen[rc.SurfaceForm] = true
		out = append(out, rc)
	}
	return out
}
