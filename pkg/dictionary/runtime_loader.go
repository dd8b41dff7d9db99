package dictionary

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bastiangx/ctxserve/pkg/suggest"
	"github.com/charmbracelet/log"
)

// Runtime serves suggestions from the loaded segments and swaps in a new
// suggester on reload. In-flight queries finish on the snapshot they
// started with.
type Runtime struct {
	loader *Loader
	opts   suggest.Options

	mu       sync.Mutex // serializes reloads
	segments []*Segment
	limit    int
	current  atomic.Pointer[suggest.Suggester]
}

var _ suggest.Completer = (*Runtime)(nil)

// NewRuntime loads every segment of loader and starts serving them.
func NewRuntime(ctx context.Context, loader *Loader, opts suggest.Options) (*Runtime, error) {
	rt := &Runtime{loader: loader, opts: opts}
	if err := rt.Reload(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

// Reload reads the segment directory again and swaps the served partitions.
// On failure the previous partitions stay in service.
func (rt *Runtime) Reload(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	segments, err := rt.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload segments: %w", err)
	}
	rt.segments = segments
	rt.publish()
	return nil
}

// SetSegmentLimit serves only the first n loaded segments; n <= 0 serves all.
func (rt *Runtime) SetSegmentLimit(n int) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if n > len(rt.segments) {
		return fmt.Errorf("only %d segments are loaded, cannot serve %d", len(rt.segments), n)
	}
	rt.limit = n
	rt.publish()
	return nil
}

func (rt *Runtime) publish() {
	served := rt.segments
	if rt.limit > 0 && rt.limit < len(served) {
		served = served[:rt.limit]
	}
	parts := make([]suggest.Partition, len(served))
	for i, s := range served {
		parts[i] = &suggest.IndexPartition{Index: s.Index, Metrics: rt.opts.Metrics}
	}
	rt.current.Store(suggest.NewSuggester(parts, rt.opts))
	log.Debugf("Serving %d of %d segments", len(parts), len(rt.segments))
}

// Suggest answers req from the current segments.
func (rt *Runtime) Suggest(ctx context.Context, req *suggest.Request) (*suggest.Response, error) {
	return rt.current.Load().Suggest(ctx, req)
}

// Stats returns the suggester stats plus loader counters.
func (rt *Runtime) Stats() map[string]int {
	stats := rt.current.Load().Stats()
	rt.mu.Lock()
	ls := rt.loader.Stats()
	rt.mu.Unlock()
	stats["segmentsAvailable"] = ls.AvailableSegments
	stats["segmentsFailed"] = ls.FailedSegments
	return stats
}

// Segments returns the info of every loaded segment.
func (rt *Runtime) Segments() []SegmentInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	infos := make([]SegmentInfo, len(rt.segments))
	for i, s := range rt.segments {
		infos[i] = s.Info
	}
	return infos
}
