package suggest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/errdefs"
	"github.com/bastiangx/ctxserve/pkg/metrics"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Partition answers a request from one independently built index.
type Partition interface {
	Query(ctx context.Context, req *Request) ([]RankedCompletion, error)
	Stats() completion.IndexStats
}

// IndexPartition serves queries from an in-memory index.
type IndexPartition struct {
	Index       *completion.Index
	OverCollect int
	Metrics     *metrics.Metrics
}

func (p *IndexPartition) Query(ctx context.Context, req *Request) ([]RankedCompletion, error) {
	oc := p.OverCollect
	if oc <= 0 {
		oc = DefaultOverCollect
	}
	return query(ctx, p.Index, req, oc, p.Metrics)
}

func (p *IndexPartition) Stats() completion.IndexStats { return p.Index.Stats() }

// Options configure a Suggester.
type Options struct {
	// Concurrency bounds the partitions queried at once.
	Concurrency int
	// PartitionTimeout bounds each partition query; 0 disables it.
	PartitionTimeout time.Duration
	Metrics          *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		Concurrency:      4,
		PartitionTimeout: 100 * time.Millisecond,
	}
}

// PartitionWarning reports a partition left out of the merge.
type PartitionWarning struct {
	Partition int
	Err       error
}

func (w PartitionWarning) String() string {
	return fmt.Sprintf("partition %d: %v", w.Partition, w.Err)
}

// Response is the merged answer of all partitions.
type Response struct {
	Completions []RankedCompletion
	Warnings    []PartitionWarning
	Partitions  int
	Failed      int
	Took        time.Duration
}

// Suggester fans a request out to its partitions and merges the answers.
type Suggester struct {
	parts []Partition
	opts  Options
}

// NewSuggester creates a suggester over parts.
func NewSuggester(parts []Partition, opts Options) *Suggester {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	s := &Suggester{parts: parts, opts: opts}
	for i, p := range parts {
		opts.Metrics.SetIndexEntries(strconv.Itoa(i), p.Stats().Entries)
	}
	return s
}

// IsRequestError reports errors every partition would return alike.
func IsRequestError(err error) bool {
	return errors.Is(err, errdefs.ErrInvalidRequest) ||
		errors.Is(err, errdefs.ErrUnknownContext) ||
		errors.Is(err, errdefs.ErrPattern) ||
		errors.Is(err, errdefs.ErrUnsupportedMode) ||
		errors.Is(err, errdefs.ErrConfig)
}

// Suggest queries every partition and merges the results. A partition that
// fails or times out becomes a warning; the request fails only when all
// partitions fail. Cancelling ctx returns ctx's error and no results.
func (s *Suggester) Suggest(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		s.opts.Metrics.ObserveQuery(modeLabel(req), "invalid", time.Since(start))
		return nil, err
	}

	results := make([][]RankedCompletion, len(s.parts))
	failures := make([]error, len(s.parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, p := range s.parts {
		g.Go(func() error {
			pctx := gctx
			if s.opts.PartitionTimeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(gctx, s.opts.PartitionTimeout)
				defer cancel()
			}

			res, err := p.Query(pctx, req)
			switch {
			case err == nil:
				results[i] = res
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case IsRequestError(err):
				return err
			case errors.Is(err, context.DeadlineExceeded) && pctx.Err() != nil:
				failures[i] = &errdefs.PartitionTimeoutError{Partition: i, Timeout: s.opts.PartitionTimeout}
			default:
				failures[i] = fmt.Errorf("partition %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.opts.Metrics.ObserveQuery(req.Mode.String(), "error", time.Since(start))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.opts.Metrics.ObserveQuery(req.Mode.String(), "cancelled", time.Since(start))
		return nil, err
	}

	resp := &Response{Partitions: len(s.parts)}
	for i, err := range failures {
		if err == nil {
			continue
		}
		resp.Failed++
		resp.Warnings = append(resp.Warnings, PartitionWarning{Partition: i, Err: err})
		reason := "error"
		if errors.Is(err, errdefs.ErrPartitionTimeout) {
			reason = "timeout"
		}
		s.opts.Metrics.PartitionFailed(reason)
		log.Warnf("Partition %d left out of merge: %v", i, err)
	}
	if resp.Partitions > 0 && resp.Failed == resp.Partitions {
		s.opts.Metrics.ObserveQuery(req.Mode.String(), "error", time.Since(start))
		return nil, fmt.Errorf("all %d partitions failed: %w", resp.Failed, errors.Join(failures...))
	}

	resp.Completions = MergePartitions(results, req.Size, req.SkipDuplicates)
	resp.Took = time.Since(start)
	status := "ok"
	if resp.Failed > 0 {
		status = "partial"
	}
	s.opts.Metrics.ObserveQuery(req.Mode.String(), status, resp.Took)
	return resp, nil
}

// Stats sums the shape of all partitions.
func (s *Suggester) Stats() map[string]int {
	stats := map[string]int{"partitions": len(s.parts)}
	for _, p := range s.parts {
		st := p.Stats()
		stats["entries"] += st.Entries
		stats["keys"] += st.Keys
		stats["nodes"] += st.Nodes
		if int(st.MaxWeight) > stats["maxWeight"] {
			stats["maxWeight"] = int(st.MaxWeight)
		}
		stats["dimensions"] = st.Dimensions
	}
	return stats
}

func modeLabel(req *Request) string {
	if req == nil {
		return "unknown"
	}
	return req.Mode.String()
}
