// Package dictionary loads completion segments from disk. Every
// seg_NNNN.msgpack file becomes one completion index, and each index is one
// partition of the suggester.
package dictionary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// SegmentInfo contains metadata about a segment file
type SegmentInfo struct {
	ID       int
	Filename string
	Records  int
}

// Segment is a loaded segment file.
type Segment struct {
	Info  SegmentInfo
	Index *completion.Index
}

// LoaderStats provides statistics about the last load
type LoaderStats struct {
	AvailableSegments int
	LoadedSegments    int
	FailedSegments    int
	Entries           int
	Took              time.Duration
}

// Loader builds completion indexes out of the segment files of a directory.
type Loader struct {
	dirPath     string
	set         *ctxmap.Set
	opts        completion.Options
	maxEntries  int
	concurrency int
	stats       LoaderStats
}

// NewLoader creates a segment loader. maxEntries caps the records of one
// segment, 0 means MaxSegmentEntries.
func NewLoader(dirPath string, set *ctxmap.Set, opts completion.Options, maxEntries int) *Loader {
	if maxEntries <= 0 || maxEntries > MaxSegmentEntries {
		maxEntries = MaxSegmentEntries
	}
	return &Loader{
		dirPath:     dirPath,
		set:         set,
		opts:        opts,
		maxEntries:  maxEntries,
		concurrency: 4,
	}
}

// Available scans the directory for segment files, ordered by id.
func (l *Loader) Available() ([]SegmentInfo, error) {
	files, err := filepath.Glob(filepath.Join(l.dirPath, "seg_*.msgpack"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan for segment files: %w", err)
	}
	var segments []SegmentInfo
	for _, file := range files {
		id, ok := segmentID(filepath.Base(file))
		if !ok {
			log.Debugf("Skipping %s: not a segment name", file)
			continue
		}
		n, err := ValidateSegmentFile(file)
		if err != nil {
			log.Warnf("Skipping segment %s: %v", file, err)
			continue
		}
		segments = append(segments, SegmentInfo{ID: id, Filename: file, Records: n})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].ID < segments[j].ID })
	return segments, nil
}

// seg_0001.msgpack -> 1
func segmentID(base string) (int, bool) {
	if !strings.HasPrefix(base, "seg_") || !strings.HasSuffix(base, ".msgpack") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "seg_"), ".msgpack"))
	return id, err == nil && id >= 0
}

// Load builds every available segment. A segment that fails to load is
// logged and left out; Load fails only when no segment could be loaded or
// ctx ends.
func (l *Loader) Load(ctx context.Context) ([]*Segment, error) {
	start := time.Now()
	infos, err := l.Available()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("no segment files found in %s", l.dirPath)
	}
	log.Debugf("Found %d segment files", len(infos))

	loaded := make([]*Segment, len(infos))
	failures := make([]error, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, info := range infos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ix, err := l.loadSegment(info)
			if err != nil {
				failures[i] = fmt.Errorf("segment %d: %w", info.ID, err)
				log.Errorf("Failed to load segment %d: %v", info.ID, err)
				return nil
			}
			loaded[i] = &Segment{Info: info, Index: ix}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	segments := make([]*Segment, 0, len(infos))
	entries := 0
	for _, s := range loaded {
		if s != nil {
			segments = append(segments, s)
			entries += s.Index.Len()
		}
	}
	l.stats = LoaderStats{
		AvailableSegments: len(infos),
		LoadedSegments:    len(segments),
		FailedSegments:    len(infos) - len(segments),
		Entries:           entries,
		Took:              time.Since(start),
	}
	if len(segments) == 0 {
		return nil, errors.Join(failures...)
	}
	log.Debugf("Loaded %d/%d segments, %d entries in %v",
		len(segments), len(infos), entries, l.stats.Took)
	return segments, nil
}

func (l *Loader) loadSegment(info SegmentInfo) (*completion.Index, error) {
	if info.Records > l.maxEntries {
		return nil, fmt.Errorf("%d records exceed the limit of %d", info.Records, l.maxEntries)
	}
	records, err := ReadSegment(info.Filename)
	if err != nil {
		return nil, err
	}
	entries := make([]completion.Entry, len(records))
	for i, r := range records {
		if entries[i], err = r.Entry(); err != nil {
			return nil, fmt.Errorf("record #%d (%q): %w", i, r.Surface, err)
		}
	}
	return completion.Build(l.set, entries, l.opts)
}

// Stats returns the statistics of the last Load.
func (l *Loader) Stats() LoaderStats { return l.stats }

// WriteSegments splits records into segment files of at most perSegment
// records each, numbered from 1. It returns the written file names.
func WriteSegments(dir string, records []Record, perSegment int) ([]string, error) {
	if perSegment <= 0 {
		return nil, fmt.Errorf("records per segment must be positive, got %d", perSegment)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var files []string
	for id, off := 1, 0; off < len(records); id, off = id+1, off+perSegment {
		end := min(off+perSegment, len(records))
		name := filepath.Join(dir, SegmentName(id))
		if err := SaveSegment(name, records[off:end]); err != nil {
			return files, err
		}
		files = append(files, name)
	}
	return files, nil
}
