package dictionary

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/suggest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSet(t *testing.T) *ctxmap.Set {
	t.Helper()
	cat, err := ctxmap.NewCategory("category")
	require.NoError(t, err)
	geo, err := ctxmap.NewGeo("location", 5, false)
	require.NoError(t, err)
	set, err := ctxmap.NewSet(cat, geo)
	require.NoError(t, err)
	return set
}

func TestSegmentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), SegmentName(1))
	records := []Record{
		{Surface: "pizza place", Weight: 10, Contexts: map[string][]any{
			"category": {"food"},
			"location": {ctxmap.GeoPoint{Lat: 52.52, Lon: 13.405}},
		}},
		{Surface: "pizzeria", Weight: 5},
	}
	require.NoError(t, SaveSegment(path, records))
	assert.Equal(t, "seg_0001.msgpack", filepath.Base(path))

	n, err := ValidateSegmentFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := ReadSegment(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pizza place", got[0].Surface)
	assert.Equal(t, uint32(10), got[0].Weight)
	assert.Nil(t, got[1].Contexts)

	e, err := got[0].Entry()
	require.NoError(t, err)
	assert.Equal(t, []any{"food"}, e.Contexts["category"])
	point, ok := e.Contexts["location"][0].(ctxmap.GeoPoint)
	require.True(t, ok, "geo value decoded as %T", e.Contexts["location"][0])
	assert.InDelta(t, 52.52, point.Lat, 1e-9)
}

func TestRecordEntryRejectsBadValues(t *testing.T) {
	_, err := Record{Surface: "x", Contexts: map[string][]any{"location": {map[string]any{"lat": "north"}}}}.Entry()
	assert.Error(t, err)
	_, err = Record{Surface: "x", Contexts: map[string][]any{"category": {true}}}.Entry()
	assert.Error(t, err)
}

func TestDetectFileFormat(t *testing.T) {
	dir := t.TempDir()
	seg := filepath.Join(dir, SegmentName(3))
	require.NoError(t, SaveSegment(seg, nil))
	text := filepath.Join(dir, "source.tsv")
	require.NoError(t, os.WriteFile(text, []byte("pizza\t1\n"), 0644))
	junk := filepath.Join(dir, "seg_0004.msgpack")
	require.NoError(t, os.WriteFile(junk, []byte{0xc1}, 0644))

	testCases := []struct {
		file     string
		expected FileFormat
		fails    bool
	}{
		{seg, FormatSegment, false},
		{text, FormatText, false},
		{junk, FormatUnknown, true},
		{filepath.Join(dir, "missing.msgpack"), FormatUnknown, true},
	}
	for _, tc := range testCases {
		t.Run(filepath.Base(tc.file), func(t *testing.T) {
			got, err := DetectFileFormat(tc.file)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, tc.fails, err != nil)
		})
	}
}

func TestReadText(t *testing.T) {
	src := strings.Join([]string{
		"# surface\tweight\tcontexts",
		"pizza place\t10\tcategory=food|restaurant;location=52.52,13.405",
		"",
		"pizzeria\t5",
		"kiosk\t3\tlocation=u33db",
	}, "\n")
	records, err := ReadText(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []any{"food", "restaurant"}, records[0].Contexts["category"])
	assert.Equal(t, []any{map[string]any{"lat": 52.52, "lon": 13.405}}, records[0].Contexts["location"])
	assert.Equal(t, []any{"u33db"}, records[2].Contexts["location"])

	_, err = ReadText(strings.NewReader("pizza\tlots\n"))
	assert.ErrorContains(t, err, "line 1")
	_, err = ReadText(strings.NewReader("pizza\t1\tcategory\n"))
	assert.Error(t, err)
}

func writeFixture(t *testing.T, dir string) {
	t.Helper()
	_, err := WriteSegments(dir, []Record{
		{Surface: "pizza place", Weight: 10, Contexts: map[string][]any{"category": {"food"}}},
		{Surface: "pizza hut", Weight: 8, Contexts: map[string][]any{"category": {"food"}}},
		{Surface: "pizzeria", Weight: 5, Contexts: map[string][]any{"location": {"u33db"}}},
	}, 2)
	require.NoError(t, err)
}

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	// a corrupt segment is skipped, not fatal
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg_0009.msgpack"), []byte{0x92, 0xc1}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	l := NewLoader(dir, testSet(t), completion.Options{}, 0)
	infos, err := l.Available()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, []int{1, 2, 9}, []int{infos[0].ID, infos[1].ID, infos[2].ID})

	segments, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, 2, segments[0].Index.Len())
	assert.Equal(t, 1, segments[1].Index.Len())

	stats := l.Stats()
	assert.Equal(t, 3, stats.AvailableSegments)
	assert.Equal(t, 1, stats.FailedSegments)
	assert.Equal(t, 3, stats.Entries)
}

func TestLoaderErrors(t *testing.T) {
	_, err := NewLoader(t.TempDir(), testSet(t), completion.Options{}, 0).Load(context.Background())
	assert.ErrorContains(t, err, "no segment files")

	dir := t.TempDir()
	writeFixture(t, dir)
	capped := NewLoader(dir, testSet(t), completion.Options{}, 1)
	segments, err := capped.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, 2, segments[0].Info.ID)
	assert.Equal(t, 1, capped.Stats().FailedSegments)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewLoader(dir, testSet(t), completion.Options{}, 0).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRuntime(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	rt, err := NewRuntime(context.Background(), NewLoader(dir, testSet(t), completion.Options{}, 0), suggest.DefaultOptions())
	require.NoError(t, err)

	req := &suggest.Request{Input: "pizz", Size: 5}
	resp, err := rt.Suggest(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Completions, 3)
	assert.Equal(t, "pizza place", resp.Completions[0].SurfaceForm)
	assert.Equal(t, 2, rt.Stats()["partitions"])

	require.NoError(t, rt.SetSegmentLimit(1))
	resp, err = rt.Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, resp.Completions, 2)
	assert.Error(t, rt.SetSegmentLimit(5))

	require.NoError(t, SaveSegment(filepath.Join(dir, SegmentName(3)), []Record{{Surface: "pizza bar", Weight: 20}}))
	require.NoError(t, rt.SetSegmentLimit(0))
	require.NoError(t, rt.Reload(context.Background()))
	resp, err = rt.Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "pizza bar", resp.Completions[0].SurfaceForm)
	assert.Len(t, rt.Segments(), 3)
	assert.Equal(t, 3, rt.Stats()["segmentsAvailable"])
}
