package server

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/suggest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func testCompleter(t *testing.T) *suggest.Suggester {
	t.Helper()
	cat, err := ctxmap.NewCategory("category")
	require.NoError(t, err)
	geo, err := ctxmap.NewGeo("location", 5, false)
	require.NoError(t, err)
	set, err := ctxmap.NewSet(cat, geo)
	require.NoError(t, err)
	ix, err := completion.Build(set, []completion.Entry{
		{SurfaceForm: "pizza place", Weight: 10, Contexts: map[string][]any{"category": {"food"}}},
		{SurfaceForm: "pizza hut", Weight: 8, Contexts: map[string][]any{"category": {"food"}}},
		{SurfaceForm: "pizza bar", Weight: 30, Contexts: map[string][]any{"category": {"drinks"}, "location": {"u33db"}}},
		{SurfaceForm: "pizzeria", Weight: 5},
	}, completion.Options{})
	require.NoError(t, err)
	return suggest.NewSuggester([]suggest.Partition{&suggest.IndexPartition{Index: ix}}, suggest.DefaultOptions())
}

// roundTrip writes msgs to a fresh server and returns the raw responses,
// the ready message excluded.
func roundTrip(t *testing.T, c suggest.Completer, opts Options, msgs ...any) []msgpack.RawMessage {
	t.Helper()
	var in, out bytes.Buffer
	enc := msgpack.NewEncoder(&in)
	for _, m := range msgs {
		require.NoError(t, enc.Encode(m))
	}
	require.NoError(t, NewServer(c, opts, &in, &out).Start(context.Background()))

	dec := msgpack.NewDecoder(&out)
	var ready StatusResponse
	require.NoError(t, dec.Decode(&ready))
	require.Equal(t, "ready", ready.Status)

	resps := make([]msgpack.RawMessage, len(msgs))
	for i := range resps {
		require.NoError(t, dec.Decode(&resps[i]))
	}
	return resps
}

func decodeAs[T any](t *testing.T, raw msgpack.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, msgpack.Unmarshal(raw, &v))
	return v
}

func TestServerSuggest(t *testing.T) {
	resps := roundTrip(t, testCompleter(t), DefaultOptions(),
		SuggestRequest{ID: "q1", Input: "pizz", Size: 2},
		SuggestRequest{ID: "q2", Input: "pizz", Size: 5, Contexts: map[string][]ContextParam{
			"category": {{Value: "food", Boost: 3}},
		}},
		SuggestRequest{ID: "q3", Input: "piza", Mode: "fuzzy", Size: 1},
		SuggestRequest{ID: "q4", Input: "piz+a ?b", Mode: "regex"},
		SuggestRequest{ID: "q5", Input: "pizz", Contexts: map[string][]ContextParam{
			"location": {{Value: map[string]any{"lat": 52.5, "lon": 13.4}, Precision: 1}},
		}, Required: []string{"location"}},
	)

	r1 := decodeAs[SuggestResponse](t, resps[0])
	assert.Equal(t, "q1", r1.ID)
	require.Equal(t, 2, r1.Count)
	assert.Equal(t, Suggestion{Surface: "pizza bar", Weight: 30, Boost: 1, Score: 30}, r1.Suggestions[0])
	assert.Equal(t, 1, r1.Partitions)

	r2 := decodeAs[SuggestResponse](t, resps[1])
	require.Equal(t, 3, r2.Count, "drinks is excluded, the wildcard entry passes")
	assert.Equal(t, "pizza place", r2.Suggestions[0].Surface)
	assert.Equal(t, uint64(30), r2.Suggestions[0].Score)
	assert.Equal(t, "pizzeria", r2.Suggestions[2].Surface)

	r3 := decodeAs[SuggestResponse](t, resps[2])
	require.Equal(t, 1, r3.Count)
	assert.Equal(t, "pizza bar", r3.Suggestions[0].Surface)

	r4 := decodeAs[SuggestResponse](t, resps[3])
	require.Equal(t, 1, r4.Count)
	assert.Equal(t, "pizza bar", r4.Suggestions[0].Surface)

	r5 := decodeAs[SuggestResponse](t, resps[4])
	require.Equal(t, 1, r5.Count)
	assert.Equal(t, "pizza bar", r5.Suggestions[0].Surface)
}

func TestServerBoostedContexts(t *testing.T) {
	resps := roundTrip(t, testCompleter(t), DefaultOptions(),
		SuggestRequest{ID: "b1", Input: "pizz", Contexts: map[string][]ContextParam{
			"category": {{Value: "drinks", Boost: 100_000}},
			"location": {{Value: "u33db", Boost: 100_000}},
		}},
	)
	r := decodeAs[SuggestResponse](t, resps[0])
	require.Equal(t, 2, r.Count)
	assert.Equal(t, Suggestion{Surface: "pizza bar", Weight: 30, Boost: 10_000_000_000, Score: 300_000_000_000}, r.Suggestions[0])
	assert.Equal(t, Suggestion{Surface: "pizzeria", Weight: 5, Boost: 1, Score: 5}, r.Suggestions[1])
}

func TestServerLimits(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLimit = 2
	opts.MinPrefix = 2
	opts.MaxPrefix = 6
	resps := roundTrip(t, testCompleter(t), opts,
		SuggestRequest{ID: "big", Input: "pizz", Size: 50},
		SuggestRequest{ID: "short", Input: "p"},
		SuggestRequest{ID: "long", Input: "pizzeria!"},
	)
	assert.Equal(t, 2, decodeAs[SuggestResponse](t, resps[0]).Count)
	assert.Equal(t, 400, decodeAs[ErrorResponse](t, resps[1]).Code)
	assert.Equal(t, 400, decodeAs[ErrorResponse](t, resps[2]).Code)
}

func TestServerErrors(t *testing.T) {
	three := 3
	resps := roundTrip(t, testCompleter(t), DefaultOptions(),
		SuggestRequest{ID: "e1"},
		SuggestRequest{ID: "e2", Input: "pizz", Contexts: map[string][]ContextParam{"colour": {{Value: "red"}}}},
		SuggestRequest{ID: "e3", Input: "pizz", Mode: "telepathy"},
		SuggestRequest{ID: "e4", Input: "pizz", Mode: "fuzzy", Fuzzy: &FuzzyParams{Fuzziness: &three}},
		SuggestRequest{ID: "e5", Input: "(", Mode: "regex"},
		SuggestRequest{ID: "e6", Cmd: "dance"},
		42,
		SuggestRequest{ID: "e8", Cmd: "reload"},
	)
	for i, raw := range resps {
		e := decodeAs[ErrorResponse](t, raw)
		assert.Equal(t, 400, e.Code, "response %d: %s", i, e.Error)
		assert.NotEmpty(t, e.Error)
	}
	assert.Contains(t, decodeAs[ErrorResponse](t, resps[1]).Error, "colour")
}

type reloadable struct {
	*suggest.Suggester
	reloads int
	limit   int
	err     error
}

func (r *reloadable) Reload(context.Context) error {
	r.reloads++
	return r.err
}

func (r *reloadable) SetSegmentLimit(n int) error {
	if n > 2 {
		return errors.New("only 2 segments are loaded")
	}
	r.limit = n
	return nil
}

func TestServerCommands(t *testing.T) {
	c := &reloadable{Suggester: testCompleter(t)}
	resps := roundTrip(t, c, DefaultOptions(),
		SuggestRequest{ID: "h", Cmd: "health"},
		SuggestRequest{ID: "s", Cmd: "stats"},
		SuggestRequest{ID: "r", Cmd: "reload"},
	)
	assert.Equal(t, StatusResponse{ID: "h", Status: "ok"}, decodeAs[StatusResponse](t, resps[0]))
	stats := decodeAs[StatusResponse](t, resps[1]).Stats
	assert.Equal(t, 4, stats["entries"])
	assert.Equal(t, 1, stats["partitions"])
	assert.Equal(t, "reloaded", decodeAs[StatusResponse](t, resps[2]).Status)
	assert.Equal(t, 1, c.reloads)

	c.err = errors.New("disk gone")
	resps = roundTrip(t, c, DefaultOptions(), SuggestRequest{ID: "r", Cmd: "reload"})
	assert.Equal(t, 500, decodeAs[ErrorResponse](t, resps[0]).Code)
}

func TestServerSegments(t *testing.T) {
	c := &reloadable{Suggester: testCompleter(t)}
	resps := roundTrip(t, c, DefaultOptions(),
		SuggestRequest{ID: "s1", Cmd: "segments", Size: 1},
		SuggestRequest{ID: "s2", Cmd: "segments", Size: 5},
		SuggestRequest{ID: "s3", Cmd: "segments", Size: -1},
	)
	ok := decodeAs[StatusResponse](t, resps[0])
	assert.Equal(t, "ok", ok.Status)
	assert.NotEmpty(t, ok.Stats)
	assert.Equal(t, 1, c.limit)
	assert.Equal(t, 400, decodeAs[ErrorResponse](t, resps[1]).Code)
	assert.Equal(t, 400, decodeAs[ErrorResponse](t, resps[2]).Code)
	assert.Equal(t, 1, c.limit, "rejected counts leave the limit alone")

	resps = roundTrip(t, testCompleter(t), DefaultOptions(), SuggestRequest{ID: "s4", Cmd: "segments", Size: 1})
	assert.Equal(t, 400, decodeAs[ErrorResponse](t, resps[0]).Code)
}

func TestServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var in, out bytes.Buffer
	require.NoError(t, msgpack.NewEncoder(&in).Encode(SuggestRequest{ID: "x", Input: "pizz"}))
	err := NewServer(testCompleter(t), DefaultOptions(), &in, &out).Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
