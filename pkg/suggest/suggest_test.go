package suggest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/bastiangx/ctxserve/pkg/automaton"
	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/errdefs"
	"github.com/mmcloughlin/geohash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func categorySet(t *testing.T) *ctxmap.Set {
	t.Helper()
	cat, err := ctxmap.NewCategory("category")
	require.NoError(t, err)
	set, err := ctxmap.NewSet(cat)
	require.NoError(t, err)
	return set
}

func buildIndex(t *testing.T, set *ctxmap.Set, entries []completion.Entry) *completion.Index {
	t.Helper()
	ix, err := completion.Build(set, entries, completion.Options{})
	require.NoError(t, err)
	return ix
}

func food(surface string, weight uint32) completion.Entry {
	return completion.Entry{SurfaceForm: surface, Weight: weight, Contexts: map[string][]any{"category": {"food"}}}
}

func pizzaIndex(t *testing.T, extra ...completion.Entry) *completion.Index {
	entries := []completion.Entry{
		food("pizza place", 10),
		food("pizza hut", 10),
		{SurfaceForm: "pizzeria", Weight: 5},
	}
	return buildIndex(t, categorySet(t), append(entries, extra...))
}

func surfaces(rs []RankedCompletion) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.SurfaceForm
	}
	return out
}

func TestPizzaPrefix(t *testing.T) {
	ix := pizzaIndex(t)
	res, err := Query(context.Background(), ix, &Request{Input: "pizz", Size: 2})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, []string{"pizza hut", "pizza place"}, surfaces(res))
	for _, r := range res {
		assert.Equal(t, uint64(10), r.Score)
		assert.Equal(t, uint64(1), r.AppliedBoost)
	}

	res, err = Query(context.Background(), ix, &Request{Input: "pizz", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza hut", "pizza place", "pizzeria"}, surfaces(res))
}

func TestPizzaSkipDuplicates(t *testing.T) {
	ix := pizzaIndex(t, food("pizza place", 20))

	res, err := Query(context.Background(), ix, &Request{Input: "pizz", Size: 3, SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza place", "pizza hut", "pizzeria"}, surfaces(res))
	assert.Equal(t, uint64(20), res[0].Score)

	res, err = Query(context.Background(), ix, &Request{Input: "pizz", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza place", "pizza hut", "pizza place", "pizzeria"}, surfaces(res))
}

func TestNoMatch(t *testing.T) {
	res, err := Query(context.Background(), pizzaIndex(t), &Request{Input: "sushi", Size: 5})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestContextBoostAndPermissiveness(t *testing.T) {
	ix := buildIndex(t, categorySet(t), []completion.Entry{
		food("pasta bar", 10),
		{SurfaceForm: "pasta shop", Weight: 20, Contexts: map[string][]any{"category": {"drinks"}}},
		{SurfaceForm: "pasta stand", Weight: 5},
	})

	req := &Request{
		Input:    "pasta",
		Size:     10,
		Contexts: map[string][]ctxmap.QueryContext{"category": {{Value: "food", Boost: 3}}},
	}
	res, err := Query(context.Background(), ix, req)
	require.NoError(t, err)
	require.Equal(t, []string{"pasta bar", "pasta stand"}, surfaces(res))
	assert.Equal(t, uint64(30), res[0].Score)
	assert.Equal(t, uint64(3), res[0].AppliedBoost)
	assert.Equal(t, uint64(5), res[1].Score, "entry without a category still matches")

	req.Required = []string{"category"}
	res, err = Query(context.Background(), ix, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"pasta bar"}, surfaces(res))

	res, err = Query(context.Background(), ix, &Request{Input: "pasta", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"pasta shop", "pasta bar", "pasta stand"}, surfaces(res),
		"no contexts leaves the dimension unconstrained")
}

func TestMultiValuedContextTakesBestBoost(t *testing.T) {
	ix := buildIndex(t, categorySet(t), []completion.Entry{
		{SurfaceForm: "cafe", Weight: 10, Contexts: map[string][]any{"category": {"food", "drinks"}}},
		food("cantina", 25),
	})
	res, err := Query(context.Background(), ix, &Request{
		Input: "ca",
		Size:  10,
		Contexts: map[string][]ctxmap.QueryContext{"category": {
			{Value: "food", Boost: 2},
			{Value: "drinks", Boost: 3},
		}},
	})
	require.NoError(t, err)
	require.Len(t, res, 2, "an entry reached through two tokens is reported once")
	assert.Equal(t, "cantina", res[0].SurfaceForm)
	assert.Equal(t, uint64(50), res[0].Score)
	assert.Equal(t, "cafe", res[1].SurfaceForm)
	assert.Equal(t, uint64(30), res[1].Score)
}

func TestCategoryPrefixContext(t *testing.T) {
	ix := buildIndex(t, categorySet(t), []completion.Entry{
		{SurfaceForm: "sushi bar", Weight: 1, Contexts: map[string][]any{"category": {"food/japanese"}}},
		{SurfaceForm: "sushi shop", Weight: 2, Contexts: map[string][]any{"category": {"retail"}}},
	})
	res, err := Query(context.Background(), ix, &Request{
		Input:    "sushi",
		Size:     10,
		Required: []string{"category"},
		Contexts: map[string][]ctxmap.QueryContext{"category": {{Value: "food", Prefix: true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sushi bar"}, surfaces(res))
}

func TestGeoNeighbourMatch(t *testing.T) {
	geo, err := ctxmap.NewGeo("location", 5, true)
	require.NoError(t, err)
	set, err := ctxmap.NewSet(geo)
	require.NoError(t, err)

	ix := buildIndex(t, set, []completion.Entry{
		{SurfaceForm: "harbour cafe", Weight: 7, Contexts: map[string][]any{"location": {"u4pru"}}},
		{SurfaceForm: "harbour bar", Weight: 9, Contexts: map[string][]any{"location": {"9q8yy"}}},
	})

	neighbour := geohash.Neighbors("u4pru")[0]
	res, err := Query(context.Background(), ix, &Request{
		Input:    "harbour",
		Size:     5,
		Contexts: map[string][]ctxmap.QueryContext{"location": {{Value: neighbour}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"harbour cafe"}, surfaces(res))
}

func TestGeoPrecisionPrefix(t *testing.T) {
	geo, _ := ctxmap.NewGeo("location", 6, false)
	set, _ := ctxmap.NewSet(geo)
	ix := buildIndex(t, set, []completion.Entry{
		{SurfaceForm: "north", Weight: 1, Contexts: map[string][]any{"location": {"u4pruy"}}},
		{SurfaceForm: "nowhere", Weight: 2, Contexts: map[string][]any{"location": {"u4qqqq"}}},
	})
	res, err := Query(context.Background(), ix, &Request{
		Input:    "no",
		Size:     5,
		Required: []string{"location"},
		Contexts: map[string][]ctxmap.QueryContext{"location": {{Value: "u4pruydqqvj8", Precision: 3, Boost: 4}}},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "north", res[0].SurfaceForm)
	assert.Equal(t, uint64(4), res[0].Score)
}

func TestFuzzyAndRegexModes(t *testing.T) {
	ix := pizzaIndex(t)

	res, err := Query(context.Background(), ix, &Request{Input: "piza", Mode: ModeFuzzy, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza hut", "pizza place", "pizzeria"}, surfaces(res))

	res, err = Query(context.Background(), ix, &Request{
		Input: "pizza",
		Mode:  ModeFuzzy,
		Fuzzy: &FuzzyOptions{Fuzziness: 0},
		Size:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza hut", "pizza place"}, surfaces(res))

	res, err = Query(context.Background(), ix, &Request{Input: "piz+a p", Mode: ModeRegex, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"pizza place"}, surfaces(res))
}

func TestRequestErrors(t *testing.T) {
	ix := pizzaIndex(t)
	prefixOnly, err := completion.Build(categorySet(t), []completion.Entry{food("x", 1)},
		completion.Options{Modes: completion.CapPrefix})
	require.NoError(t, err)

	testCases := []struct {
		description string
		ix          *completion.Index
		req         *Request
		sentinel    error
	}{
		{"zero size", ix, &Request{Input: "p"}, errdefs.ErrInvalidRequest},
		{"empty input", ix, &Request{Size: 1}, errdefs.ErrInvalidRequest},
		{"unknown context", ix, &Request{Input: "p", Size: 1,
			Contexts: map[string][]ctxmap.QueryContext{"colour": {{Value: "red"}}}}, errdefs.ErrUnknownContext},
		{"unknown required", ix, &Request{Input: "p", Size: 1, Required: []string{"colour"}}, errdefs.ErrUnknownContext},
		{"bad pattern", ix, &Request{Input: "(", Mode: ModeRegex, Size: 1}, errdefs.ErrPattern},
		{"fuzziness 3", ix, &Request{Input: "pizza", Mode: ModeFuzzy, Fuzzy: &FuzzyOptions{Fuzziness: 3}, Size: 1}, errdefs.ErrUnsupportedMode},
		{"regex on prefix index", prefixOnly, &Request{Input: "x", Mode: ModeRegex, Size: 1}, errdefs.ErrUnsupportedMode},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			res, err := Query(context.Background(), tc.ix, tc.req)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tc.sentinel), "got %v", err)
		})
	}
}

func TestCancelledQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Query(ctx, pizzaIndex(t), &Request{Input: "pizz", Size: 2})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func randomEntries(r *rand.Rand, n int) []completion.Entry {
	letters := "abc"
	entries := make([]completion.Entry, n)
	for i := range entries {
		var sb strings.Builder
		for j := 0; j < 1+r.Intn(5); j++ {
			sb.WriteByte(letters[r.Intn(len(letters))])
		}
		entries[i] = completion.Entry{SurfaceForm: sb.String(), Weight: uint32(r.Intn(20))}
	}
	return entries
}

// bruteForce ranks every entry accepted by m.
func bruteForce(entries []completion.Entry, m automaton.Matcher, size int, skip bool) []RankedCompletion {
	var all []RankedCompletion
	for _, e := range entries {
		if automaton.MatchString(m, e.SurfaceForm) {
			all = append(all, RankedCompletion{SurfaceForm: e.SurfaceForm, Weight: e.Weight, AppliedBoost: 1, Score: uint64(e.Weight)})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return before(all[i], all[j]) })
	return MergePartitions([][]RankedCompletion{all}, size, skip)
}

func TestMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	entries := randomEntries(r, 300)
	ix := buildIndex(t, nil, entries)

	for _, input := range []string{"a", "ab", "ca", "bbb", "c"} {
		for _, size := range []int{1, 3, 10, 500} {
			for _, skip := range []bool{false, true} {
				t.Run(fmt.Sprintf("%s/%d/%v", input, size, skip), func(t *testing.T) {
					req := &Request{Input: input, Size: size, SkipDuplicates: skip}
					got, err := Query(context.Background(), ix, req)
					require.NoError(t, err)
					want := bruteForce(entries, automaton.NewPrefix(input), size, skip)
					assert.Equal(t, want, got)
					assert.LessOrEqual(t, len(got), size)
				})
			}
		}
	}

	fz, err := automaton.NewFuzzy("abca", automaton.FuzzyConfig{MaxEdits: 1, Transpositions: true})
	require.NoError(t, err)
	got, err := Query(context.Background(), ix, &Request{
		Input: "abca", Mode: ModeFuzzy, Size: 50,
		Fuzzy: &FuzzyOptions{Fuzziness: 1, Transpositions: true},
	})
	require.NoError(t, err)
	assert.Equal(t, bruteForce(entries, fz, 50, false), got)
}

func TestDeterminism(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ix := buildIndex(t, nil, randomEntries(r, 200))
	req := &Request{Input: "a", Size: 25, SkipDuplicates: true}
	first, err := Query(context.Background(), ix, req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Query(context.Background(), ix, req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSkipDuplicatesKeepsBestInstance(t *testing.T) {
	set := categorySet(t)
	entries := []completion.Entry{
		{SurfaceForm: "dup", Weight: 4, Contexts: map[string][]any{"category": {"a"}}},
		{SurfaceForm: "dup", Weight: 9},
		{SurfaceForm: "dup", Weight: 3, Contexts: map[string][]any{"category": {"b"}}},
		{SurfaceForm: "dupe", Weight: 1},
	}
	ix := buildIndex(t, set, entries)
	req := &Request{
		Input:          "du",
		Size:           5,
		SkipDuplicates: true,
		Contexts:       map[string][]ctxmap.QueryContext{"category": {{Value: "a", Boost: 2}, {Value: "b", Boost: 5}}},
	}
	res, err := Query(context.Background(), ix, req)
	require.NoError(t, err)
	require.Equal(t, []string{"dup", "dupe"}, surfaces(res))
	assert.Equal(t, uint64(15), res[0].Score)
}

func TestRequeryWhenDuplicatesCrowdOut(t *testing.T) {
	var entries []completion.Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, completion.Entry{SurfaceForm: "aaa", Weight: 100})
	}
	entries = append(entries,
		completion.Entry{SurfaceForm: "aab", Weight: 1},
		completion.Entry{SurfaceForm: "aac", Weight: 1},
	)
	ix := buildIndex(t, nil, entries)
	req := &Request{Input: "a", Size: 3, SkipDuplicates: true}

	plan, err := Translate(req, ix.Set(), ix.Capabilities())
	require.NoError(t, err)
	ex := newExecutor(ix, plan, req)
	res, err := ex.run(context.Background(), DefaultOverCollect)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "aab", "aac"}, surfaces(res))
	assert.Greater(t, ex.requeries, 0)
	assert.Equal(t, phaseDone, ex.phase)
}

func TestSaturatingScore(t *testing.T) {
	a, _ := ctxmap.NewCategory("a")
	b, _ := ctxmap.NewCategory("b")
	c, _ := ctxmap.NewCategory("c")
	set, _ := ctxmap.NewSet(a, b, c)
	ix := buildIndex(t, set, []completion.Entry{{
		SurfaceForm: "max",
		Weight:      completion.MaxWeight,
		Contexts:    map[string][]any{"a": {"x"}, "b": {"x"}, "c": {"x"}},
	}})
	big := ctxmap.QueryContext{Value: "x", Boost: ^uint32(0)}
	res, err := Query(context.Background(), ix, &Request{
		Input:    "m",
		Size:     1,
		Contexts: map[string][]ctxmap.QueryContext{"a": {big}, "b": {big}, "c": {big}},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, ^uint64(0), res[0].Score)
}
