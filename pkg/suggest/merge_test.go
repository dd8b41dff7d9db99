package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rc(surface string, score uint64) RankedCompletion {
	return RankedCompletion{SurfaceForm: surface, Weight: uint32(score), AppliedBoost: 1, Score: score}
}

func TestMergePartitions(t *testing.T) {
	a := []RankedCompletion{rc("pizza place", 20), rc("pizza hut", 10), rc("pizzeria", 5)}
	b := []RankedCompletion{rc("pizza place", 15), rc("pizza bar", 10), rc("pizza", 1)}

	testCases := []struct {
		description string
		size        int
		skip        bool
		expected    []RankedCompletion
	}{
		{"all", 10, false, []RankedCompletion{
			rc("pizza place", 20), rc("pizza place", 15), rc("pizza bar", 10),
			rc("pizza hut", 10), rc("pizzeria", 5), rc("pizza", 1),
		}},
		{"global dedup", 10, true, []RankedCompletion{
			rc("pizza place", 20), rc("pizza bar", 10), rc("pizza hut", 10), rc("pizzeria", 5), rc("pizza", 1),
		}},
		{"truncated", 2, true, []RankedCompletion{rc("pizza place", 20), rc("pizza bar", 10)}},
		{"zero size", 0, false, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			got := MergePartitions([][]RankedCompletion{a, b}, tc.size, tc.skip)
			if tc.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestMergeEmptyLists(t *testing.T) {
	assert.Empty(t, MergePartitions(nil, 5, true))
	got := MergePartitions([][]RankedCompletion{nil, {rc("x", 1)}, {}}, 5, false)
	assert.Equal(t, []RankedCompletion{rc("x", 1)}, got)
}

func TestMergeIsDeterministic(t *testing.T) {
	a := []RankedCompletion{rc("a", 5), rc("b", 5)}
	b := []RankedCompletion{rc("a", 5), rc("c", 5)}
	first := MergePartitions([][]RankedCompletion{a, b}, 10, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, MergePartitions([][]RankedCompletion{a, b}, 10, false))
	}
}
