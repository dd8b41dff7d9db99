package suggest

import (
	"math"
	"math/bits"
)

// RankedCompletion is one suggestion. Score is Weight times AppliedBoost,
// saturating at math.MaxUint64.
type RankedCompletion struct {
	SurfaceForm  string `msgpack:"s"`
	Weight       uint32 `msgpack:"w"`
	AppliedBoost uint64 `msgpack:"b"`
	Score        uint64 `msgpack:"r"`
}

// before is the result order: score descending, then surface ascending.
func before(a, b RankedCompletion) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.SurfaceForm < b.SurfaceForm
}

func satMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}
