package ranking

import (
	"sort"

	"github.com/worldping/internal/types"
)

// Rank sorts results by average ping, ascending. Equal latencies keep their
// insertion order.
func Rank(results []types.WorldResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].AveragePing < results[j].AveragePing
	})
}

// DisplayCount is the number of leading results shown for a requested count:
// max(1, min(n, requested)) when there are results, and 0 otherwise.
func DisplayCount(n, requested int) int {
	if n == 0 {
		return 0
	}
	return max(1, min(n, requested))
}

// Top returns the leading DisplayCount(len(results), requested) results
func Top(results []types.WorldResult, requested int) []types.WorldResult {
	return results[:DisplayCount(len(results), requested)]
}
