package ranking

import (
	"sync"
	"time"

	"github.com/worldping/internal/types"
)

// Interim is the ranked view right after one probe was incorporated
type Interim struct {
	Best  *types.WorldResult // nil while nothing has matched
	Total int                // records accumulated so far
}

// Board accumulates world results and keeps them ranked. Readers get copies.
type Board struct {
	mu      sync.RWMutex
	results []types.WorldResult
	stats   types.Stats
	updated time.Time

	subMu       sync.Mutex
	subscribers map[chan types.Snapshot]struct{}
}

func NewBoard() *Board {
	now := time.Now()
	return &Board{
		results:     []types.WorldResult{},
		stats:       types.Stats{StartedAt: now},
		updated:     now,
		subscribers: make(map[chan types.Snapshot]struct{}),
	}
}

// SetTargets records how many worlds the run will probe
func (b *Board) SetTargets(n int) {
	b.mu.Lock()
	b.stats.TargetsTotal = n
	b.mu.Unlock()
}

// Incorporate appends one record per average for worldID and re-ranks, as a
// single step. A probe without averages still counts as probed.
func (b *Board) Incorporate(worldID int, averages []float64) Interim {
	b.mu.Lock()
	for _, avg := range averages {
		b.results = append(b.results, types.WorldResult{WorldID: worldID, AveragePing: avg})
	}
	Rank(b.results)

	now := time.Now()
	b.stats.TargetsProbed++
	if len(averages) == 0 {
		b.stats.TargetsUnmatched++
	}
	b.stats.RecordsTotal = len(b.results)
	b.stats.LastProbeAt = now
	b.updated = now

	interim := Interim{Total: len(b.results)}
	if len(b.results) > 0 {
		best := b.results[0]
		interim.Best = &best
	}
	// Publish under the lock so subscribers see updates in order
	b.publish(b.snapshotLocked())
	b.mu.Unlock()

	return interim
}

// Ranked returns a ranked copy of all results
func (b *Board) Ranked() []types.WorldResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	Rank(b.results)
	results := make([]types.WorldResult, len(b.results))
	copy(results, b.results)
	return results
}

// Len returns the number of accumulated records
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.results)
}

// Snapshot returns a point-in-time copy of results and stats
func (b *Board) Snapshot() types.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Board) snapshotLocked() types.Snapshot {
	results := make([]types.WorldResult, len(b.results))
	copy(results, b.results)
	return types.Snapshot{
		Results: results,
		Stats:   b.stats,
		Updated: b.updated,
	}
}

// Subscribe returns a channel receiving a snapshot after every update.
// Slow subscribers only see the latest snapshot. Call the returned func to
// unsubscribe.
func (b *Board) Subscribe() (<-chan types.Snapshot, func()) {
	ch := make(chan types.Snapshot, 1)

	b.subMu.Lock()
	b.subscribers[ch] = struct{}{}
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subscribers, ch)
			b.subMu.Unlock()
		})
	}
}

func (b *Board) publish(snap types.Snapshot) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for ch := range b.subscribers {
		// Drop a stale snapshot nobody read yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
