package probe

import (
	"errors"
	"math"
	"sort"

	"github.com/dnsjump/dnsjump/profile"
)

// ErrNoValidLatency indicates a sort was requested before any profile had
// a strictly-positive measured latency.
var ErrNoValidLatency = errors.New("no profile has a valid latency")

// PickBest returns the index with the minimum strictly-positive latency.
// Ties break toward the lowest index. ok is false when nothing succeeded.
func PickBest(summary Summary) (best int, ok bool) {
	bestLatency := math.Inf(1)
	best = -1

	// Walk indices in order so ties resolve first-seen, not map order
	indices := make([]int, 0, len(summary.Latencies))
	for i := range summary.Latencies {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	for _, i := range indices {
		ms := summary.Latencies[i]
		if ms <= 0 {
			continue
		}
		if ms < bestLatency {
			bestLatency = ms
			best = i
		}
	}

	if best < 0 {
		return 0, false
	}
	return best, true
}

// SortByLatency returns the profiles stably sorted by measured latency.
// Profiles without a valid latency sort to the end regardless of
// direction; among them order falls back to name. It fails with
// ErrNoValidLatency when no profile has a strictly-positive latency.
func SortByLatency(profiles []profile.Profile, ascending bool) ([]profile.Profile, error) {
	anyValid := false
	for _, p := range profiles {
		if p.LatencyMs > 0 {
			anyValid = true
			break
		}
	}
	if !anyValid {
		return nil, ErrNoValidLatency
	}

	out := make([]profile.Profile, len(profiles))
	copy(out, profiles)

	key := func(p profile.Profile) float64 {
		if p.LatencyMs > 0 {
			return p.LatencyMs
		}
		return math.Inf(1)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		// Unmeasured profiles stay last even when descending
		if math.IsInf(ki, 1) || math.IsInf(kj, 1) {
			if ki != kj {
				return ki < kj
			}
			return out[i].Name < out[j].Name
		}
		if ki != kj {
			if ascending {
				return ki < kj
			}
			return ki > kj
		}
		return out[i].Name < out[j].Name
	})

	return out, nil
}
