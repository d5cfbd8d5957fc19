package probe

import (
	"context"
	"sync"

	"github.com/apex/log"
	"github.com/dnsjump/dnsjump/profile"
)

// Result is one profile's terminal probe outcome. LatencyMs 0 means every
// server in the profile failed.
type Result struct {
	Index     int
	LatencyMs float64
}

// Summary aggregates one full batch. AnySucceeded is true iff at least one
// profile produced a strictly-positive latency.
type Summary struct {
	AnySucceeded bool
	Latencies    map[int]float64
}

// Scheduler fans MeasureProfile out across profiles. Each profile is
// probed on its own goroutine; results funnel through a single channel so
// the progress callback always runs on one consumer goroutine.
type Scheduler struct {
	prober *Prober
}

// NewScheduler returns a scheduler driving the given prober.
func NewScheduler(p *Prober) *Scheduler {
	return &Scheduler{prober: p}
}

// RunAll probes every profile concurrently. onProgress, when non-nil, is
// invoked exactly once per profile index as that profile's result becomes
// available; invocation order is whatever order results arrive in. RunAll
// returns once every profile has reported.
func (s *Scheduler) RunAll(ctx context.Context, profiles []profile.Profile, onProgress func(index int, latencyMs float64)) Summary {
	summary := Summary{Latencies: make(map[int]float64, len(profiles))}
	if len(profiles) == 0 {
		return summary
	}

	results := make(chan Result, len(profiles))

	var wg sync.WaitGroup
	for i := range profiles {
		wg.Add(1)
		go func(index int, servers []string) {
			defer wg.Done()
			results <- Result{Index: index, LatencyMs: s.prober.MeasureProfile(ctx, servers)}
		}(i, profiles[i].Servers)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		summary.Latencies[res.Index] = res.LatencyMs
		if res.LatencyMs > 0 {
			summary.AnySucceeded = true
		}
		if onProgress != nil {
			onProgress(res.Index, res.LatencyMs)
		}
	}

	log.Debugf("probe: batch finished, %d profiles, anySucceeded=%v", len(profiles), summary.AnySucceeded)
	return summary
}
