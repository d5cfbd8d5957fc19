// Package dnsjump wires the profile store, the latency prober, and the
// system DNS provider into the operations the control API and the CLI
// expose.
package dnsjump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/dnsjump/dnsjump/probe"
	"github.com/dnsjump/dnsjump/profile"
	"github.com/dnsjump/dnsjump/sysdns"
)

// ErrTestsInProgress rejects a probe batch while one is still running.
var ErrTestsInProgress = errors.New("a test run is already in progress")

// App owns the authoritative profile list and coordinates every core
// operation. Mutations flow through the store, which persists before
// returning; the in-memory snapshot only mirrors disk.
type App struct {
	store    *profile.Store
	prober   *probe.Prober
	sched    *probe.Scheduler
	provider sysdns.Provider
	ctrl     *Controller

	mu       sync.Mutex
	profiles []profile.Profile

	probing atomic.Bool

	eventMu sync.Mutex
	subs    []chan Event
}

// New assembles an App over the given store and provider.
func New(store *profile.Store, provider sysdns.Provider) *App {
	prober := probe.NewProber()
	a := &App{
		store:    store,
		prober:   prober,
		sched:    probe.NewScheduler(prober),
		provider: provider,
		ctrl:     NewController(provider),
	}
	a.profiles = store.LoadOrBootstrap()
	return a
}

// Subscribe returns a channel receiving every subsequent event. Slow
// subscribers lose events rather than blocking producers.
func (a *App) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	a.eventMu.Lock()
	a.subs = append(a.subs, ch)
	a.eventMu.Unlock()

	cancel := func() {
		a.eventMu.Lock()
		defer a.eventMu.Unlock()
		for i, sub := range a.subs {
			if sub == ch {
				a.subs = append(a.subs[:i], a.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (a *App) emit(ev Event) {
	a.eventMu.Lock()
	defer a.eventMu.Unlock()
	for _, sub := range a.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Profiles returns a copy of the current list, latencies included.
func (a *App) Profiles() []profile.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]profile.Profile, len(a.profiles))
	copy(out, a.profiles)
	return out
}

// AddProfile validates the servers, appends the profile, and persists.
func (a *App) AddProfile(name string, servers []string) (profile.Profile, error) {
	sanitized, err := profile.SanitizeServers(servers)
	if err != nil {
		return profile.Profile{}, err
	}

	p := profile.Profile{Name: name, Servers: sanitized}

	a.mu.Lock()
	defer a.mu.Unlock()

	updated, err := a.store.Append(a.profiles, p)
	if err != nil {
		return profile.Profile{}, err
	}
	a.profiles = updated

	a.emit(Event{Type: EventProfileAdded, Message: fmt.Sprintf("added profile %q", name)})
	return p, nil
}

// RemoveProfile deletes by index and persists.
func (a *App) RemoveProfile(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := ""
	if index >= 0 && index < len(a.profiles) {
		name = a.profiles[index].Name
	}

	updated, err := a.store.RemoveIndex(a.profiles, index)
	if err != nil {
		return err
	}
	a.profiles = updated

	a.emit(Event{Type: EventProfileRemoved, Message: fmt.Sprintf("deleted profile %q", name), Index: index})
	return nil
}

// RunTests probes every profile concurrently, stores the measured
// latencies on the in-memory list, and reports the batch summary. Only
// one batch runs at a time; a second request is refused, not queued.
func (a *App) RunTests(ctx context.Context) (probe.Summary, error) {
	if !a.probing.CompareAndSwap(false, true) {
		return probe.Summary{}, ErrTestsInProgress
	}
	defer a.probing.Store(false)

	profiles := a.Profiles()
	log.Infof("testing %d profiles against %s", len(profiles), a.prober.QueryName())

	summary := a.sched.RunAll(ctx, profiles, func(index int, latencyMs float64) {
		a.emit(Event{Type: EventProbeProgress, Index: index, LatencyMs: latencyMs})
	})

	a.mu.Lock()
	for i := range a.profiles {
		if ms, ok := summary.Latencies[i]; ok {
			a.profiles[i].LatencyMs = ms
		}
	}
	a.mu.Unlock()

	if !summary.AnySucceeded {
		a.emit(Event{Type: EventTestsFailed, Message: "no profile answered the probe query"})
		return summary, nil
	}

	best, _ := probe.PickBest(summary)
	a.emit(Event{Type: EventTestsCompleted, Message: "latency tests finished", BestIndex: best})
	return summary, nil
}

// SortProfiles reorders the list by measured latency and persists the
// new order. Fails with probe.ErrNoValidLatency before any tests ran.
func (a *App) SortProfiles(ascending bool) ([]profile.Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sorted, err := probe.SortByLatency(a.profiles, ascending)
	if err != nil {
		return nil, err
	}

	if err := a.store.ReplaceAll(sorted); err != nil {
		return nil, err
	}
	a.profiles = sorted

	a.emit(Event{Type: EventProfilesSorted, Message: "profiles sorted by latency"})

	out := make([]profile.Profile, len(sorted))
	copy(out, sorted)
	return out, nil
}

// BestProfile returns the index of the profile with the lowest measured
// latency, or false when nothing has a valid measurement.
func (a *App) BestProfile() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := probe.Summary{Latencies: make(map[int]float64, len(a.profiles))}
	for i, p := range a.profiles {
		summary.Latencies[i] = p.LatencyMs
		if p.LatencyMs > 0 {
			summary.AnySucceeded = true
		}
	}
	return probe.PickBest(summary)
}

// ActivateProfile activates the profile at index.
func (a *App) ActivateProfile(ctx context.Context, index int) (*sysdns.Connection, error) {
	a.mu.Lock()
	var servers []string
	var name string
	if index >= 0 && index < len(a.profiles) {
		servers = append(servers, a.profiles[index].Servers...)
		name = a.profiles[index].Name
	}
	a.mu.Unlock()

	if servers == nil {
		return nil, fmt.Errorf("profile index %d out of range", index)
	}

	log.Infof("activating profile %q", name)
	return a.ActivateServers(ctx, servers)
}

// ActivateServers drives the activation controller and emits the apply,
// apply-failed, or verify-failed event for the attempt.
func (a *App) ActivateServers(ctx context.Context, servers []string) (*sysdns.Connection, error) {
	conn, err := a.ctrl.Activate(ctx, servers)
	switch {
	case err == nil:
		a.emit(Event{Type: EventDNSApplied, Message: fmt.Sprintf("DNS applied to %q", conn.Name)})
	case errors.Is(err, ErrVerificationFailed):
		a.emit(Event{Type: EventDNSVerifyFailed, Message: "DNS was applied but could not be verified; inspect the connection manually"})
	case errors.Is(err, ErrActivationInProgress):
		// No event: the running attempt will emit its own outcome
	default:
		a.emit(Event{Type: EventDNSApplyFailed, Message: err.Error()})
	}
	return conn, err
}

// Reset clears the DNS override on the active connection.
func (a *App) Reset(ctx context.Context) (*sysdns.Connection, error) {
	conn, err := a.ctrl.Reset(ctx)
	if err == nil {
		a.emit(Event{Type: EventDNSReset, Message: fmt.Sprintf("%q reset to automatic DNS", conn.Name)})
	} else if !errors.Is(err, ErrActivationInProgress) {
		a.emit(Event{Type: EventDNSApplyFailed, Message: err.Error()})
	}
	return conn, err
}

// Status describes the current system DNS state for display.
type Status struct {
	Connection       *sysdns.Connection `json:"connection,omitempty"`
	EffectiveServers string             `json:"effectiveServers"`
	ActivationState  string             `json:"activationState"`
	Provider         string             `json:"provider"`
}

// CurrentStatus reads the active connection and effective servers. Both
// reads are best effort; a missing connection is reported as nil, not as
// an error.
func (a *App) CurrentStatus(ctx context.Context) Status {
	st := Status{
		EffectiveServers: a.provider.CurrentEffectiveServers(ctx),
		ActivationState:  a.ctrl.State().String(),
		Provider:         a.provider.Name(),
	}
	if conn, err := a.provider.ActiveConnection(ctx); err == nil {
		st.Connection = conn
	}
	return st
}
