package dnsjump

// EventType names one observable outcome of a core operation. The GUI
// turns these into toasts; the core only guarantees that each operation
// emits its event exactly once.
type EventType string

const (
	EventProfileAdded    EventType = "profile/added"
	EventProfileRemoved  EventType = "profile/removed"
	EventProfilesSorted  EventType = "profiles/sorted"
	EventProbeProgress   EventType = "probe/progress"
	EventTestsCompleted  EventType = "tests/completed"
	EventTestsFailed     EventType = "tests/failed"
	EventDNSApplied      EventType = "dns/applied"
	EventDNSApplyFailed  EventType = "dns/apply-failed"
	EventDNSVerifyFailed EventType = "dns/verify-failed"
	EventDNSReset        EventType = "dns/reset"
)

// Event is one notification from the core. Index and LatencyMs are only
// meaningful for probe progress; BestIndex only for completed test runs.
type Event struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Index     int       `json:"index,omitempty"`
	LatencyMs float64   `json:"latencyMs,omitempty"`
	BestIndex int       `json:"bestIndex,omitempty"`
}
