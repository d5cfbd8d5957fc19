package profile

import (
	"encoding/json"
	"strings"
)

// Profile is a named set of DNS servers. LatencyMs is the most recent
// measured resolution latency in milliseconds; 0 means not yet measured
// or measurement failed. It is never persisted.
type Profile struct {
	Name      string
	Servers   []string
	LatencyMs float64
}

// record is the wire and on-disk shape of a profile. Extra fields are
// ignored on read. The store zeroes LatencyMs before saving, so latency
// only appears in API responses, never in the profiles file.
type record struct {
	Name      string          `json:"name"`
	Servers   json.RawMessage `json:"servers"`
	LatencyMs float64         `json:"latencyMs,omitempty"`
}

// MarshalJSON writes the record shape: name plus a server array.
func (p Profile) MarshalJSON() ([]byte, error) {
	servers := p.Servers
	if servers == nil {
		servers = []string{}
	}
	raw, err := json.Marshal(servers)
	if err != nil {
		return nil, err
	}
	return json.Marshal(record{Name: p.Name, Servers: raw, LatencyMs: p.LatencyMs})
}

// UnmarshalJSON accepts both the current array form and the legacy form
// where servers was a single comma-separated string.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	p.Name = strings.TrimSpace(rec.Name)
	p.Servers = nil
	p.LatencyMs = rec.LatencyMs

	if len(rec.Servers) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(rec.Servers, &list); err == nil {
		p.Servers = trimNonEmpty(list)
		return nil
	}

	// Legacy records stored servers as "1.1.1.1, 1.0.0.1"
	var joined string
	if err := json.Unmarshal(rec.Servers, &joined); err == nil {
		p.Servers = trimNonEmpty(strings.Split(joined, ","))
		return nil
	}

	// Wrong-shaped field: coerce to empty rather than failing the load
	return nil
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
