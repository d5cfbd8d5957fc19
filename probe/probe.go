// Package probe measures DNS resolution latency by querying candidate
// servers directly, bypassing the system resolver configuration.
package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/miekg/dns"
	"github.com/montanaflynn/stats"
)

const (
	// ProbeQueryName is the fixed hostname resolved against every
	// candidate server. Not configurable.
	ProbeQueryName = "google.com."

	// DefaultTimeout bounds a single server exchange, connect included.
	DefaultTimeout = 2 * time.Second
)

// exchangeFunc performs one DNS exchange against addr ("ip:53") and
// reports the round-trip time. Swapped out in tests.
type exchangeFunc func(ctx context.Context, msg *dns.Msg, addr string, timeout time.Duration) (time.Duration, error)

// Prober measures per-server and per-profile resolution latency.
type Prober struct {
	queryName string
	timeout   time.Duration
	exchange  exchangeFunc
}

// NewProber returns a prober using the fixed probe hostname and the
// default per-server timeout.
func NewProber() *Prober {
	return &Prober{
		queryName: ProbeQueryName,
		timeout:   DefaultTimeout,
		exchange:  exchangeDirect,
	}
}

func exchangeDirect(ctx context.Context, msg *dns.Msg, addr string, timeout time.Duration) (time.Duration, error) {
	client := &dns.Client{Timeout: timeout}
	_, rtt, err := client.ExchangeContext(ctx, msg, addr)
	return rtt, err
}

// Measure issues a single A query straight at server and returns the
// elapsed wall-clock time in milliseconds. 0 means the probe failed:
// timeout, refused, malformed response. Failures are silent here; the
// scheduler aggregates absence one level up.
func (p *Prober) Measure(ctx context.Context, server string) float64 {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(p.queryName), dns.TypeA)

	addr := net.JoinHostPort(server, "53")

	start := time.Now()
	rtt, err := p.exchange(ctx, msg, addr, p.timeout)
	if err != nil {
		log.Debugf("probe: %s unreachable: %v", server, err)
		return 0
	}
	if rtt <= 0 {
		rtt = time.Since(start)
	}

	ms := float64(rtt) / float64(time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return ms
}

// MeasureProfile probes every server and returns the arithmetic mean of
// the successful measurements, or 0 when every server failed.
func (p *Prober) MeasureProfile(ctx context.Context, servers []string) float64 {
	var samples []float64
	for _, server := range servers {
		if ms := p.Measure(ctx, server); ms > 0 {
			samples = append(samples, ms)
		}
	}
	if len(samples) == 0 {
		return 0
	}

	mean, err := stats.Mean(samples)
	if err != nil {
		return 0
	}
	return mean
}

// Timeout returns the per-server probe timeout.
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// QueryName returns the probe hostname without the trailing dot, for
// display purposes.
func (p *Prober) QueryName() string {
	return strings.TrimSuffix(p.queryName, ".")
}
