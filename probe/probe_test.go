package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// fakeExchange builds an exchangeFunc from a map of server address to
// round-trip time; servers not in the map fail.
func fakeExchange(rtts map[string]time.Duration) exchangeFunc {
	return func(ctx context.Context, msg *dns.Msg, addr string, timeout time.Duration) (time.Duration, error) {
		rtt, ok := rtts[addr]
		if !ok {
			return 0, errors.New("connection refused")
		}
		return rtt, nil
	}
}

func newTestProber(rtts map[string]time.Duration) *Prober {
	p := NewProber()
	p.exchange = fakeExchange(rtts)
	return p
}

func TestMeasureSuccess(t *testing.T) {
	p := newTestProber(map[string]time.Duration{"1.1.1.1:53": 30 * time.Millisecond})

	ms := p.Measure(context.Background(), "1.1.1.1")
	if ms != 30 {
		t.Errorf("Measure = %v, want 30", ms)
	}
}

func TestMeasureFailureIsSilentZero(t *testing.T) {
	p := newTestProber(nil)

	if ms := p.Measure(context.Background(), "192.0.2.1"); ms != 0 {
		t.Errorf("Measure of unreachable server = %v, want 0", ms)
	}
}

func TestMeasureQueriesPortFiftyThree(t *testing.T) {
	var gotAddr string
	var gotName string
	p := NewProber()
	p.exchange = func(ctx context.Context, msg *dns.Msg, addr string, timeout time.Duration) (time.Duration, error) {
		gotAddr = addr
		gotName = msg.Question[0].Name
		return time.Millisecond, nil
	}

	p.Measure(context.Background(), "9.9.9.9")
	if gotAddr != "9.9.9.9:53" {
		t.Errorf("queried %q, want 9.9.9.9:53", gotAddr)
	}
	if gotName != ProbeQueryName {
		t.Errorf("queried name %q, want %q", gotName, ProbeQueryName)
	}
}

func TestMeasureIPv6AddrIsBracketed(t *testing.T) {
	var gotAddr string
	p := NewProber()
	p.exchange = func(ctx context.Context, msg *dns.Msg, addr string, timeout time.Duration) (time.Duration, error) {
		gotAddr = addr
		return time.Millisecond, nil
	}

	p.Measure(context.Background(), "2606:4700:4700::1111")
	if gotAddr != "[2606:4700:4700::1111]:53" {
		t.Errorf("queried %q, want bracketed host:port", gotAddr)
	}
}

func TestMeasureProfileMeanOfSuccesses(t *testing.T) {
	p := newTestProber(map[string]time.Duration{
		"1.1.1.1:53": 20 * time.Millisecond,
		"1.0.0.1:53": 40 * time.Millisecond,
	})

	// One unreachable server must not drag the mean down or abort the run
	ms := p.MeasureProfile(context.Background(), []string{"1.1.1.1", "192.0.2.1", "1.0.0.1"})
	if ms != 30 {
		t.Errorf("MeasureProfile = %v, want mean 30", ms)
	}
}

func TestMeasureProfileAllFailed(t *testing.T) {
	p := newTestProber(nil)

	if ms := p.MeasureProfile(context.Background(), []string{"192.0.2.1", "192.0.2.2"}); ms != 0 {
		t.Errorf("MeasureProfile with all servers down = %v, want 0", ms)
	}
}
