//go:build linux && !android

package sysdns

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// recordingRunner captures every command and replies from canned output
// keyed by the command name.
type recordingRunner struct {
	calls   [][]string
	replies map[string]string
	errs    map[string]error
}

func (r *recordingRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if err, ok := r.errs[name]; ok {
		return "", err
	}
	return r.replies[name], nil
}

func newTestProvider(replies map[string]string) (*NMCommandProvider, *recordingRunner) {
	runner := &recordingRunner{replies: replies}
	p := NewNMCommandProvider()
	p.run = runner.run
	return p, runner
}

func TestParseActiveConnections(t *testing.T) {
	out := "uuid-wifi:Home WLAN:802-11-wireless:wlan0\n" +
		"uuid-vpn:Office VPN:vpn:tun0\n" +
		"\n"

	got := parseActiveConnections(out)
	want := []Connection{
		{ID: "uuid-wifi", Name: "Home WLAN", Type: "802-11-wireless", Device: "wlan0"},
		{ID: "uuid-vpn", Name: "Office VPN", Type: "vpn", Device: "tun0"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseActiveConnectionsEscapedColon(t *testing.T) {
	got := parseActiveConnections(`uuid-1:Cafe\: Guest:802-11-wireless:wlan0`)
	if len(got) != 1 || got[0].Name != "Cafe: Guest" {
		t.Errorf("escaped colon handling: %+v", got)
	}
}

func TestActiveConnectionPrefersWifiAndEthernet(t *testing.T) {
	p, _ := newTestProvider(map[string]string{
		"nmcli": "uuid-vpn:Office VPN:vpn:tun0\n" +
			"uuid-eth:Wired:802-3-ethernet:eth0\n",
	})

	conn, err := p.ActiveConnection(context.Background())
	if err != nil {
		t.Fatalf("ActiveConnection: %v", err)
	}
	if conn.ID != "uuid-eth" {
		t.Errorf("picked %q, want the ethernet connection", conn.ID)
	}
}

func TestActiveConnectionFallsBackToFirst(t *testing.T) {
	p, _ := newTestProvider(map[string]string{
		"nmcli": "uuid-vpn:Office VPN:vpn:tun0\nuuid-bridge:br0:bridge:br0\n",
	})

	conn, err := p.ActiveConnection(context.Background())
	if err != nil {
		t.Fatalf("ActiveConnection: %v", err)
	}
	if conn.ID != "uuid-vpn" {
		t.Errorf("picked %q, want the first active connection", conn.ID)
	}
}

func TestActiveConnectionNoneActive(t *testing.T) {
	p, _ := newTestProvider(map[string]string{"nmcli": "\n"})

	if _, err := p.ActiveConnection(context.Background()); !errors.Is(err, ErrNoActiveConnection) {
		t.Errorf("expected ErrNoActiveConnection, got %v", err)
	}
}

func TestApplyServersSingleElevation(t *testing.T) {
	p, runner := newTestProvider(nil)
	conn := &Connection{ID: "uuid-wifi", Name: "Home WLAN", Device: "wlan0"}

	err := p.ApplyServers(context.Background(), conn,
		[]string{"1.1.1.1", "1.0.0.1"}, []string{"2606:4700:4700::1111"})
	if err != nil {
		t.Fatalf("ApplyServers: %v", err)
	}

	// Exactly one command ran, and it was a pkexec-wrapped shell line
	if len(runner.calls) != 1 {
		t.Fatalf("ran %d commands, want exactly 1 elevation", len(runner.calls))
	}
	call := runner.calls[0]
	if call[0] != "pkexec" || call[1] != "sh" || call[2] != "-c" {
		t.Fatalf("not a pkexec sh -c invocation: %v", call)
	}

	script := call[3]
	for _, fragment := range []string{
		`ipv4.dns '1.1.1.1 1.0.0.1'`,
		"ipv4.ignore-auto-dns yes",
		"ipv6.dns 2606:4700:4700::1111",
		"ipv6.ignore-auto-dns yes",
		"nmcli connection up uuid-wifi",
		"resolvectl dns wlan0",
		"resolvectl flush-caches",
	} {
		if !strings.Contains(script, fragment) {
			t.Errorf("script missing %q:\n%s", fragment, script)
		}
	}
	if strings.Count(script, " && ") < 4 {
		t.Errorf("writes not chained into one shell line:\n%s", script)
	}
}

func TestApplyServersIPv4Only(t *testing.T) {
	p, runner := newTestProvider(nil)
	conn := &Connection{ID: "uuid-eth", Name: "Wired", Device: "eth0"}

	if err := p.ApplyServers(context.Background(), conn, []string{"9.9.9.9", "149.112.112.112"}, nil); err != nil {
		t.Fatalf("ApplyServers: %v", err)
	}

	script := runner.calls[0][3]
	if strings.Contains(script, "ipv6.dns") {
		t.Errorf("ipv6 modify present with no ipv6 servers:\n%s", script)
	}
}

func TestApplyServersNothingToApply(t *testing.T) {
	p, runner := newTestProvider(nil)
	if err := p.ApplyServers(context.Background(), &Connection{ID: "u"}, nil, nil); err == nil {
		t.Error("expected error for empty server set")
	}
	if len(runner.calls) != 0 {
		t.Errorf("commands ran despite empty server set: %v", runner.calls)
	}
}

func TestApplyServersCommandFailure(t *testing.T) {
	runner := &recordingRunner{errs: map[string]error{"pkexec": errors.New("authentication dismissed")}}
	p := NewNMCommandProvider()
	p.run = runner.run

	conn := &Connection{ID: "uuid-wifi", Name: "Home WLAN"}
	err := p.ApplyServers(context.Background(), conn, []string{"1.1.1.1", "1.0.0.1"}, nil)
	if err == nil {
		t.Fatal("expected error when the elevated command fails")
	}
	if !strings.Contains(err.Error(), "Home WLAN") {
		t.Errorf("error does not name the connection: %v", err)
	}
}

func TestVerifyServers(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{name: "static v4 set", output: "1.1.1.1,1.0.0.1\n\n", want: true},
		{name: "static v6 only", output: "\n2606:4700:4700::1111\n", want: true},
		{name: "nothing set", output: "\n\n", want: false},
		{name: "nmcli placeholder", output: "--\n--\n", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProvider(map[string]string{"nmcli": tt.output})
			got, err := p.VerifyServers(context.Background(), &Connection{ID: "uuid", Name: "conn"})
			if err != nil {
				t.Fatalf("VerifyServers: %v", err)
			}
			if got != tt.want {
				t.Errorf("VerifyServers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResetToAutomaticSingleElevation(t *testing.T) {
	p, runner := newTestProvider(nil)
	conn := &Connection{ID: "uuid-wifi", Name: "Home WLAN", Device: "wlan0"}

	if err := p.ResetToAutomatic(context.Background(), conn); err != nil {
		t.Fatalf("ResetToAutomatic: %v", err)
	}

	if len(runner.calls) != 1 || runner.calls[0][0] != "pkexec" {
		t.Fatalf("expected one pkexec invocation, got %v", runner.calls)
	}
	script := runner.calls[0][3]
	for _, fragment := range []string{
		"ipv4.dns ''",
		"ipv4.ignore-auto-dns no",
		"ipv6.dns ''",
		"ipv6.ignore-auto-dns no",
		"nmcli connection up uuid-wifi",
		"resolvectl flush-caches",
	} {
		if !strings.Contains(script, fragment) {
			t.Errorf("script missing %q:\n%s", fragment, script)
		}
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "", want: "''"},
		{in: "two words", want: "'two words'"},
		{in: "it's", want: `'it'\''s'`},
		{in: "a;b", want: "'a;b'"},
		{in: "1.1.1.1", want: "1.1.1.1"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseResolvectlDNS(t *testing.T) {
	out := "Link 3 (wlan0): 1.1.1.1 1.0.0.1\n"
	if got := parseResolvectlDNS(out); got != "1.1.1.1, 1.0.0.1" {
		t.Errorf("parseResolvectlDNS = %q", got)
	}
	if got := parseResolvectlDNS("Link 3 (wlan0):\n"); got != "" {
		t.Errorf("expected empty for no servers, got %q", got)
	}
}
