//go:build darwin

package sysdns

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/apex/log"
)

const (
	scutilPath       = "/usr/sbin/scutil"
	networksetupPath = "/usr/sbin/networksetup"
	dscacheutilPath  = "/usr/bin/dscacheutil"
)

// DarwinProvider manages DNS through networksetup and scutil. The network
// service is both the connection identifier and the target of every
// write; networksetup performs its own one-shot privilege check, so an
// operation never prompts more than once.
type DarwinProvider struct {
	run commandRunner
}

type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%s: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return string(out), nil
}

// NewDarwinProvider returns the networksetup-backed provider.
func NewDarwinProvider() *DarwinProvider {
	return &DarwinProvider{run: runCommand}
}

// Name returns the provider name.
func (p *DarwinProvider) Name() string {
	return "darwin-networksetup"
}

// ActiveConnection resolves the primary interface from the dynamic store
// and maps it to its network service name.
func (p *DarwinProvider) ActiveConnection(ctx context.Context) (*Connection, error) {
	iface, err := p.primaryInterface(ctx)
	if err != nil {
		return nil, ErrNoActiveConnection
	}

	service, err := p.serviceForInterface(ctx, iface)
	if err != nil {
		return nil, fmt.Errorf("map %s to a network service: %w", iface, err)
	}

	connType := "ethernet"
	if strings.Contains(strings.ToLower(service), "wi-fi") {
		connType = "wifi"
	}

	return &Connection{ID: service, Name: service, Device: iface, Type: connType}, nil
}

// primaryInterface reads PrimaryInterface from State:/Network/Global/IPv4.
func (p *DarwinProvider) primaryInterface(ctx context.Context) (string, error) {
	out, err := p.runScutil(ctx, "show State:/Network/Global/IPv4")
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.TrimSpace(key) == "PrimaryInterface" {
			return strings.TrimSpace(value), nil
		}
	}
	return "", fmt.Errorf("no primary interface in dynamic store")
}

// serviceForInterface walks `networksetup -listnetworkserviceorder` and
// returns the service name whose device matches iface.
func (p *DarwinProvider) serviceForInterface(ctx context.Context, iface string) (string, error) {
	out, err := p.run(ctx, networksetupPath, "-listnetworkserviceorder")
	if err != nil {
		return "", err
	}

	var lastService string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// "(1) Wi-Fi" lines name the service; the following
		// "(Hardware Port: Wi-Fi, Device: en0)" line names the device
		if strings.HasPrefix(line, "(") && !strings.HasPrefix(line, "(Hardware Port") {
			if _, name, found := strings.Cut(line, ") "); found {
				lastService = name
			}
			continue
		}
		if strings.HasPrefix(line, "(Hardware Port") && strings.Contains(line, "Device: "+iface+")") {
			if lastService != "" {
				return lastService, nil
			}
		}
	}
	return "", fmt.Errorf("no service found for device %s", iface)
}

// ApplyServers sets the service DNS list (both families share one list on
// macOS) and flushes the caches.
func (p *DarwinProvider) ApplyServers(ctx context.Context, conn *Connection, ipv4, ipv6 []string) error {
	servers := append(append([]string{}, ipv4...), ipv6...)
	if len(servers) == 0 {
		return fmt.Errorf("no DNS servers to apply")
	}

	args := append([]string{"-setdnsservers", conn.ID}, servers...)
	if _, err := p.run(ctx, networksetupPath, args...); err != nil {
		return fmt.Errorf("apply DNS to %q: %w", conn.ID, err)
	}

	p.flushCaches(ctx)
	log.Infof("sysdns: applied %d servers to service %q", len(servers), conn.ID)
	return nil
}

// VerifyServers re-reads the service DNS list.
func (p *DarwinProvider) VerifyServers(ctx context.Context, conn *Connection) (bool, error) {
	out, err := p.run(ctx, networksetupPath, "-getdnsservers", conn.ID)
	if err != nil {
		return false, fmt.Errorf("read back service %q: %w", conn.ID, err)
	}

	out = strings.TrimSpace(out)
	if out == "" || strings.Contains(out, "aren't any DNS Servers set") {
		return false, nil
	}
	return true, nil
}

// ResetToAutomatic clears the service DNS list; macOS then falls back to
// the DHCP-provided servers.
func (p *DarwinProvider) ResetToAutomatic(ctx context.Context, conn *Connection) error {
	if _, err := p.run(ctx, networksetupPath, "-setdnsservers", conn.ID, "empty"); err != nil {
		return fmt.Errorf("reset DNS on %q: %w", conn.ID, err)
	}

	p.flushCaches(ctx)
	log.Infof("sysdns: reset service %q to automatic DNS", conn.ID)
	return nil
}

// CurrentEffectiveServers prefers the live resolver list from scutil and
// falls back to the static service config.
func (p *DarwinProvider) CurrentEffectiveServers(ctx context.Context) string {
	if out, err := p.run(ctx, scutilPath, "--dns"); err == nil {
		if servers := parseScutilNameservers(out); len(servers) > 0 {
			return strings.Join(servers, ", ")
		}
	}

	conn, err := p.ActiveConnection(ctx)
	if err != nil {
		return "no active connection"
	}
	out, err := p.run(ctx, networksetupPath, "-getdnsservers", conn.ID)
	if err != nil {
		return "unavailable"
	}
	out = strings.TrimSpace(out)
	if out == "" || strings.Contains(out, "aren't any DNS Servers set") {
		return "automatic"
	}
	return strings.Join(strings.Fields(out), ", ")
}

// parseScutilNameservers extracts unique "nameserver[N] : addr" entries
// from `scutil --dns` output, first resolver block only.
func parseScutilNameservers(out string) []string {
	var servers []string
	seen := make(map[string]struct{})

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "nameserver[") {
			continue
		}
		_, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		addr := strings.TrimSpace(value)
		if _, dup := seen[addr]; !dup && addr != "" {
			seen[addr] = struct{}{}
			servers = append(servers, addr)
		}
	}
	return servers
}

// flushCaches flushes the directory service cache and signals
// mDNSResponder; both are best effort.
func (p *DarwinProvider) flushCaches(ctx context.Context) {
	if _, err := p.run(ctx, dscacheutilPath, "-flushcache"); err != nil {
		log.Debugf("sysdns: dscacheutil flush: %v", err)
	}
	if _, err := p.run(ctx, "/usr/bin/killall", "-HUP", "mDNSResponder"); err != nil {
		log.Debugf("sysdns: signal mDNSResponder: %v", err)
	}
}

// runScutil feeds one command to scutil on stdin.
func (p *DarwinProvider) runScutil(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, scutilPath)
	cmd.Stdin = strings.NewReader(command + "\n")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("scutil: %w", err)
	}
	return string(out), nil
}

// Detect returns the networksetup provider; it is the only implementation
// on macOS.
func Detect() Provider {
	return NewDarwinProvider()
}
