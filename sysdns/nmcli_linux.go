//go:build linux && !android

package sysdns

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/apex/log"
)

// commandRunner executes one external command and returns its stdout.
// Swapped out in tests.
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

// NMCommandProvider manages DNS through nmcli and resolvectl. Reads are
// plain unprivileged commands; every mutating sequence is joined into one
// `pkexec sh -c "a && b && ..."` invocation so the user authenticates at
// most once per operation and no second process can observe a half-applied
// sequence between elevation prompts.
type NMCommandProvider struct {
	run commandRunner
}

// NewNMCommandProvider returns the nmcli-backed provider.
func NewNMCommandProvider() *NMCommandProvider {
	return &NMCommandProvider{run: runCommand}
}

// Name returns the provider name.
func (p *NMCommandProvider) Name() string {
	return "networkmanager-nmcli"
}

// ActiveConnection picks the active connection, preferring wifi and
// ethernet types and falling back to the first active connection of any
// type.
func (p *NMCommandProvider) ActiveConnection(ctx context.Context) (*Connection, error) {
	out, err := p.run(ctx, "nmcli", "-t", "-f", "UUID,NAME,TYPE,DEVICE", "connection", "show", "--active")
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}

	conns := parseActiveConnections(out)
	if len(conns) == 0 {
		return nil, ErrNoActiveConnection
	}

	for _, c := range conns {
		if isPreferredType(c.Type) {
			return &c, nil
		}
	}
	// Nothing matched by type; take the first active connection even if
	// its type is unknown
	first := conns[0]
	if first.Device == "" {
		if dev, err := defaultRouteDevice(); err == nil {
			first.Device = dev
		}
	}
	return &first, nil
}

// parseActiveConnections parses `nmcli -t` colon-separated output. nmcli
// escapes literal colons inside fields with a backslash, which matters for
// none of the fields we read here except names containing colons.
func parseActiveConnections(out string) []Connection {
	var conns []Connection
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitNmcliLine(line)
		if len(fields) < 4 {
			continue
		}
		conns = append(conns, Connection{
			ID:     fields[0],
			Name:   fields[1],
			Type:   fields[2],
			Device: fields[3],
		})
	}
	return conns
}

func splitNmcliLine(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

func isPreferredType(connType string) bool {
	switch connType {
	case "802-11-wireless", "wifi", "802-3-ethernet", "ethernet":
		return true
	}
	return false
}

// ApplyServers writes static DNS for both families, suppresses auto DNS,
// re-ups the connection, overrides the live per-device resolver, and
// flushes the cache, all inside a single pkexec invocation.
func (p *NMCommandProvider) ApplyServers(ctx context.Context, conn *Connection, ipv4, ipv6 []string) error {
	if len(ipv4) == 0 && len(ipv6) == 0 {
		return fmt.Errorf("no DNS servers to apply")
	}

	cmds := applyCommands(conn, ipv4, ipv6)
	if err := p.runElevated(ctx, cmds); err != nil {
		return fmt.Errorf("apply DNS to %q: %w", conn.Name, err)
	}

	log.Infof("sysdns: applied %d IPv4 / %d IPv6 servers to %q", len(ipv4), len(ipv6), conn.Name)
	return nil
}

// applyCommands builds the mutating command bundle for one apply.
func applyCommands(conn *Connection, ipv4, ipv6 []string) [][]string {
	var cmds [][]string

	if len(ipv4) > 0 {
		cmds = append(cmds, []string{
			"nmcli", "connection", "modify", conn.ID,
			"ipv4.dns", strings.Join(ipv4, " "),
			"ipv4.ignore-auto-dns", "yes",
		})
	}
	if len(ipv6) > 0 {
		cmds = append(cmds, []string{
			"nmcli", "connection", "modify", conn.ID,
			"ipv6.dns", strings.Join(ipv6, " "),
			"ipv6.ignore-auto-dns", "yes",
		})
	}

	cmds = append(cmds, []string{"nmcli", "connection", "up", conn.ID})

	if conn.Device != "" {
		live := append([]string{"resolvectl", "dns", conn.Device}, ipv4...)
		live = append(live, ipv6...)
		cmds = append(cmds, live)
	}

	cmds = append(cmds, []string{"resolvectl", "flush-caches"})
	return cmds
}

// VerifyServers re-reads the persisted connection profile; a non-empty
// DNS list for either family passes. This is an unprivileged read.
func (p *NMCommandProvider) VerifyServers(ctx context.Context, conn *Connection) (bool, error) {
	out, err := p.run(ctx, "nmcli", "-g", "ipv4.dns,ipv6.dns", "connection", "show", conn.ID)
	if err != nil {
		return false, fmt.Errorf("read back connection %q: %w", conn.Name, err)
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "--" {
			return true, nil
		}
	}
	return false, nil
}

// ResetToAutomatic clears the static DNS override and the suppression
// flags, re-ups the connection, and flushes caches, again as one pkexec
// invocation.
func (p *NMCommandProvider) ResetToAutomatic(ctx context.Context, conn *Connection) error {
	cmds := [][]string{
		{"nmcli", "connection", "modify", conn.ID,
			"ipv4.dns", "", "ipv4.ignore-auto-dns", "no",
			"ipv6.dns", "", "ipv6.ignore-auto-dns", "no"},
		{"nmcli", "connection", "up", conn.ID},
		{"resolvectl", "flush-caches"},
	}

	if err := p.runElevated(ctx, cmds); err != nil {
		return fmt.Errorf("reset DNS on %q: %w", conn.Name, err)
	}

	log.Infof("sysdns: reset %q to automatic DNS", conn.Name)
	return nil
}

// CurrentEffectiveServers is display-only and never fails: live resolver
// status first, then the static connection config, then "automatic".
func (p *NMCommandProvider) CurrentEffectiveServers(ctx context.Context) string {
	conn, err := p.ActiveConnection(ctx)
	if err != nil {
		return "no active connection"
	}

	if conn.Device != "" {
		if out, err := p.run(ctx, "resolvectl", "dns", conn.Device); err == nil {
			if servers := parseResolvectlDNS(out); servers != "" {
				return servers
			}
		}
	}

	if out, err := p.run(ctx, "nmcli", "-g", "ipv4.dns,ipv6.dns", "connection", "show", conn.ID); err == nil {
		var servers []string
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && line != "--" {
				servers = append(servers, strings.Split(line, ",")...)
			}
		}
		if len(servers) > 0 {
			return strings.Join(servers, ", ")
		}
		return "automatic"
	}

	return "unavailable"
}

// parseResolvectlDNS extracts server addresses from `resolvectl dns <dev>`
// output of the form "Link 3 (wlan0): 1.1.1.1 1.0.0.1".
func parseResolvectlDNS(out string) string {
	_, after, found := strings.Cut(out, ":")
	if !found {
		return ""
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, ", ")
}

// runElevated joins the mutating commands into one shell line and runs it
// under pkexec. One elevation prompt covers the whole sequence.
func (p *NMCommandProvider) runElevated(ctx context.Context, cmds [][]string) error {
	script := joinCommands(cmds)
	log.Debugf("sysdns: pkexec sh -c %q", script)

	if _, err := p.run(ctx, "pkexec", "sh", "-c", script); err != nil {
		return err
	}
	return nil
}

// joinCommands renders commands as a single `&&`-chained shell line with
// every argument quoted.
func joinCommands(cmds [][]string) string {
	parts := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		quoted := make([]string, len(cmd))
		for i, arg := range cmd {
			quoted[i] = shellQuote(arg)
		}
		parts = append(parts, strings.Join(quoted, " "))
	}
	return strings.Join(parts, " && ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>(){}*?#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
