//go:build linux && !android

package sysdns

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

const (
	resolvedDest          = "org.freedesktop.resolve1"
	resolvedObjectNode    = "/org/freedesktop/resolve1"
	resolvedManagerIface  = "org.freedesktop.resolve1.Manager"
	resolvedSetLinkDNS    = resolvedManagerIface + ".SetLinkDNS"
	resolvedFlushCaches   = resolvedManagerIface + ".FlushCaches"
	resolvedRevertLink    = resolvedManagerIface + ".RevertLink"
	defaultResolvConfPath = "/etc/resolv.conf"
	resolvedCallTimeout   = 5 * time.Second
)

// resolvedDNSInput maps to the (iay) input of SetLinkDNS.
type resolvedDNSInput struct {
	Family  int32
	Address []byte
}

// overrideLinkDNS points the live resolver for one device at the given
// servers through systemd-resolved, independent of the persisted
// NetworkManager profile.
func overrideLinkDNS(ctx context.Context, ifaceName string, servers []string) error {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("get interface %s: %w", ifaceName, err)
	}

	var inputs []resolvedDNSInput
	for _, s := range servers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		family := unix.AF_INET
		if addr.Is6() {
			family = unix.AF_INET6
		}
		inputs = append(inputs, resolvedDNSInput{Family: int32(family), Address: addr.AsSlice()})
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no parseable servers for link override")
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(resolvedDest, resolvedObjectNode)

	ctx, cancel := context.WithTimeout(ctx, resolvedCallTimeout)
	defer cancel()

	if err := obj.CallWithContext(ctx, resolvedSetLinkDNS, 0, iface.Index, inputs).Store(); err != nil {
		return fmt.Errorf("set link DNS: %w", err)
	}
	return nil
}

// revertLinkDNS drops any per-link resolver override for the device.
func revertLinkDNS(ctx context.Context, ifaceName string) error {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("get interface %s: %w", ifaceName, err)
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(resolvedDest, resolvedObjectNode)

	ctx, cancel := context.WithTimeout(ctx, resolvedCallTimeout)
	defer cancel()

	if err := obj.CallWithContext(ctx, resolvedRevertLink, 0, iface.Index).Store(); err != nil {
		return fmt.Errorf("revert link: %w", err)
	}
	return nil
}

// flushResolvedCaches flushes the systemd-resolved cache.
func flushResolvedCaches(ctx context.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object(resolvedDest, resolvedObjectNode)

	ctx, cancel := context.WithTimeout(ctx, resolvedCallTimeout)
	defer cancel()

	if err := obj.CallWithContext(ctx, resolvedFlushCaches, 0).Store(); err != nil {
		return fmt.Errorf("flush caches: %w", err)
	}
	return nil
}

// IsSystemdResolvedAvailable reports whether systemd-resolved answers on
// the system bus.
func IsSystemdResolvedAvailable() bool {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	obj := conn.Object(resolvedDest, resolvedObjectNode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return obj.CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Store() == nil
}

// readResolvConfServers reads the nameserver entries from resolv.conf.
func readResolvConfServers() []string {
	file, err := os.Open(defaultResolvConfPath)
	if err != nil {
		return nil
	}
	defer file.Close()

	var servers []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "nameserver") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if _, err := netip.ParseAddr(fields[1]); err == nil {
				servers = append(servers, fields[1])
			}
		}
	}
	return servers
}
