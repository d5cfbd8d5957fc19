//go:build windows

package sysdns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"syscall"

	"github.com/apex/log"
	"golang.org/x/sys/windows/registry"
)

var (
	dnsapi                  = syscall.NewLazyDLL("dnsapi.dll")
	dnsFlushResolverCacheFn = dnsapi.NewProc("DnsFlushResolverCache")
)

const (
	tcpipInterfacesPath  = `SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces`
	tcpip6InterfacesPath = `SYSTEM\CurrentControlSet\Services\Tcpip6\Parameters\Interfaces`
	nameServerValue      = "NameServer"
	dhcpNameServerValue  = "DhcpNameServer"
	dhcpIPAddressValue   = "DhcpIPAddress"
	ipAddressValue       = "IPAddress"
)

// WindowsProvider manages per-interface DNS through the registry, the
// same surface the TCP/IP stack reads its static NameServer list from.
// The process needs to run elevated; registry writes themselves are the
// single privileged surface, so no per-write elevation prompt exists.
type WindowsProvider struct{}

// NewWindowsProvider returns the registry-backed provider.
func NewWindowsProvider() *WindowsProvider {
	return &WindowsProvider{}
}

// Name returns the provider name.
func (p *WindowsProvider) Name() string {
	return "windows-registry"
}

// ActiveConnection walks the TCP/IP interface keys and picks the first
// one holding an address, which is the interface DHCP or static config
// considers up.
func (p *WindowsProvider) ActiveConnection(ctx context.Context) (*Connection, error) {
	root, err := registry.OpenKey(registry.LOCAL_MACHINE, tcpipInterfacesPath, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, fmt.Errorf("open interfaces key: %w", err)
	}
	defer closeKey(root)

	guids, err := root.ReadSubKeyNames(0)
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}

	for _, guid := range guids {
		key, err := registry.OpenKey(registry.LOCAL_MACHINE, tcpipInterfacesPath+`\`+guid, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		addr, _, err := key.GetStringValue(dhcpIPAddressValue)
		if err != nil || addr == "" || addr == "0.0.0.0" {
			if addrs, _, err2 := key.GetStringsValue(ipAddressValue); err2 == nil && len(addrs) > 0 && addrs[0] != "0.0.0.0" {
				addr = addrs[0]
			} else {
				addr = ""
			}
		}
		closeKey(key)

		if addr == "" {
			continue
		}

		conn := &Connection{ID: guid, Name: guid, Type: "ethernet"}
		if iface := interfaceForAddress(addr); iface != "" {
			conn.Device = iface
			conn.Name = iface
		}
		return conn, nil
	}

	return nil, ErrNoActiveConnection
}

// interfaceForAddress maps an IP literal back to an interface name.
func interfaceForAddress(addr string) string {
	target, err := netip.ParseAddr(addr)
	if err != nil {
		return ""
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipNet.IP); ok && ip.Unmap() == target {
				return iface.Name
			}
		}
	}
	return ""
}

// ApplyServers writes the static NameServer lists for both stacks and
// flushes the resolver cache. A failure after the IPv4 write leaves the
// registry partially updated; that is reported, not rolled back.
func (p *WindowsProvider) ApplyServers(ctx context.Context, conn *Connection, ipv4, ipv6 []string) error {
	if len(ipv4) == 0 && len(ipv6) == 0 {
		return fmt.Errorf("no DNS servers to apply")
	}

	if len(ipv4) > 0 {
		if err := setNameServer(tcpipInterfacesPath, conn.ID, strings.Join(ipv4, ",")); err != nil {
			return fmt.Errorf("write IPv4 DNS: %w", err)
		}
	}
	if len(ipv6) > 0 {
		if err := setNameServer(tcpip6InterfacesPath, conn.ID, strings.Join(ipv6, ",")); err != nil {
			return fmt.Errorf("write IPv6 DNS: %w", err)
		}
	}

	if err := flushDNSCache(); err != nil {
		log.Warnf("sysdns: flush resolver cache: %v", err)
	}

	log.Infof("sysdns: applied %d IPv4 / %d IPv6 servers to interface %s", len(ipv4), len(ipv6), conn.ID)
	return nil
}

// VerifyServers re-reads the static NameServer values.
func (p *WindowsProvider) VerifyServers(ctx context.Context, conn *Connection) (bool, error) {
	for _, path := range []string{tcpipInterfacesPath, tcpip6InterfacesPath} {
		value, err := getNameServer(path, conn.ID)
		if err != nil {
			continue
		}
		if strings.TrimSpace(value) != "" {
			return true, nil
		}
	}
	return false, nil
}

// ResetToAutomatic clears the static NameServer values so the DHCP lists
// take over again, then flushes the cache.
func (p *WindowsProvider) ResetToAutomatic(ctx context.Context, conn *Connection) error {
	if err := setNameServer(tcpipInterfacesPath, conn.ID, ""); err != nil {
		return fmt.Errorf("clear IPv4 DNS: %w", err)
	}
	if err := setNameServer(tcpip6InterfacesPath, conn.ID, ""); err != nil {
		log.Warnf("sysdns: clear IPv6 DNS: %v", err)
	}

	if err := flushDNSCache(); err != nil {
		log.Warnf("sysdns: flush resolver cache: %v", err)
	}

	log.Infof("sysdns: reset interface %s to automatic DNS", conn.ID)
	return nil
}

// CurrentEffectiveServers reads static config first, then the DHCP list.
func (p *WindowsProvider) CurrentEffectiveServers(ctx context.Context) string {
	conn, err := p.ActiveConnection(ctx)
	if err != nil {
		return "no active connection"
	}

	key, err := registry.OpenKey(registry.LOCAL_MACHINE, tcpipInterfacesPath+`\`+conn.ID, registry.QUERY_VALUE)
	if err != nil {
		return "unavailable"
	}
	defer closeKey(key)

	if value, _, err := key.GetStringValue(nameServerValue); err == nil && strings.TrimSpace(value) != "" {
		return strings.Join(splitServerList(value), ", ")
	}
	if value, _, err := key.GetStringValue(dhcpNameServerValue); err == nil && strings.TrimSpace(value) != "" {
		return strings.Join(splitServerList(value), ", ") + " (automatic)"
	}
	return "automatic"
}

func setNameServer(basePath, guid, value string) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, basePath+`\`+guid, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open HKLM\\%s\\%s: %w", basePath, guid, err)
	}
	defer closeKey(key)

	if err := key.SetStringValue(nameServerValue, value); err != nil {
		return fmt.Errorf("set NameServer: %w", err)
	}
	return nil
}

func getNameServer(basePath, guid string) (string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, basePath+`\`+guid, registry.QUERY_VALUE)
	if err != nil {
		return "", fmt.Errorf("open HKLM\\%s\\%s: %w", basePath, guid, err)
	}
	defer closeKey(key)

	value, _, err := key.GetStringValue(nameServerValue)
	if err != nil {
		return "", err
	}
	return value, nil
}

// splitServerList splits a comma or space separated registry value.
func splitServerList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// flushDNSCache flushes the Windows resolver cache via dnsapi.dll.
func flushDNSCache() error {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warnf("sysdns: DnsFlushResolverCache panicked: %v", rec)
		}
	}()

	ret, _, err := dnsFlushResolverCacheFn.Call()
	if ret == 0 {
		if err != nil && !errors.Is(err, syscall.Errno(0)) {
			return fmt.Errorf("DnsFlushResolverCache: %w", err)
		}
		return fmt.Errorf("DnsFlushResolverCache failed")
	}
	return nil
}

func closeKey(closer io.Closer) {
	if err := closer.Close(); err != nil {
		log.Debugf("sysdns: close registry key: %v", err)
	}
}

// Detect returns the registry provider; it is the only implementation on
// Windows.
func Detect() Provider {
	return NewWindowsProvider()
}
