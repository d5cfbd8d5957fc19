//go:build linux && !android

package sysdns

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/apex/log"
	dbus "github.com/godbus/dbus/v5"
)

const (
	nmDest           = "org.freedesktop.NetworkManager"
	nmObjectNode     = "/org/freedesktop/NetworkManager"
	nmActiveIface    = "org.freedesktop.NetworkManager.Connection.Active"
	nmDeviceIface    = "org.freedesktop.NetworkManager.Device"
	nmSettingsIface  = "org.freedesktop.NetworkManager.Settings.Connection"
	nmActivateMethod = nmDest + ".ActivateConnection"

	nmIPv4Key          = "ipv4"
	nmIPv6Key          = "ipv6"
	nmDNSKey           = "dns"
	nmIgnoreAutoDNSKey = "ignore-auto-dns"

	nmTypeWifi     = "802-11-wireless"
	nmTypeEthernet = "802-3-ethernet"

	nmCallTimeout = 5 * time.Second
)

type nmConnSettings map[string]map[string]dbus.Variant

// cleanDeprecatedSettings removes settings that GetSettings still returns
// but Update rejects.
func (s nmConnSettings) cleanDeprecatedSettings() {
	for _, key := range []string{"addresses", "routes"} {
		if ipv4, ok := s[nmIPv4Key]; ok {
			delete(ipv4, key)
		}
		if ipv6, ok := s[nmIPv6Key]; ok {
			delete(ipv6, key)
		}
	}
}

// BusProvider manages DNS through the NetworkManager D-Bus API. It talks
// to the system bus directly and is meant for processes that already hold
// the needed polkit authorization (a root daemon); unprivileged desktop
// use goes through NMCommandProvider instead.
type BusProvider struct{}

// NewBusProvider returns the D-Bus backed provider.
func NewBusProvider() *BusProvider {
	return &BusProvider{}
}

// Name returns the provider name.
func (p *BusProvider) Name() string {
	return "networkmanager-dbus"
}

func busCall(ctx context.Context, obj dbus.BusObject, method string, args ...any) *dbus.Call {
	ctx, cancel := context.WithTimeout(ctx, nmCallTimeout)
	defer cancel()
	return obj.CallWithContext(ctx, method, 0, args...)
}

// ActiveConnection enumerates NetworkManager's active connections and
// picks a wifi or ethernet one when available, otherwise the first.
func (p *BusProvider) ActiveConnection(ctx context.Context) (*Connection, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	manager := conn.Object(nmDest, nmObjectNode)

	activeVariant, err := manager.GetProperty(nmDest + ".ActiveConnections")
	if err != nil {
		return nil, fmt.Errorf("get active connections: %w", err)
	}
	paths, ok := activeVariant.Value().([]dbus.ObjectPath)
	if !ok || len(paths) == 0 {
		return nil, ErrNoActiveConnection
	}

	var first *Connection
	for _, path := range paths {
		c, err := p.describeActive(conn, path)
		if err != nil {
			log.Debugf("sysdns: skip active connection %s: %v", path, err)
			continue
		}
		if c.Type == nmTypeWifi || c.Type == nmTypeEthernet {
			return c, nil
		}
		if first == nil {
			first = c
		}
	}

	if first == nil {
		return nil, ErrNoActiveConnection
	}
	return first, nil
}

func (p *BusProvider) describeActive(conn *dbus.Conn, path dbus.ObjectPath) (*Connection, error) {
	obj := conn.Object(nmDest, path)

	uuid, err := obj.GetProperty(nmActiveIface + ".Uuid")
	if err != nil {
		return nil, fmt.Errorf("get uuid: %w", err)
	}
	id, err := obj.GetProperty(nmActiveIface + ".Id")
	if err != nil {
		return nil, fmt.Errorf("get id: %w", err)
	}
	connType, err := obj.GetProperty(nmActiveIface + ".Type")
	if err != nil {
		return nil, fmt.Errorf("get type: %w", err)
	}

	c := &Connection{
		ID:   stringValue(uuid),
		Name: stringValue(id),
		Type: stringValue(connType),
	}

	if devices, err := obj.GetProperty(nmActiveIface + ".Devices"); err == nil {
		if devPaths, ok := devices.Value().([]dbus.ObjectPath); ok && len(devPaths) > 0 {
			devObj := conn.Object(nmDest, devPaths[0])
			if ifname, err := devObj.GetProperty(nmDeviceIface + ".Interface"); err == nil {
				c.Device = stringValue(ifname)
			}
		}
	}
	if c.Device == "" {
		if dev, err := defaultRouteDevice(); err == nil {
			c.Device = dev
		}
	}

	return c, nil
}

func stringValue(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

// ApplyServers updates the persisted connection profile for both IP
// families and re-activates the connection in one bus session. D-Bus has
// no multi-call transaction, so a failure partway through is reported to
// the caller as an indeterminate state rather than rolled back.
func (p *BusProvider) ApplyServers(ctx context.Context, target *Connection, ipv4, ipv6 []string) error {
	if len(ipv4) == 0 && len(ipv6) == 0 {
		return fmt.Errorf("no DNS servers to apply")
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	settingsPath, err := p.settingsPathByUUID(ctx, conn, target.ID)
	if err != nil {
		return err
	}

	settingsObj := conn.Object(nmDest, settingsPath)

	var settings nmConnSettings
	if err := busCall(ctx, settingsObj, nmSettingsIface+".GetSettings").Store(&settings); err != nil {
		return fmt.Errorf("get settings for %q: %w", target.Name, err)
	}
	settings.cleanDeprecatedSettings()

	if len(ipv4) > 0 {
		if settings[nmIPv4Key] == nil {
			settings[nmIPv4Key] = make(map[string]dbus.Variant)
		}
		settings[nmIPv4Key][nmDNSKey] = dbus.MakeVariant(ipv4ToUint32(ipv4))
		settings[nmIPv4Key][nmIgnoreAutoDNSKey] = dbus.MakeVariant(true)
	}
	if len(ipv6) > 0 {
		if settings[nmIPv6Key] == nil {
			settings[nmIPv6Key] = make(map[string]dbus.Variant)
		}
		settings[nmIPv6Key][nmDNSKey] = dbus.MakeVariant(ipv6ToBytes(ipv6))
		settings[nmIPv6Key][nmIgnoreAutoDNSKey] = dbus.MakeVariant(true)
	}

	if err := busCall(ctx, settingsObj, nmSettingsIface+".Update", settings).Store(); err != nil {
		return fmt.Errorf("update settings for %q: %w", target.Name, err)
	}

	if err := p.reactivate(ctx, conn, settingsPath); err != nil {
		// The profile was already updated; the caller must know the
		// live state may not match it
		return fmt.Errorf("re-activate %q after DNS update: %w", target.Name, err)
	}

	if target.Device != "" && IsSystemdResolvedAvailable() {
		servers := append(append([]string{}, ipv4...), ipv6...)
		if err := overrideLinkDNS(ctx, target.Device, servers); err != nil {
			log.Warnf("sysdns: live resolver override on %s: %v", target.Device, err)
		}
	}

	if err := flushResolvedCaches(ctx); err != nil {
		log.Warnf("sysdns: flush resolver caches: %v", err)
	}

	log.Infof("sysdns: applied %d IPv4 / %d IPv6 servers to %q via D-Bus", len(ipv4), len(ipv6), target.Name)
	return nil
}

// VerifyServers re-reads the persisted profile and checks a DNS list is
// present for at least one family.
func (p *BusProvider) VerifyServers(ctx context.Context, target *Connection) (bool, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	settingsPath, err := p.settingsPathByUUID(ctx, conn, target.ID)
	if err != nil {
		return false, err
	}

	var settings nmConnSettings
	obj := conn.Object(nmDest, settingsPath)
	if err := busCall(ctx, obj, nmSettingsIface+".GetSettings").Store(&settings); err != nil {
		return false, fmt.Errorf("get settings for %q: %w", target.Name, err)
	}

	if ipv4, ok := settings[nmIPv4Key]; ok {
		if servers, ok := ipv4[nmDNSKey].Value().([]uint32); ok && len(servers) > 0 {
			return true, nil
		}
	}
	if ipv6, ok := settings[nmIPv6Key]; ok {
		if servers, ok := ipv6[nmDNSKey].Value().([][]byte); ok && len(servers) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ResetToAutomatic clears the static DNS configuration and suppression
// flags and re-activates the connection.
func (p *BusProvider) ResetToAutomatic(ctx context.Context, target *Connection) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	settingsPath, err := p.settingsPathByUUID(ctx, conn, target.ID)
	if err != nil {
		return err
	}

	settingsObj := conn.Object(nmDest, settingsPath)

	var settings nmConnSettings
	if err := busCall(ctx, settingsObj, nmSettingsIface+".GetSettings").Store(&settings); err != nil {
		return fmt.Errorf("get settings for %q: %w", target.Name, err)
	}
	settings.cleanDeprecatedSettings()

	if settings[nmIPv4Key] == nil {
		settings[nmIPv4Key] = make(map[string]dbus.Variant)
	}
	if settings[nmIPv6Key] == nil {
		settings[nmIPv6Key] = make(map[string]dbus.Variant)
	}
	settings[nmIPv4Key][nmDNSKey] = dbus.MakeVariant([]uint32{})
	settings[nmIPv4Key][nmIgnoreAutoDNSKey] = dbus.MakeVariant(false)
	settings[nmIPv6Key][nmDNSKey] = dbus.MakeVariant([][]byte{})
	settings[nmIPv6Key][nmIgnoreAutoDNSKey] = dbus.MakeVariant(false)

	if err := busCall(ctx, settingsObj, nmSettingsIface+".Update", settings).Store(); err != nil {
		return fmt.Errorf("update settings for %q: %w", target.Name, err)
	}

	if err := p.reactivate(ctx, conn, settingsPath); err != nil {
		return fmt.Errorf("re-activate %q after reset: %w", target.Name, err)
	}

	if target.Device != "" && IsSystemdResolvedAvailable() {
		if err := revertLinkDNS(ctx, target.Device); err != nil {
			log.Warnf("sysdns: revert live resolver override on %s: %v", target.Device, err)
		}
	}

	if err := flushResolvedCaches(ctx); err != nil {
		log.Warnf("sysdns: flush resolver caches: %v", err)
	}

	log.Infof("sysdns: reset %q to automatic DNS via D-Bus", target.Name)
	return nil
}

// CurrentEffectiveServers reads the live resolver state from
// /etc/resolv.conf, falling back to the persisted connection config and
// then "automatic".
func (p *BusProvider) CurrentEffectiveServers(ctx context.Context) string {
	if servers := readResolvConfServers(); len(servers) > 0 {
		return strings.Join(servers, ", ")
	}

	target, err := p.ActiveConnection(ctx)
	if err != nil {
		return "no active connection"
	}
	ok, err := p.VerifyServers(ctx, target)
	if err != nil {
		return "unavailable"
	}
	if !ok {
		return "automatic"
	}
	return "static (see connection profile)"
}

func (p *BusProvider) settingsPathByUUID(ctx context.Context, conn *dbus.Conn, uuid string) (dbus.ObjectPath, error) {
	obj := conn.Object(nmDest, nmObjectNode+"/Settings")

	var path dbus.ObjectPath
	if err := busCall(ctx, obj, nmDest+".Settings.GetConnectionByUuid", uuid).Store(&path); err != nil {
		return "", fmt.Errorf("lookup connection %s: %w", uuid, err)
	}
	return path, nil
}

// reactivate brings the connection up again so the updated profile takes
// effect on the live device.
func (p *BusProvider) reactivate(ctx context.Context, conn *dbus.Conn, settingsPath dbus.ObjectPath) error {
	manager := conn.Object(nmDest, nmObjectNode)

	var activePath dbus.ObjectPath
	err := busCall(ctx, manager, nmActivateMethod,
		settingsPath, dbus.ObjectPath("/"), dbus.ObjectPath("/")).Store(&activePath)
	if err != nil {
		return fmt.Errorf("activate connection: %w", err)
	}
	return nil
}

// ipv4ToUint32 converts dotted-quad literals to NetworkManager's
// little-endian uint32 wire format.
func ipv4ToUint32(servers []string) []uint32 {
	out := make([]uint32, 0, len(servers))
	for _, s := range servers {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			continue
		}
		out = append(out, binary.LittleEndian.Uint32(addr.AsSlice()))
	}
	return out
}

// ipv6ToBytes converts IPv6 literals to NetworkManager's 16-byte format.
// Literals that only pass the permissive validator but are not real IPv6
// addresses are skipped here.
func ipv6ToBytes(servers []string) [][]byte {
	out := make([][]byte, 0, len(servers))
	for _, s := range servers {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is6() {
			continue
		}
		out = append(out, addr.AsSlice())
	}
	return out
}

// IsNetworkManagerAvailable reports whether NetworkManager answers on the
// system bus.
func IsNetworkManagerAvailable() bool {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	obj := conn.Object(nmDest, nmObjectNode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return obj.CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Store() == nil
}
