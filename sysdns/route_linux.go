//go:build linux && !android

package sysdns

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// defaultRouteDevice returns the name of the interface carrying the IPv4
// default route. Used when the provider cannot tell which device backs
// the active connection.
func defaultRouteDevice() (string, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("list routes: %w", err)
	}

	for _, route := range routes {
		if route.Dst != nil && route.Dst.IP != nil && !route.Dst.IP.Equal(net.IPv4zero) {
			continue
		}
		if route.Gw == nil {
			continue
		}
		link, err := netlink.LinkByIndex(route.LinkIndex)
		if err != nil {
			continue
		}
		return link.Attrs().Name, nil
	}

	return "", fmt.Errorf("no default route found")
}
