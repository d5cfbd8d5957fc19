// Package sysdns applies, verifies, and resets the operating system's
// active DNS configuration. The Provider interface is the boundary the
// rest of the program talks to; concrete implementations cover
// NetworkManager (D-Bus and nmcli), macOS networksetup/scutil, and the
// Windows registry.
package sysdns

import (
	"context"
	"errors"
)

// ErrNoActiveConnection indicates no network connection is currently
// active for DNS purposes. This is a hard precondition failure for
// activation.
var ErrNoActiveConnection = errors.New("no active network connection")

// Connection identifies the network connection whose DNS configuration
// is being managed.
type Connection struct {
	// ID is the provider-level connection identifier (NetworkManager
	// UUID, macOS network service name, Windows interface GUID).
	ID string

	// Name is the human-readable connection name.
	Name string

	// Device is the network device carrying the connection (eth0,
	// wlan0, en0, ...). May be empty when the provider cannot tell.
	Device string

	// Type is the provider-reported connection type. Wifi and ethernet
	// connections are preferred when choosing the active connection.
	Type string
}

// Provider is the contract against the host networking stack.
//
// ApplyServers and ResetToAutomatic bundle all privileged configuration
// writes of one operation into a single elevation request. ApplyServers is
// atomic from the caller's perspective: it either reports success for the
// whole write set or reports an error, in which case the system may hold
// partial state and the caller must be told rather than silently rolled
// back.
type Provider interface {
	// ActiveConnection identifies the connection considered active for
	// DNS purposes: an active wifi or ethernet connection when one
	// exists, otherwise the first active connection of any type.
	// Returns ErrNoActiveConnection when nothing is active.
	ActiveConnection(ctx context.Context) (*Connection, error)

	// ApplyServers writes the static DNS lists for both IP families,
	// suppresses automatic DNS, re-activates the connection so the live
	// resolver picks up the override, and flushes the resolver cache.
	ApplyServers(ctx context.Context, conn *Connection, ipv4, ipv6 []string) error

	// VerifyServers re-reads the persisted connection configuration and
	// reports whether a non-empty DNS list is in place. A false result
	// after a successful apply is a distinct failure class from the
	// apply itself.
	VerifyServers(ctx context.Context, conn *Connection) (bool, error)

	// ResetToAutomatic clears static DNS and the auto-DNS suppression
	// flags, re-activates the connection, and flushes the resolver
	// cache.
	ResetToAutomatic(ctx context.Context, conn *Connection) error

	// CurrentEffectiveServers describes the DNS servers currently in
	// effect, for display only. Best effort: it falls through live
	// device status, then static connection config, then the literal
	// "automatic", then an error string. It never fails.
	CurrentEffectiveServers(ctx context.Context) string

	// Name identifies the provider implementation.
	Name() string
}
