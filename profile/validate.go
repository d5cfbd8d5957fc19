package profile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidAddress indicates a server string that is neither a valid
	// IPv4 literal nor a plausible IPv6 literal.
	ErrInvalidAddress = errors.New("invalid server address")

	// ErrInsufficientServers indicates fewer than two usable servers; a
	// profile always needs a primary and a secondary.
	ErrInsufficientServers = errors.New("at least two DNS servers are required")
)

// IsValidAddress reports whether s looks like an IP literal we accept.
// IPv4 must be four decimal groups in [0,255]. For IPv6 any string made of
// hex digits and colons passes; this does not enforce full RFC grammar
// (":::::" passes) and matches what earlier releases accepted.
func IsValidAddress(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}

	if !strings.Contains(s, ":") {
		return isValidIPv4(s)
	}

	for _, r := range s {
		switch {
		case r == ':':
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func isValidIPv4(s string) bool {
	groups := strings.Split(s, ".")
	if len(groups) != 4 {
		return false
	}
	for _, g := range groups {
		if g == "" {
			return false
		}
		// Digits only: Atoi alone would admit signs ("+2")
		for _, r := range g {
			if r < '0' || r > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(g)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

// SanitizeServers trims entries, drops empties, and validates what remains.
// It fails on the first invalid entry and requires at least two survivors.
func SanitizeServers(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !IsValidAddress(s) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		out = append(out, s)
	}
	if len(out) < 2 {
		return nil, ErrInsufficientServers
	}
	return out, nil
}

// SplitFamilies partitions validated server literals into IPv4 and IPv6
// subsets, preserving order within each family.
func SplitFamilies(servers []string) (ipv4, ipv6 []string) {
	for _, s := range servers {
		if strings.Contains(s, ":") {
			ipv6 = append(ipv6, s)
		} else {
			ipv4 = append(ipv4, s)
		}
	}
	return ipv4, ipv6
}
