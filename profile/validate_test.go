package profile

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{name: "cloudflare v4", addr: "1.1.1.1", expected: true},
		{name: "google v4", addr: "8.8.8.8", expected: true},
		{name: "cloudflare v6", addr: "2606:4700:4700::1111", expected: true},
		{name: "surrounding whitespace is trimmed", addr: "  9.9.9.9  ", expected: true},
		{name: "empty", addr: "", expected: false},
		{name: "only whitespace", addr: "   ", expected: false},
		{name: "octet out of range", addr: "999.1.1.1", expected: false},
		{name: "three groups", addr: "1.1.1", expected: false},
		{name: "five groups", addr: "1.1.1.1.1", expected: false},
		{name: "hostname", addr: "dns.example.com", expected: false},
		{name: "signed octet", addr: "1.+2.3.4", expected: false},
		{name: "negative octet", addr: "1.-2.3.4", expected: false},
		{name: "leading zeros accepted", addr: "001.002.003.004", expected: true},
		{name: "v6 with invalid character", addr: "2606:4700::zz11", expected: false},
		// Deliberately permissive: anything made of hex digits and colons
		// passes, even when it is not real IPv6 grammar.
		{name: "repeated colons accepted", addr: ":::::", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAddress(tt.addr); got != tt.expected {
				t.Errorf("IsValidAddress(%q) = %v, want %v", tt.addr, got, tt.expected)
			}
		})
	}
}

func TestSanitizeServers(t *testing.T) {
	got, err := SanitizeServers([]string{"1.1.1.1", " ", "1.0.0.1"})
	if err != nil {
		t.Fatalf("SanitizeServers returned error: %v", err)
	}
	want := []string{"1.1.1.1", "1.0.0.1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SanitizeServers mismatch (-want +got):\n%s", diff)
	}
}

func TestSanitizeServersTooFew(t *testing.T) {
	if _, err := SanitizeServers([]string{"1.1.1.1"}); !errors.Is(err, ErrInsufficientServers) {
		t.Errorf("expected ErrInsufficientServers, got %v", err)
	}
	if _, err := SanitizeServers(nil); !errors.Is(err, ErrInsufficientServers) {
		t.Errorf("expected ErrInsufficientServers for empty input, got %v", err)
	}
}

func TestSanitizeServersFailsFast(t *testing.T) {
	_, err := SanitizeServers([]string{"1.1.1.1", "not-an-ip", "999.1.1.1"})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	// The first bad entry is the one reported
	if want := `"not-an-ip"`; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not name the offending entry %s", err, want)
	}
}

func TestSplitFamilies(t *testing.T) {
	ipv4, ipv6 := SplitFamilies([]string{"1.1.1.1", "2606:4700:4700::1111", "8.8.8.8"})
	if diff := cmp.Diff([]string{"1.1.1.1", "8.8.8.8"}, ipv4); diff != "" {
		t.Errorf("ipv4 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2606:4700:4700::1111"}, ipv6); diff != "" {
		t.Errorf("ipv6 mismatch (-want +got):\n%s", diff)
	}
}
