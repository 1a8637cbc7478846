// Package security validates operator-supplied URLs before the portal
// sends anything to them. Notification webhooks come straight from
// signportal.yaml, so a bad value must not turn the server into a proxy
// into its own network.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// TestBypassSSRF disables outbound URL validation. Tests that post to an
// httptest server on localhost set it; nothing else should.
var TestBypassSSRF bool

// ipGuards maps each blocked address class to the reason reported for it.
var ipGuards = []struct {
	blocked func(net.IP) bool
	reason  string
}{
	{net.IP.IsLoopback, "loopback"},
	{net.IP.IsPrivate, "private network"},
	{net.IP.IsLinkLocalUnicast, "link-local"},
	{net.IP.IsLinkLocalMulticast, "link-local"},
	{net.IP.IsUnspecified, "unspecified"},
}

// ValidateHTTPURL rejects URLs the portal must never call out to: non-HTTP
// schemes, localhost, and addresses inside loopback, private, link-local
// or unspecified ranges (which covers cloud metadata endpoints).
//
// Hostnames that are not IP literals pass; resolving them here would race
// the resolution the eventual request performs anyway.
func ValidateHTTPURL(rawURL string) error {
	if TestBypassSSRF {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}
	switch strings.ToLower(host) {
	case "localhost", "localhost.localdomain":
		return fmt.Errorf("requests to localhost are not allowed")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	for _, g := range ipGuards {
		if g.blocked(ip) {
			return fmt.Errorf("requests to %s addresses are not allowed", g.reason)
		}
	}
	return nil
}
