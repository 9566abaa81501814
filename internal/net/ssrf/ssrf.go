// Package ssrf classifies outbound request targets that would let a
// sandboxed tool pivot into the host's own network: loopback, RFC-1918 and
// link-local ranges, carrier-grade NAT, and cloud metadata endpoints. The
// sandbox's http.request host call refuses such targets unless the tool's
// allowlist names them exactly, so a wildcard grant can never be ridden
// into the private network.
package ssrf

import (
	"fmt"
	"net/netip"
	"strings"
)

// metadataHosts are cloud instance-metadata endpoints reachable by name.
var metadataHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata.goog":            true,
}

// metadataAddr is the link-local instance-metadata address shared by the
// major cloud providers.
var metadataAddr = netip.AddrFrom4([4]byte{169, 254, 169, 254})

// internalSuffixes are name suffixes that resolve inside private networks
// by convention rather than by public DNS.
var internalSuffixes = []string{".localhost", ".local", ".internal", ".lan", ".home.arpa"}

// cgnat is the carrier-grade NAT range (100.64.0.0/10), not covered by
// netip.Addr.IsPrivate.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// Check reports whether host (a hostname, IPv4/IPv6 literal, optionally
// with a port) points at a private or internal target. nil means the host
// looks public; a non-nil error names the range or convention that makes
// it private. Check never resolves DNS: a public name that A-records into
// a private range is caught at the address layer by the dialer, not here.
func Check(host string) error {
	name := Normalize(host)
	if name == "" {
		return fmt.Errorf("empty host")
	}

	if addr, err := netip.ParseAddr(name); err == nil {
		return checkAddr(addr)
	}

	if name == "localhost" || metadataHosts[name] {
		return fmt.Errorf("%s is an internal endpoint", name)
	}
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(name, suffix) {
			return fmt.Errorf("%s resolves inside the private network (%s)", name, suffix)
		}
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	switch {
	case addr == metadataAddr:
		return fmt.Errorf("%s is the cloud metadata endpoint", addr)
	case addr.IsLoopback():
		return fmt.Errorf("%s is a loopback address", addr)
	case addr.IsPrivate():
		return fmt.Errorf("%s is a private address", addr)
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return fmt.Errorf("%s is a link-local address", addr)
	case addr.IsUnspecified():
		return fmt.Errorf("%s is the unspecified address", addr)
	case addr.Is4() && cgnat.Contains(addr):
		return fmt.Errorf("%s is in the carrier-grade NAT range", addr)
	}
	return nil
}

// Normalize canonicalizes a host for comparison: lowercased, trimmed of
// whitespace, trailing dots, IPv6 brackets, and any port suffix.
func Normalize(host string) string {
	name := strings.ToLower(strings.TrimSpace(host))
	name = strings.TrimSuffix(name, ".")

	// [::1]:8080 or [::1]
	if strings.HasPrefix(name, "[") {
		if end := strings.Index(name, "]"); end > 0 {
			return name[1:end]
		}
	}
	// host:port, but not a bare IPv6 literal (which has multiple colons)
	if i := strings.LastIndex(name, ":"); i >= 0 && strings.Count(name, ":") == 1 {
		name = name[:i]
	}
	return name
}
