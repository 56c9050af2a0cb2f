package domainutil

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/publicsuffix"
)

// Normalize canonicalizes a domain name:
//   - lower-case
//   - trim whitespace and trailing dot
//   - strip port (example.com:443 -> example.com)
//   - reject IP literals (IPv4/IPv6)
//   - reject empty strings and illegal characters
//
// The returned value is the canonical form stored in the orders table.
func Normalize(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("domain must not be empty")
	}

	host = strings.ToLower(host)
	host = strings.TrimSuffix(host, ".")

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return "", fmt.Errorf("domain must not be empty after normalization")
	}

	if net.ParseIP(host) != nil {
		return "", fmt.Errorf("IP address is not allowed as domain: %s", host)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		inner := host[1 : len(host)-1]
		if net.ParseIP(inner) != nil {
			return "", fmt.Errorf("IP address is not allowed as domain: %s", host)
		}
	}

	// Only a-z 0-9 . - are allowed.
	for i := 0; i < len(host); {
		r, size := utf8.DecodeRuneInString(host[i:])
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-') {
			return "", fmt.Errorf("domain contains invalid character: %c in %s", r, host)
		}
		i += size
	}

	if strings.HasPrefix(host, ".") || strings.HasPrefix(host, "-") {
		return "", fmt.Errorf("domain must not start with '.' or '-': %s", host)
	}
	if !strings.Contains(host, ".") {
		return "", fmt.Errorf("domain must contain at least one dot: %s", host)
	}

	return host, nil
}

// EffectiveApex computes the eTLD+1 (registrable domain) using the PSL.
// Examples:
//   - www.example.com -> example.com
//   - a.b.example.co.uk -> example.co.uk
//   - example.com -> example.com
//
// Nothing else in the project may split domains by hand; always go through
// this function.
func EffectiveApex(domain string) (string, error) {
	normalized, err := Normalize(domain)
	if err != nil {
		return "", fmt.Errorf("normalize failed for %s: %w", domain, err)
	}

	apex, err := publicsuffix.EffectiveTLDPlusOne(normalized)
	if err != nil {
		return "", fmt.Errorf("PSL lookup failed for %s: %w", domain, err)
	}

	return apex, nil
}

// Suffix returns the public suffix of a domain ("xyz" for foo.xyz,
// "co.uk" for example.co.uk). The domain must already be normalized.
func Suffix(domain string) string {
	suffix, _ := publicsuffix.PublicSuffix(domain)
	return suffix
}

// StripPort removes a :port suffix from a Host header value, leaving the
// bare hostname. Invalid values are returned unchanged.
func StripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
