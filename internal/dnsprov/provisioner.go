// Package dnsprov defines the DNS/SSL provisioner collaborator. Every
// operation is safe to call repeatedly for the same domain: ensure-style
// calls look before they create, so a partially failed setup can simply be
// re-run.
package dnsprov

import "context"

// Zone is a DNS provider's managed configuration namespace for a domain.
type Zone struct {
	ID          string
	Nameservers []string
}

// SSLState reports certificate provisioning progress for a zone.
type SSLState string

const (
	SSLStateActive       SSLState = "active"
	SSLStateProvisioning SSLState = "provisioning"
	SSLStateError        SSLState = "error"
)

// Provisioner manages DNS zones, records and SSL for custom domains.
type Provisioner interface {
	// EnsureZone returns the zone for the domain, creating it only if it
	// does not already exist.
	EnsureZone(ctx context.Context, domain string) (Zone, error)

	// EnsureCNAME aliases the zone apex (or a subdomain) to target.
	// No-op if an equivalent record already exists.
	EnsureCNAME(ctx context.Context, zoneID, name, target string) error

	// EnableSSL turns on certificate provisioning for the zone.
	EnableSSL(ctx context.Context, zoneID, domain string) error

	// CheckPropagation reports whether the domain resolves to the
	// expected nameservers from this process's vantage point.
	CheckPropagation(ctx context.Context, domain string, expectedNameservers []string) (bool, error)

	// CheckSSLStatus reports certificate provisioning progress.
	CheckSSLStatus(ctx context.Context, zoneID, domain string) (SSLState, error)
}
