package acmessl

import (
	"context"
	"fmt"

	"domainflow/internal/dnsprov"
	"domainflow/internal/model"
	"domainflow/internal/provider"
)

// Provisioner wraps a base provisioner, delegating zone/record/propagation
// operations to it and replacing the SSL operations with ACME issuance.
// Selected with SSL_MODE=acme.
type Provisioner struct {
	dnsprov.Provisioner
	issuer *Issuer
}

// Wrap builds the ACME-backed provisioner on top of base.
func Wrap(base dnsprov.Provisioner, issuer *Issuer) *Provisioner {
	return &Provisioner{Provisioner: base, issuer: issuer}
}

// EnableSSL starts background certificate issuance for the domain.
// Calling it again while issuance runs, or once a valid certificate
// exists, is a no-op.
func (p *Provisioner) EnableSSL(ctx context.Context, zoneID, domain string) error {
	if err := p.issuer.StartIssuance(ctx, zoneID, domain); err != nil {
		return provider.Transient("acmessl.enable_ssl", fmt.Errorf("failed to start issuance: %w", err))
	}
	return nil
}

// CheckSSLStatus reports issuance progress from the certificates table.
func (p *Provisioner) CheckSSLStatus(ctx context.Context, zoneID, domain string) (dnsprov.SSLState, error) {
	status, err := p.issuer.Status(ctx, domain)
	if err != nil {
		return dnsprov.SSLStateError, provider.Transient("acmessl.check_ssl_status", err)
	}

	switch status {
	case model.CertificateStatusIssued:
		return dnsprov.SSLStateActive, nil
	case model.CertificateStatusFailed:
		return dnsprov.SSLStateError, nil
	default:
		return dnsprov.SSLStateProvisioning, nil
	}
}
