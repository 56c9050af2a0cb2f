// Package acmessl is the self-managed SSL backend: instead of the DNS
// provider's managed certificates, it obtains them from an ACME CA using
// DNS-01 challenges solved through the provisioner's record API. Issued
// certificates are stored in the certificates table; CheckSSLStatus reads
// provisioning progress from there.
package acmessl

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"domainflow/internal/model"

	"github.com/go-acme/lego/v4/certificate"
	legodns "github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ChallengeRecords writes and removes DNS-01 challenge TXT records.
// The Cloudflare provisioner satisfies this.
type ChallengeRecords interface {
	EnsureTXT(ctx context.Context, zoneID, name, value string) error
	RemoveTXT(ctx context.Context, zoneID, name string) error
}

// Issuer obtains certificates from an ACME CA via DNS-01.
type Issuer struct {
	db      *gorm.DB
	records ChallengeRecords
	email   string
	caDirURL string
	log     *logrus.Entry

	mu         sync.Mutex
	user       *acmeUser
	inFlight   map[string]bool

	// propagationWait gives the CA's resolvers time to see the TXT
	// record after it is written. Shortened in tests.
	propagationWait time.Duration
}

// NewIssuer creates an ACME certificate issuer
func NewIssuer(db *gorm.DB, records ChallengeRecords, email, caDirURL string) *Issuer {
	return &Issuer{
		db:              db,
		records:         records,
		email:           email,
		caDirURL:        caDirURL,
		log:             logrus.WithField("component", "acmessl"),
		inFlight:        make(map[string]bool),
		propagationWait: 30 * time.Second,
	}
}

// acmeUser implements registration.User for lego
type acmeUser struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// StartIssuance kicks off certificate issuance for the domain unless a
// valid certificate already exists or issuance is already running.
// Issuance runs in the background; progress is reported via Status.
func (i *Issuer) StartIssuance(ctx context.Context, zoneID, domain string) error {
	var existing model.Certificate
	err := i.db.WithContext(ctx).Where("domain = ?", domain).First(&existing).Error
	switch {
	case err == nil:
		if existing.Status == model.CertificateStatusIssued && existing.ExpiresAt.After(time.Now()) {
			return nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		existing = model.Certificate{Domain: domain, Status: model.CertificateStatusPending}
		if err := i.db.WithContext(ctx).Create(&existing).Error; err != nil {
			return fmt.Errorf("failed to create certificate row: %w", err)
		}
	default:
		return fmt.Errorf("failed to query certificate: %w", err)
	}

	i.mu.Lock()
	if i.inFlight[domain] {
		i.mu.Unlock()
		return nil
	}
	i.inFlight[domain] = true
	i.mu.Unlock()

	go i.issue(zoneID, domain)
	return nil
}

// Status reports issuance progress for the domain.
func (i *Issuer) Status(ctx context.Context, domain string) (string, error) {
	var cert model.Certificate
	if err := i.db.WithContext(ctx).Where("domain = ?", domain).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.CertificateStatusPending, nil
		}
		return "", fmt.Errorf("failed to query certificate: %w", err)
	}

	if cert.Status == model.CertificateStatusIssued && cert.ExpiresAt.Before(time.Now()) {
		return model.CertificateStatusPending, nil
	}
	return cert.Status, nil
}

func (i *Issuer) issue(zoneID, domain string) {
	defer func() {
		i.mu.Lock()
		delete(i.inFlight, domain)
		i.mu.Unlock()
	}()

	log := i.log.WithField("domain", domain)
	log.Info("starting ACME issuance")

	result, err := i.obtain(zoneID, domain)
	if err != nil {
		log.WithError(err).Error("ACME issuance failed")
		i.db.Model(&model.Certificate{}).Where("domain = ?", domain).
			Updates(map[string]interface{}{
				"status":     model.CertificateStatusFailed,
				"last_error": err.Error(),
			})
		return
	}

	updates := map[string]interface{}{
		"status":     model.CertificateStatusIssued,
		"cert_pem":   result.certPem,
		"key_pem":    result.keyPem,
		"chain_pem":  result.chainPem,
		"issuer":     result.issuer,
		"expires_at": result.expiresAt,
		"last_error": "",
	}
	if err := i.db.Model(&model.Certificate{}).Where("domain = ?", domain).Updates(updates).Error; err != nil {
		log.WithError(err).Error("failed to store issued certificate")
		return
	}

	log.WithField("issuer", result.issuer).Info("certificate issued")
}

type obtained struct {
	certPem   string
	keyPem    string
	chainPem  string
	issuer    string
	expiresAt time.Time
}

func (i *Issuer) obtain(zoneID, domain string) (*obtained, error) {
	user, err := i.ensureUser()
	if err != nil {
		return nil, err
	}

	config := lego.NewConfig(user)
	config.CADirURL = i.caDirURL

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}

	solver := &dnsSolver{
		records: i.records,
		zoneID:  zoneID,
		wait:    i.propagationWait,
	}
	err = client.Challenge.SetDNS01Provider(solver,
		legodns.AddRecursiveNameservers([]string{"8.8.8.8:53", "1.1.1.1:53"}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set DNS provider: %w", err)
	}

	certificates, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain certificate: %w", err)
	}

	certBlock, _ := pem.Decode(certificates.Certificate)
	if certBlock == nil {
		return nil, errors.New("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &obtained{
		certPem:   string(certificates.Certificate),
		keyPem:    string(certificates.PrivateKey),
		chainPem:  string(certificates.IssuerCertificate),
		issuer:    cert.Issuer.CommonName,
		expiresAt: cert.NotAfter,
	}, nil
}

// ensureUser registers an ACME account on first use. The account lives for
// the process lifetime; re-registering on restart is allowed by ACME.
func (i *Issuer) ensureUser() (*acmeUser, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.user != nil {
		return i.user, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}

	user := &acmeUser{Email: i.email, key: key}
	config := lego.NewConfig(user)
	config.CADirURL = i.caDirURL

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{
		TermsOfServiceAgreed: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register ACME account: %w", err)
	}
	user.Registration = reg

	i.user = user
	return user, nil
}

// dnsSolver implements challenge.Provider by writing the challenge TXT
// record through the provisioner's record API.
type dnsSolver struct {
	records ChallengeRecords
	zoneID  string
	wait    time.Duration
}

// Present creates the _acme-challenge TXT record
func (s *dnsSolver) Present(domain, token, keyAuth string) error {
	fqdn, value := legodns.GetRecord(domain, keyAuth)
	name := strings.TrimSuffix(fqdn, ".")

	if err := s.records.EnsureTXT(context.Background(), s.zoneID, name, value); err != nil {
		return fmt.Errorf("failed to create challenge record: %w", err)
	}

	// Give resolvers time to see the record before the CA validates.
	time.Sleep(s.wait)
	return nil
}

// CleanUp removes the challenge record after validation
func (s *dnsSolver) CleanUp(domain, token, keyAuth string) error {
	fqdn, _ := legodns.GetRecord(domain, keyAuth)
	name := strings.TrimSuffix(fqdn, ".")
	return s.records.RemoveTXT(context.Background(), s.zoneID, name)
}
