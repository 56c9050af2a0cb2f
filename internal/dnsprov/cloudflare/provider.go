// Package cloudflare implements dnsprov.Provisioner against the Cloudflare
// v4 API. Zones and records are looked up before creation so every call is
// idempotent under webhook redelivery and resumed partial failures.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"domainflow/internal/dnsprov"
	"domainflow/internal/provider"
)

const (
	cloudflareAPIBase = "https://api.cloudflare.com/client/v4"
	requestTimeout    = 10 * time.Second
)

// ErrNotFound is returned when a zone or record is not found
var ErrNotFound = errors.New("cloudflare resource not found")

// Cloudflare error codes that indicate bad input rather than a provider
// hiccup; these never succeed on retry.
var permanentErrorCodes = map[int]bool{
	1049: true, // zone name invalid
	1061: true, // zone already exists under another account
	9106: true, // missing auth
	6003: true, // invalid request headers
	9021: true, // invalid DNS record content
	9000: true, // malformed DNS record name
}

// Provider implements dnsprov.Provisioner for the Cloudflare API
type Provider struct {
	email    string
	apiToken string
	baseURL  string
	client   *http.Client
	resolver *net.Resolver
}

// New creates a new Cloudflare provisioner
func New(email, apiToken string) *Provider {
	return &Provider{
		email:    email,
		apiToken: apiToken,
		baseURL:  cloudflareAPIBase,
		client: &http.Client{
			Timeout: requestTimeout,
		},
		resolver: net.DefaultResolver,
	}
}

// NewWithBaseURL creates a provisioner against a non-default API endpoint.
// Used by tests.
func NewWithBaseURL(email, apiToken, baseURL string) *Provider {
	p := New(email, apiToken)
	p.baseURL = baseURL
	return p
}

type cfResponse struct {
	Success bool            `json:"success"`
	Errors  []cfError       `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type cfError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cfZone struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	NameServers []string `json:"name_servers"`
}

type cfRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// EnsureZone returns the zone for the domain, creating it when absent.
// A second call for the same domain returns the existing zone id.
func (p *Provider) EnsureZone(ctx context.Context, domain string) (dnsprov.Zone, error) {
	const op = "cloudflare.ensure_zone"

	// Look before create.
	existing, err := p.findZone(ctx, op, domain)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return dnsprov.Zone{}, err
	}
	if err == nil {
		return dnsprov.Zone{ID: existing.ID, Nameservers: existing.NameServers}, nil
	}

	payload := map[string]interface{}{
		"name":       domain,
		"jump_start": false,
	}
	var created cfZone
	if err := p.do(ctx, op, http.MethodPost, "/zones", payload, &created); err != nil {
		return dnsprov.Zone{}, err
	}

	return dnsprov.Zone{ID: created.ID, Nameservers: created.NameServers}, nil
}

// EnsureCNAME ensures a proxied CNAME record name -> target exists in the
// zone. No-op if an equivalent record is already present.
func (p *Provider) EnsureCNAME(ctx context.Context, zoneID, name, target string) error {
	const op = "cloudflare.ensure_cname"

	url := fmt.Sprintf("/zones/%s/dns_records?type=CNAME&name=%s", zoneID, name)
	var records []cfRecord
	if err := p.do(ctx, op, http.MethodGet, url, nil, &records); err != nil {
		return err
	}

	for _, r := range records {
		if strings.EqualFold(r.Content, target) {
			return nil
		}
	}

	if len(records) > 0 {
		// Same name, different target: repoint instead of duplicating.
		payload := recordPayload(name, target)
		return p.do(ctx, op, http.MethodPut,
			fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, records[0].ID), payload, nil)
	}

	payload := recordPayload(name, target)
	return p.do(ctx, op, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", zoneID), payload, nil)
}

func recordPayload(name, target string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "CNAME",
		"name":    name,
		"content": target,
		"ttl":     1, // automatic
		"proxied": true,
	}
}

// EnableSSL sets the zone SSL mode to full and enables universal SSL.
// Both calls are idempotent on the Cloudflare side.
func (p *Provider) EnableSSL(ctx context.Context, zoneID, domain string) error {
	const op = "cloudflare.enable_ssl"

	sslSetting := map[string]interface{}{"value": "full"}
	if err := p.do(ctx, op, http.MethodPatch,
		fmt.Sprintf("/zones/%s/settings/ssl", zoneID), sslSetting, nil); err != nil {
		return err
	}

	universal := map[string]interface{}{"enabled": true}
	return p.do(ctx, op, http.MethodPatch,
		fmt.Sprintf("/zones/%s/ssl/universal/settings", zoneID), universal, nil)
}

// CheckPropagation resolves the domain's NS records and compares them
// against the nameservers assigned by the zone.
func (p *Provider) CheckPropagation(ctx context.Context, domain string, expectedNameservers []string) (bool, error) {
	const op = "cloudflare.check_propagation"

	if len(expectedNameservers) == 0 {
		return false, provider.Permanent(op, fmt.Errorf("no expected nameservers for %s", domain))
	}

	nsRecords, err := p.resolver.LookupNS(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			// Not an error: delegation simply has not propagated yet.
			return false, nil
		}
		return false, provider.Transient(op, fmt.Errorf("NS lookup failed for %s: %w", domain, err))
	}

	found := make(map[string]bool, len(nsRecords))
	for _, ns := range nsRecords {
		found[strings.ToLower(strings.TrimSuffix(ns.Host, "."))] = true
	}

	for _, want := range expectedNameservers {
		if !found[strings.ToLower(strings.TrimSuffix(want, "."))] {
			return false, nil
		}
	}
	return true, nil
}

type cfSSLVerification struct {
	CertificateStatus string `json:"certificate_status"`
}

// CheckSSLStatus reports certificate provisioning progress for the zone.
func (p *Provider) CheckSSLStatus(ctx context.Context, zoneID, domain string) (dnsprov.SSLState, error) {
	const op = "cloudflare.check_ssl_status"

	var verifications []cfSSLVerification
	if err := p.do(ctx, op, http.MethodGet,
		fmt.Sprintf("/zones/%s/ssl/verification", zoneID), nil, &verifications); err != nil {
		return dnsprov.SSLStateError, err
	}

	if len(verifications) == 0 {
		return dnsprov.SSLStateProvisioning, nil
	}

	for _, v := range verifications {
		switch v.CertificateStatus {
		case "active":
			continue
		case "initializing", "pending_validation", "pending_issuance", "pending_deployment":
			return dnsprov.SSLStateProvisioning, nil
		default:
			return dnsprov.SSLStateError, nil
		}
	}
	return dnsprov.SSLStateActive, nil
}

// EnsureTXT creates a TXT record if an identical one does not exist.
// Used by the ACME SSL backend for DNS-01 challenges.
func (p *Provider) EnsureTXT(ctx context.Context, zoneID, name, value string) error {
	const op = "cloudflare.ensure_txt"

	url := fmt.Sprintf("/zones/%s/dns_records?type=TXT&name=%s", zoneID, name)
	var records []cfRecord
	if err := p.do(ctx, op, http.MethodGet, url, nil, &records); err != nil {
		return err
	}
	for _, r := range records {
		if r.Content == value {
			return nil
		}
	}

	payload := map[string]interface{}{
		"type":    "TXT",
		"name":    name,
		"content": value,
		"ttl":     60,
	}
	return p.do(ctx, op, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", zoneID), payload, nil)
}

// RemoveTXT deletes all TXT records with the given name. A record that is
// already gone is treated as success.
func (p *Provider) RemoveTXT(ctx context.Context, zoneID, name string) error {
	const op = "cloudflare.remove_txt"

	url := fmt.Sprintf("/zones/%s/dns_records?type=TXT&name=%s", zoneID, name)
	var records []cfRecord
	if err := p.do(ctx, op, http.MethodGet, url, nil, &records); err != nil {
		return err
	}

	for _, r := range records {
		err := p.do(ctx, op, http.MethodDelete,
			fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, r.ID), nil, nil)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func (p *Provider) findZone(ctx context.Context, op string, domain string) (*cfZone, error) {
	var zones []cfZone
	if err := p.do(ctx, op, http.MethodGet, "/zones?name="+domain, nil, &zones); err != nil {
		return nil, err
	}
	if len(zones) == 0 {
		return nil, ErrNotFound
	}
	return &zones[0], nil
}

// do sends an authenticated request and decodes the result envelope into
// out. Network errors and 5xx are transient; Cloudflare error codes for
// bad input are permanent.
func (p *Provider) do(ctx context.Context, op, method, path string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return provider.Permanent(op, fmt.Errorf("failed to marshal payload: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return provider.Permanent(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("X-Auth-Email", p.email)
	req.Header.Set("X-Auth-Key", p.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Transient(op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Transient(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return provider.Transient(op, fmt.Errorf("cloudflare API returned %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode == http.StatusNotFound {
		return provider.Permanent(op, ErrNotFound)
	}

	var cfResp cfResponse
	if err := json.Unmarshal(body, &cfResp); err != nil {
		return provider.Transient(op, fmt.Errorf("failed to parse response: %w", err))
	}

	if !cfResp.Success {
		apiErr := fmt.Errorf("cloudflare API error: %s", formatErrors(cfResp.Errors))
		for _, e := range cfResp.Errors {
			if permanentErrorCodes[e.Code] {
				return provider.Permanent(op, apiErr)
			}
		}
		// Unknown API errors are retried; classified codes short-circuit.
		return provider.Transient(op, apiErr)
	}

	if out != nil {
		if err := json.Unmarshal(cfResp.Result, out); err != nil {
			return provider.Transient(op, fmt.Errorf("failed to parse result: %w", err))
		}
	}
	return nil
}

func formatErrors(errs []cfError) string {
	if len(errs) == 0 {
		return "unknown error"
	}

	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("[%d] %s", e.Code, e.Message))
	}
	return strings.Join(msgs, "; ")
}
