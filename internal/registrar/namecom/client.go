// Package namecom implements registrar.Client against the Name.com v4 API.
package namecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"domainflow/internal/provider"
	"domainflow/internal/registrar"
)

const requestTimeout = 15 * time.Second

// Client is a Name.com v4 API client
type Client struct {
	baseURL  string
	username string
	apiToken string
	client   *http.Client
}

// New creates a new Name.com registrar client
func New(baseURL, username, apiToken string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		apiToken: apiToken,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type checkAvailabilityRequest struct {
	DomainNames []string `json:"domainNames"`
}

type checkAvailabilityResponse struct {
	Results []struct {
		DomainName   string  `json:"domainName"`
		Purchasable  bool    `json:"purchasable"`
		Premium      bool    `json:"premium"`
		PurchasePrice float64 `json:"purchasePrice"`
		RenewalPrice  float64 `json:"renewalPrice"`
	} `json:"results"`
}

type createDomainRequest struct {
	Domain struct {
		DomainName string `json:"domainName"`
	} `json:"domain"`
	PurchasePrice float64 `json:"purchasePrice"`
	Years         int     `json:"years"`
	Contacts      struct {
		Registrant registrar.Contact `json:"registrant"`
	} `json:"contacts,omitempty"`
}

type createDomainResponse struct {
	Domain struct {
		DomainName string `json:"domainName"`
	} `json:"domain"`
	Order   int     `json:"order"`
	TotalPaid float64 `json:"totalPaid"`
}

type apiError struct {
	Message string `json:"message"`
	Details string `json:"details"`
}

// CheckAvailability returns current purchasability and price for a domain.
func (c *Client) CheckAvailability(ctx context.Context, domain string) (registrar.Availability, error) {
	const op = "registrar.check_availability"

	payload := checkAvailabilityRequest{DomainNames: []string{domain}}
	var resp checkAvailabilityResponse
	if err := c.do(ctx, op, http.MethodPost, "/v4/domains:checkAvailability", payload, &resp); err != nil {
		return registrar.Availability{}, err
	}

	for _, r := range resp.Results {
		if r.DomainName != domain {
			continue
		}
		return registrar.Availability{
			Purchasable: r.Purchasable,
			PriceCents:  int64(r.PurchasePrice * 100),
			Currency:    "USD",
		}, nil
	}

	// Name.com omits unknown/unsupported names from results.
	return registrar.Availability{Purchasable: false}, nil
}

// Purchase buys the domain. The current price is re-checked first; a price
// above MaxPriceCents maps to registrar.ErrPriceChanged and an
// unpurchasable domain to registrar.ErrNotAvailable, both permanent.
func (c *Client) Purchase(ctx context.Context, req registrar.PurchaseRequest) (*registrar.PurchaseResult, error) {
	const op = "registrar.purchase"

	avail, err := c.CheckAvailability(ctx, req.Domain)
	if err != nil {
		return nil, err
	}
	if !avail.Purchasable {
		return nil, provider.Permanent(op, registrar.ErrNotAvailable)
	}
	if req.MaxPriceCents > 0 && avail.PriceCents > req.MaxPriceCents {
		return nil, provider.Permanent(op, fmt.Errorf("%w: current %d > max %d cents",
			registrar.ErrPriceChanged, avail.PriceCents, req.MaxPriceCents))
	}

	body := createDomainRequest{
		PurchasePrice: float64(avail.PriceCents) / 100,
		Years:         req.Years,
	}
	body.Domain.DomainName = req.Domain
	body.Contacts.Registrant = req.Contact

	var resp createDomainResponse
	if err := c.do(ctx, op, http.MethodPost, "/v4/domains", body, &resp); err != nil {
		return nil, err
	}

	return &registrar.PurchaseResult{
		ConfirmationID: fmt.Sprintf("%d", resp.Order),
		PricePaidCents: int64(resp.TotalPaid * 100),
	}, nil
}

// do sends an authenticated request and decodes the response into out.
// Network errors and 5xx are transient; 4xx are permanent.
func (c *Client) do(ctx context.Context, op, method, path string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return provider.Permanent(op, fmt.Errorf("failed to marshal payload: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return provider.Permanent(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return provider.Transient(op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Transient(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return provider.Transient(op, fmt.Errorf("registrar API returned %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return provider.Transient(op, fmt.Errorf("registrar API rate limited"))
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return provider.Permanent(op, fmt.Errorf("registrar API error: %s (%s)", apiErr.Message, apiErr.Details))
		}
		return provider.Permanent(op, fmt.Errorf("registrar API returned %d: %s", resp.StatusCode, respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return provider.Permanent(op, fmt.Errorf("failed to parse response: %w", err))
		}
	}
	return nil
}
