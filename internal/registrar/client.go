package registrar

import (
	"context"
	"errors"
)

var (
	// ErrNotAvailable means the domain is no longer purchasable. Terminal.
	ErrNotAvailable = errors.New("domain not available for purchase")
	// ErrPriceChanged means the current price is outside the quoted band.
	// Terminal; the owner has to re-quote.
	ErrPriceChanged = errors.New("domain price changed since quote")
)

// Availability is the result of a registrar availability check.
type Availability struct {
	Purchasable bool
	PriceCents  int64
	Currency    string
}

// Contact is the registrant contact submitted with a purchase.
type Contact struct {
	Email string `json:"email"`
}

// PurchaseRequest describes a domain purchase. MaxPriceCents is the upper
// bound the caller will accept; the client must not buy above it.
type PurchaseRequest struct {
	Domain        string
	MaxPriceCents int64
	Years         int
	Contact       Contact
}

// PurchaseResult carries the registrar confirmation and the price
// actually charged, which may be below the quoted maximum.
type PurchaseResult struct {
	ConfirmationID string
	PricePaidCents int64
}

// Client is the registrar collaborator. Purchase is issued exactly once
// per order by the orchestrator; the registrar itself treats repeated
// purchases of an already-owned domain as errors, so callers must check
// order state before invoking it.
type Client interface {
	// CheckAvailability returns whether the domain can be bought right
	// now and at what price. Called immediately before purchase because
	// quoted prices go stale.
	CheckAvailability(ctx context.Context, domain string) (Availability, error)

	// Purchase buys the domain. Fails with ErrNotAvailable /
	// ErrPriceChanged (permanent) or a transient provider error.
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
}
