// Package order persists domain orders and their state transitions. The
// store is the only component that touches the orders table; everything
// else depends on the Store interface, which keeps the orchestrator free
// of persistence details and trivially fakeable in tests.
package order

import (
	"context"
	"errors"

	"domainflow/internal/model"
)

var (
	// ErrNotFound is returned when no order matches the query.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists is returned when the domain already has an order.
	ErrAlreadyExists = errors.New("order already exists for domain")
	// ErrStateConflict is returned when a compare-and-swap transition
	// finds the order in a different state than expected.
	ErrStateConflict = errors.New("order is not in the expected state")
	// ErrPreconditionFailed is returned when publish preconditions do
	// not hold at write time.
	ErrPreconditionFailed = errors.New("publish preconditions not met")
)

// DNSConfigUpdate carries the fields UpdateDNSConfig may change. Nil
// pointers leave the column untouched.
type DNSConfigUpdate struct {
	ZoneID      *string
	Nameservers []string
	DNSStatus   *model.DNSStatus
	SSLStatus   *model.SSLStatus
	DNSError    *string
	SSLError    *string
	// TouchDNSCheck / TouchSSLCheck stamp the last-check timestamps.
	TouchDNSCheck bool
	TouchSSLCheck bool
}

// Store persists domain orders. All mutating operations are atomic
// single-row updates.
type Store interface {
	Create(ctx context.Context, o *model.DomainOrder) error
	Get(ctx context.Context, id int) (*model.DomainOrder, error)
	// FindByDomain looks an order up by domain name, case-insensitively.
	FindByDomain(ctx context.Context, domain string) (*model.DomainOrder, error)
	ListByAccount(ctx context.Context, accountID int) ([]model.DomainOrder, error)
	ListByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]model.DomainOrder, error)

	// UpdateStatus sets the lifecycle status unconditionally, recording
	// reason for terminal failures.
	UpdateStatus(ctx context.Context, id int, status model.OrderStatus, reason string) error
	// Transition is a compare-and-swap: it moves the order from -> to
	// and fails with ErrStateConflict if the order is not in from.
	Transition(ctx context.Context, id int, from, to model.OrderStatus) error
	// MarkRegistered completes the purchase step: registering ->
	// registered with the confirmation id and the price actually paid.
	MarkRegistered(ctx context.Context, id int, confirmationID string, pricePaidCents int64) error
	UpdateDNSConfig(ctx context.Context, id int, upd DNSConfigUpdate) error

	BindPersona(ctx context.Context, id, personaID int) error
	// UnbindPersona clears the persona and, in the same write, forces
	// published to false.
	UnbindPersona(ctx context.Context, id int) error
	// Publish flips the published flag. Preconditions (status at least
	// registered, DNS active, persona bound) are re-checked inside the
	// same statement as the write. Publishing an already-published
	// order succeeds as a no-op.
	Publish(ctx context.Context, id int) error
	Unpublish(ctx context.Context, id int) error

	// LookupPublished resolves a published domain to its order. Orders
	// that are mid-provisioning, unbound or unpublished are not found.
	LookupPublished(ctx context.Context, domain string) (*model.DomainOrder, error)
}
