// Package publish binds orders to personas and controls public
// visibility. The gateway owns the published-domain read path used by the
// request-time domain router, with a redis cache in front of the store.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"domainflow/internal/domainutil"
	"domainflow/internal/model"
	"domainflow/internal/order"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrUnauthorized means the persona does not belong to the order's
	// account.
	ErrUnauthorized = errors.New("persona belongs to a different account")
	// ErrPersonaNotFound means the referenced persona does not exist.
	ErrPersonaNotFound = errors.New("persona not found")
)

const (
	lookupKeyPrefix = "domainflow:published:"
	lookupTTL       = 5 * time.Minute
)

// Resolution is the answer to a published-domain lookup.
type Resolution struct {
	OrderID   int    `json:"order_id"`
	PersonaID int    `json:"persona_id"`
	Domain    string `json:"domain"`
}

// PersonaReader resolves persona ids. Implemented by the gorm reader
// below; faked in tests.
type PersonaReader interface {
	Get(ctx context.Context, id int) (*model.Persona, error)
}

// Gateway performs persona binding and publish/unpublish with their
// preconditions, and serves published-domain lookups.
type Gateway struct {
	store    order.Store
	personas PersonaReader
	rdb      *redis.Client
	log      *logrus.Entry
}

// NewGateway creates a publishing gateway. rdb may be nil to run without
// the lookup cache.
func NewGateway(store order.Store, personas PersonaReader, rdb *redis.Client) *Gateway {
	return &Gateway{
		store:    store,
		personas: personas,
		rdb:      rdb,
		log:      logrus.WithField("component", "publish"),
	}
}

// BindPersona attaches a persona to the order after checking that both
// belong to the same account. Rebinding to the same persona is a no-op.
func (g *Gateway) BindPersona(ctx context.Context, orderID, personaID int) error {
	o, err := g.store.Get(ctx, orderID)
	if err != nil {
		return err
	}

	p, err := g.personas.Get(ctx, personaID)
	if err != nil {
		return err
	}
	if p.AccountID != o.AccountID {
		return ErrUnauthorized
	}

	if o.PersonaID != nil && *o.PersonaID == personaID {
		return nil
	}
	if err := g.store.BindPersona(ctx, orderID, personaID); err != nil {
		return err
	}
	g.invalidate(ctx, o.Domain)
	return nil
}

// UnbindPersona detaches the persona. The store clears the published
// flag in the same write, so the domain stops resolving immediately.
func (g *Gateway) UnbindPersona(ctx context.Context, orderID int) error {
	o, err := g.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.PersonaID == nil {
		return nil
	}
	if err := g.store.UnbindPersona(ctx, orderID); err != nil {
		return err
	}
	g.invalidate(ctx, o.Domain)
	return nil
}

// Publish makes the order's domain publicly resolvable. Preconditions
// (registered or later, DNS active, persona bound) are enforced by the
// store inside the write itself; order.ErrPreconditionFailed surfaces
// unchanged. Publishing an already-published order succeeds.
func (g *Gateway) Publish(ctx context.Context, orderID int) error {
	o, err := g.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := g.store.Publish(ctx, orderID); err != nil {
		return err
	}
	g.invalidate(ctx, o.Domain)
	g.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"domain":   o.Domain,
	}).Info("domain published")
	return nil
}

// Unpublish withdraws the domain from public resolution. Idempotent.
func (g *Gateway) Unpublish(ctx context.Context, orderID int) error {
	o, err := g.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := g.store.Unpublish(ctx, orderID); err != nil {
		return err
	}
	g.invalidate(ctx, o.Domain)
	g.log.WithFields(logrus.Fields{
		"order_id": orderID,
		"domain":   o.Domain,
	}).Info("domain unpublished")
	return nil
}

// GetPublishedDomain resolves a hostname to its bound persona. Only
// published orders resolve; everything else is order.ErrNotFound. The
// lookup is case-insensitive and cached.
func (g *Gateway) GetPublishedDomain(ctx context.Context, host string) (*Resolution, error) {
	domain, err := domainutil.Normalize(host)
	if err != nil {
		return nil, order.ErrNotFound
	}

	if res := g.cachedLookup(ctx, domain); res != nil {
		return res, nil
	}

	o, err := g.store.LookupPublished(ctx, domain)
	if err != nil {
		return nil, err
	}
	if o.PersonaID == nil {
		// Published without a persona should be impossible; treat it as
		// unresolvable rather than exposing a broken binding.
		g.log.WithField("order_id", o.ID).Error("published order has no persona")
		return nil, order.ErrNotFound
	}

	res := &Resolution{OrderID: o.ID, PersonaID: *o.PersonaID, Domain: o.Domain}
	g.cacheStore(ctx, domain, res)
	return res, nil
}

func (g *Gateway) cachedLookup(ctx context.Context, domain string) *Resolution {
	if g.rdb == nil {
		return nil
	}
	data, err := g.rdb.Get(ctx, lookupKeyPrefix+domain).Bytes()
	if err != nil {
		return nil
	}
	var res Resolution
	if err := json.Unmarshal(data, &res); err != nil {
		return nil
	}
	return &res
}

func (g *Gateway) cacheStore(ctx context.Context, domain string, res *Resolution) {
	if g.rdb == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := g.rdb.Set(ctx, lookupKeyPrefix+domain, data, lookupTTL).Err(); err != nil {
		g.log.WithError(err).Warn("failed to cache published-domain lookup")
	}
}

func (g *Gateway) invalidate(ctx context.Context, domain string) {
	if g.rdb == nil {
		return
	}
	if err := g.rdb.Del(ctx, lookupKeyPrefix+domain).Err(); err != nil {
		g.log.WithError(err).Warn("failed to invalidate published-domain cache")
	}
}

// gormPersonaReader reads personas from the primary database.
type gormPersonaReader struct {
	db *gorm.DB
}

// NewPersonaReader creates a PersonaReader backed by the database.
func NewPersonaReader(db *gorm.DB) PersonaReader {
	return &gormPersonaReader{db: db}
}

func (r *gormPersonaReader) Get(ctx context.Context, id int) (*model.Persona, error) {
	var p model.Persona
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonaNotFound
		}
		return nil, fmt.Errorf("failed to load persona %d: %w", id, err)
	}
	return &p, nil
}
