package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"domainflow/internal/dnsprov"
	"domainflow/internal/model"
	"domainflow/internal/order"
	"domainflow/internal/provider"
	"domainflow/internal/registrar"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Notifier receives order status change notifications. Implementations
// must not block.
type Notifier interface {
	OrderStatusChanged(o *model.DomainOrder)
}

// Options configures provisioning behavior.
type Options struct {
	// Contact is the registrant contact used for purchases.
	Contact registrar.Contact
	// Years is the registration term.
	Years int
	// OriginTarget is the CNAME target all customer domains point at.
	OriginTarget string
	// MaxPurchaseTries bounds retries of transient registrar errors.
	MaxPurchaseTries uint
	// PriceBandPct tolerates upward price drift between the quoted and
	// the purchase-time price, in percent of the quote.
	PriceBandPct int
	// BackoffBase is the initial retry interval for transient registrar
	// errors.
	BackoffBase time.Duration
	// CallTimeout bounds each individual registrar/provisioner call.
	CallTimeout time.Duration
}

func (o *Options) defaults() {
	if o.Years <= 0 {
		o.Years = 1
	}
	if o.MaxPurchaseTries == 0 {
		o.MaxPurchaseTries = 4
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 15 * time.Second
	}
}

// Orchestrator moves orders forward through the provisioning lifecycle.
// Every step is resumable: Advance inspects the persisted state and only
// performs work the order has not passed yet, so webhook redeliveries
// and restarts are safe.
type Orchestrator struct {
	store     order.Store
	registrar registrar.Client
	dns       dnsprov.Provisioner
	notifier  Notifier
	opts      Options
	locks     *orderLocks
	log       *logrus.Entry
}

func New(store order.Store, reg registrar.Client, dns dnsprov.Provisioner, notifier Notifier, opts Options) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		store:     store,
		registrar: reg,
		dns:       dns,
		notifier:  notifier,
		opts:      opts,
		locks:     newOrderLocks(),
		log:       logrus.WithField("component", "orchestrator"),
	}
}

// Advance drives the order as far forward as synchronous work allows:
// payment confirmation, registrar purchase and DNS/SSL setup. Propagation
// and certificate completion are asynchronous and picked up by
// CheckProvisioning. Orders at or beyond dns_configuring are left alone.
func (oc *Orchestrator) Advance(ctx context.Context, orderID int) error {
	unlock := oc.locks.lock(orderID)
	defer unlock()

	o, err := oc.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status.Terminal() {
		oc.log.WithField("order_id", orderID).Warn("advance on failed order ignored")
		return nil
	}

	if o.Status == model.OrderStatusPendingPayment {
		if err := oc.apply(ctx, o, EventPaymentConfirmed); err != nil {
			return err
		}
	}

	if o.Status == model.OrderStatusPaymentCompleted || o.Status == model.OrderStatusRegistering {
		if err := oc.purchase(ctx, o); err != nil {
			return err
		}
	}

	if o.Status == model.OrderStatusRegistered {
		if err := oc.setupDNS(ctx, o); err != nil {
			return err
		}
	}

	return nil
}

// purchase buys the domain at the registrar. Transient registrar errors
// are retried with exponential backoff; a permanent error, or an
// exhausted retry budget, fails the order with the reason recorded.
// Nothing re-drives a registering order on its own, so hanging there
// indefinitely is not an option.
func (oc *Orchestrator) purchase(ctx context.Context, o *model.DomainOrder) error {
	if o.Status == model.OrderStatusPaymentCompleted {
		if err := oc.apply(ctx, o, EventPurchaseStarted); err != nil {
			return err
		}
	}

	maxPrice := o.DomainPriceCents
	if oc.opts.PriceBandPct > 0 {
		maxPrice += o.DomainPriceCents * int64(oc.opts.PriceBandPct) / 100
	}

	op := func() (*registrar.PurchaseResult, error) {
		cctx, cancel := context.WithTimeout(ctx, oc.opts.CallTimeout)
		defer cancel()
		res, err := oc.registrar.Purchase(cctx, registrar.PurchaseRequest{
			Domain:        o.Domain,
			MaxPriceCents: maxPrice,
			Years:         oc.opts.Years,
			Contact:       oc.opts.Contact,
		})
		if err != nil && !provider.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = oc.opts.BackoffBase

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(oc.opts.MaxPurchaseTries),
	)
	if err != nil {
		if provider.IsTransient(err) {
			return oc.fail(ctx, o, fmt.Sprintf("registrar purchase failed after %d attempts: %v",
				oc.opts.MaxPurchaseTries, err))
		}
		return oc.fail(ctx, o, fmt.Sprintf("registrar purchase failed: %v", err))
	}

	if err := oc.store.MarkRegistered(ctx, o.ID, res.ConfirmationID, res.PricePaidCents); err != nil {
		if errors.Is(err, order.ErrStateConflict) {
			// Another path already recorded the purchase.
			return oc.reload(ctx, o)
		}
		return err
	}

	oc.log.WithFields(logrus.Fields{
		"order_id":        o.ID,
		"domain":          o.Domain,
		"confirmation_id": res.ConfirmationID,
	}).Info("domain registered")

	if err := oc.reload(ctx, o); err != nil {
		return err
	}
	oc.notify(o)
	return nil
}

// setupDNS creates the zone, points the apex at the origin and kicks off
// SSL. The order then waits in dns_configuring for the background checker
// to observe propagation.
func (oc *Orchestrator) setupDNS(ctx context.Context, o *model.DomainOrder) error {
	// A retry after a partial failure arrives here already in
	// dns_configuring; only the first run takes the transition.
	if o.Status == model.OrderStatusRegistered {
		if err := oc.apply(ctx, o, EventDNSSetupStarted); err != nil {
			return err
		}
	}

	zone, err := oc.ensureZone(ctx, o.Domain)
	if err != nil {
		return oc.dnsSetupError(ctx, o, err)
	}

	if err := oc.ensureCNAME(ctx, zone.ID, o.Domain, oc.opts.OriginTarget); err != nil {
		return oc.dnsSetupError(ctx, o, err)
	}

	if err := oc.enableSSL(ctx, zone.ID, o.Domain); err != nil {
		return oc.dnsSetupError(ctx, o, err)
	}

	dnsStatus := model.DNSStatusPropagating
	sslStatus := model.SSLStatusProvisioning
	empty := ""
	upd := order.DNSConfigUpdate{
		ZoneID:      &zone.ID,
		Nameservers: zone.Nameservers,
		DNSStatus:   &dnsStatus,
		SSLStatus:   &sslStatus,
		DNSError:    &empty,
		SSLError:    &empty,
	}
	if err := oc.store.UpdateDNSConfig(ctx, o.ID, upd); err != nil {
		return err
	}

	oc.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"domain":   o.Domain,
		"zone_id":  zone.ID,
	}).Info("DNS configured, waiting for propagation")

	if err := oc.reload(ctx, o); err != nil {
		return err
	}
	oc.notify(o)
	return nil
}

// dnsSetupError records a DNS provisioning error. Permanent provider
// errors fail the order; transient ones leave it in dns_configuring so
// the checker retries the setup.
func (oc *Orchestrator) dnsSetupError(ctx context.Context, o *model.DomainOrder, err error) error {
	msg := err.Error()
	dnsStatus := model.DNSStatusError
	upd := order.DNSConfigUpdate{DNSStatus: &dnsStatus, DNSError: &msg, TouchDNSCheck: true}
	if uerr := oc.store.UpdateDNSConfig(ctx, o.ID, upd); uerr != nil {
		oc.log.WithField("order_id", o.ID).WithError(uerr).Error("failed to record DNS error")
	}
	if !provider.IsTransient(err) {
		return oc.fail(ctx, o, fmt.Sprintf("DNS setup failed: %v", err))
	}
	return fmt.Errorf("DNS setup for %s deferred: %w", o.Domain, err)
}

// Provisioner calls run under the configured per-call timeout so a hung
// provider cannot stall a sweep.

func (oc *Orchestrator) ensureZone(ctx context.Context, domain string) (dnsprov.Zone, error) {
	cctx, cancel := context.WithTimeout(ctx, oc.opts.CallTimeout)
	defer cancel()
	return oc.dns.EnsureZone(cctx, domain)
}

func (oc *Orchestrator) ensureCNAME(ctx context.Context, zoneID, name, target string) error {
	cctx, cancel := context.WithTimeout(ctx, oc.opts.CallTimeout)
	defer cancel()
	return oc.dns.EnsureCNAME(cctx, zoneID, name, target)
}

func (oc *Orchestrator) enableSSL(ctx context.Context, zoneID, domain string) error {
	cctx, cancel := context.WithTimeout(ctx, oc.opts.CallTimeout)
	defer cancel()
	return oc.dns.EnableSSL(cctx, zoneID, domain)
}

func (oc *Orchestrator) checkPropagated(ctx context.Context, domain string, ns []string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, oc.opts.CallTimeout)
	defer cancel()
	return oc.dns.CheckPropagation(cctx, domain, ns)
}

func (oc *Orchestrator) checkSSLState(ctx context.Context, zoneID, domain string) (dnsprov.SSLState, error) {
	cctx, cancel := context.WithTimeout(ctx, oc.opts.CallTimeout)
	defer cancel()
	return oc.dns.CheckSSLStatus(cctx, zoneID, domain)
}

// CheckProvisioning polls the asynchronous side of provisioning for one
// order: nameserver propagation while dns_configuring, certificate
// status while dns_active. It is safe to call on any order; states with
// nothing to check are a no-op.
func (oc *Orchestrator) CheckProvisioning(ctx context.Context, orderID int) error {
	unlock := oc.locks.lock(orderID)
	defer unlock()

	o, err := oc.store.Get(ctx, orderID)
	if err != nil {
		return err
	}

	switch o.Status {
	case model.OrderStatusRegistered:
		// DNS setup never ran or was interrupted.
		return oc.setupDNS(ctx, o)
	case model.OrderStatusDNSConfiguring:
		return oc.checkPropagation(ctx, o)
	case model.OrderStatusDNSActive:
		return oc.checkSSL(ctx, o)
	default:
		return nil
	}
}

func (oc *Orchestrator) checkPropagation(ctx context.Context, o *model.DomainOrder) error {
	if o.DNSStatus == model.DNSStatusError {
		// Setup errored earlier; try the whole setup again.
		return oc.setupDNS(ctx, o)
	}

	var ns []string
	if err := o.NameserverList(&ns); err != nil {
		return oc.fail(ctx, o, fmt.Sprintf("corrupt nameserver record: %v", err))
	}

	propagated, err := oc.checkPropagated(ctx, o.Domain, ns)
	if err != nil {
		msg := err.Error()
		upd := order.DNSConfigUpdate{DNSError: &msg, TouchDNSCheck: true}
		return oc.store.UpdateDNSConfig(ctx, o.ID, upd)
	}

	if !propagated {
		empty := ""
		upd := order.DNSConfigUpdate{DNSError: &empty, TouchDNSCheck: true}
		return oc.store.UpdateDNSConfig(ctx, o.ID, upd)
	}

	active := model.DNSStatusActive
	empty := ""
	upd := order.DNSConfigUpdate{DNSStatus: &active, DNSError: &empty, TouchDNSCheck: true}
	if err := oc.store.UpdateDNSConfig(ctx, o.ID, upd); err != nil {
		return err
	}
	if err := oc.apply(ctx, o, EventDNSActive); err != nil {
		return err
	}

	oc.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"domain":   o.Domain,
	}).Info("nameserver delegation active")
	oc.notify(o)

	// The certificate may already be live; check right away instead of
	// waiting a full tick.
	return oc.checkSSL(ctx, o)
}

func (oc *Orchestrator) checkSSL(ctx context.Context, o *model.DomainOrder) error {
	state, err := oc.checkSSLState(ctx, o.ZoneID, o.Domain)
	if err != nil {
		msg := err.Error()
		upd := order.DNSConfigUpdate{SSLError: &msg, TouchSSLCheck: true}
		return oc.store.UpdateDNSConfig(ctx, o.ID, upd)
	}

	switch state {
	case dnsprov.SSLStateActive:
		sslStatus := model.SSLStatusActive
		empty := ""
		upd := order.DNSConfigUpdate{SSLStatus: &sslStatus, SSLError: &empty, TouchSSLCheck: true}
		if err := oc.store.UpdateDNSConfig(ctx, o.ID, upd); err != nil {
			return err
		}
		if err := oc.apply(ctx, o, EventSSLActive); err != nil {
			return err
		}
		oc.log.WithFields(logrus.Fields{
			"order_id": o.ID,
			"domain":   o.Domain,
		}).Info("certificate active, order ready")
		oc.notify(o)
		return nil
	case dnsprov.SSLStateError:
		sslStatus := model.SSLStatusError
		msg := "certificate issuance reported an error"
		upd := order.DNSConfigUpdate{SSLStatus: &sslStatus, SSLError: &msg, TouchSSLCheck: true}
		return oc.store.UpdateDNSConfig(ctx, o.ID, upd)
	default:
		upd := order.DNSConfigUpdate{TouchSSLCheck: true}
		return oc.store.UpdateDNSConfig(ctx, o.ID, upd)
	}
}

// apply validates the event against the transition table and performs the
// compare-and-swap in the store. A state conflict means another worker
// already moved the order; the in-memory copy is refreshed either way.
func (oc *Orchestrator) apply(ctx context.Context, o *model.DomainOrder, event Event) error {
	to, err := Next(o.Status, event)
	if err != nil {
		return err
	}
	if err := oc.store.Transition(ctx, o.ID, o.Status, to); err != nil {
		if errors.Is(err, order.ErrStateConflict) {
			return oc.reload(ctx, o)
		}
		return err
	}
	o.Status = to
	return nil
}

func (oc *Orchestrator) fail(ctx context.Context, o *model.DomainOrder, reason string) error {
	oc.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"domain":   o.Domain,
		"reason":   reason,
	}).Error("order failed")

	if err := oc.store.UpdateStatus(ctx, o.ID, model.OrderStatusFailed, reason); err != nil {
		return err
	}
	o.Status = model.OrderStatusFailed
	o.FailReason = reason
	oc.notify(o)
	return fmt.Errorf("order %d failed: %s", o.ID, reason)
}

func (oc *Orchestrator) reload(ctx context.Context, o *model.DomainOrder) error {
	fresh, err := oc.store.Get(ctx, o.ID)
	if err != nil {
		return err
	}
	*o = *fresh
	return nil
}

func (oc *Orchestrator) notify(o *model.DomainOrder) {
	if oc.notifier == nil {
		return
	}
	oc.notifier.OrderStatusChanged(o)
}

// StaleBefore is a helper for pollers: orders whose last check is older
// than interval (or never checked) are due.
func StaleBefore(o *model.DomainOrder, interval time.Duration, now time.Time) bool {
	last := o.LastDNSCheckAt
	if o.Status == model.OrderStatusDNSActive {
		last = o.LastSSLCheckAt
	}
	return last == nil || now.Sub(*last) >= interval
}
