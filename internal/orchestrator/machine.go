// Package orchestrator drives paid domain orders through registrar
// purchase, DNS zone setup and SSL activation. The lifecycle itself is a
// pure transition table; all I/O lives in the Orchestrator, which applies
// transitions through the order store's compare-and-swap primitives.
package orchestrator

import (
	"errors"
	"fmt"

	"domainflow/internal/model"
)

// Event is a lifecycle trigger observed by the orchestrator.
type Event string

const (
	// EventPaymentConfirmed fires when a verified payment webhook lands.
	EventPaymentConfirmed Event = "payment_confirmed"
	// EventPurchaseStarted marks the handoff to the registrar.
	EventPurchaseStarted Event = "purchase_started"
	// EventPurchaseSucceeded fires when the registrar confirms the buy.
	EventPurchaseSucceeded Event = "purchase_succeeded"
	// EventDNSSetupStarted marks the start of zone and record creation.
	EventDNSSetupStarted Event = "dns_setup_started"
	// EventDNSActive fires once nameserver delegation has propagated.
	EventDNSActive Event = "dns_active"
	// EventSSLActive fires once the certificate is live.
	EventSSLActive Event = "ssl_active"
	// EventFailed sinks the order from any non-terminal state.
	EventFailed Event = "failed"
)

// ErrInvalidTransition is returned by Next for an event that is not
// legal in the given state. The caller treats it as a signal to skip the
// step, not as a failure of the order.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

var transitions = map[model.OrderStatus]map[Event]model.OrderStatus{
	model.OrderStatusPendingPayment: {
		EventPaymentConfirmed: model.OrderStatusPaymentCompleted,
	},
	model.OrderStatusPaymentCompleted: {
		EventPurchaseStarted: model.OrderStatusRegistering,
	},
	model.OrderStatusRegistering: {
		EventPurchaseSucceeded: model.OrderStatusRegistered,
	},
	model.OrderStatusRegistered: {
		EventDNSSetupStarted: model.OrderStatusDNSConfiguring,
	},
	model.OrderStatusDNSConfiguring: {
		EventDNSActive: model.OrderStatusDNSActive,
	},
	model.OrderStatusDNSActive: {
		EventSSLActive: model.OrderStatusReady,
	},
}

// Next returns the state reached by applying event in state from. Every
// non-terminal state accepts EventFailed. Any other pairing not in the
// table returns ErrInvalidTransition and leaves interpretation to the
// caller.
func Next(from model.OrderStatus, event Event) (model.OrderStatus, error) {
	if from.Terminal() {
		return from, fmt.Errorf("%w: order already %s", ErrInvalidTransition, from)
	}
	if event == EventFailed {
		return model.OrderStatusFailed, nil
	}
	to, ok := transitions[from][event]
	if !ok {
		return from, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, event, from)
	}
	return to, nil
}
