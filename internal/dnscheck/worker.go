// Package dnscheck runs the background poller that watches DNS
// propagation and certificate issuance for in-flight orders.
package dnscheck

import (
	"context"
	"time"

	"domainflow/internal/model"
	"domainflow/internal/orchestrator"
	"domainflow/internal/order"

	"github.com/sirupsen/logrus"
)

// Checker is the orchestrator surface the worker needs.
type Checker interface {
	CheckProvisioning(ctx context.Context, orderID int) error
}

// Worker periodically re-checks orders that are waiting on external
// state: propagation while dns_configuring, certificates while
// dns_active, plus registered orders whose DNS setup was interrupted.
type Worker struct {
	store    order.Store
	checker  Checker
	interval time.Duration
	batch    int
	stopCh   chan struct{}
	doneCh   chan struct{}
	log      *logrus.Entry
}

func NewWorker(store order.Store, checker Checker, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &Worker{
		store:    store,
		checker:  checker,
		interval: interval,
		batch:    batch,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      logrus.WithField("component", "dnscheck"),
	}
}

// Start launches the polling loop in its own goroutine.
func (w *Worker) Start() {
	w.log.WithField("interval", w.interval).Info("worker started")
	go w.run()
}

// Stop signals the loop to exit and waits for the in-flight sweep.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.log.Info("worker stopped")
}

func (w *Worker) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep checks every order that is waiting on provisioning and is due
// per the check interval.
func (w *Worker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	pending := []model.OrderStatus{
		model.OrderStatusRegistered,
		model.OrderStatusDNSConfiguring,
		model.OrderStatusDNSActive,
	}

	now := time.Now()
	checked := 0
	for _, status := range pending {
		orders, err := w.store.ListByStatus(ctx, status, w.batch)
		if err != nil {
			w.log.WithError(err).Error("failed to list orders")
			continue
		}
		for i := range orders {
			o := &orders[i]
			if !orchestrator.StaleBefore(o, w.interval, now) {
				continue
			}
			if err := w.checker.CheckProvisioning(ctx, o.ID); err != nil {
				w.log.WithFields(logrus.Fields{
					"order_id": o.ID,
					"domain":   o.Domain,
				}).WithError(err).Warn("provisioning check failed")
			}
			checked++
		}
	}

	if checked > 0 {
		w.log.WithField("orders", checked).Debug("sweep complete")
	}
}
