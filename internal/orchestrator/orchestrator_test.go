package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"domainflow/internal/dnsprov"
	"domainflow/internal/model"
	"domainflow/internal/order"
	"domainflow/internal/provider"
	"domainflow/internal/registrar"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeRegistrar struct {
	mu            sync.Mutex
	purchases     int
	transientLeft int
	permErr       error
}

func (f *fakeRegistrar) CheckAvailability(ctx context.Context, domain string) (registrar.Availability, error) {
	return registrar.Availability{Purchasable: true, PriceCents: 1299, Currency: "USD"}, nil
}

func (f *fakeRegistrar) Purchase(ctx context.Context, req registrar.PurchaseRequest) (*registrar.PurchaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.permErr != nil {
		return nil, provider.Permanent("registrar.purchase", f.permErr)
	}
	if f.transientLeft > 0 {
		f.transientLeft--
		return nil, provider.Transient("registrar.purchase", errors.New("upstream timeout"))
	}
	f.purchases++
	return &registrar.PurchaseResult{ConfirmationID: "conf-42", PricePaidCents: 1299}, nil
}

func (f *fakeRegistrar) purchaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purchases
}

type fakeProvisioner struct {
	mu                 sync.Mutex
	zoneCreates        int
	cnameTransientLeft int
	propagated         bool
	ssl                dnsprov.SSLState
}

func (f *fakeProvisioner) EnsureZone(ctx context.Context, domain string) (dnsprov.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zoneCreates++
	return dnsprov.Zone{ID: "zone-1", Nameservers: []string{"ns1.test.", "ns2.test."}}, nil
}

func (f *fakeProvisioner) EnsureCNAME(ctx context.Context, zoneID, name, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cnameTransientLeft > 0 {
		f.cnameTransientLeft--
		return provider.Transient("cloudflare.record", errors.New("api unreachable"))
	}
	return nil
}

func (f *fakeProvisioner) EnableSSL(ctx context.Context, zoneID, domain string) error {
	return nil
}

func (f *fakeProvisioner) CheckPropagation(ctx context.Context, domain string, expected []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.propagated, nil
}

func (f *fakeProvisioner) CheckSSLStatus(ctx context.Context, zoneID, domain string) (dnsprov.SSLState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ssl == "" {
		return dnsprov.SSLStateProvisioning, nil
	}
	return f.ssl, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []model.OrderStatus
}

func (n *recordingNotifier) OrderStatusChanged(o *model.DomainOrder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, o.Status)
}

func newTestStore(t *testing.T) order.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&model.DomainOrder{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return order.NewStore(gdb)
}

func newTestOrchestrator(t *testing.T, reg *fakeRegistrar, dns *fakeProvisioner) (*Orchestrator, order.Store, *recordingNotifier) {
	t.Helper()
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	oc := New(store, reg, dns, notifier, Options{
		OriginTarget:     "origin.platform.test",
		MaxPurchaseTries: 2,
		BackoffBase:      time.Millisecond,
	})
	return oc, store, notifier
}

func createPaidOrder(t *testing.T, store order.Store, domain string) *model.DomainOrder {
	t.Helper()
	o := &model.DomainOrder{
		AccountID:        1,
		Domain:           domain,
		DomainPriceCents: 1299,
		TotalPriceCents:  1799,
	}
	if err := store.Create(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestAdvanceRunsPurchaseAndDNSSetup(t *testing.T) {
	reg := &fakeRegistrar{}
	dns := &fakeProvisioner{}
	oc, store, notifier := newTestOrchestrator(t, reg, dns)
	ctx := context.Background()

	o := createPaidOrder(t, store, "shop.example.com")
	if err := oc.Advance(ctx, o.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got, _ := store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusDNSConfiguring {
		t.Errorf("status = %s, want dns_configuring", got.Status)
	}
	if got.RegistrarConfirmationID != "conf-42" {
		t.Errorf("confirmation id = %q", got.RegistrarConfirmationID)
	}
	if got.ZoneID != "zone-1" {
		t.Errorf("zone id = %q", got.ZoneID)
	}
	if got.DNSStatus != model.DNSStatusPropagating {
		t.Errorf("dns status = %s, want propagating", got.DNSStatus)
	}
	if got.SSLStatus != model.SSLStatusProvisioning {
		t.Errorf("ssl status = %s, want provisioning", got.SSLStatus)
	}
	if reg.purchaseCount() != 1 {
		t.Errorf("purchases = %d, want 1", reg.purchaseCount())
	}

	// Redelivery after completion must not buy again.
	if err := oc.Advance(ctx, o.ID); err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if reg.purchaseCount() != 1 {
		t.Errorf("purchases after redelivery = %d, want 1", reg.purchaseCount())
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.statuses) == 0 {
		t.Error("no status notifications emitted")
	}
}

func TestAdvanceConcurrentRedelivery(t *testing.T) {
	reg := &fakeRegistrar{}
	dns := &fakeProvisioner{}
	oc, store, _ := newTestOrchestrator(t, reg, dns)
	ctx := context.Background()

	o := createPaidOrder(t, store, "race.example.com")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = oc.Advance(ctx, o.ID)
		}()
	}
	wg.Wait()

	if reg.purchaseCount() != 1 {
		t.Errorf("purchases = %d, want exactly 1", reg.purchaseCount())
	}
	if dns.zoneCreates != 1 {
		t.Errorf("zone setups = %d, want exactly 1", dns.zoneCreates)
	}
}

func TestAdvanceRetriesTransientErrors(t *testing.T) {
	reg := &fakeRegistrar{transientLeft: 1}
	dns := &fakeProvisioner{}
	oc, store, _ := newTestOrchestrator(t, reg, dns)
	ctx := context.Background()

	o := createPaidOrder(t, store, "retry.example.com")
	if err := oc.Advance(ctx, o.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got, _ := store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusDNSConfiguring {
		t.Errorf("status = %s, want dns_configuring", got.Status)
	}
	if reg.purchaseCount() != 1 {
		t.Errorf("purchases = %d, want 1", reg.purchaseCount())
	}
}

func TestAdvanceFailsOrderOnExhaustedRetries(t *testing.T) {
	reg := &fakeRegistrar{transientLeft: 10}
	dns := &fakeProvisioner{}
	oc, store, _ := newTestOrchestrator(t, reg, dns)
	ctx := context.Background()

	o := createPaidOrder(t, store, "flaky.example.com")
	if err := oc.Advance(ctx, o.ID); err == nil {
		t.Fatal("expected advance to report the failure")
	}

	// The retry budget ran out; the order must land in failed with a
	// recorded reason rather than sit in registering with nothing left
	// to drive it.
	got, _ := store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.FailReason, "registrar purchase failed") {
		t.Errorf("fail reason = %q", got.FailReason)
	}
	if reg.purchaseCount() != 0 {
		t.Errorf("purchases = %d, want 0", reg.purchaseCount())
	}
}

func TestAdvanceFailsOrderOnPermanentError(t *testing.T) {
	reg := &fakeRegistrar{permErr: registrar.ErrNotAvailable}
	dns := &fakeProvisioner{}
	oc, store, _ := newTestOrchestrator(t, reg, dns)
	ctx := context.Background()

	o := createPaidOrder(t, store, "gone.example.com")
	if err := oc.Advance(ctx, o.ID); err == nil {
		t.Fatal("expected advance to report the failure")
	}

	got, _ := store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.FailReason == "" {
		t.Error("fail reason not recorded")
	}

	// A redelivery on a failed order is ignored.
	if err := oc.Advance(ctx, o.ID); err != nil {
		t.Errorf("advance on failed order: %v", err)
	}
	if reg.purchaseCount() != 0 {
		t.Errorf("purchases = %d, want 0", reg.purchaseCount())
	}
}

func TestCheckProvisioningRetriesFailedDNSSetup(t *testing.T) {
	reg := &fakeRegistrar{}
	dns := &fakeProvisioner{cnameTransientLeft: 1}
	oc, store, _ := newTestOrchestrator(t, reg, dns)
	ctx := context.Background()

	o := createPaidOrder(t, store, "hiccup.example.com")
	if err := oc.Advance(ctx, o.ID); err == nil {
		t.Fatal("expected advance to surface the setup error")
	}

	// The CNAME call failed mid-setup: the order sits in dns_configuring
	// with the error recorded and no zone config written.
	got, _ := store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusDNSConfiguring {
		t.Fatalf("status = %s, want dns_configuring", got.Status)
	}
	if got.DNSStatus != model.DNSStatusError {
		t.Errorf("dns status = %s, want error", got.DNSStatus)
	}
	if got.DNSError == "" {
		t.Error("dns error not recorded")
	}
	if got.ZoneID != "" {
		t.Errorf("zone id = %q, want empty", got.ZoneID)
	}

	// The next sweep reruns the whole setup and gets past the hiccup.
	if err := oc.CheckProvisioning(ctx, o.ID); err != nil {
		t.Fatalf("check: %v", err)
	}
	got, _ = store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusDNSConfiguring {
		t.Errorf("status = %s, want dns_configuring", got.Status)
	}
	if got.DNSStatus != model.DNSStatusPropagating {
		t.Errorf("dns status = %s, want propagating", got.DNSStatus)
	}
	if got.ZoneID != "zone-1" {
		t.Errorf("zone id = %q, want zone-1", got.ZoneID)
	}
	if got.DNSError != "" {
		t.Errorf("dns error = %q, want cleared", got.DNSError)
	}
}

func TestCheckProvisioningToReady(t *testing.T) {
	reg := &fakeRegistrar{}
	dns := &fakeProvisioner{}
	oc, store, _ := newTestOrchestrator(t, reg, dns)
	ctx := context.Background()

	o := createPaidOrder(t, store, "check.example.com")
	if err := oc.Advance(ctx, o.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// Nothing has propagated yet: the order must hold its state.
	if err := oc.CheckProvisioning(ctx, o.ID); err != nil {
		t.Fatalf("check: %v", err)
	}
	got, _ := store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusDNSConfiguring {
		t.Errorf("status = %s, want dns_configuring", got.Status)
	}
	if got.LastDNSCheckAt == nil {
		t.Error("dns check timestamp not stamped")
	}

	// Delegation lands but the certificate is still pending.
	dns.mu.Lock()
	dns.propagated = true
	dns.mu.Unlock()
	if err := oc.CheckProvisioning(ctx, o.ID); err != nil {
		t.Fatalf("check: %v", err)
	}
	got, _ = store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusDNSActive {
		t.Errorf("status = %s, want dns_active", got.Status)
	}
	if got.DNSStatus != model.DNSStatusActive {
		t.Errorf("dns status = %s, want active", got.DNSStatus)
	}

	// Certificate goes live.
	dns.mu.Lock()
	dns.ssl = dnsprov.SSLStateActive
	dns.mu.Unlock()
	if err := oc.CheckProvisioning(ctx, o.ID); err != nil {
		t.Fatalf("check: %v", err)
	}
	got, _ = store.Get(ctx, o.ID)
	if got.Status != model.OrderStatusReady {
		t.Errorf("status = %s, want ready", got.Status)
	}
	if got.SSLStatus != model.SSLStatusActive {
		t.Errorf("ssl status = %s, want active", got.SSLStatus)
	}
}
