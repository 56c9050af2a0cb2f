package order

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"domainflow/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	// A named shared in-memory database keeps the schema visible across
	// pooled connections while staying isolated per test.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&model.DomainOrder{}, &model.PaymentEvent{}, &model.Persona{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(gdb)
}

func newOrder(domain string) *model.DomainOrder {
	return &model.DomainOrder{
		AccountID:          1,
		Domain:             domain,
		DomainPriceCents:   1299,
		ManagementFeeCents: 500,
		TotalPriceCents:    1799,
		Currency:           "USD",
	}
}

func TestCreateNormalizesAndRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := newOrder("Example.COM")
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Domain != "example.com" {
		t.Errorf("domain not normalized: %q", o.Domain)
	}
	if o.Suffix != "com" {
		t.Errorf("suffix = %q, want com", o.Suffix)
	}
	if o.Status != model.OrderStatusPendingPayment {
		t.Errorf("status = %q, want pending_payment", o.Status)
	}

	err := s.Create(ctx, newOrder("EXAMPLE.com"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrAlreadyExists", err)
	}
}

func TestFindByDomainCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := newOrder("shop.example.net")
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.FindByDomain(ctx, "SHOP.Example.NET")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != o.ID {
		t.Errorf("found order %d, want %d", got.ID, o.ID)
	}

	if _, err := s.FindByDomain(ctx, "missing.example.net"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing domain err = %v, want ErrNotFound", err)
	}
}

func TestTransitionCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := newOrder("cas.example.com")
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Transition(ctx, o.ID, model.OrderStatusPendingPayment, model.OrderStatusPaymentCompleted); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// The same edge again must fail: the order already moved on.
	err := s.Transition(ctx, o.ID, model.OrderStatusPendingPayment, model.OrderStatusPaymentCompleted)
	if !errors.Is(err, ErrStateConflict) {
		t.Errorf("stale transition err = %v, want ErrStateConflict", err)
	}

	got, err := s.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.OrderStatusPaymentCompleted {
		t.Errorf("status = %q, want payment_completed", got.Status)
	}
}

func TestMarkRegistered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := newOrder("reg.example.com")
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Not in registering yet.
	if err := s.MarkRegistered(ctx, o.ID, "conf-1", 1399); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("premature mark err = %v, want ErrStateConflict", err)
	}

	if err := s.UpdateStatus(ctx, o.ID, model.OrderStatusRegistering, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := s.MarkRegistered(ctx, o.ID, "conf-1", 1399); err != nil {
		t.Fatalf("mark registered: %v", err)
	}

	got, _ := s.Get(ctx, o.ID)
	if got.Status != model.OrderStatusRegistered {
		t.Errorf("status = %q, want registered", got.Status)
	}
	if got.RegistrarConfirmationID != "conf-1" {
		t.Errorf("confirmation id = %q, want conf-1", got.RegistrarConfirmationID)
	}
	if got.PurchasePriceCents != 1399 {
		t.Errorf("purchase price = %d, want 1399", got.PurchasePriceCents)
	}
}

func TestUpdateDNSConfigPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := newOrder("dns.example.com")
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	zone := "zone-abc"
	dns := model.DNSStatusPropagating
	err := s.UpdateDNSConfig(ctx, o.ID, DNSConfigUpdate{
		ZoneID:        &zone,
		Nameservers:   []string{"ns1.example-dns.com", "ns2.example-dns.com"},
		DNSStatus:     &dns,
		TouchDNSCheck: true,
	})
	if err != nil {
		t.Fatalf("update dns config: %v", err)
	}

	got, _ := s.Get(ctx, o.ID)
	if got.ZoneID != "zone-abc" {
		t.Errorf("zone id = %q, want zone-abc", got.ZoneID)
	}
	if got.DNSStatus != model.DNSStatusPropagating {
		t.Errorf("dns status = %q, want propagating", got.DNSStatus)
	}
	if got.SSLStatus != model.SSLStatusPending {
		t.Errorf("ssl status changed unexpectedly: %q", got.SSLStatus)
	}
	if got.LastDNSCheckAt == nil {
		t.Error("last dns check not stamped")
	}
	if len(got.Nameservers) == 0 {
		t.Error("nameservers not stored")
	}
}

func publishReady(t *testing.T, s Store, ctx context.Context, domain string) *model.DomainOrder {
	t.Helper()
	o := newOrder(domain)
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.UpdateStatus(ctx, o.ID, model.OrderStatusDNSActive, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	active := model.DNSStatusActive
	if err := s.UpdateDNSConfig(ctx, o.ID, DNSConfigUpdate{DNSStatus: &active}); err != nil {
		t.Fatalf("update dns: %v", err)
	}
	if err := s.BindPersona(ctx, o.ID, 7); err != nil {
		t.Fatalf("bind persona: %v", err)
	}
	return o
}

func TestPublishPreconditions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := newOrder("pub.example.com")
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	// pending_payment, no persona, DNS pending.
	if err := s.Publish(ctx, o.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("publish on fresh order err = %v, want ErrPreconditionFailed", err)
	}

	// Status ok, DNS active, still no persona.
	if err := s.UpdateStatus(ctx, o.ID, model.OrderStatusReady, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	active := model.DNSStatusActive
	if err := s.UpdateDNSConfig(ctx, o.ID, DNSConfigUpdate{DNSStatus: &active}); err != nil {
		t.Fatalf("update dns: %v", err)
	}
	if err := s.Publish(ctx, o.ID); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("publish without persona err = %v, want ErrPreconditionFailed", err)
	}

	if err := s.BindPersona(ctx, o.ID, 3); err != nil {
		t.Fatalf("bind persona: %v", err)
	}
	if err := s.Publish(ctx, o.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Publishing again is a no-op success.
	if err := s.Publish(ctx, o.ID); err != nil {
		t.Fatalf("republish: %v", err)
	}

	got, _ := s.Get(ctx, o.ID)
	if !got.Published || got.PublishedAt == nil {
		t.Errorf("order not published: published=%v at=%v", got.Published, got.PublishedAt)
	}
}

func TestUnbindPersonaForcesUnpublish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := publishReady(t, s, ctx, "unbind.example.com")
	if err := s.Publish(ctx, o.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := s.UnbindPersona(ctx, o.ID); err != nil {
		t.Fatalf("unbind: %v", err)
	}

	got, _ := s.Get(ctx, o.ID)
	if got.PersonaID != nil {
		t.Errorf("persona still bound: %v", *got.PersonaID)
	}
	if got.Published {
		t.Error("order still published after unbind")
	}
	if _, err := s.LookupPublished(ctx, o.Domain); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup after unbind err = %v, want ErrNotFound", err)
	}
}

func TestLookupPublished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := publishReady(t, s, ctx, "live.example.com")

	// Not published yet.
	if _, err := s.LookupPublished(ctx, "live.example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup before publish err = %v, want ErrNotFound", err)
	}

	if err := s.Publish(ctx, o.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := s.LookupPublished(ctx, "LIVE.Example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != o.ID {
		t.Errorf("lookup returned order %d, want %d", got.ID, o.ID)
	}
}
