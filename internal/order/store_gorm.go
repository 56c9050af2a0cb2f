package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"domainflow/internal/domainutil"
	"domainflow/internal/model"

	"gorm.io/gorm"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a gorm-backed order store
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Create(ctx context.Context, o *model.DomainOrder) error {
	normalized, err := domainutil.Normalize(o.Domain)
	if err != nil {
		return fmt.Errorf("invalid domain: %w", err)
	}
	o.Domain = normalized
	if o.Suffix == "" {
		o.Suffix = domainutil.Suffix(normalized)
	}
	if o.Status == "" {
		o.Status = model.OrderStatusPendingPayment
	}
	if o.DNSStatus == "" {
		o.DNSStatus = model.DNSStatusPending
	}
	if o.SSLStatus == "" {
		o.SSLStatus = model.SSLStatusPending
	}

	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, id int) (*model.DomainOrder, error) {
	var o model.DomainOrder
	if err := s.db.WithContext(ctx).First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return &o, nil
}

func (s *gormStore) FindByDomain(ctx context.Context, domain string) (*model.DomainOrder, error) {
	normalized, err := domainutil.Normalize(domain)
	if err != nil {
		return nil, ErrNotFound
	}

	var o model.DomainOrder
	if err := s.db.WithContext(ctx).Where("domain = ?", normalized).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find order by domain %s: %w", normalized, err)
	}
	return &o, nil
}

func (s *gormStore) ListByAccount(ctx context.Context, accountID int) ([]model.DomainOrder, error) {
	var orders []model.DomainOrder
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for account %d: %w", accountID, err)
	}
	return orders, nil
}

func (s *gormStore) ListByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]model.DomainOrder, error) {
	var orders []model.DomainOrder
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders in status %s: %w", status, err)
	}
	return orders, nil
}

func (s *gormStore) UpdateStatus(ctx context.Context, id int, status model.OrderStatus, reason string) error {
	updates := map[string]interface{}{"status": status}
	if reason != "" {
		updates["fail_reason"] = reason
	}

	res := s.db.WithContext(ctx).Model(&model.DomainOrder{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update status of order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) Transition(ctx context.Context, id int, from, to model.OrderStatus) error {
	res := s.db.WithContext(ctx).Model(&model.DomainOrder{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("failed to transition order %d %s->%s: %w", id, from, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

func (s *gormStore) MarkRegistered(ctx context.Context, id int, confirmationID string, pricePaidCents int64) error {
	res := s.db.WithContext(ctx).Model(&model.DomainOrder{}).
		Where("id = ? AND status = ?", id, model.OrderStatusRegistering).
		Updates(map[string]interface{}{
			"status":                    model.OrderStatusRegistered,
			"registrar_confirmation_id": confirmationID,
			"purchase_price_cents":      pricePaidCents,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark order %d registered: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

func (s *gormStore) UpdateDNSConfig(ctx context.Context, id int, upd DNSConfigUpdate) error {
	updates := map[string]interface{}{}
	if upd.ZoneID != nil {
		updates["zone_id"] = *upd.ZoneID
	}
	if upd.Nameservers != nil {
		data, err := json.Marshal(upd.Nameservers)
		if err != nil {
			return fmt.Errorf("failed to marshal nameservers: %w", err)
		}
		updates["nameservers"] = data
	}
	if upd.DNSStatus != nil {
		updates["dns_status"] = *upd.DNSStatus
	}
	if upd.SSLStatus != nil {
		updates["ssl_status"] = *upd.SSLStatus
	}
	if upd.DNSError != nil {
		updates["dns_error"] = *upd.DNSError
	}
	if upd.SSLError != nil {
		updates["ssl_error"] = *upd.SSLError
	}
	now := time.Now()
	if upd.TouchDNSCheck {
		updates["last_dns_check_at"] = now
	}
	if upd.TouchSSLCheck {
		updates["last_ssl_check_at"] = now
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&model.DomainOrder{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update DNS config of order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) BindPersona(ctx context.Context, id, personaID int) error {
	res := s.db.WithContext(ctx).Model(&model.DomainOrder{}).
		Where("id = ?", id).
		Update("persona_id", personaID)
	if res.Error != nil {
		return fmt.Errorf("failed to bind persona to order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) UnbindPersona(ctx context.Context, id int) error {
	// Clearing the persona forces unpublish in the same write.
	res := s.db.WithContext(ctx).Model(&model.DomainOrder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"persona_id":   nil,
			"published":    false,
			"published_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to unbind persona from order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// publishableStatuses are the lifecycle statuses at or beyond registered.
var publishableStatuses = []model.OrderStatus{
	model.OrderStatusRegistered,
	model.OrderStatusDNSConfiguring,
	model.OrderStatusDNSActive,
	model.OrderStatusReady,
}

func (s *gormStore) Publish(ctx context.Context, id int) error {
	// Preconditions are re-checked in the WHERE clause of the write
	// itself, so two concurrent publishes cannot both pass a stale
	// check.
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.DomainOrder{}).
		Where("id = ? AND published = ? AND status IN ? AND dns_status = ? AND persona_id IS NOT NULL",
			id, false, publishableStatuses, model.DNSStatusActive).
		Updates(map[string]interface{}{
			"published":    true,
			"published_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to publish order %d: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// No row updated: either already published (idempotent success) or
	// the preconditions do not hold.
	o, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Published {
		return nil
	}
	return ErrPreconditionFailed
}

func (s *gormStore) Unpublish(ctx context.Context, id int) error {
	res := s.db.WithContext(ctx).Model(&model.DomainOrder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"published":    false,
			"published_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to unpublish order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) LookupPublished(ctx context.Context, domain string) (*model.DomainOrder, error) {
	normalized, err := domainutil.Normalize(domain)
	if err != nil {
		return nil, ErrNotFound
	}

	var o model.DomainOrder
	err = s.db.WithContext(ctx).
		Where("domain = ? AND published = ?", normalized, true).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up published domain %s: %w", normalized, err)
	}
	return &o, nil
}

// isDuplicateKey detects unique-constraint violations across the MySQL
// and sqlite drivers.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
