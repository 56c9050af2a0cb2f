package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// OrderStatus represents the lifecycle status of a domain order.
type OrderStatus string

const (
	OrderStatusPendingPayment   OrderStatus = "pending_payment"
	OrderStatusPaymentCompleted OrderStatus = "payment_completed"
	OrderStatusRegistering      OrderStatus = "registering"
	OrderStatusRegistered       OrderStatus = "registered"
	OrderStatusDNSConfiguring   OrderStatus = "dns_configuring"
	OrderStatusDNSActive        OrderStatus = "dns_active"
	OrderStatusReady            OrderStatus = "ready"
	OrderStatusFailed           OrderStatus = "failed"
)

// statusRank orders lifecycle statuses for "at least" comparisons.
// failed is terminal and deliberately absent.
var statusRank = map[OrderStatus]int{
	OrderStatusPendingPayment:   0,
	OrderStatusPaymentCompleted: 1,
	OrderStatusRegistering:      2,
	OrderStatusRegistered:       3,
	OrderStatusDNSConfiguring:   4,
	OrderStatusDNSActive:        5,
	OrderStatusReady:            6,
}

// AtLeast reports whether s is at or beyond other in the forward
// lifecycle. failed compares false against everything.
func (s OrderStatus) AtLeast(other OrderStatus) bool {
	a, ok1 := statusRank[s]
	b, ok2 := statusRank[other]
	return ok1 && ok2 && a >= b
}

// Terminal reports whether no further lifecycle transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFailed
}

// DNSStatus represents the DNS provisioning dimension of an order.
type DNSStatus string

const (
	DNSStatusPending     DNSStatus = "pending"
	DNSStatusConfiguring DNSStatus = "configuring"
	DNSStatusPropagating DNSStatus = "propagating"
	DNSStatusActive      DNSStatus = "active"
	DNSStatusError       DNSStatus = "error"
)

// SSLStatus represents the SSL provisioning dimension of an order.
type SSLStatus string

const (
	SSLStatusPending      SSLStatus = "pending"
	SSLStatusProvisioning SSLStatus = "provisioning"
	SSLStatusActive       SSLStatus = "active"
	SSLStatusError        SSLStatus = "error"
)

// DomainOrder is the central entity: one paid domain purchase driven
// through registrar purchase, DNS/SSL setup and publication.
//
// Domain is stored canonical lower-case and is unique. Prices are cents in
// Currency; PurchasePriceCents snapshots the registrar price at the moment
// of purchase since the quoted price can go stale between order creation
// and payment confirmation.
type DomainOrder struct {
	BaseModel
	AccountID int    `gorm:"not null;index" json:"account_id"`
	Domain    string `gorm:"type:varchar(255);uniqueIndex;not null" json:"domain"`
	Suffix    string `gorm:"type:varchar(64);not null" json:"suffix"`

	DomainPriceCents   int64  `gorm:"not null;default:0" json:"domain_price_cents"`
	ManagementFeeCents int64  `gorm:"not null;default:0" json:"management_fee_cents"`
	TotalPriceCents    int64  `gorm:"not null;default:0" json:"total_price_cents"`
	PurchasePriceCents int64  `gorm:"not null;default:0" json:"purchase_price_cents"`
	Currency           string `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`

	Status     OrderStatus `gorm:"type:varchar(32);not null;default:'pending_payment';index" json:"status"`
	DNSStatus  DNSStatus   `gorm:"type:varchar(32);not null;default:'pending'" json:"dns_status"`
	SSLStatus  SSLStatus   `gorm:"type:varchar(32);not null;default:'pending'" json:"ssl_status"`
	FailReason string      `gorm:"type:text" json:"fail_reason,omitempty"`

	RegistrarConfirmationID string         `gorm:"type:varchar(128)" json:"registrar_confirmation_id,omitempty"`
	ZoneID                  string         `gorm:"type:varchar(128);index" json:"zone_id,omitempty"`
	Nameservers             datatypes.JSON `gorm:"type:json" json:"nameservers,omitempty"`
	LastDNSCheckAt          *time.Time     `json:"last_dns_check_at,omitempty"`
	LastSSLCheckAt          *time.Time     `json:"last_ssl_check_at,omitempty"`
	DNSError                string         `gorm:"type:text" json:"dns_error,omitempty"`
	SSLError                string         `gorm:"type:text" json:"ssl_error,omitempty"`

	PersonaID   *int       `gorm:"index" json:"persona_id,omitempty"`
	Published   bool       `gorm:"not null;default:false;index" json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// NameserverList decodes the stored nameserver set into dst. An empty
// column leaves dst untouched.
func (o *DomainOrder) NameserverList(dst *[]string) error {
	if len(o.Nameservers) == 0 {
		return nil
	}
	return json.Unmarshal(o.Nameservers, dst)
}

// TableName specifies the table name for DomainOrder model
func (DomainOrder) TableName() string {
	return "domain_orders"
}
