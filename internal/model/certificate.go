package model

import "time"

// Certificate status constants
const (
	CertificateStatusPending = "pending"
	CertificateStatusIssued  = "issued"
	CertificateStatusFailed  = "failed"
)

// Certificate stores an SSL/TLS certificate issued through the ACME SSL
// backend. Unused when the DNS provider's managed SSL is in effect.
type Certificate struct {
	ID        int       `gorm:"primaryKey;autoIncrement" json:"id"`
	Domain    string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"domain"`
	Status    string    `gorm:"type:varchar(20);not null;default:'pending'" json:"status"` // pending|issued|failed
	CertPem   string    `gorm:"type:text" json:"-"`
	KeyPem    string    `gorm:"type:text" json:"-"`
	ChainPem  string    `gorm:"type:text" json:"-"`
	Issuer    string    `gorm:"type:varchar(255)" json:"issuer"`
	LastError string    `gorm:"type:text" json:"last_error,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Certificate
func (Certificate) TableName() string {
	return "certificates"
}
