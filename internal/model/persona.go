package model

// Persona is the hosted chat persona a domain can be bound to. Prompt
// assembly and customization live elsewhere; the orchestrator only needs
// identity and ownership for the bind check.
type Persona struct {
	BaseModel
	AccountID int    `gorm:"not null;index" json:"account_id"`
	Name      string `gorm:"type:varchar(128);not null" json:"name"`
	Slug      string `gorm:"type:varchar(128);uniqueIndex;not null" json:"slug"`
}

// TableName specifies the table name for Persona model
func (Persona) TableName() string {
	return "personas"
}
