package models

import "time"

// AuditEntry is an append-only, tenant-chained integrity record. Each entry's
// hash incorporates the previous entry's hash, so altering or removing any
// row breaks every subsequent hash. Sequence numbers are strictly increasing
// per tenant with no gaps, assigned under the tenant's advisory lock.
type AuditEntry struct {
	ID             int       `gorm:"primary_key" json:"id"`
	TenantId       string    `gorm:"size:64;not null;index:uniq_audit_seq,unique" json:"tenant_id"`
	SequenceNumber int64     `gorm:"not null;index:uniq_audit_seq,unique" json:"sequence_number"`
	UserId         *int      `gorm:"index" json:"user_id"`
	Action         string    `gorm:"size:100;not null" json:"action"`
	EntityType     string    `gorm:"size:100;not null" json:"entity_type"`
	EntityId       *string   `gorm:"size:64" json:"entity_id"`
	PreviousState  *string   `gorm:"type:text" json:"previous_state"`
	NewState       *string   `gorm:"type:text" json:"new_state"`
	Metadata       *string   `gorm:"type:text" json:"metadata"`
	IpAddress      *string   `gorm:"size:45" json:"ip_address"`
	UserAgent      *string   `gorm:"size:255" json:"user_agent"`
	Hash           string    `gorm:"size:64;not null" json:"hash"`
	PreviousHash   *string   `gorm:"size:64" json:"previous_hash"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
