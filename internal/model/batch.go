package model

import "time"

// Batch groups leads exported together for outreach. Leads in a sent batch
// are excluded from later exports.
type Batch struct {
	ID        string     `json:"id" db:"id"`
	TenantID  string     `json:"empresa_id" db:"tenant_id"`
	Name      string     `json:"nome" db:"name"`
	Preset    string     `json:"preset,omitempty" db:"preset"`
	LeadIDs   []string   `json:"lead_ids" db:"lead_ids"`
	Sent      bool       `json:"sent" db:"sent"`
	SentAt    *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
