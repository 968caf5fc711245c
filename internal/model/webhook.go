package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Delivery outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Destination is an operator-configured webhook target.
type Destination struct {
	ID       string            `json:"id" db:"id"`
	TenantID *string           `json:"empresa_id,omitempty" db:"tenant_id"` // nil = every tenant
	Name     string            `json:"nome" db:"name"`
	URL      string            `json:"url" db:"url"`
	Enabled  bool              `json:"ativo" db:"enabled"`
	Headers  map[string]string `json:"headers,omitempty" db:"headers"` // JSONB
	Events   []string          `json:"eventos" db:"events"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Subscribes reports whether the destination's allow-list names the event.
func (d *Destination) Subscribes(event EventType) bool {
	for _, e := range d.Events {
		if e == string(event) {
			return true
		}
	}
	return false
}

// InScope reports whether the destination serves the tenant.
func (d *Destination) InScope(tenantID string) bool {
	return d.TenantID == nil || *d.TenantID == "" || *d.TenantID == tenantID
}

// Validate checks a destination before it is stored.
func (d *Destination) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return NewValidationError("nome", "", "destination name is required")
	}
	if !strings.HasPrefix(d.URL, "http://") && !strings.HasPrefix(d.URL, "https://") {
		return NewValidationError("url", d.URL, "expected an http(s) URL")
	}
	for _, e := range d.Events {
		if !EventType(e).Dispatchable() {
			return NewValidationError("eventos", e, "event cannot be subscribed to")
		}
	}
	return nil
}

// Delivery is one logged attempt to deliver an event to a destination.
type Delivery struct {
	ID            string          `json:"id" db:"id"`
	DestinationID string          `json:"destination_id" db:"destination_id"`
	TenantID      string          `json:"empresa_id,omitempty" db:"tenant_id"`
	LeadID        string          `json:"lead_id,omitempty" db:"lead_id"`
	Event         EventType       `json:"event" db:"event"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	StatusCode    int             `json:"status_code" db:"status_code"`
	ResponseBody  string          `json:"response_body,omitempty" db:"response_body"`
	Outcome       string          `json:"outcome" db:"outcome"`
	ErrorKind     string          `json:"error_kind,omitempty" db:"error_kind"`
	Error         string          `json:"error,omitempty" db:"error"`
	DurationMs    int64           `json:"duration_ms" db:"duration_ms"`
	ReplayOf      *string         `json:"replay_of,omitempty" db:"replay_of"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
