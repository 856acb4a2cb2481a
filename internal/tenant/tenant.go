package tenant

import (
	"time"
)

// Tenant represents an isolated customer workspace with its own apps and usage accounting
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Active reports whether the tenant should take part in usage synchronization
func (t *Tenant) Active() bool {
	return t.Status == StatusActive
}
