package app

import (
	"context"
	"time"

	"github.com/appforge/usagesync/internal/tenant"
)

// Application states
const (
	StatusDevelopment = "development"
	StatusPublished   = "published"
)

// Summary is the minimal descriptor of an application in a tenant's inventory
type Summary struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows a directory listing
type Filter struct {
	// Development restricts the listing to apps in their editable state
	Development bool
}

// Matches reports whether the summary passes the filter
func (f Filter) Matches(s *Summary) bool {
	if f.Development && s.Status != StatusDevelopment {
		return false
	}
	return true
}

// Directory lists the applications of a tenant
type Directory interface {
	ListApplications(ctx context.Context, tc tenant.Context, filter Filter) ([]*Summary, error)
}
