package memory

import (
	"context"
	"sync"

	"github.com/appforge/usagesync/internal/app"
	"github.com/appforge/usagesync/internal/tenant"
)

// AppDirectory implements app.Directory in memory
type AppDirectory struct {
	mu   sync.RWMutex
	apps map[string][]*app.Summary
}

// NewAppDirectory creates an empty directory
func NewAppDirectory() *AppDirectory {
	return &AppDirectory{apps: make(map[string][]*app.Summary)}
}

// Add registers an application under its tenant
func (d *AppDirectory) Add(s *app.Summary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *s
	d.apps[s.TenantID] = append(d.apps[s.TenantID], &c)
}

// Remove deletes an application, reporting whether it existed
func (d *AppDirectory) Remove(tenantID, appID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.apps[tenantID]
	for i, s := range list {
		if s.ID == appID {
			d.apps[tenantID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// ListApplications returns copies of the tenant's applications matching filter
func (d *AppDirectory) ListApplications(ctx context.Context, tc tenant.Context, filter app.Filter) ([]*app.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*app.Summary
	for _, s := range d.apps[tc.ID] {
		if filter.Matches(s) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}
