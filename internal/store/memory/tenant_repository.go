package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/appforge/usagesync/internal/tenant"
)

// TenantRepository implements tenant.Repository in memory
type TenantRepository struct {
	mu      sync.RWMutex
	tenants map[string]*tenant.Tenant
}

// NewTenantRepository creates a repository holding the given tenants
func NewTenantRepository(tenants ...*tenant.Tenant) *TenantRepository {
	r := &TenantRepository{tenants: make(map[string]*tenant.Tenant)}
	for _, t := range tenants {
		r.Add(t)
	}
	return r
}

// Add stores a tenant
func (r *TenantRepository) Add(t *tenant.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *t
	r.tenants[t.ID] = &c
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	c := *t
	return &c, nil
}

// List returns tenants ordered by ID
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]*tenant.Tenant, 0, len(ids))
	for _, id := range ids {
		c := *r.tenants[id]
		out = append(out, &c)
	}
	return out, nil
}
