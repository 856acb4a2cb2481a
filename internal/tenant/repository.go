package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrMissingTenant  = errors.New("tenant id is required")
)

// Repository defines the interface for tenant storage
type Repository interface {
	GetByID(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
}
