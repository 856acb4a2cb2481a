package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/appforge/usagesync/internal/app"
	"github.com/appforge/usagesync/internal/quota"
	"github.com/appforge/usagesync/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that GetOrCreate creates exactly one default document per tenant.
// Scope: Unit Test
// Expected: Repeated calls return the same stored document; Get without create reports ErrNotFound.
// Test Case ID: MEM-01
func TestQuotaStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := NewQuotaStore()
	tc := tenant.Context{ID: "acme"}

	_, err := s.Get(ctx, tc)
	assert.ErrorIs(t, err, quota.ErrNotFound)

	first, err := s.GetOrCreate(ctx, tc)
	require.NoError(t, err)
	first.UsageQuota.Apps = 99 // mutating the returned copy must not leak into the store

	second, err := s.GetOrCreate(ctx, tc)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.UsageQuota.Apps)

	_, err = s.GetOrCreate(ctx, tenant.Context{})
	assert.ErrorIs(t, err, tenant.ErrMissingTenant)
}

// TestPurpose: Validates compare-and-swap semantics of Put.
// Scope: Unit Test
// Expected: A stale revision is rejected with ConflictError; the current revision advances.
// Test Case ID: MEM-02
func TestQuotaStore_Put_RevisionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewQuotaStore()
	tc := tenant.Context{ID: "acme"}

	a, _ := s.GetOrCreate(ctx, tc)
	b, _ := s.GetOrCreate(ctx, tc)

	a.UsageQuota.Apps = 1
	require.NoError(t, s.Put(ctx, a))
	assert.Equal(t, int64(1), a.Revision)

	b.UsageQuota.Apps = 2
	err := s.Put(ctx, b)
	var ce *quota.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(0), ce.ExpectedRevision)
	assert.Equal(t, int64(1), ce.CurrentRevision)

	stored, _ := s.Get(ctx, tc)
	assert.Equal(t, int64(1), stored.UsageQuota.Apps)
}

// TestPurpose: Validates that concurrent writers never both succeed against the same revision.
// Scope: Unit Test
// Expected: Exactly one of N concurrent puts from the same revision succeeds.
// Test Case ID: MEM-03
func TestQuotaStore_Put_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewQuotaStore()
	tc := tenant.Context{ID: "acme"}
	_, err := s.GetOrCreate(ctx, tc)
	require.NoError(t, err)

	const writers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < writers; i++ {
		doc, _ := s.Get(ctx, tc)
		doc.UsageQuota.Apps = int64(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Put(ctx, doc) == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
}

// TestPurpose: Validates that the application directory isolates tenants and honors the development filter.
// Scope: Unit Test
// Security: Multi-tenant data separation
// Expected: Only the requested tenant's development apps are listed.
// Test Case ID: MEM-04
func TestAppDirectory_ListApplications(t *testing.T) {
	ctx := context.Background()
	d := NewAppDirectory()
	d.Add(&app.Summary{ID: "a1", TenantID: "acme", Status: app.StatusDevelopment})
	d.Add(&app.Summary{ID: "a2", TenantID: "acme", Status: app.StatusPublished})
	d.Add(&app.Summary{ID: "b1", TenantID: "globex", Status: app.StatusDevelopment})

	dev, err := d.ListApplications(ctx, tenant.Context{ID: "acme"}, app.Filter{Development: true})
	require.NoError(t, err)
	require.Len(t, dev, 1)
	assert.Equal(t, "a1", dev[0].ID)

	all, err := d.ListApplications(ctx, tenant.Context{ID: "acme"}, app.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.True(t, d.Remove("acme", "a1"))
	assert.False(t, d.Remove("acme", "a1"))
	dev, _ = d.ListApplications(ctx, tenant.Context{ID: "acme"}, app.Filter{Development: true})
	assert.Empty(t, dev)
}

// TestPurpose: Validates ordered, paged tenant listing.
// Scope: Unit Test
// Expected: Pages are ID-ordered and an offset past the end yields nothing.
// Test Case ID: MEM-05
func TestTenantRepository_List(t *testing.T) {
	ctx := context.Background()
	r := NewTenantRepository(
		&tenant.Tenant{ID: "c"}, &tenant.Tenant{ID: "a"}, &tenant.Tenant{ID: "b"},
	)

	page, err := r.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, _ = r.List(ctx, 2, 2)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)

	page, _ = r.List(ctx, 2, 5)
	assert.Empty(t, page)

	_, err = r.GetByID(ctx, "zzz")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}
