package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that tenant-scoped operations strictly require a non-empty tenant ID to prevent global data exposure.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement
// Expected: Returns ErrMissingTenant when an empty tenant ID is provided.
// Test Case ID: TEN-01
func TestTenant_NewContext_RequiresID(t *testing.T) {
	_, err := NewContext("")
	assert.ErrorIs(t, err, ErrMissingTenant)

	tc, err := NewContext("acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", tc.String())
}

// TestPurpose: Validates that the tenant context round-trips through context.Context.
// Scope: Unit Test
// Expected: FromContext returns the stored tenant, and reports absence on a bare context.
// Test Case ID: TEN-02
func TestTenant_ContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithContext(context.Background(), Context{ID: "acme"})
	tc, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "acme", tc.ID)
}

// TestPurpose: Validates that only active tenants take part in synchronization.
// Scope: Unit Test
// Expected: Active() is true only for StatusActive.
// Test Case ID: TEN-03
func TestTenant_Active(t *testing.T) {
	assert.True(t, (&Tenant{Status: StatusActive}).Active())
	assert.False(t, (&Tenant{Status: StatusInactive}).Active())
	assert.False(t, (&Tenant{}).Active())
}
