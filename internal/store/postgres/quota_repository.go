// Copyright 2026 The AppForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appforge/usagesync/internal/quota"
	"github.com/appforge/usagesync/internal/tenant"
	"github.com/jackc/pgx/v5"
)

// QuotaRepository implements quota.Store
type QuotaRepository struct {
	db *DB
}

// NewQuotaRepository creates a new usage quota repository
func NewQuotaRepository(db *DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

const selectQuota = `
	SELECT id, tenant_id, revision, usage, limits, quota_reset, updated_at
	FROM usage_quotas
	WHERE tenant_id = $1 AND id = $2
`

// Get retrieves the tenant's usage quota document
func (r *QuotaRepository) Get(ctx context.Context, tc tenant.Context) (*quota.Document, error) {
	doc, err := scanDocument(r.db.pool.QueryRow(ctx, selectQuota, tc.ID, quota.DocumentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, quota.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage quota: %w", err)
	}
	return doc, nil
}

// GetOrCreate retrieves the tenant's usage quota document, inserting the default one if absent
func (r *QuotaRepository) GetOrCreate(ctx context.Context, tc tenant.Context) (*quota.Document, error) {
	if tc.ID == "" {
		return nil, tenant.ErrMissingTenant
	}

	def := quota.NewDocument(tc, time.Now())
	usage, limits, err := marshalCounters(def)
	if err != nil {
		return nil, err
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO usage_quotas (tenant_id, id, revision, usage, limits, quota_reset, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO NOTHING
	`, def.TenantID, def.ID, usage, limits, def.QuotaReset, def.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage quota: %w", err)
	}

	return r.Get(ctx, tc)
}

// Put updates the document if its revision is still current
func (r *QuotaRepository) Put(ctx context.Context, doc *quota.Document) error {
	usage, limits, err := marshalCounters(doc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var revision int64
	err = r.db.pool.QueryRow(ctx, `
		UPDATE usage_quotas SET
			revision = revision + 1,
			usage = $4,
			limits = $5,
			quota_reset = $6,
			updated_at = $7
		WHERE tenant_id = $1 AND id = $2 AND revision = $3
		RETURNING revision
	`, doc.TenantID, doc.ID, doc.Revision, usage, limits, doc.QuotaReset, now).Scan(&revision)

	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to update usage quota: %w", err)
		}
		var current int64
		lookup := r.db.pool.QueryRow(ctx, `
			SELECT revision FROM usage_quotas WHERE tenant_id = $1 AND id = $2
		`, doc.TenantID, doc.ID).Scan(&current)
		if lookup != nil && !errors.Is(lookup, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read usage quota revision: %w", lookup)
		}
		return &quota.ConflictError{
			TenantID:         doc.TenantID,
			ExpectedRevision: doc.Revision,
			CurrentRevision:  current,
		}
	}

	doc.Revision = revision
	doc.UpdatedAt = now
	return nil
}

func marshalCounters(doc *quota.Document) ([]byte, []byte, error) {
	usage, err := json.Marshal(doc.UsageQuota)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode usage: %w", err)
	}
	limits, err := json.Marshal(doc.UsageLimits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode limits: %w", err)
	}
	return usage, limits, nil
}

func scanDocument(row pgx.Row) (*quota.Document, error) {
	var doc quota.Document
	var usage, limits []byte

	if err := row.Scan(&doc.ID, &doc.TenantID, &doc.Revision, &usage, &limits, &doc.QuotaReset, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(usage, &doc.UsageQuota); err != nil {
		return nil, fmt.Errorf("failed to decode usage: %w", err)
	}
	if err := json.Unmarshal(limits, &doc.UsageLimits); err != nil {
		return nil, fmt.Errorf("failed to decode limits: %w", err)
	}
	return &doc, nil
}
