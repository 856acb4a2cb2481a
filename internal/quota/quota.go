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

package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appforge/usagesync/internal/tenant"
)

// DocumentID is the stable key of the usage quota document inside a tenant partition
const DocumentID = "usage_quota"

// Unlimited marks a limit with no upper bound
const Unlimited = -1

var (
	ErrNotFound         = errors.New("usage quota document not found")
	ErrRevisionConflict = errors.New("usage quota revision conflict")
)

// ConflictError is returned by Store.Put when the stored revision moved on
type ConflictError struct {
	TenantID         string
	ExpectedRevision int64
	CurrentRevision  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("usage quota revision conflict for tenant %s: expected %d, current %d",
		e.TenantID, e.ExpectedRevision, e.CurrentRevision)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

// Usage holds consumption counters for a tenant
type Usage struct {
	Apps           int64 `json:"apps"`
	Rows           int64 `json:"rows"`
	Plugins        int64 `json:"plugins"`
	Users          int64 `json:"users"`
	UserGroups     int64 `json:"user_groups"`
	AutomationRuns int64 `json:"automation_runs"`
	Emails         int64 `json:"emails"`
	Storage        int64 `json:"storage"`
}

// Limits holds plan limits matching Usage; Unlimited disables a limit
type Limits struct {
	Apps           int64 `json:"apps"`
	Rows           int64 `json:"rows"`
	Plugins        int64 `json:"plugins"`
	Users          int64 `json:"users"`
	UserGroups     int64 `json:"user_groups"`
	AutomationRuns int64 `json:"automation_runs"`
	Emails         int64 `json:"emails"`
	Storage        int64 `json:"storage"`
}

// DefaultLimits returns the limits applied to a newly created document
func DefaultLimits() Limits {
	return Limits{
		Apps:           Unlimited,
		Rows:           Unlimited,
		Plugins:        Unlimited,
		Users:          Unlimited,
		UserGroups:     Unlimited,
		AutomationRuns: Unlimited,
		Emails:         Unlimited,
		Storage:        Unlimited,
	}
}

// Document is the per-tenant usage quota record
type Document struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Revision    int64     `json:"revision"`
	UsageQuota  Usage     `json:"usage_quota"`
	UsageLimits Limits    `json:"usage_limits"`
	QuotaReset  time.Time `json:"quota_reset"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewDocument returns the default document for a tenant: zero usage,
// default limits, reset at the start of next month.
func NewDocument(tc tenant.Context, now time.Time) *Document {
	return &Document{
		ID:          DocumentID,
		TenantID:    tc.ID,
		UsageLimits: DefaultLimits(),
		QuotaReset:  NextReset(now),
		UpdatedAt:   now.UTC(),
	}
}

// NextReset returns the first instant of the month following now, in UTC
func NextReset(now time.Time) time.Time {
	n := now.UTC()
	return time.Date(n.Year(), n.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Exceeded reports whether app usage is over the plan limit
func (d *Document) Exceeded() bool {
	return d.UsageLimits.Apps != Unlimited && d.UsageQuota.Apps > d.UsageLimits.Apps
}

// Store loads and persists usage quota documents in a tenant's administrative database
type Store interface {
	// Get returns the stored document or ErrNotFound.
	Get(ctx context.Context, tc tenant.Context) (*Document, error)
	// GetOrCreate returns the stored document, creating a default one if absent.
	GetOrCreate(ctx context.Context, tc tenant.Context) (*Document, error)
	// Put persists doc when doc.Revision matches the stored revision and
	// advances doc.Revision; otherwise it fails with ErrRevisionConflict.
	Put(ctx context.Context, doc *Document) error
}
