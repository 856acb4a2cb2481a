package memory

import (
	"context"
	"sync"
	"time"

	"github.com/appforge/usagesync/internal/quota"
	"github.com/appforge/usagesync/internal/tenant"
)

// QuotaStore implements quota.Store in memory
type QuotaStore struct {
	mu   sync.Mutex
	docs map[string]*quota.Document
	now  func() time.Time
}

// NewQuotaStore creates an empty quota store
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{
		docs: make(map[string]*quota.Document),
		now:  time.Now,
	}
}

// Seed stores doc as-is, replacing any existing document for its tenant
func (s *QuotaStore) Seed(doc *quota.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.TenantID] = doc.Clone()
}

// Get returns a copy of the stored document
func (s *QuotaStore) Get(ctx context.Context, tc tenant.Context) (*quota.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[tc.ID]
	if !ok {
		return nil, quota.ErrNotFound
	}
	return doc.Clone(), nil
}

// GetOrCreate returns a copy of the stored document, inserting a default one if absent
func (s *QuotaStore) GetOrCreate(ctx context.Context, tc tenant.Context) (*quota.Document, error) {
	if tc.ID == "" {
		return nil, tenant.ErrMissingTenant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[tc.ID]
	if !ok {
		doc = quota.NewDocument(tc, s.now())
		s.docs[tc.ID] = doc
	}
	return doc.Clone(), nil
}

// Put stores doc if its revision matches the stored one
func (s *QuotaStore) Put(ctx context.Context, doc *quota.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if stored, ok := s.docs[doc.TenantID]; ok {
		current = stored.Revision
	}
	if current != doc.Revision {
		return &quota.ConflictError{
			TenantID:         doc.TenantID,
			ExpectedRevision: doc.Revision,
			CurrentRevision:  current,
		}
	}

	doc.Revision++
	doc.UpdatedAt = s.now().UTC()
	s.docs[doc.TenantID] = doc.Clone()
	return nil
}
