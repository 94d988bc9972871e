package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
	"certledger/pkg/requestcontext"
)

// InMemoryStore keeps certificates in maps guarded by one RWMutex, which makes
// BindToken a compare-and-swap on mint state.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[id.CertificateID]*models.Certificate
	byHash  map[id.ContentHash]id.CertificateID
	byToken map[id.TokenID]id.CertificateID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[id.CertificateID]*models.Certificate),
		byHash:  make(map[id.ContentHash]id.CertificateID),
		byToken: make(map[id.TokenID]id.CertificateID),
	}
}

// Create assigns an id when missing and stores a copy. Inside a unit of work
// the insert is undone on rollback.
func (s *InMemoryStore) Create(ctx context.Context, cert *models.Certificate) (*models.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cert.ID.IsNil() {
		cert.ID = id.NewCertificateID()
	}
	if _, exists := s.byID[cert.ID]; exists {
		return nil, fmt.Errorf("certificate id %s: %w", cert.ID, sentinel.ErrConflict)
	}
	if _, exists := s.byHash[cert.ContentHash]; exists {
		return nil, fmt.Errorf("content hash %s: %w", cert.ContentHash, sentinel.ErrConflict)
	}

	stored := cert.Clone()
	s.byID[stored.ID] = stored
	s.byHash[stored.ContentHash] = stored.ID

	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.byID, stored.ID)
		delete(s.byHash, stored.ContentHash)
	})
	return stored.Clone(), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) FindByContentHash(_ context.Context, hash id.ContentHash) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[certID].Clone(), nil
}

func (s *InMemoryStore) FindByToken(_ context.Context, tokenID id.TokenID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.byToken[tokenID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[certID].Clone(), nil
}

// FindByOwner matches the student address case-insensitively, newest first.
func (s *InMemoryStore) FindByOwner(_ context.Context, owner id.WalletAddress) ([]*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Certificate, 0)
	for _, c := range s.byID {
		if id.SameAddress(string(c.StudentAddress), string(owner)) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out, nil
}

// Revoke is idempotent; changed reports whether this call did the
// revocation. Inside a unit of work a first revocation is undone on
// rollback.
func (s *InMemoryStore) Revoke(ctx context.Context, certID id.CertificateID, actor string) (*models.Certificate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[certID]
	if !ok {
		return nil, false, sentinel.ErrNotFound
	}
	if !c.IsValid {
		return c.Clone(), false, nil
	}
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		c.IsValid, c.RevokedAt, c.RevokedBy = true, nil, ""
	})
	c.Revoke(actor, requestcontext.Now(ctx))
	return c.Clone(), true, nil
}

// BindToken transitions unminted -> minted under the write lock.
func (s *InMemoryStore) BindToken(_ context.Context, certID id.CertificateID, binding models.Binding) (*models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := c.CanBind(binding.MintedTo); err != nil {
		return nil, bindError(err)
	}
	if owner, taken := s.byToken[binding.TokenID]; taken && owner != certID {
		return nil, fmt.Errorf("token %s: %w", binding.TokenID, sentinel.ErrConflict)
	}
	// Store the canonical owner address, not the caller's casing.
	binding.MintedTo = c.StudentAddress
	if err := c.ApplyBind(binding); err != nil {
		return nil, bindError(err)
	}
	s.byToken[binding.TokenID] = certID
	return c.Clone(), nil
}
