package keystore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantleap/stockcast/internal/models"
	"github.com/quantleap/stockcast/pkg/crypto"
)

// Memory is the in-memory Store used for development and tests. Lookups are
// map-backed so FindBySecret stays O(1), but nothing survives a restart and
// the whole store shares one lock. Not for production scale.
type Memory struct {
	mu         sync.RWMutex
	principals map[string]*models.Principal // id -> principal
	byEmail    map[string]string            // email -> id
	keys       map[string]*memKey           // key id -> key
	byDigest   map[string]string            // secret digest -> key id
	audits     []models.PaymentAudit
}

type memKey struct {
	models.ApiKey
	rawSecret string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		principals: make(map[string]*models.Principal),
		byEmail:    make(map[string]string),
		keys:       make(map[string]*memKey),
		byDigest:   make(map[string]string),
	}
}

func (s *Memory) CreatePrincipal(_ context.Context, email, credentialHash string) (*models.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, ErrEmailExists
	}

	p := &models.Principal{
		ID:             uuid.New().String(),
		Email:          email,
		CredentialHash: credentialHash,
		CreatedAt:      time.Now().UTC(),
	}
	s.principals[p.ID] = p
	s.byEmail[email] = p.ID

	cp := *p
	return &cp, nil
}

func (s *Memory) FindPrincipalByEmail(_ context.Context, email string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.principals[id]
	return &cp, nil
}

func (s *Memory) FindPrincipalByID(_ context.Context, id string) (*models.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) AddKey(_ context.Context, ownerID string, spec KeySpec) (*models.ApiKey, error) {
	secret, err := crypto.NewSecret()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.principals[ownerID]; !ok {
		return nil, ErrNotFound
	}

	// Grant-time single-paid-key check, under the same lock as the insert.
	if spec.Tier == models.TierPaid {
		for _, k := range s.keys {
			if k.OwnerID == ownerID && k.Tier == models.TierPaid {
				return nil, ErrPaidKeyExists
			}
		}
	}

	key := &memKey{
		ApiKey: models.ApiKey{
			ID:             uuid.New().String(),
			OwnerID:        ownerID,
			SecretDigest:   crypto.Digest(secret),
			Tier:           spec.Tier,
			MinuteLimit:    spec.MinuteLimit,
			DayLimit:       spec.DayLimit,
			PriceID:        spec.PriceID,
			SubscriptionID: spec.SubscriptionID,
			Name:           spec.Name,
			CreatedAt:      time.Now().UTC(),
		},
		rawSecret: secret,
	}
	s.keys[key.ID] = key
	s.byDigest[key.SecretDigest] = key.ID

	out := key.ApiKey
	out.Secret = secret
	return &out, nil
}

func (s *Memory) ListKeys(_ context.Context, ownerID string) ([]models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]models.ApiKey, 0)
	for _, k := range s.keys {
		if k.OwnerID == ownerID {
			keys = append(keys, k.ApiKey)
		}
	}
	return keys, nil
}

func (s *Memory) GetKey(_ context.Context, keyID string) (*models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[keyID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := k.ApiKey
	return &cp, nil
}

func (s *Memory) HasPaidKey(_ context.Context, ownerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.keys {
		if k.OwnerID == ownerID && k.Tier == models.TierPaid {
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) Rename(_ context.Context, keyID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	k.Name = name
	return nil
}

func (s *Memory) Rotate(_ context.Context, keyID string) (string, error) {
	secret, err := crypto.NewSecret()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return "", ErrNotFound
	}

	delete(s.byDigest, k.SecretDigest)
	k.rawSecret = secret
	k.SecretDigest = crypto.Digest(secret)
	k.Revealed = false
	s.byDigest[k.SecretDigest] = k.ID

	return secret, nil
}

func (s *Memory) Remove(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	delete(s.byDigest, k.SecretDigest)
	delete(s.keys, keyID)
	return nil
}

func (s *Memory) FindBySecret(_ context.Context, secret string) (*models.Principal, *models.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyID, ok := s.byDigest[crypto.Digest(secret)]
	if !ok {
		return nil, nil, ErrNotFound
	}
	k := s.keys[keyID]
	p, ok := s.principals[k.OwnerID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	kc := k.ApiKey
	pc := *p
	return &pc, &kc, nil
}

func (s *Memory) RevealSecret(_ context.Context, keyID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return "", ErrNotFound
	}
	if k.Revealed {
		return "", ErrAlreadyRevealed
	}
	k.Revealed = true
	return k.rawSecret, nil
}

func (s *Memory) RecordUsage(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.UsageCount++
	k.LastUsedAt = &now
	return nil
}

func (s *Memory) AppendAudit(_ context.Context, audit models.PaymentAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	s.audits = append(s.audits, audit)
	return nil
}

func (s *Memory) ListAudits(_ context.Context, principalID string) ([]models.PaymentAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	audits := make([]models.PaymentAudit, 0)
	for _, a := range s.audits {
		if a.PrincipalID == principalID {
			audits = append(audits, a)
		}
	}
	return audits, nil
}
