package profile

import (
	"context"
	"sync"
	"time"
)

// Identity resolves the user bound to the current client. It fronts
// the external auth collaborator; implementations must return
// ErrNotAuthenticated when nobody is signed in.
type Identity interface {
	CurrentUser(ctx context.Context) (AuthenticatedUser, error)
}

// Store is the profile persistence adapter. All operations are plain
// request/response with no implicit retry; failures surface as typed
// errors, never as silent zero values.
type Store interface {
	// Get returns the profile row for userID, or ErrNotFound.
	Get(ctx context.Context, userID string) (UserProfile, error)
	// Ensure returns the profile for the user, creating an empty row
	// when none exists yet.
	Ensure(ctx context.Context, user AuthenticatedUser) (UserProfile, error)
	// StoredPin returns the stored PIN for userID ("" when none is
	// set), or ErrNotFound when the profile row is missing.
	StoredPin(ctx context.Context, userID string) (string, error)
	// SetPin persists a new PIN. PinCreatedAt is refreshed whenever no
	// PIN is currently stored, including a recreate after ClearPin;
	// PinUpdatedAt is always refreshed.
	SetPin(ctx context.Context, userID, newPin string) (UserProfile, error)
	// ClearPin removes the stored PIN and refreshes PinUpdatedAt.
	ClearPin(ctx context.Context, userID string) (UserProfile, error)
	Close() error
}

// MemoryStore is an in-process Store used in tests and when no
// database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*UserProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*UserProfile)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return UserProfile{}, ErrNotFound
	}
	return *p, nil
}

func (s *MemoryStore) Ensure(_ context.Context, user AuthenticatedUser) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[user.ID]; ok {
		return *p, nil
	}
	p := &UserProfile{
		ID:        user.ID,
		Email:     user.Email,
		CreatedAt: time.Now().UTC(),
	}
	s.profiles[user.ID] = p
	return *p, nil
}

func (s *MemoryStore) StoredPin(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return "", ErrNotFound
	}
	return p.PinCode, nil
}

func (s *MemoryStore) SetPin(_ context.Context, userID, newPin string) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return UserProfile{}, ErrNotFound
	}
	now := time.Now().UTC()
	if p.PinCode == "" {
		p.PinCreatedAt = &now
	}
	p.PinCode = newPin
	p.PinSet = true
	p.PinUpdatedAt = &now
	return *p, nil
}

func (s *MemoryStore) ClearPin(_ context.Context, userID string) (UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return UserProfile{}, ErrNotFound
	}
	now := time.Now().UTC()
	p.PinCode = ""
	p.PinSet = false
	p.PinUpdatedAt = &now
	return *p, nil
}

func (s *MemoryStore) Close() error { return nil }

// StaticIdentity always resolves the same user. It stands in for the
// external auth provider in tests and single-user deployments.
type StaticIdentity struct {
	User AuthenticatedUser
}

func (i StaticIdentity) CurrentUser(context.Context) (AuthenticatedUser, error) {
	if i.User.ID == "" {
		return AuthenticatedUser{}, ErrNotAuthenticated
	}
	return i.User, nil
}
