// Package auth implements the PIN flows gating sensitive assistant
// actions: verify, create, update and delete.
package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/emarini/voicegate/internal/pin"
	"github.com/emarini/voicegate/internal/profile"
)

var (
	// ErrNoPinSet means the profile exists but never had a PIN
	// configured. Kept distinct from ErrPinMismatch so the assistant
	// can steer the user to setup instead of retry.
	ErrNoPinSet = errors.New("no PIN code set. Please create a PIN first")
	// ErrPinMismatch means the supplied PIN did not match the stored one.
	ErrPinMismatch = errors.New("invalid PIN code. Please try again")
	// ErrCurrentPinMismatch means an update was attempted with a wrong
	// current PIN.
	ErrCurrentPinMismatch = errors.New("current PIN is incorrect")
)

// Service runs PIN flows against the profile store. Verification is a
// pure read and safe to call concurrently; create/update/delete are
// expected to be driven serially by one authenticated user.
type Service struct {
	identity profile.Identity
	store    profile.Store
	log      *zap.Logger
}

func NewService(identity profile.Identity, store profile.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{identity: identity, store: store, log: log}
}

// Verify normalizes rawInput and compares it against the stored PIN of
// the current user. On success it returns the user id. It touches the
// store only for the read, so repeated or concurrent calls are
// independent.
func (s *Service) Verify(ctx context.Context, rawInput any) (string, error) {
	normalized, verr := pin.Normalize(rawInput)
	if verr != nil {
		return "", verr
	}

	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("user not authenticated. Please log in first: %w", profile.ErrNotAuthenticated)
	}

	stored, err := s.store.StoredPin(ctx, user.ID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return "", fmt.Errorf("user profile not found. Please set up your profile first: %w", err)
		}
		return "", err
	}
	if stored == "" {
		return "", ErrNoPinSet
	}

	if stored != normalized {
		s.log.Debug("pin verification failed", zap.String("user_id", user.ID))
		return "", ErrPinMismatch
	}

	s.log.Info("pin verified", zap.String("user_id", user.ID))
	return user.ID, nil
}

// Create establishes a PIN for the current user. The profile row is
// created on demand for users that have never opened settings before.
func (s *Service) Create(ctx context.Context, rawPin any) (profile.UserProfile, error) {
	normalized, verr := pin.Normalize(rawPin)
	if verr != nil {
		return profile.UserProfile{}, verr
	}

	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return profile.UserProfile{}, profile.ErrNotAuthenticated
	}
	if _, err := s.store.Ensure(ctx, user); err != nil {
		return profile.UserProfile{}, err
	}
	return s.store.SetPin(ctx, user.ID, normalized)
}

// Update replaces the stored PIN. The caller supplied current PIN must
// exactly match the stored value before the new one is persisted.
// Format failures and current-PIN mismatches are distinct errors.
func (s *Service) Update(ctx context.Context, currentRaw, newRaw any) (profile.UserProfile, error) {
	current, verr := pin.Normalize(currentRaw)
	if verr != nil {
		return profile.UserProfile{}, verr
	}
	newPin, verr := pin.Normalize(newRaw)
	if verr != nil {
		return profile.UserProfile{}, verr
	}

	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return profile.UserProfile{}, profile.ErrNotAuthenticated
	}

	stored, err := s.store.StoredPin(ctx, user.ID)
	if err != nil {
		return profile.UserProfile{}, err
	}
	if stored == "" {
		return profile.UserProfile{}, ErrNoPinSet
	}
	if stored != current {
		return profile.UserProfile{}, ErrCurrentPinMismatch
	}

	return s.store.SetPin(ctx, user.ID, newPin)
}

// Delete clears the stored PIN for the current user.
func (s *Service) Delete(ctx context.Context) (profile.UserProfile, error) {
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return profile.UserProfile{}, profile.ErrNotAuthenticated
	}
	return s.store.ClearPin(ctx, user.ID)
}

// Profile returns the current user's profile row, creating it when the
// user has none yet.
func (s *Service) Profile(ctx context.Context) (profile.UserProfile, error) {
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return profile.UserProfile{}, profile.ErrNotAuthenticated
	}
	return s.store.Ensure(ctx, user)
}
