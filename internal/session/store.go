// Package session persists, rotates and invalidates refresh-token sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/model"
	"github.com/and161185/authkeeper/internal/store"
)

// Info identifies a freshly created session.
type Info struct {
	SessionID  string
	RefreshJTI string
}

// Store wraps a session gateway with lifecycle rules: lazy expiry on load and
// compare-and-swap rotation of the refresh jti.
type Store struct {
	rows store.Gateway[model.Session]
	now  func() time.Time
}

// NewStore constructs a Store over rows.
func NewStore(rows store.Gateway[model.Session]) *Store {
	return &Store{rows: rows, now: time.Now}
}

// WithClock returns a copy of the store reading time from now.
func (s *Store) WithClock(now func() time.Time) *Store {
	c := *s
	c.now = now
	return &c
}

func newID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Create persists a new session for userID expiring after refreshTTL.
func (s *Store) Create(ctx context.Context, userID string, refreshTTL time.Duration) (Info, error) {
	sid, err := newID()
	if err != nil {
		return Info{}, fmt.Errorf("session id: %w", err)
	}
	jti, err := newID()
	if err != nil {
		return Info{}, fmt.Errorf("refresh jti: %w", err)
	}
	now := s.now()
	row := &model.Session{
		ID:               sid,
		UserID:           userID,
		RefreshJTI:       jti,
		RefreshExpiresAt: now.Add(refreshTTL),
		CreatedAt:        now,
		LastUsedAt:       now,
	}
	if _, err := s.rows.Create(ctx, sid, row); err != nil {
		return Info{}, err
	}
	return Info{SessionID: sid, RefreshJTI: jti}, nil
}

// LoadActive returns the session or a SessionInvalid error when absent. An expired
// row is deleted on the spot and reported as SessionExpired.
func (s *Store) LoadActive(ctx context.Context, sessionID string) (*model.Session, error) {
	row, err := s.rows.GetByID(ctx, sessionID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.SessionInvalid("session not found")
	}
	if err != nil {
		return nil, err
	}
	if row.Expired(s.now()) {
		if _, err := s.rows.Delete(ctx, sessionID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		return nil, errs.ErrSessionExpired
	}
	return row, nil
}

// NewRefreshJTI returns a fresh identifier for the next refresh token of a lineage.
func NewRefreshJTI() (string, error) {
	jti, err := newID()
	if err != nil {
		return "", fmt.Errorf("refresh jti: %w", err)
	}
	return jti, nil
}

// Rotate makes jti the session's current refresh jti and extends its expiry. The write
// only lands while the stored jti still equals sess.RefreshJTI; losing that race means
// another refresh consumed the token first and is reported as TokenRevoked.
// On success sess is updated in place.
func (s *Store) Rotate(ctx context.Context, sess *model.Session, jti string, refreshTTL time.Duration) error {
	now := s.now()
	next := *sess
	next.RefreshJTI = jti
	next.RefreshExpiresAt = now.Add(refreshTTL)
	next.LastUsedAt = now

	saved, err := s.rows.UpdateIf(ctx, sess.ID, &next, store.Eq(store.SessionRefreshJTI, sess.RefreshJTI))
	switch {
	case errors.Is(err, errs.ErrVersionConflict):
		return errs.ErrTokenRevoked
	case errors.Is(err, errs.ErrNotFound):
		return errs.SessionInvalid("session not found")
	case err != nil:
		return err
	}
	*sess = *saved
	return nil
}

// CleanupExpiredForUser removes the user's sessions whose refresh window has passed.
func (s *Store) CleanupExpiredForUser(ctx context.Context, userID string) (int64, error) {
	return s.rows.DeleteWhere(ctx, store.All(
		store.Eq(store.SessionUserID, userID),
		store.Lt(store.SessionRefreshExpiresAt, s.now()),
	))
}

// Delete removes one session. A missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.rows.Delete(ctx, sessionID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return nil
}

// DeleteAllForUser removes every session of userID.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	return s.rows.DeleteWhere(ctx, store.All(store.Eq(store.SessionUserID, userID)))
}

// SweepExpired removes expired sessions of every user.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	return s.rows.DeleteWhere(ctx, store.All(store.Lt(store.SessionRefreshExpiresAt, s.now())))
}
