package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/model"
	"github.com/and161185/authkeeper/internal/store"
	"github.com/and161185/authkeeper/internal/store/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore() (*Store, *memory.Table[model.Session], *clock) {
	rows := memory.New(store.SessionMapper)
	c := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(rows).WithClock(c.now), rows, c
}

func TestCreateAndLoad(t *testing.T) {
	s, _, c := newStore()
	ctx := context.Background()

	info, err := s.Create(ctx, "u1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, info.SessionID)
	require.NotEmpty(t, info.RefreshJTI)
	require.NotEqual(t, info.SessionID, info.RefreshJTI)

	got, err := s.LoadActive(ctx, info.SessionID)
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, info.RefreshJTI, got.RefreshJTI)
	require.Equal(t, c.t.Add(time.Hour), got.RefreshExpiresAt)
	require.Equal(t, c.t, got.CreatedAt)
}

func TestLoadActive_Missing(t *testing.T) {
	s, _, _ := newStore()

	_, err := s.LoadActive(context.Background(), "nope")
	require.ErrorIs(t, err, errs.ErrSessionInvalid)
	require.Contains(t, err.Error(), "session not found")
}

func TestLoadActive_ExpiredIsDeleted(t *testing.T) {
	s, rows, c := newStore()
	ctx := context.Background()

	info, err := s.Create(ctx, "u1", time.Minute)
	require.NoError(t, err)
	c.advance(2 * time.Minute)

	_, err = s.LoadActive(ctx, info.SessionID)
	require.ErrorIs(t, err, errs.ErrSessionExpired)
	require.Equal(t, 0, rows.Len())

	_, err = s.LoadActive(ctx, info.SessionID)
	require.ErrorIs(t, err, errs.ErrSessionInvalid)
}

func TestRotate(t *testing.T) {
	s, _, c := newStore()
	ctx := context.Background()

	info, err := s.Create(ctx, "u1", time.Hour)
	require.NoError(t, err)
	sess, err := s.LoadActive(ctx, info.SessionID)
	require.NoError(t, err)
	stale := *sess

	c.advance(30 * time.Minute)
	jti, err := NewRefreshJTI()
	require.NoError(t, err)
	require.NoError(t, s.Rotate(ctx, sess, jti, time.Hour))
	require.NotEqual(t, info.RefreshJTI, jti)
	require.Equal(t, jti, sess.RefreshJTI)
	require.Equal(t, c.t, sess.LastUsedAt)
	require.Equal(t, c.t.Add(time.Hour), sess.RefreshExpiresAt)

	// a second rotation from the old snapshot loses the compare-and-swap
	err = s.Rotate(ctx, &stale, "other", time.Hour)
	require.ErrorIs(t, err, errs.ErrTokenRevoked)
}

func TestRotate_DeletedSession(t *testing.T) {
	s, _, _ := newStore()
	ctx := context.Background()

	info, err := s.Create(ctx, "u1", time.Hour)
	require.NoError(t, err)
	sess, err := s.LoadActive(ctx, info.SessionID)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, info.SessionID))

	err = s.Rotate(ctx, sess, "next", time.Hour)
	require.ErrorIs(t, err, errs.ErrSessionInvalid)
}

func TestCleanupAndSweep(t *testing.T) {
	s, rows, c := newStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "u1", time.Minute)
	require.NoError(t, err)
	_, err = s.Create(ctx, "u1", 2*time.Hour)
	require.NoError(t, err)
	_, err = s.Create(ctx, "u2", time.Minute)
	require.NoError(t, err)
	c.advance(time.Hour)

	n, err := s.CleanupExpiredForUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 2, rows.Len())

	n, err = s.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.DeleteAllForUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 0, rows.Len())
}

func TestDelete_MissingIsNoop(t *testing.T) {
	s, _, _ := newStore()
	require.NoError(t, s.Delete(context.Background(), "nope"))
}

type failingRows struct {
	store.Gateway[model.Session]
	err error
}

func (f failingRows) GetByID(context.Context, string) (*model.Session, error) { return nil, f.err }

func TestLoadActive_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	s := NewStore(failingRows{Gateway: memory.New(store.SessionMapper), err: boom})

	_, err := s.LoadActive(context.Background(), "x")
	require.ErrorIs(t, err, boom)
}
