package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/model"
	"github.com/and161185/authkeeper/internal/store"
)

const (
	userCols    = "id, username, email, password_hash, created_at, updated_at"
	sessionCols = "id, user_id, refresh_jti, refresh_expires_at, created_at, last_used_at"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func sampleUser(now time.Time) *model.User {
	return &model.User{
		ID: "u1", Username: "alice", Email: "alice@example.com",
		PasswordHash: "$argon2id$...", CreatedAt: now, UpdatedAt: now,
	}
}

func userRow(u *model.User) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at", "updated_at"}).
		AddRow(u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
}

func sessionRow(s *model.Session) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "user_id", "refresh_jti", "refresh_expires_at", "created_at", "last_used_at"}).
		AddRow(s.ID, s.UserID, s.RefreshJTI, s.RefreshExpiresAt, s.CreatedAt, s.LastUsedAt)
}

func TestTable_Create_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	users := NewUsers(db)

	u := sampleUser(time.Now().UTC())
	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO users (`+userCols+`) VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+userCols)).
		WithArgs(u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt).
		WillReturnRows(userRow(u))

	got, err := users.Create(context.Background(), u.ID, u)
	require.NoError(t, err)
	require.Equal(t, u.Username, got.Username)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTable_Create_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	users := NewUsers(db)

	u := sampleUser(time.Now().UTC())
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: store.ConstraintUsersEmail})

	_, err := users.Create(context.Background(), u.ID, u)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Equal(t, store.ConstraintUsersEmail, errs.Constraint(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTable_GetByID_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	users := NewUsers(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + userCols + ` FROM users WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := users.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTable_GetByID_PropagatesDriverError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	users := NewUsers(db)

	boom := errors.New("connection reset")
	mock.ExpectQuery(`SELECT`).WithArgs("u1").WillReturnError(boom)

	_, err := users.GetByID(context.Background(), "u1")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestTable_UpdateIf_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	sessions := NewSessions(db)

	now := time.Now().UTC()
	s := &model.Session{ID: "s1", UserID: "u1", RefreshJTI: "new", RefreshExpiresAt: now.Add(time.Hour),
		CreatedAt: now, LastUsedAt: now}
	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE auth_sessions SET user_id = $2, refresh_jti = $3, refresh_expires_at = $4, created_at = $5, last_used_at = $6 `+
			`WHERE id = $1 AND refresh_jti = $7 RETURNING `+sessionCols)).
		WithArgs("s1", "u1", "new", s.RefreshExpiresAt, now, now, "old").
		WillReturnRows(sessionRow(s))

	got, err := sessions.UpdateIf(context.Background(), "s1", s, store.Eq(store.SessionRefreshJTI, "old"))
	require.NoError(t, err)
	require.Equal(t, "new", got.RefreshJTI)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTable_UpdateIf_Conflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	sessions := NewSessions(db)

	now := time.Now().UTC()
	s := &model.Session{ID: "s1", UserID: "u1", RefreshJTI: "new", RefreshExpiresAt: now, CreatedAt: now, LastUsedAt: now}
	mock.ExpectQuery(`UPDATE auth_sessions`).
		WithArgs("s1", "u1", "new", now, now, now, "stale").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + sessionCols + ` FROM auth_sessions WHERE id = $1`)).
		WithArgs("s1").
		WillReturnRows(sessionRow(s))

	_, err := sessions.UpdateIf(context.Background(), "s1", s, store.Eq(store.SessionRefreshJTI, "stale"))
	require.ErrorIs(t, err, errs.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTable_UpdateIf_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	sessions := NewSessions(db)

	s := &model.Session{ID: "s1"}
	mock.ExpectQuery(`UPDATE auth_sessions`).
		WithArgs("s1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "x").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT`).WithArgs("s1").WillReturnError(pgx.ErrNoRows)

	_, err := sessions.UpdateIf(context.Background(), "s1", s, store.Eq(store.SessionRefreshJTI, "x"))
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTable_Query_Or(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	users := NewUsers(db)

	u := sampleUser(time.Now().UTC())
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT `+userCols+` FROM users WHERE username = $1 OR email = $2 ORDER BY id`)).
		WithArgs("alice", "alice").
		WillReturnRows(userRow(u))

	got, err := users.Query(context.Background(),
		store.Any(store.Eq(store.UserUsername, "alice"), store.Eq(store.UserEmail, "alice")))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "u1", got[0].ID)
}

func TestTable_DeleteWhere(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	sessions := NewSessions(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta(
		`DELETE FROM auth_sessions WHERE user_id = $1 AND refresh_expires_at < $2`)).
		WithArgs("u1", now).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := sessions.DeleteWhere(context.Background(),
		store.All(store.Eq(store.SessionUserID, "u1"), store.Lt(store.SessionRefreshExpiresAt, now)))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestTable_Delete_ReturnsRow(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	sessions := NewSessions(db)

	now := time.Now().UTC()
	s := &model.Session{ID: "s1", UserID: "u1", RefreshJTI: "j", RefreshExpiresAt: now, CreatedAt: now, LastUsedAt: now}
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM auth_sessions WHERE id = $1 RETURNING ` + sessionCols)).
		WithArgs("s1").
		WillReturnRows(sessionRow(s))

	got, err := sessions.Delete(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
}

func TestTable_UnknownColumnRejected(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	users := NewUsers(db)

	_, err := users.Query(context.Background(), store.All(store.Eq("1=1; --", "x")))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTable_Create_KeyFromID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	users := NewUsers(db)

	u := sampleUser(time.Now().UTC())
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("u9", u.Username, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt).
		WillReturnRows(userRow(&model.User{ID: "u9", Username: u.Username, Email: u.Email,
			PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}))

	got, err := users.Create(context.Background(), "u9", u)
	require.NoError(t, err)
	require.Equal(t, "u9", got.ID)
	require.Equal(t, "u1", u.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
