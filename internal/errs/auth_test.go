package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByKind(t *testing.T) {
	t.Parallel()

	err := TokenInvalid("bad signature")
	require.ErrorIs(t, err, ErrTokenInvalid)
	require.NotErrorIs(t, err, ErrTokenExpired)
	require.Equal(t, "bad signature", err.Error())

	wrapped := fmt.Errorf("refresh: %w", SessionInvalid("session user mismatch"))
	require.ErrorIs(t, wrapped, ErrSessionInvalid)
	require.Equal(t, KindSessionInvalid, KindOf(wrapped))
}

func TestInternal_WrapsCauseAndKeepsTyped(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: timeout")
	err := Internal(cause)
	require.ErrorIs(t, err, ErrInternal)
	require.ErrorIs(t, err, cause)
	require.Equal(t, KindInternal, KindOf(err))

	require.Same(t, ErrWeakPassword, Internal(ErrWeakPassword))
	require.NoError(t, Internal(nil))
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestKind_CodesAndStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind   Kind
		code   int
		status int
	}{
		{KindWeakPassword, 10103, http.StatusBadRequest},
		{KindUsernameExists, 10102, http.StatusConflict},
		{KindEmailExists, 10102, http.StatusConflict},
		{KindInvalidCredentials, 10101, http.StatusUnauthorized},
		{KindInvalidOldPassword, 10101, http.StatusUnauthorized},
		{KindTokenExpired, 10104, http.StatusUnauthorized},
		{KindSessionExpired, 10104, http.StatusUnauthorized},
		{KindTokenInvalid, 10105, http.StatusUnauthorized},
		{KindTokenRevoked, 10105, http.StatusUnauthorized},
		{KindSessionInvalid, 10106, http.StatusUnauthorized},
		{KindUserNotFound, 10107, http.StatusNotFound},
		{KindInternal, 90199, http.StatusInternalServerError},
	}
	for _, c := range cases {
		require.Equal(t, c.code, c.kind.Code(), c.kind.String())
		require.Equal(t, c.status, c.kind.HTTPStatus(), c.kind.String())
	}
}

func TestConstraintError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("insert: %w", &ConstraintError{Constraint: "users_email_key"})
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.Equal(t, "users_email_key", Constraint(err))
	require.Equal(t, "", Constraint(ErrNotFound))
}
