// Package service contains the authentication orchestrator.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/and161185/authkeeper/internal/crypto"
	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/metrics"
	"github.com/and161185/authkeeper/internal/model"
	"github.com/and161185/authkeeper/internal/session"
	"github.com/and161185/authkeeper/internal/store"
	"github.com/and161185/authkeeper/internal/token"
)

var tracer = otel.Tracer("authkeeper/service")

// Operation names used for spans, metrics and logs.
const (
	OpRegister       = "register"
	OpLogin          = "login"
	OpRefresh        = "refresh"
	OpVerifyAccess   = "verify_access"
	OpLogout         = "logout"
	OpGetUser        = "get_user"
	OpUpdatePassword = "update_password"
)

// PasswordHasher hashes and verifies passwords on a bounded set of workers.
// *crypto.Pool implements it.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, encoded string) (bool, error)
}

var _ PasswordHasher = (*crypto.Pool)(nil)

// TokenIssuer signs and verifies access/refresh tokens. *token.Issuer implements it.
type TokenIssuer interface {
	IssuePair(userID, username, email, sessionID, refreshJTI string) (model.TokenPair, error)
	VerifyAccess(tok string) (*model.Claims, error)
	VerifyRefresh(tok string) (*model.Claims, error)
	RefreshTTL() time.Duration
}

var _ TokenIssuer = (*token.Issuer)(nil)

// AuthService coordinates users, sessions, hashing and tokens. It holds no
// mutable request state and is safe for concurrent use.
type AuthService struct {
	users    store.Gateway[model.User]
	sessions *session.Store
	hasher   PasswordHasher
	issuer   TokenIssuer

	log               *zap.Logger
	metrics           *metrics.Metrics
	now               func() time.Time
	revokeOnPwdChange bool

	dummyMu   sync.Mutex
	dummyHash string
}

// Option configures AuthService.
type Option func(*AuthService)

// WithLogger sets the logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option { return func(s *AuthService) { s.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(s *AuthService) { s.metrics = m } }

// WithClock overrides the clock used for user timestamps.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

// WithRevokeSessionsOnPasswordChange controls whether UpdatePassword deletes every
// session of the user. Enabled by default.
func WithRevokeSessionsOnPasswordChange(v bool) Option {
	return func(s *AuthService) { s.revokeOnPwdChange = v }
}

// NewAuthService constructs the orchestrator.
func NewAuthService(
	users store.Gateway[model.User],
	sessions *session.Store,
	hasher PasswordHasher,
	issuer TokenIssuer,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		users:             users,
		sessions:          sessions,
		hasher:            hasher,
		issuer:            issuer,
		log:               zap.NewNop(),
		now:               time.Now,
		revokeOnPwdChange: true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates a user and opens its first session.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (_ *model.User, _ model.TokenPair, err error) {
	ctx, end := s.begin(ctx, OpRegister)
	defer func() { end(err) }()

	if !crypto.CheckStrength(password) {
		return nil, model.TokenPair{}, errs.ErrWeakPassword
	}
	if taken, err := s.exists(ctx, store.UserUsername, username); err != nil {
		return nil, model.TokenPair{}, s.fail(OpRegister, err)
	} else if taken {
		return nil, model.TokenPair{}, errs.ErrUsernameExists
	}
	if taken, err := s.exists(ctx, store.UserEmail, email); err != nil {
		return nil, model.TokenPair{}, s.fail(OpRegister, err)
	} else if taken {
		return nil, model.TokenPair{}, errs.ErrEmailExists
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, model.TokenPair{}, s.fail(OpRegister, err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, model.TokenPair{}, s.fail(OpRegister, err)
	}
	now := s.now()
	u, err := s.users.Create(ctx, id.String(), &model.User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		// a concurrent registration won the insert after our pre-checks
		if errors.Is(err, errs.ErrAlreadyExists) {
			if errs.Constraint(err) == store.ConstraintUsersEmail {
				return nil, model.TokenPair{}, errs.ErrEmailExists
			}
			return nil, model.TokenPair{}, errs.ErrUsernameExists
		}
		return nil, model.TokenPair{}, s.fail(OpRegister, err)
	}

	pair, err := s.openSession(ctx, u)
	if err != nil {
		return nil, model.TokenPair{}, s.fail(OpRegister, err)
	}
	s.log.Info("user registered", zap.String("user_id", u.ID))
	return u, pair, nil
}

// Login authenticates by username or email. An unknown identifier and a wrong
// password produce the same InvalidCredentials error.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (_ *model.User, _ model.TokenPair, err error) {
	ctx, end := s.begin(ctx, OpLogin)
	defer func() { end(err) }()

	rows, err := s.users.Query(ctx, store.Any(
		store.Eq(store.UserUsername, identifier),
		store.Eq(store.UserEmail, identifier),
	))
	if err != nil {
		return nil, model.TokenPair{}, s.fail(OpLogin, err)
	}
	u := pickLoginMatch(rows, identifier)
	if u == nil {
		s.burnVerify(ctx, password)
		return nil, model.TokenPair{}, errs.ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, password, u.PasswordHash)
	if err != nil {
		return nil, model.TokenPair{}, s.fail(OpLogin, err)
	}
	if !ok {
		return nil, model.TokenPair{}, errs.ErrInvalidCredentials
	}

	if n, err := s.sessions.CleanupExpiredForUser(ctx, u.ID); err != nil {
		s.log.Warn("expired session cleanup failed", zap.String("user_id", u.ID), zap.Error(err))
	} else if n > 0 {
		s.log.Debug("expired sessions removed", zap.String("user_id", u.ID), zap.Int64("count", n))
	}

	pair, err := s.openSession(ctx, u)
	if err != nil {
		return nil, model.TokenPair{}, s.fail(OpLogin, err)
	}
	return u, pair, nil
}

// pickLoginMatch prefers a username match when one user's username equals
// another user's email.
func pickLoginMatch(rows []*model.User, identifier string) *model.User {
	for _, u := range rows {
		if u.Username == identifier {
			return u
		}
	}
	if len(rows) > 0 {
		return rows[0]
	}
	return nil
}

// Refresh exchanges a refresh token for a new pair on the same session. The
// presented jti must be the session's current one; an older jti is a replay.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (_ model.TokenPair, err error) {
	ctx, end := s.begin(ctx, OpRefresh)
	defer func() { end(err) }()

	c, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return model.TokenPair{}, err
	}
	if c.JTI == "" {
		return model.TokenPair{}, errs.TokenInvalid("missing jti in refresh token")
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("session.id", c.SessionID))

	sess, err := s.sessions.LoadActive(ctx, c.SessionID)
	if err != nil {
		return model.TokenPair{}, s.fail(OpRefresh, err)
	}
	if sess.UserID != c.Subject {
		return model.TokenPair{}, errs.SessionInvalid("session user mismatch")
	}
	if sess.RefreshJTI != c.JTI {
		s.log.Warn("refresh token replay", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
		return model.TokenPair{}, errs.ErrTokenRevoked
	}

	// Sign before rotating so a signing failure leaves the presented token valid.
	jti, err := session.NewRefreshJTI()
	if err != nil {
		return model.TokenPair{}, s.fail(OpRefresh, err)
	}
	pair, err := s.issuer.IssuePair(c.Subject, c.Username, c.Email, sess.ID, jti)
	if err != nil {
		return model.TokenPair{}, s.fail(OpRefresh, err)
	}
	if err := s.sessions.Rotate(ctx, sess, jti, s.issuer.RefreshTTL()); err != nil {
		return model.TokenPair{}, s.fail(OpRefresh, err)
	}
	return pair, nil
}

// VerifyAccess checks the token signature and that its session is still live.
func (s *AuthService) VerifyAccess(ctx context.Context, accessToken string) (_ *model.Claims, err error) {
	ctx, end := s.begin(ctx, OpVerifyAccess)
	defer func() { end(err) }()
	return s.verifyAccess(ctx, accessToken)
}

func (s *AuthService) verifyAccess(ctx context.Context, accessToken string) (*model.Claims, error) {
	c, err := s.issuer.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.LoadActive(ctx, c.SessionID)
	if err != nil {
		return nil, s.fail(OpVerifyAccess, err)
	}
	if sess.UserID != c.Subject {
		return nil, errs.SessionInvalid("session user mismatch")
	}
	return c, nil
}

// ExtractUserID returns the subject of a live access token.
func (s *AuthService) ExtractUserID(ctx context.Context, accessToken string) (string, error) {
	c, err := s.VerifyAccess(ctx, accessToken)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}

// Logout deletes the session the access token is bound to.
func (s *AuthService) Logout(ctx context.Context, accessToken string) (err error) {
	ctx, end := s.begin(ctx, OpLogout)
	defer func() { end(err) }()

	c, err := s.verifyAccess(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, c.SessionID); err != nil {
		return s.fail(OpLogout, err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *AuthService) GetUser(ctx context.Context, userID string) (_ *model.User, err error) {
	ctx, end := s.begin(ctx, OpGetUser)
	defer func() { end(err) }()

	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrUserNotFound
	}
	if err != nil {
		return nil, s.fail(OpGetUser, err)
	}
	return u, nil
}

// UpdatePassword replaces the password hash after checking the old password.
// Unless disabled with WithRevokeSessionsOnPasswordChange, every session of the
// user is deleted afterwards.
func (s *AuthService) UpdatePassword(ctx context.Context, userID, oldPassword, newPassword string) (err error) {
	ctx, end := s.begin(ctx, OpUpdatePassword)
	defer func() { end(err) }()

	if !crypto.CheckStrength(newPassword) {
		return errs.ErrWeakPassword
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrUserNotFound
	}
	if err != nil {
		return s.fail(OpUpdatePassword, err)
	}

	ok, err := s.hasher.Verify(ctx, oldPassword, u.PasswordHash)
	if err != nil {
		return s.fail(OpUpdatePassword, err)
	}
	if !ok {
		return errs.ErrInvalidOldPassword
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return s.fail(OpUpdatePassword, err)
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now()
	if _, err := s.users.Update(ctx, u.ID, u); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrUserNotFound
		}
		return s.fail(OpUpdatePassword, err)
	}

	if s.revokeOnPwdChange {
		n, err := s.sessions.DeleteAllForUser(ctx, u.ID)
		if err != nil {
			return s.fail(OpUpdatePassword, err)
		}
		s.log.Info("sessions revoked after password change", zap.String("user_id", u.ID), zap.Int64("count", n))
	}
	return nil
}

func (s *AuthService) exists(ctx context.Context, field, value string) (bool, error) {
	rows, err := s.users.Query(ctx, store.All(store.Eq(field, value)))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *AuthService) openSession(ctx context.Context, u *model.User) (model.TokenPair, error) {
	info, err := s.sessions.Create(ctx, u.ID, s.issuer.RefreshTTL())
	if err != nil {
		return model.TokenPair{}, err
	}
	return s.issuer.IssuePair(u.ID, u.Username, u.Email, info.SessionID, info.RefreshJTI)
}

// burnVerify spends one verification against a throwaway hash made with the
// configured parameters, so unknown identifiers cost as much as wrong passwords.
func (s *AuthService) burnVerify(ctx context.Context, password string) {
	dummy, err := s.dummy(ctx)
	if err != nil {
		s.log.Warn("dummy hash generation failed", zap.Error(err))
		return
	}
	_, _ = s.hasher.Verify(ctx, password, dummy)
}

// dummy builds the throwaway hash on first use. A failed attempt is retried on the next call.
func (s *AuthService) dummy(ctx context.Context) (string, error) {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash, nil
	}
	h, err := s.hasher.Hash(ctx, "authkeeper-dummy-password")
	if err != nil {
		return "", err
	}
	s.dummyHash = h
	return h, nil
}

// fail passes typed errors through and wraps everything else as Internal.
func (s *AuthService) fail(op string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Internal(oops.In("auth").With("op", op).Wrap(err))
}

// begin opens a span for op; the returned func records the outcome.
func (s *AuthService) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "auth."+op)
	return ctx, func(err error) {
		outcome := metrics.OutcomeOK
		if err != nil {
			kind := errs.KindOf(err)
			outcome = kind.String()
			span.SetAttributes(attribute.String("auth.outcome", outcome))
			if kind == errs.KindInternal {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				s.log.Error("auth operation failed", zap.String("op", op), zap.Error(err))
			}
		}
		s.metrics.Observe(op, outcome, time.Since(start))
		span.End()
	}
}
