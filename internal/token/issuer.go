// Package token issues and verifies the HS256 access/refresh token pair.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/model"
)

// Non-production fallbacks; config refuses them when APP_ENV=production.
const (
	DefaultAccessSecret  = "default_access_secret_change_in_production"
	DefaultRefreshSecret = "default_refresh_secret_change_in_production"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Config holds signing secrets and lifetimes. It is built once at startup and never mutated.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// DefaultConfig returns the development configuration.
func DefaultConfig() Config {
	return Config{
		AccessSecret:  []byte(DefaultAccessSecret),
		RefreshSecret: []byte(DefaultRefreshSecret),
		AccessTTL:     DefaultAccessTTL,
		RefreshTTL:    DefaultRefreshTTL,
	}
}

// claims adapts model.Claims to jwt.Claims so the parser can validate exp/iat.
type claims struct {
	model.Claims
}

func (c claims) GetExpirationTime() (*jwt.NumericDate, error) { return numericDate(c.ExpiresAt), nil }
func (c claims) GetIssuedAt() (*jwt.NumericDate, error)       { return numericDate(c.IssuedAt), nil }
func (c claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c claims) GetIssuer() (string, error)                   { return "", nil }
func (c claims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

func numericDate(sec int64) *jwt.NumericDate {
	if sec == 0 {
		return nil
	}
	return jwt.NewNumericDate(time.Unix(sec, 0))
}

// Issuer signs and verifies tokens. Safe for concurrent use.
type Issuer struct {
	cfg Config
	now func() time.Time
}

// NewIssuer constructs an Issuer; zero lifetimes fall back to the defaults.
func NewIssuer(cfg Config) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Issuer{cfg: cfg, now: time.Now}
}

// WithClock returns a copy of the issuer reading time from now. Used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	c := *i
	c.now = now
	return &c
}

// AccessTTL returns the access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// RefreshTTL returns the refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.cfg.RefreshTTL }

// IssueAccess signs an access token. Its jti is random and only used for tracing.
func (i *Issuer) IssueAccess(userID, username, email, sessionID string) (string, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("access jti: %w", err)
	}
	return i.sign(i.cfg.AccessSecret, i.cfg.AccessTTL, model.Claims{
		Subject:   userID,
		Username:  username,
		Email:     email,
		SessionID: sessionID,
		JTI:       jti.String(),
		TokenType: model.TokenTypeAccess,
	})
}

// IssueRefresh signs a refresh token carrying refreshJTI.
func (i *Issuer) IssueRefresh(userID, username, email, sessionID, refreshJTI string) (string, error) {
	return i.sign(i.cfg.RefreshSecret, i.cfg.RefreshTTL, model.Claims{
		Subject:   userID,
		Username:  username,
		Email:     email,
		SessionID: sessionID,
		JTI:       refreshJTI,
		TokenType: model.TokenTypeRefresh,
	})
}

// IssuePair signs both tokens for one session.
func (i *Issuer) IssuePair(userID, username, email, sessionID, refreshJTI string) (model.TokenPair, error) {
	access, err := i.IssueAccess(userID, username, email, sessionID)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, err := i.IssueRefresh(userID, username, email, sessionID, refreshJTI)
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    model.BearerScheme,
		ExpiresIn:    int64(i.cfg.AccessTTL / time.Second),
	}, nil
}

func (i *Issuer) sign(secret []byte, ttl time.Duration, c model.Claims) (string, error) {
	now := i.now()
	c.IssuedAt = now.Unix()
	c.ExpiresAt = now.Add(ttl).Unix()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{c}).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", c.TokenType, err)
	}
	return signed, nil
}

// VerifyAccess decodes an access token.
func (i *Issuer) VerifyAccess(tok string) (*model.Claims, error) {
	return i.verify(tok, i.cfg.AccessSecret, model.TokenTypeAccess)
}

// VerifyRefresh decodes a refresh token.
func (i *Issuer) VerifyRefresh(tok string) (*model.Claims, error) {
	return i.verify(tok, i.cfg.RefreshSecret, model.TokenTypeRefresh)
}

func (i *Issuer) verify(tok string, secret []byte, want string) (*model.Claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tok, &c, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.ErrTokenExpired
		}
		return nil, errs.TokenInvalid(fmt.Sprintf("failed to decode %s token: %v", want, err))
	}
	if c.TokenType != want {
		return nil, errs.TokenInvalid(fmt.Sprintf("invalid token type, expected %q", want))
	}
	out := c.Claims
	return &out, nil
}
