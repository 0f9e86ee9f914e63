// Package model defines domain entities used by services and stores.
package model

import "time"

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	// BearerScheme is the token_type reported to clients.
	BearerScheme = "Bearer"
)

// User represents an account stored on the server. The plaintext password is never stored.
type User struct {
	ID           string // opaque, stable
	Username     string // unique
	Email        string // unique
	PasswordHash string // PHC-encoded argon2id
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is the server-side proof that one refresh-token lineage is live.
type Session struct {
	ID               string // carried as the "sid" claim
	UserID           string
	RefreshJTI       string // jti of the only refresh token currently accepted
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	LastUsedAt       time.Time
}

// Expired reports whether the session's refresh window has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return s.RefreshExpiresAt.Before(now)
}

// Claims is the decoded token payload.
type Claims struct {
	Subject   string `json:"sub"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	SessionID string `json:"sid"`
	JTI       string `json:"jti,omitempty"`
	TokenType string `json:"type"`
}

// TokenPair is returned to the caller and never persisted.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds, equal to the access lifetime
}
