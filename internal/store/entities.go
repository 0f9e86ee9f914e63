package store

import "github.com/and161185/authkeeper/internal/model"

// Table descriptors and column names shared by every backend.
var (
	UsersTable    = Table{Name: "users", Key: "id"}
	SessionsTable = Table{Name: "auth_sessions", Key: "id"}
)

// User columns.
const (
	UserID           = "id"
	UserUsername     = "username"
	UserEmail        = "email"
	UserPasswordHash = "password_hash"
	UserCreatedAt    = "created_at"
	UserUpdatedAt    = "updated_at"
)

// Session columns.
const (
	SessionID               = "id"
	SessionUserID           = "user_id"
	SessionRefreshJTI       = "refresh_jti"
	SessionRefreshExpiresAt = "refresh_expires_at"
	SessionCreatedAt        = "created_at"
	SessionLastUsedAt       = "last_used_at"
)

// Unique constraints declared by the migrations.
const (
	ConstraintUsersUsername = "users_username_key"
	ConstraintUsersEmail    = "users_email_key"
)

// UserMapper maps model.User to the users table.
var UserMapper = Mapper[model.User]{
	Table:   UsersTable,
	Columns: []string{UserID, UserUsername, UserEmail, UserPasswordHash, UserCreatedAt, UserUpdatedAt},
	Unique: map[string]string{
		UserUsername: ConstraintUsersUsername,
		UserEmail:    ConstraintUsersEmail,
	},
	Values: func(u *model.User) []any {
		return []any{u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt}
	},
	Scan: func(u *model.User) []any {
		return []any{&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt}
	},
	Field: func(u *model.User, name string) (any, bool) {
		switch name {
		case UserID:
			return u.ID, true
		case UserUsername:
			return u.Username, true
		case UserEmail:
			return u.Email, true
		case UserPasswordHash:
			return u.PasswordHash, true
		case UserCreatedAt:
			return u.CreatedAt, true
		case UserUpdatedAt:
			return u.UpdatedAt, true
		}
		return nil, false
	},
}

// SessionMapper maps model.Session to the auth_sessions table.
var SessionMapper = Mapper[model.Session]{
	Table: SessionsTable,
	Columns: []string{SessionID, SessionUserID, SessionRefreshJTI, SessionRefreshExpiresAt,
		SessionCreatedAt, SessionLastUsedAt},
	Values: func(s *model.Session) []any {
		return []any{s.ID, s.UserID, s.RefreshJTI, s.RefreshExpiresAt, s.CreatedAt, s.LastUsedAt}
	},
	Scan: func(s *model.Session) []any {
		return []any{&s.ID, &s.UserID, &s.RefreshJTI, &s.RefreshExpiresAt, &s.CreatedAt, &s.LastUsedAt}
	},
	Field: func(s *model.Session, name string) (any, bool) {
		switch name {
		case SessionID:
			return s.ID, true
		case SessionUserID:
			return s.UserID, true
		case SessionRefreshJTI:
			return s.RefreshJTI, true
		case SessionRefreshExpiresAt:
			return s.RefreshExpiresAt, true
		case SessionCreatedAt:
			return s.CreatedAt, true
		case SessionLastUsedAt:
			return s.LastUsedAt, true
		}
		return nil, false
	},
}
