package errs

import (
	"errors"
	"net/http"
)

// Kind classifies authentication outcomes. Every kind except KindInternal is a
// deliberate business result shown to the client.
type Kind int

const (
	KindInternal Kind = iota
	KindWeakPassword
	KindUsernameExists
	KindEmailExists
	KindInvalidCredentials
	KindTokenExpired
	KindTokenInvalid
	KindTokenRevoked
	KindSessionExpired
	KindSessionInvalid
	KindUserNotFound
	KindInvalidOldPassword
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindWeakPassword:       "weak_password",
	KindUsernameExists:     "username_exists",
	KindEmailExists:        "email_exists",
	KindInvalidCredentials: "invalid_credentials",
	KindTokenExpired:       "token_expired",
	KindTokenInvalid:       "token_invalid",
	KindTokenRevoked:       "token_revoked",
	KindSessionExpired:     "session_expired",
	KindSessionInvalid:     "session_invalid",
	KindUserNotFound:       "user_not_found",
	KindInvalidOldPassword: "invalid_old_password",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is a typed authentication failure.
type Error struct {
	Kind   Kind
	Reason string // optional detail for TokenInvalid / SessionInvalid
	Err    error  // cause, set for KindInternal
}

// Business sentinels. Match with errors.Is; the reason text is ignored.
var (
	ErrWeakPassword       = &Error{Kind: KindWeakPassword}
	ErrUsernameExists     = &Error{Kind: KindUsernameExists}
	ErrEmailExists        = &Error{Kind: KindEmailExists}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired}
	ErrTokenInvalid       = &Error{Kind: KindTokenInvalid}
	ErrTokenRevoked       = &Error{Kind: KindTokenRevoked}
	ErrSessionExpired     = &Error{Kind: KindSessionExpired}
	ErrSessionInvalid     = &Error{Kind: KindSessionInvalid}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound}
	ErrInvalidOldPassword = &Error{Kind: KindInvalidOldPassword}
	ErrInternal           = &Error{Kind: KindInternal}
)

// TokenInvalid returns a TokenInvalid error with the given reason.
func TokenInvalid(reason string) error { return &Error{Kind: KindTokenInvalid, Reason: reason} }

// SessionInvalid returns a SessionInvalid error with the given reason.
func SessionInvalid(reason string) error { return &Error{Kind: KindSessionInvalid, Reason: reason} }

// Internal wraps an unexpected cause. Already typed errors pass through unchanged.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInternal, Err: err}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindWeakPassword:
		return "password must be at least 8 characters and contain uppercase, lowercase, and numbers"
	case KindUsernameExists:
		return "username already exists"
	case KindEmailExists:
		return "email already exists"
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindTokenExpired:
		return "token expired"
	case KindTokenInvalid:
		if e.Reason != "" {
			return e.Reason
		}
		return "invalid token"
	case KindTokenRevoked:
		return "refresh token revoked"
	case KindSessionExpired:
		return "session expired"
	case KindSessionInvalid:
		if e.Reason != "" {
			return e.Reason
		}
		return "session invalid"
	case KindUserNotFound:
		return "user not found"
	case KindInvalidOldPassword:
		return "invalid old password"
	default:
		if e.Err != nil {
			return "internal: " + e.Err.Error()
		}
		return "internal error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf reports the kind carried by err; untyped errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Business code categories and modules (CMMRR: C category, MM module, RR reason).
const (
	CodeOK = 0

	CategoryBusiness = 1
	CategoryUnknown  = 9

	ModuleCommon = 0
	ModuleAuth   = 1
)

// MakeCode builds a CMMRR business code.
func MakeCode(category, module, reason int) int {
	return category*10000 + module*100 + reason
}

// CodeBadRequest reports a malformed request body.
var CodeBadRequest = MakeCode(CategoryBusiness, ModuleCommon, 1)

// Auth business codes.
var (
	CodeInvalidCredentials = MakeCode(CategoryBusiness, ModuleAuth, 1)
	CodeUserExists         = MakeCode(CategoryBusiness, ModuleAuth, 2)
	CodeWeakPassword       = MakeCode(CategoryBusiness, ModuleAuth, 3)
	CodeTokenExpired       = MakeCode(CategoryBusiness, ModuleAuth, 4)
	CodeTokenInvalid       = MakeCode(CategoryBusiness, ModuleAuth, 5)
	CodeSessionInvalid     = MakeCode(CategoryBusiness, ModuleAuth, 6)
	CodeUserNotFound       = MakeCode(CategoryBusiness, ModuleAuth, 7)
	CodeUnauthorized       = MakeCode(CategoryBusiness, ModuleAuth, 8)
	CodeInternal           = MakeCode(CategoryUnknown, ModuleAuth, 99)
)

// Code returns the business code for a kind.
func (k Kind) Code() int {
	switch k {
	case KindWeakPassword:
		return CodeWeakPassword
	case KindUsernameExists, KindEmailExists:
		return CodeUserExists
	case KindInvalidCredentials, KindInvalidOldPassword:
		return CodeInvalidCredentials
	case KindTokenExpired, KindSessionExpired:
		return CodeTokenExpired
	case KindTokenInvalid, KindTokenRevoked:
		return CodeTokenInvalid
	case KindSessionInvalid:
		return CodeSessionInvalid
	case KindUserNotFound:
		return CodeUserNotFound
	default:
		return CodeInternal
	}
}

// HTTPStatus returns the transport status for a kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindWeakPassword:
		return http.StatusBadRequest
	case KindUsernameExists, KindEmailExists:
		return http.StatusConflict
	case KindInvalidCredentials, KindInvalidOldPassword,
		KindTokenExpired, KindSessionExpired,
		KindTokenInvalid, KindTokenRevoked, KindSessionInvalid:
		return http.StatusUnauthorized
	case KindUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
