package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/authkeeper/internal/errs"
	"github.com/and161185/authkeeper/internal/model"
)

// envelope is the body of every response. Data is omitted on errors.
type envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Data      any    `json:"data,omitempty"`
}

type userResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type authResponse struct {
	User   userResponse    `json:"user"`
	Tokens model.TokenPair `json:"tokens"`
}

type refreshResponse struct {
	Tokens model.TokenPair `json:"tokens"`
}

type emptyData struct{}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	body.Timestamp = time.Now().UnixMilli()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Code: errs.CodeOK, Message: "OK", Data: data})
}

// writeError maps err to its status and business code. Internal causes are logged
// and replaced with an opaque message.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := errs.KindOf(err)
	msg := err.Error()
	if kind == errs.KindInternal {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, kind.HTTPStatus(), envelope{Code: kind.Code(), Message: msg})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, envelope{Code: errs.CodeUnauthorized, Message: msg})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, envelope{Code: errs.CodeBadRequest, Message: msg})
}
