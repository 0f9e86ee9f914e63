// Package httpapi exposes the authentication service over HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/authkeeper/internal/model"
)

const maxBodyBytes = 1 << 20

// AuthService is the orchestrator surface used by the handlers.
type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*model.User, model.TokenPair, error)
	Login(ctx context.Context, identifier, password string) (*model.User, model.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
	VerifyAccess(ctx context.Context, accessToken string) (*model.Claims, error)
	Logout(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpdatePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server wires the auth service into HTTP handlers.
type Server struct {
	auth   AuthService
	log    *zap.Logger
	gather prometheus.Gatherer
	checks map[string]HealthCheck
}

// New constructs the HTTP API. gather may be nil to disable /metrics.
func New(auth AuthService, log *zap.Logger, gather prometheus.Gatherer, checks map[string]HealthCheck) *Server {
	return &Server{auth: auth, log: log, gather: gather, checks: checks}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.gather != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.register).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	protected := auth.NewRoute().Subrouter()
	protected.Use(RequireBearer(s.auth, s.log))
	protected.HandleFunc("/me", s.me).Methods(http.MethodGet)
	protected.HandleFunc("/password", s.updatePassword).Methods(http.MethodPut)

	return r
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updatePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeBadRequest(w, "malformed request body")
		return false
	}
	return true
}

// register handles POST /auth/register.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Email == "" {
		writeBadRequest(w, "username and email are required")
		return
	}
	u, pair, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeOK(w, http.StatusCreated, authResponse{User: toUserResponse(u), Tokens: pair})
}

// login handles POST /auth/login.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	u, pair, err := s.auth.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeOK(w, http.StatusOK, authResponse{User: toUserResponse(u), Tokens: pair})
}

// refresh handles POST /auth/refresh.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeOK(w, http.StatusOK, refreshResponse{Tokens: pair})
}

// logout handles POST /auth/logout. Logout verifies the token itself.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearerToken(r)
	if !ok {
		writeUnauthorized(w, "missing or malformed bearer token")
		return
	}
	if err := s.auth.Logout(r.Context(), tok); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeOK(w, http.StatusOK, emptyData{})
}

// me handles GET /auth/me.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromCtx(r.Context())
	u, err := s.auth.GetUser(r.Context(), c.Subject)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeOK(w, http.StatusOK, toUserResponse(u))
}

// updatePassword handles PUT /auth/password.
func (s *Server) updatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	c, _ := ClaimsFromCtx(r.Context())
	if err := s.auth.UpdatePassword(r.Context(), c.Subject, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeOK(w, http.StatusOK, emptyData{})
}

// healthz runs every registered check.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "up"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
