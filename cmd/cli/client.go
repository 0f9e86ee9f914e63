package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/authkeeper/internal/model"
)

// apiError is a non-success response from the server.
type apiError struct {
	Status  int
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (code %d, http %d)", e.Message, e.Code, e.Status)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type userView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type authView struct {
	User   userView        `json:"user"`
	Tokens model.TokenPair `json:"tokens"`
}

type client struct {
	base string
	http *http.Client
}

func newClient(addr string, timeout time.Duration) *client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &client{base: strings.TrimRight(addr, "/"), http: &http.Client{Timeout: timeout}}
}

// do sends body as JSON and decodes the envelope's data into out (when non-nil).
func (c *client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", model.BearerScheme+" "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || env.Code != 0 {
		return &apiError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *client) register(ctx context.Context, username, email, password string) (authView, error) {
	var out authView
	err := c.do(ctx, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username, "email": email, "password": password,
	}, &out)
	return out, err
}

func (c *client) login(ctx context.Context, identifier, password string) (authView, error) {
	var out authView
	err := c.do(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"identifier": identifier, "password": password,
	}, &out)
	return out, err
}

func (c *client) refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	var out struct {
		Tokens model.TokenPair `json:"tokens"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refreshToken}, &out)
	return out.Tokens, err
}

func (c *client) logout(ctx context.Context, access string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", access, nil, nil)
}

func (c *client) me(ctx context.Context, access string) (userView, error) {
	var out userView
	err := c.do(ctx, http.MethodGet, "/auth/me", access, nil, &out)
	return out, err
}

func (c *client) updatePassword(ctx context.Context, access, oldPassword, newPassword string) error {
	return c.do(ctx, http.MethodPut, "/auth/password", access, map[string]string{
		"old_password": oldPassword, "new_password": newPassword,
	}, nil)
}
