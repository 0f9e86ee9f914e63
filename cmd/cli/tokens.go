package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// tokenFile is the on-disk token cache.
type tokenFile struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

var errLoginRequired = errors.New("no saved tokens (login required)")

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "authkeeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "authkeeper")
}

func tokenPath() string { return filepath.Join(cfgDir(), "tokens.json") }

func saveTokens(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), b, 0o600)
}

func loadTokens() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return tokenFile{}, errLoginRequired
	}
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" && tf.RefreshToken == "" {
		return tokenFile{}, errLoginRequired
	}
	return tf, nil
}

// accessExpired reports whether the cached access token should be refreshed first.
func (tf tokenFile) accessExpired(now time.Time) bool {
	return tf.AccessToken == "" || !now.Before(tf.AccessExpiresAt)
}

func clearTokens() error {
	err := os.Remove(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
