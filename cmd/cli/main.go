// Command authkeeper is a CLI client for the authkeeper HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/authkeeper/internal/model"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type globalOpts struct {
	addr    string
	timeout time.Duration
}

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (%s)", version, buildDate)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the root command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &globalOpts{}
	cmd := &cobra.Command{
		Use:           "authkeeper",
		Short:         "Client for the authkeeper authentication service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", envOr("AUTHKEEPER_ADDR", "localhost:8080"), "server address")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(
		newRegisterCmd(opts),
		newLoginCmd(opts),
		newRefreshCmd(opts),
		newLogoutCmd(opts),
		newMeCmd(opts),
		newPasswdCmd(opts),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (o *globalOpts) client() *client { return newClient(o.addr, o.timeout) }

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func storePair(p model.TokenPair) error {
	return saveTokens(tokenFile{
		AccessToken:     p.AccessToken,
		RefreshToken:    p.RefreshToken,
		AccessExpiresAt: time.Now().Add(time.Duration(p.ExpiresIn) * time.Second),
	})
}

// accessToken returns a usable access token, refreshing it first when the cached
// one has expired.
func accessToken(ctx context.Context, c *client) (string, error) {
	tf, err := loadTokens()
	if err != nil {
		return "", err
	}
	if !tf.accessExpired(time.Now()) {
		return tf.AccessToken, nil
	}
	if tf.RefreshToken == "" {
		return "", errLoginRequired
	}
	pair, err := c.refresh(ctx, tf.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := storePair(pair); err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

func newRegisterCmd(o *globalOpts) *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and save its tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := o.client().register(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			if err := storePair(out.Tokens); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out.User)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(o *globalOpts) *cobra.Command {
	var identifier, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in by username or email and save the tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := o.client().login(cmd.Context(), identifier, password)
			if err != nil {
				return err
			}
			if err := storePair(out.Tokens); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out.User)
			return nil
		},
	}
	cmd.Flags().StringVarP(&identifier, "user", "u", "", "username or email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRefreshCmd(o *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the saved refresh token for a new pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tf, err := loadTokens()
			if err != nil {
				return err
			}
			pair, err := o.client().refresh(cmd.Context(), tf.RefreshToken)
			if err != nil {
				return err
			}
			if err := storePair(pair); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "tokens refreshed")
			return nil
		},
	}
}

func newLogoutCmd(o *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session and forget the tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.client()
			tok, err := accessToken(cmd.Context(), c)
			if err != nil {
				return err
			}
			if err := c.logout(cmd.Context(), tok); err != nil {
				return err
			}
			if err := clearTokens(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newMeCmd(o *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.client()
			tok, err := accessToken(cmd.Context(), c)
			if err != nil {
				return err
			}
			u, err := c.me(cmd.Context(), tok)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func newPasswdCmd(o *globalOpts) *cobra.Command {
	var oldPassword, newPassword string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := o.client()
			tok, err := accessToken(cmd.Context(), c)
			if err != nil {
				return err
			}
			if err := c.updatePassword(cmd.Context(), tok, oldPassword, newPassword); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&oldPassword, "old", "", "current password")
	cmd.Flags().StringVar(&newPassword, "new", "", "new password")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}
