package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/policyhub/console/internal/api"
	"github.com/policyhub/console/internal/session"
)

func newLoginCmd(opts *options) *cobra.Command {
	var (
		username      string
		password      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = view(opts, "", func(ctx context.Context, a *app, _ []string) error {
		if username == "" {
			return errors.New("--username is required")
		}
		pw, err := secretArg(cmd.InOrStdin(), password, passwordStdin)
		if err != nil {
			return err
		}

		// Where the guard sent us decides where to go once logged in.
		from := a.router.Location()

		tok, err := a.client.Auth.Login(ctx, username, pw)
		if err != nil {
			return err
		}

		next := a.guard.PostLogin(from)
		if _, err := a.router.Push(next); err != nil {
			a.logger.Warn("resume location rejected", zap.String("location", next), zap.Error(err))
			next = a.cfg.Session.LandingPath
			if _, err := a.router.Push(next); err != nil {
				return err
			}
		}

		return a.print(loginResult{
			Username:  username,
			TokenType: tok.TokenType,
			ExpiresAt: expiryOf(a.session),
			Location:  a.router.Location(),
		})
	})

	cmd.Flags().StringVarP(&username, "username", "u", envOrDefault("CONSOLE_USERNAME", ""), "User name")
	cmd.Flags().StringVarP(&password, "password", "p", envOrDefault("CONSOLE_PASSWORD", ""), "Password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

type loginResult struct {
	Username  string     `json:"username"`
	TokenType string     `json:"token_type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Location  string     `json:"location"`
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the saved session",
		Args:  cobra.NoArgs,
		RunE: view(opts, "", func(ctx context.Context, a *app, _ []string) error {
			if err := a.client.Auth.Logout(ctx); err != nil {
				return err
			}
			if _, err := a.router.Push(a.cfg.Session.LoginPath); err != nil {
				return err
			}
			return a.print(map[string]bool{"logged_out": true})
		}),
	}
}

func newWhoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: view(opts, "/", func(ctx context.Context, a *app, _ []string) error {
			u, err := a.client.Auth.Me(ctx)
			if err != nil {
				return err
			}
			return a.print(struct {
				*api.User
				ExpiresAt *time.Time `json:"session_expires_at,omitempty"`
			}{u, expiryOf(a.session)})
		}),
	}
}

func newPasswordCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change, reset, generate or recover passwords",
	}

	var oldPw, newPw string
	change := &cobra.Command{
		Use:   "change",
		Short: "Change the password after checking the current one",
		Args:  cobra.NoArgs,
		RunE: view(opts, "/settings", func(ctx context.Context, a *app, _ []string) error {
			if oldPw == "" || newPw == "" {
				return errors.New("--old and --new are required")
			}
			res, err := a.client.Auth.ChangePassword(ctx, oldPw, newPw)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	change.Flags().StringVar(&oldPw, "old", "", "Current password")
	change.Flags().StringVar(&newPw, "new", "", "New password")

	var resetPw string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password without the current one",
		Args:  cobra.NoArgs,
		RunE: view(opts, "/settings", func(ctx context.Context, a *app, _ []string) error {
			if resetPw == "" {
				return errors.New("--new is required")
			}
			res, err := a.client.Auth.ResetPassword(ctx, resetPw)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	reset.Flags().StringVar(&resetPw, "new", "", "New password")

	var length int
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate and set a random password",
		Args:  cobra.NoArgs,
		RunE: view(opts, "/settings", func(ctx context.Context, a *app, _ []string) error {
			res, err := a.client.Auth.GeneratePassword(ctx, length)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	generate.Flags().IntVar(&length, "length", api.DefaultPasswordLength, "Password length (8-32)")

	var username string
	forgot := &cobra.Command{
		Use:   "forgot",
		Short: "Mail a new password to the account's address",
		Args:  cobra.NoArgs,
		RunE: view(opts, "", func(ctx context.Context, a *app, _ []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			avail, err := a.client.Config.EmailAvailable(ctx)
			if err != nil {
				return err
			}
			if !avail.Available {
				return errors.New("password recovery by mail is not available")
			}
			res, err := a.client.Auth.ForgotPassword(ctx, username)
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	forgot.Flags().StringVarP(&username, "username", "u", "", "User name")

	cmd.AddCommand(change, reset, generate, forgot)
	return cmd
}

// secretArg returns value, or the first line of in when fromStdin is set.
func secretArg(in io.Reader, value string, fromStdin bool) (string, error) {
	if !fromStdin {
		if value == "" {
			return "", errors.New("--password or --password-stdin is required")
		}
		return value, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}

func expiryOf(s *session.Session) *time.Time {
	tok, ok := s.Token()
	if !ok || tok.Expiry.IsZero() {
		return nil
	}
	exp := tok.Expiry.UTC()
	return &exp
}
