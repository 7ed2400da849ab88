package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-serve/internal/config"
	"github.com/tonimelisma/onedrive-serve/internal/graph"
	"github.com/tonimelisma/onedrive-serve/internal/tokencache"
)

// Token state constants for status reporting.
const (
	tokenStateMissing  = "missing"
	tokenStateExpired  = "expired"
	tokenStateValid    = "valid"
	tokenStateNoExpiry = "valid (no expiry)"
)

var flagBrowser bool

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with OneDrive and store the tokens",
		Long: `Sign in with a Microsoft account and store the access and refresh
tokens in the configured store. The device code flow is used by default;
--browser opens the system browser instead.`,
		RunE: runLogin,
	}

	cmd.Flags().BoolVar(&flagBrowser, "browser", false, "sign in through the system browser")

	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Redeem the stored refresh token for a new access token",
		RunE:  runRefresh,
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show the state of the stored tokens",
		RunE:  runTokenStatus,
	}
}

func authConfig(cfg *config.Config) graph.AuthConfig {
	return graph.AuthConfig{
		ClientID: cfg.Auth.ClientID,
		Tenant:   cfg.Auth.Tenant,
		Scopes:   cfg.Auth.Scopes,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := shutdownContext(cmd.Context(), logger)

	tokens, closeStore, err := openTokens(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if flagBrowser {
		_, err = graph.LoginWithBrowser(ctx, authConfig(cfg), tokens, openBrowser, logger)
	} else {
		_, err = graph.Login(ctx, authConfig(cfg), tokens, func(da graph.DeviceAuth) {
			// Device code prompts are always shown, even with --quiet.
			fmt.Fprintf(cmd.ErrOrStderr(), "To sign in, visit: %s\n", da.VerificationURI)
			fmt.Fprintf(cmd.ErrOrStderr(), "Enter code: %s\n", da.UserCode)
		}, logger)
	}

	if err != nil {
		return err
	}

	statusf(cmd, "Login successful.\n")

	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := cmd.Context()

	tokens, closeStore, err := openTokens(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	refresh, err := tokens.RefreshToken(ctx)
	if errors.Is(err, tokencache.ErrNoToken) {
		return errors.New("no refresh token stored: run 'onedrive-serve login' first")
	}

	if err != nil {
		return err
	}

	tok, err := graph.Refresh(ctx, authConfig(cfg), refresh, tokens, logger)
	if err != nil {
		return err
	}

	if tok.Expiry.IsZero() {
		statusf(cmd, "Access token refreshed.\n")
	} else {
		statusf(cmd, "Access token refreshed, expires %s.\n", humanize.Time(tok.Expiry))
	}

	return nil
}

// tokenStatus is the JSON schema for `token --json`.
type tokenStatus struct {
	Backend      string     `json:"backend"`
	AccessKey    string     `json:"access_key"`
	AccessState  string     `json:"access_state"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RefreshKey   string     `json:"refresh_key"`
	RefreshState string     `json:"refresh_state"`
}

func runTokenStatus(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := cmd.Context()

	tokens, closeStore, err := openTokens(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	now := time.Now()

	st, err := readTokenStatus(ctx, tokens, cfg.Store.Backend, now)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(st)
	}

	printTokenStatus(cmd.OutOrStdout(), st, now)

	return nil
}

func readTokenStatus(ctx context.Context, tokens *tokencache.Cache, backend string, now time.Time) (tokenStatus, error) {
	st := tokenStatus{
		Backend:      backend,
		AccessKey:    tokens.AccessKey(),
		AccessState:  tokenStateMissing,
		RefreshKey:   tokens.RefreshKey(),
		RefreshState: tokenStateMissing,
	}

	access, err := tokens.AccessToken(ctx)

	switch {
	case errors.Is(err, tokencache.ErrNoToken):
	case err != nil:
		return st, err
	case access.ExpiresAt.IsZero():
		st.AccessState = tokenStateNoExpiry
	case now.After(access.ExpiresAt):
		st.AccessState = tokenStateExpired
		st.ExpiresAt = &access.ExpiresAt
	default:
		st.AccessState = tokenStateValid
		st.ExpiresAt = &access.ExpiresAt
	}

	_, err = tokens.RefreshToken(ctx)

	switch {
	case errors.Is(err, tokencache.ErrNoToken):
	case err != nil:
		return st, err
	default:
		st.RefreshState = tokenStateValid
	}

	return st, nil
}

// openBrowser launches the platform's URL handler.
func openBrowser(url string) error {
	var (
		name string
		args []string
	)

	switch runtime.GOOS {
	case "windows":
		name = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	case "darwin":
		name = "open"
		args = []string{url}
	default:
		name = "xdg-open"
		args = []string{url}
	}

	return exec.Command(name, args...).Start()
}
