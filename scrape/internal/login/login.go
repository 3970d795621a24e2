// Package login authenticates the browser session against the portal,
// either by replaying saved cookies or by driving the credential and TOTP
// form flow.
package login

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/go-rod/rod"

	"github.com/energum/leadwatch/config"
)

// ErrAuthentication marks a fatal authentication failure. The run aborts
// and the process exits with a distinct code so operators can tell a
// credential problem from a portal outage.
var ErrAuthentication = errors.New("authentication failed")

// Strategy brings a page to an authenticated state, or reports why not.
type Strategy interface {
	EnsureAuthenticated(ctx context.Context, page *rod.Page) error
}

// Select picks the authentication strategy for cfg: cookie injection when
// a cookie file is present, with the credential flow as fallback when the
// cookies are stale or rejected.
func Select(cfg *config.Config, log *slog.Logger) Strategy {
	if log == nil {
		log = slog.Default()
	}
	creds := &CredentialStrategy{
		Email:      cfg.Email,
		Password:   cfg.Password,
		TOTPSecret: cfg.TOTPSecret,
		Selectors:  cfg.Selectors,
		Timeout:    cfg.AuthTimeout,
		Log:        log,
	}
	if _, err := os.Stat(cfg.CookiesFile); err == nil {
		return &CookieStrategy{
			Path:      cfg.CookiesFile,
			PortalURL: cfg.PortalURL,
			Fallback:  creds,
			Log:       log,
		}
	}
	return creds
}
