package login

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/energum/leadwatch/cookiefile"
)

// CookieStrategy injects a saved session instead of re-running the login
// form, which keeps TOTP use rare and the session footprint quieter. When
// the portal rejects the cookies it falls back to the credential flow.
type CookieStrategy struct {
	Path      string
	PortalURL string
	Fallback  Strategy
	Log       *slog.Logger
}

// EnsureAuthenticated loads the cookie file, injects the cookies matching
// the portal's domain, reloads the page and verifies the session landed
// outside the login flow. Any failure defers to the fallback strategy.
func (s *CookieStrategy) EnsureAuthenticated(ctx context.Context, page *rod.Page) error {
	if err := s.inject(ctx, page); err != nil {
		if s.Fallback == nil {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		s.Log.Warn("cookie injection failed, falling back to credentials", "error", err)
		return s.Fallback.EnsureAuthenticated(ctx, page)
	}
	s.Log.Info("authenticated via saved cookies")
	return nil
}

func (s *CookieStrategy) inject(ctx context.Context, page *rod.Page) error {
	cf, err := cookiefile.Load(s.Path)
	if err != nil {
		return err
	}

	host, err := portalHost(s.PortalURL)
	if err != nil {
		return err
	}

	var params []*proto.NetworkCookieParam
	for _, c := range cf.Cookies {
		if !domainMatches(c.Domain, host) {
			continue
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	if len(params) == 0 {
		return fmt.Errorf("no cookies match portal host %s", host)
	}

	p := page.Context(ctx)
	if err := p.Browser().SetCookies(params); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	if err := p.Navigate(s.PortalURL); err != nil {
		return fmt.Errorf("reload portal: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait portal load: %w", err)
	}

	info, err := p.Info()
	if err != nil {
		return fmt.Errorf("read page url: %w", err)
	}
	if onLoginPage(info.URL) {
		return fmt.Errorf("portal redirected to login (%s), cookies are stale", info.URL)
	}
	return nil
}

func portalHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid portal URL %q", rawURL)
	}
	return u.Hostname(), nil
}

// domainMatches follows cookie domain rules: an exact host match, or a
// dot-prefixed cookie domain covering the host or any parent of it.
func domainMatches(cookieDomain, host string) bool {
	d := strings.TrimPrefix(strings.ToLower(cookieDomain), ".")
	h := strings.ToLower(host)
	return h == d || strings.HasSuffix(h, "."+d)
}

func onLoginPage(pageURL string) bool {
	u := strings.ToLower(pageURL)
	for _, marker := range []string{"auth", "login", "signin", "sign-in"} {
		if strings.Contains(u, marker) {
			return true
		}
	}
	return false
}
