package login

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/energum/leadwatch/config"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSelect_PrefersCookiesWhenFilePresent(t *testing.T) {
	dir := t.TempDir()
	cookiePath := filepath.Join(dir, "cookies.json")
	if err := os.WriteFile(cookiePath, []byte(`{"cookies":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.CookiesFile = cookiePath

	s := Select(cfg, discardLog())
	cs, ok := s.(*CookieStrategy)
	if !ok {
		t.Fatalf("strategy = %T, want *CookieStrategy", s)
	}
	if cs.Fallback == nil {
		t.Error("cookie strategy must carry a credential fallback")
	}
}

func TestSelect_CredentialsWhenNoCookieFile(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.CookiesFile = filepath.Join(t.TempDir(), "absent.json")

	if _, ok := Select(cfg, discardLog()).(*CredentialStrategy); !ok {
		t.Fatal("want credential strategy without a cookie file")
	}
}

func TestResidualSelectorsIncludeCodeInput(t *testing.T) {
	// WHY: a refused TOTP code leaves the portal on the code page; the
	// post-flow check must treat a lingering code input as a rejected
	// attempt, same as email and password.
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Selectors.CodeInput = `input[name="otp"]`
	s := &CredentialStrategy{Selectors: cfg.Selectors}

	found := false
	for _, sel := range s.residualSelectors() {
		if sel == `input[name="otp"]` {
			found = true
		}
	}
	if !found {
		t.Error("code input missing from post-flow residual check")
	}
	if len(s.residualSelectors()) != 3 {
		t.Errorf("residual selectors = %v, want email, password and code", s.residualSelectors())
	}
}

func TestDomainMatches(t *testing.T) {
	cases := []struct {
		domain, host string
		want         bool
	}{
		{"partners.tesla.com", "partners.tesla.com", true},
		{".tesla.com", "partners.tesla.com", true},
		{"tesla.com", "partners.tesla.com", true},
		{".tesla.com", "tesla.com", true},
		{"tesla.com", "nottesla.com", false},
		{".shop.tesla.com", "partners.tesla.com", false},
	}
	for _, c := range cases {
		if got := domainMatches(c.domain, c.host); got != c.want {
			t.Errorf("domainMatches(%q, %q) = %v, want %v", c.domain, c.host, got, c.want)
		}
	}
}

func TestOnLoginPage(t *testing.T) {
	if !onLoginPage("https://auth.tesla.com/oauth2/v3/authorize") {
		t.Error("auth URL should count as login page")
	}
	if !onLoginPage("https://partners.tesla.com/Sign-In") {
		t.Error("sign-in URL should count as login page")
	}
	if onLoginPage("https://partners.tesla.com/home/fr-fr/leads") {
		t.Error("leads URL should not count as login page")
	}
}
