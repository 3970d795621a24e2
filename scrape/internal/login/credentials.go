package login

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pquerna/otp/totp"

	"github.com/energum/leadwatch/config"
)

// CredentialStrategy drives the portal's multi-step login form:
// email, next, password, sign in, then a TOTP challenge when the portal
// asks for one.
type CredentialStrategy struct {
	Email      string
	Password   string
	TOTPSecret string
	Selectors  config.Selectors
	Timeout    time.Duration
	Log        *slog.Logger
}

// EnsureAuthenticated is a no-op when the page shows no login form.
// Otherwise it walks the form; any missing element, rejected step or
// still-visible form afterwards wraps ErrAuthentication.
func (s *CredentialStrategy) EnsureAuthenticated(ctx context.Context, page *rod.Page) error {
	p := page.Context(ctx)

	has, _, err := p.Has(s.Selectors.EmailInput)
	if err != nil {
		return fmt.Errorf("%w: probe login form: %v", ErrAuthentication, err)
	}
	if !has {
		s.Log.Info("no login form detected, session already authenticated")
		return nil
	}

	if s.Email == "" || s.Password == "" || s.TOTPSecret == "" {
		return fmt.Errorf("%w: login form shown but credentials are not configured", ErrAuthentication)
	}

	s.Log.Info("login form detected, starting credential flow")

	if err := s.fill(p, s.Selectors.EmailInput, s.Email); err != nil {
		return fmt.Errorf("%w: email step: %v", ErrAuthentication, err)
	}
	if err := s.click(p, s.Selectors.NextButton); err != nil {
		return fmt.Errorf("%w: next step: %v", ErrAuthentication, err)
	}
	if err := s.fill(p, s.Selectors.PasswordInput, s.Password); err != nil {
		return fmt.Errorf("%w: password step: %v", ErrAuthentication, err)
	}
	if err := s.click(p, s.Selectors.SignInButton); err != nil {
		return fmt.Errorf("%w: sign-in step: %v", ErrAuthentication, err)
	}

	if err := s.maybeTOTP(p); err != nil {
		return err
	}

	// Every form step must be gone after the flow; a still-visible email,
	// password or code input means the portal rejected that step.
	time.Sleep(2 * time.Second)
	for _, sel := range s.residualSelectors() {
		if still, _, err := p.Has(sel); err == nil && still {
			return fmt.Errorf("%w: login form (%s) still present after submitting credentials", ErrAuthentication, sel)
		}
	}

	s.Log.Info("credential flow completed")
	return nil
}

// residualSelectors lists every login-form input whose presence after the
// flow marks the attempt rejected. The code input is included so a refused
// TOTP code fails the attempt instead of passing as an empty page.
func (s *CredentialStrategy) residualSelectors() []string {
	return []string{
		s.Selectors.EmailInput,
		s.Selectors.PasswordInput,
		s.Selectors.CodeInput,
	}
}

// maybeTOTP answers the second-factor challenge when the portal shows one.
// No challenge within the auth timeout means none was required.
func (s *CredentialStrategy) maybeTOTP(p *rod.Page) error {
	el, err := p.Timeout(s.Timeout).Element(s.Selectors.CodeInput)
	if err != nil {
		s.Log.Info("no TOTP challenge shown")
		return nil
	}

	code, err := totp.GenerateCode(s.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("%w: generate TOTP code: %v", ErrAuthentication, err)
	}
	if err := el.Input(code); err != nil {
		return fmt.Errorf("%w: enter TOTP code: %v", ErrAuthentication, err)
	}
	if err := s.click(p, s.Selectors.VerifyButton); err != nil {
		return fmt.Errorf("%w: verify step: %v", ErrAuthentication, err)
	}
	s.Log.Info("TOTP challenge answered")
	return nil
}

func (s *CredentialStrategy) fill(p *rod.Page, selector, value string) error {
	el, err := p.Timeout(s.Timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %v", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %s: %v", selector, err)
	}
	return nil
}

func (s *CredentialStrategy) click(p *rod.Page, selector string) error {
	el, err := p.Timeout(s.Timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("find %s: %v", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %v", selector, err)
	}
	return nil
}
