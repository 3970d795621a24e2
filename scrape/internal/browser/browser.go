// Package browser owns the Chromium session used by the extraction engine:
// launch, stealth page creation, and teardown.
package browser

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Options controls the launch.
type Options struct {
	Headless bool
}

// Session is one live browser with a single stealth page.
type Session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// Open launches Chromium and opens a stealth page. The stealth patches
// plus the disabled automation blink feature keep the portal's bot
// detection from short-circuiting the login flow.
func Open(opts Options) (*Session, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("no-sandbox")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("browser: stealth page: %w", err)
	}

	return &Session{launcher: l, browser: b, page: page}, nil
}

// Page returns the session's page.
func (s *Session) Page() *rod.Page {
	return s.page
}

// Browser returns the underlying browser, for cookie operations.
func (s *Session) Browser() *rod.Browser {
	return s.browser
}

// Close tears down the page, browser and launcher. Safe to call once from
// a deferred cleanup path; errors are swallowed because there is nothing
// actionable about a failed teardown.
func (s *Session) Close() {
	if s.page != nil {
		s.page.Close()
	}
	if s.browser != nil {
		s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
}
