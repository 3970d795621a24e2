package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/energum/leadwatch/config"
	"github.com/energum/leadwatch/scrape/internal/browser"
	"github.com/energum/leadwatch/scrape/internal/login"
)

// portalSession is the browser surface the engine drives. Run only ever
// talks to this interface, so the state machine is testable without a
// live Chromium.
type portalSession interface {
	// Navigate loads the portal address and waits for the page load event.
	Navigate() error
	// Authenticate brings the session to an authenticated state.
	Authenticate(ctx context.Context) error
	// AwaitRender blocks until the client-side app looks settled. Always
	// returns; every internal wait is bounded and non-fatal.
	AwaitRender()
	// Tables returns the outerHTML of each lead table on the page, in
	// document order. No tables is not an error.
	Tables() ([]string, error)
	// Screenshot captures the full page.
	Screenshot() ([]byte, error)
	// URL reports the page's current address.
	URL() (string, error)
	// Close releases the browser. Safe on every exit path.
	Close()
}

// rodSession is the production portalSession over a stealth Chromium page.
type rodSession struct {
	cfg     *config.Config
	session *browser.Session
	page    *rod.Page
	log     *slog.Logger
	notify  func(format string, args ...any)
}

func openRodSession(ctx context.Context, cfg *config.Config, log *slog.Logger,
	notify func(format string, args ...any)) (portalSession, error) {
	session, err := browser.Open(browser.Options{Headless: cfg.Headless})
	if err != nil {
		return nil, fmt.Errorf("scrape: open browser: %w", err)
	}
	return &rodSession{
		cfg:     cfg,
		session: session,
		page:    session.Page().Context(ctx),
		log:     log,
		notify:  notify,
	}, nil
}

func (s *rodSession) Navigate() error {
	p := s.page.Timeout(s.cfg.PageTimeout)
	s.notify("navigating to %s", s.cfg.PortalURL)
	if err := p.Navigate(s.cfg.PortalURL); err != nil {
		return fmt.Errorf("scrape: navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("scrape: wait page load: %w", err)
	}
	return nil
}

func (s *rodSession) Authenticate(ctx context.Context) error {
	return login.Select(s.cfg, s.log).EnsureAuthenticated(ctx, s.page)
}

// AwaitRender waits for the client-side app to finish painting the lead
// tables. Every step is bounded and non-fatal: a slow or changed portal
// degrades into extracting whatever is on screen, never into a crash.
func (s *rodSession) AwaitRender() {
	short := s.cfg.AuthTimeout

	// 1. Application root exists and is visible.
	el, err := s.page.Timeout(s.cfg.PageTimeout).Element("#root, #app, main, table")
	if err != nil {
		s.notify("app root not found, extracting from current DOM")
	} else if err := el.Timeout(short).WaitVisible(); err != nil {
		s.log.Debug("app root not yet visible", "error", err)
	}

	// 2. Root is non-empty.
	if err := s.page.Timeout(short).Wait(rod.Eval(
		`() => { const r = document.querySelector('#root, #app, main'); return !!r && r.children.length > 0; }`)); err != nil {
		s.log.Debug("root still empty after wait", "error", err)
	}

	// 3. Framework idle hook when the app exposes one.
	if err := s.page.Timeout(short).Wait(rod.Eval(
		`() => window.__APP_READY__ === undefined || window.__APP_READY__ === true`)); err != nil {
		s.log.Debug("app ready hook timed out", "error", err)
	}

	// 4. Loading indicators gone.
	if err := s.page.Timeout(short).Wait(rod.Eval(
		`() => document.querySelectorAll('.loading, .spinner, [aria-busy="true"]').length === 0`)); err != nil {
		s.notify("loading indicator still visible, continuing anyway")
	}

	// 5. Fixed settle for trailing async row fills.
	time.Sleep(renderSettle)
}

// Tables returns the outerHTML of each table matched by the first selector
// in tableSelectors that matches anything.
func (s *rodSession) Tables() ([]string, error) {
	for _, sel := range tableSelectors {
		els, err := s.page.Timeout(s.cfg.AuthTimeout).Elements(sel)
		if err != nil {
			s.log.Debug("table selector failed", "selector", sel, "error", err)
			continue
		}
		if len(els) == 0 {
			continue
		}
		htmls := make([]string, 0, len(els))
		for i, el := range els {
			html, err := el.HTML()
			if err != nil {
				return nil, fmt.Errorf("scrape: read table %d html: %w", i, err)
			}
			htmls = append(htmls, html)
		}
		return htmls, nil
	}
	return nil, nil
}

func (s *rodSession) Screenshot() ([]byte, error) {
	return s.page.Screenshot(true, nil)
}

func (s *rodSession) URL() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", fmt.Errorf("scrape: read page url: %w", err)
	}
	return info.URL, nil
}

func (s *rodSession) Close() {
	s.session.Close()
}
