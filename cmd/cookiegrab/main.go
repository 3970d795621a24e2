// cookiegrab opens a visible browser on the portal, waits while the
// operator signs in by hand, then saves the session cookies for the
// service's cookie-injection login path.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/joho/godotenv"

	"github.com/energum/leadwatch/config"
	"github.com/energum/leadwatch/cookiefile"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := grab(cfg, logger); err != nil {
		logger.Error("cookiegrab failed", "error", err)
		os.Exit(1)
	}
}

func grab(cfg *config.Config, logger *slog.Logger) error {
	// Always headful: the whole point is a human at the keyboard.
	l := launcher.New().
		Headless(false).
		Set("disable-blink-features", "AutomationControlled")
	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer l.Cleanup()

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	defer b.Close()

	page, err := stealth.Page(b)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	if err := page.Navigate(cfg.PortalURL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	logger.Info("sign in to the portal in the browser window, then press Ctrl+C here to save cookies")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	cookies, err := b.GetCookies()
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}

	cf := cookiefile.File{SavedAt: time.Now().UTC()}
	for _, c := range cookies {
		cf.Cookies = append(cf.Cookies, cookiefile.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	if err := cookiefile.Save(cfg.CookiesFile, cf); err != nil {
		return err
	}

	logger.Info("cookies saved", "path", cfg.CookiesFile, "count", len(cf.Cookies))
	return nil
}
