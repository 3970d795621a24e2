// Package config loads leadwatch configuration from an optional YAML file
// with environment variables taking precedence. Every option has a default;
// only credentials and the webhook address have none.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Selectors are the UI locators for the portal authentication form.
// All overridable; defaults match the portal's current markup.
type Selectors struct {
	EmailInput    string `yaml:"email_input"`
	NextButton    string `yaml:"next_button"`
	PasswordInput string `yaml:"password_input"`
	SignInButton  string `yaml:"signin_button"`
	CodeInput     string `yaml:"code_input"`
	VerifyButton  string `yaml:"verify_button"`
}

// Config is the full leadwatch configuration.
type Config struct {
	// Portal.
	PortalURL string `yaml:"portal_url"`

	// Credential triple for the login flow. All three are required for
	// credential-based authentication; cookie injection works without them.
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`

	// Notification sink.
	WebhookURL string `yaml:"webhook_url"`

	// Paths.
	DataDir     string `yaml:"data_dir"`
	StateFile   string `yaml:"state_file"`
	LogFile     string `yaml:"log_file"`
	ReadmeFile  string `yaml:"readme_file"`
	CookiesFile string `yaml:"cookies_file"`

	// Sources labels one discovered table per position.
	Sources []string `yaml:"sources"`

	Selectors Selectors `yaml:"selectors"`

	// Timeouts in seconds on the wire; durations in memory.
	PageTimeout time.Duration `yaml:"page_timeout"`
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// ScrapeInterval is the base delay between scheduled runs; actual
	// delay is jittered to avoid a fixed fingerprint.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// KeyHashLen is the hex length of the content-hash fallback key.
	KeyHashLen int `yaml:"key_hash_len"`

	// Headless controls the browser mode. Off only for local debugging.
	Headless bool `yaml:"headless"`

	// Dashboard.
	Port          string `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// Load reads the YAML file at path (when non-empty), overlays environment
// variables, and applies defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{Headless: true}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.fromEnv()
	cfg.defaults()
	return cfg, nil
}

func (c *Config) fromEnv() {
	setStr(&c.PortalURL, "PORTAL_URL")
	setStr(&c.Email, "PORTAL_EMAIL")
	setStr(&c.Password, "PORTAL_PASS")
	setStr(&c.TOTPSecret, "TOTP_SECRET")
	setStr(&c.WebhookURL, "WEBHOOK_URL")
	setStr(&c.DataDir, "DATA_DIR")
	setStr(&c.StateFile, "STATE_FILE")
	setStr(&c.LogFile, "LOG_FILE")
	setStr(&c.ReadmeFile, "README_FILE")
	setStr(&c.CookiesFile, "COOKIES_FILE")
	setStr(&c.Port, "PORT")
	setStr(&c.SessionSecret, "SESSION_SECRET")

	if v := os.Getenv("TABLE_SOURCES"); v != "" {
		parts := strings.Split(v, ",")
		c.Sources = c.Sources[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				c.Sources = append(c.Sources, p)
			}
		}
	}

	setStr(&c.Selectors.EmailInput, "SEL_EMAIL_INPUT")
	setStr(&c.Selectors.NextButton, "SEL_NEXT_BTN")
	setStr(&c.Selectors.PasswordInput, "SEL_PASS_INPUT")
	setStr(&c.Selectors.SignInButton, "SEL_SIGNIN_BTN")
	setStr(&c.Selectors.CodeInput, "SEL_2FA_INPUT")
	setStr(&c.Selectors.VerifyButton, "SEL_VERIFY_BTN")

	setSeconds(&c.PageTimeout, "PAGE_TIMEOUT")
	setSeconds(&c.AuthTimeout, "AUTH_TIMEOUT")
	setSeconds(&c.ScrapeInterval, "SCRAPE_INTERVAL")

	if v := os.Getenv("KEY_HASH_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.KeyHashLen = n
		}
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		c.Headless = v != "0" && !strings.EqualFold(v, "false")
	}
}

func (c *Config) defaults() {
	if c.PortalURL == "" {
		c.PortalURL = "https://partners.tesla.com/home/fr-fr/leads"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.StateFile == "" {
		c.StateFile = c.DataDir + "/state.json"
	}
	if c.LogFile == "" {
		c.LogFile = c.DataDir + "/leads.log"
	}
	if c.ReadmeFile == "" {
		c.ReadmeFile = c.DataDir + "/README_webhook.md"
	}
	if c.CookiesFile == "" {
		c.CookiesFile = c.DataDir + "/portal_cookies.json"
	}
	if len(c.Sources) == 0 {
		c.Sources = []string{"tesla.com", "shop.tesla.com"}
	}
	if c.Selectors.EmailInput == "" {
		c.Selectors.EmailInput = `input[type="email"]`
	}
	if c.Selectors.NextButton == "" {
		c.Selectors.NextButton = `button[type="submit"]`
	}
	if c.Selectors.PasswordInput == "" {
		c.Selectors.PasswordInput = `input[type="password"]`
	}
	if c.Selectors.SignInButton == "" {
		c.Selectors.SignInButton = `button[type="submit"]`
	}
	if c.Selectors.CodeInput == "" {
		c.Selectors.CodeInput = `input[type="text"]`
	}
	if c.Selectors.VerifyButton == "" {
		c.Selectors.VerifyButton = `button[type="submit"]`
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 60 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 5 * time.Second
	}
	if c.ScrapeInterval <= 0 {
		c.ScrapeInterval = 15 * time.Minute
	}
	if c.Port == "" {
		c.Port = "8000"
	}
}

// HasCredentials reports whether the full credential triple is configured.
func (c *Config) HasCredentials() bool {
	return c.Email != "" && c.Password != "" && c.TOTPSecret != ""
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setSeconds parses an env var holding a number of seconds. The YAML file
// uses Go duration strings; the env follows the deployment convention of
// plain seconds.
func setSeconds(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		*dst = time.Duration(f * float64(time.Second))
	}
}
