package web

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/energum/leadwatch/idgen"
)

// Schema creates the dashboard account tables. Pass to dbopen.WithSchema
// at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id               TEXT PRIMARY KEY,
    email            TEXT NOT NULL UNIQUE,
    password_hash    TEXT NOT NULL,
    validated        INTEGER NOT NULL DEFAULT 0,
    validation_token TEXT NOT NULL DEFAULT '',
    created_at       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS login_attempts (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL,
    ok    INTEGER NOT NULL,
    at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_login_attempts_email ON login_attempts(email, at DESC);
`

// Account errors surfaced to handlers.
var (
	ErrEmailTaken         = errors.New("web: email already registered")
	ErrInvalidCredentials = errors.New("web: invalid credentials")
	ErrNotValidated       = errors.New("web: account not validated")
	ErrBadToken           = errors.New("web: unknown validation token")
)

// User is one dashboard account.
type User struct {
	ID        string
	Email     string
	Validated bool
}

// Users manages dashboard accounts.
type Users struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewUsers returns a Users store over db. Requires Schema to be applied.
func NewUsers(db *sql.DB) *Users {
	return &Users{db: db, newID: idgen.Prefixed("usr_", idgen.New)}
}

// Register creates an unvalidated account and returns its validation token.
// The token must be visited (out of band, typically by the operator) before
// the account can sign in.
func (u *Users) Register(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", errors.New("web: invalid email")
	}
	if len(password) < 8 {
		return "", errors.New("web: password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("web: hash password: %w", err)
	}

	token := idgen.New()
	_, err = u.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, validation_token, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.newID(), email, string(hash), token, time.Now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("web: create user: %w", err)
	}
	return token, nil
}

// Validate activates the account holding token.
func (u *Users) Validate(ctx context.Context, token string) error {
	if token == "" {
		return ErrBadToken
	}
	res, err := u.db.ExecContext(ctx,
		`UPDATE users SET validated = 1, validation_token = '' WHERE validation_token = ?`, token)
	if err != nil {
		return fmt.Errorf("web: validate user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("web: validate user: %w", err)
	}
	if n == 0 {
		return ErrBadToken
	}
	return nil
}

// Authenticate checks the email/password pair against a validated account.
// Every attempt is recorded; the bcrypt comparison runs even for unknown
// emails so response timing does not reveal which addresses exist.
func (u *Users) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var usr User
	var hash string
	var validated int
	err := u.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, validated FROM users WHERE email = ?`, email).
		Scan(&usr.ID, &usr.Email, &hash, &validated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		u.recordAttempt(ctx, email, false)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("web: lookup user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		u.recordAttempt(ctx, email, false)
		return nil, ErrInvalidCredentials
	}
	if validated == 0 {
		u.recordAttempt(ctx, email, false)
		return nil, ErrNotValidated
	}

	usr.Validated = true
	u.recordAttempt(ctx, email, true)
	return &usr, nil
}

// RecentFailures counts failed attempts for email within the window,
// for handler-level throttling.
func (u *Users) RecentFailures(ctx context.Context, email string, window time.Duration) (int, error) {
	var n int
	err := u.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE email = ? AND ok = 0 AND at >= ?`,
		strings.ToLower(strings.TrimSpace(email)), time.Now().Add(-window).Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("web: count failures: %w", err)
	}
	return n, nil
}

func (u *Users) recordAttempt(ctx context.Context, email string, ok bool) {
	okInt := 0
	if ok {
		okInt = 1
	}
	// Attempt logging is best-effort; losing a row must not block login.
	u.db.ExecContext(ctx,
		`INSERT INTO login_attempts (email, ok, at) VALUES (?, ?, ?)`,
		email, okInt, time.Now().Unix())
}
