package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/energum/leadwatch/dbopen"
	"github.com/energum/leadwatch/lead"
	"github.com/energum/leadwatch/runlog"
	"github.com/energum/leadwatch/store"
	_ "modernc.org/sqlite"
)

var testSecret = []byte(strings.Repeat("s", MinSecretLen))

type fixture struct {
	srv       *Server
	handler   http.Handler
	users     *Users
	store     *store.Store
	progress  *runlog.Progress
	triggered int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(Schema),
		dbopen.WithSchema(store.Schema),
		dbopen.WithSchema(runlog.Schema))

	f := &fixture{
		users:    NewUsers(db),
		store:    store.New(db),
		progress: runlog.NewProgress(10),
	}
	f.srv = NewServer(f.users, f.store, runlog.New(db), f.progress,
		func() error {
			if f.progress.Running() {
				return errors.New("a run is already in flight")
			}
			f.triggered++
			return nil
		},
		testSecret, t.TempDir(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.handler = f.srv.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// login registers, validates and logs in a user, returning the session cookie.
func (f *fixture) login(t *testing.T) *http.Cookie {
	t.Helper()
	rec := f.do(t, "POST", "/api/auth/register",
		map[string]string{"email": "ops@energum.earth", "password": "correct horse"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body)
	}
	var reg struct {
		ValidationURL string `json:"validation_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatal(err)
	}

	if rec := f.do(t, "GET", reg.ValidationURL, nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("validate = %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(t, "POST", "/api/auth/login",
		map[string]string{"email": "ops@energum.earth", "password": "correct horse"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "token" && c.Value != "" {
			return c
		}
	}
	t.Fatal("login set no token cookie")
	return nil
}

func TestAuthFlow(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	if rec := f.do(t, "GET", "/api/status", nil, cookie); rec.Code != http.StatusOK {
		t.Errorf("status with session = %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/status", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("status without session = %d, want 401", rec.Code)
	}
}

func TestLogin_RequiresValidation(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/auth/register",
		map[string]string{"email": "new@energum.earth", "password": "longenough"}, nil)

	rec := f.do(t, "POST", "/api/auth/login",
		map[string]string{"email": "new@energum.earth", "password": "longenough"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("login before validation = %d, want 403", rec.Code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	rec := f.do(t, "POST", "/api/auth/login",
		map[string]string{"email": "ops@energum.earth", "password": "wrong password"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", rec.Code)
	}
}

func TestLogin_ThrottlesAfterFailures(t *testing.T) {
	// WHY: repeated failures for one email must stop being answered with
	// a bcrypt comparison at some point.
	f := newFixture(t)
	f.login(t)

	for i := 0; i < maxLoginFailures; i++ {
		f.do(t, "POST", "/api/auth/login",
			map[string]string{"email": "ops@energum.earth", "password": fmt.Sprintf("bad%d", i)}, nil)
	}
	rec := f.do(t, "POST", "/api/auth/login",
		map[string]string{"email": "ops@energum.earth", "password": "correct horse"}, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("throttled login = %d, want 429", rec.Code)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"email": "dup@energum.earth", "password": "longenough"}
	f.do(t, "POST", "/api/auth/register", body, nil)
	if rec := f.do(t, "POST", "/api/auth/register", body, nil); rec.Code != http.StatusConflict {
		t.Errorf("duplicate register = %d, want 409", rec.Code)
	}
}

func TestLeadsEndpoint(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	_, err := f.store.SaveLeads(context.Background(), []lead.Lead{{
		Source: "tesla.com", Key: "INS-1", FetchedAt: time.Now(),
		Row: map[string]string{"nom": "Dupont"},
	}})
	if err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, "GET", "/api/leads", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("leads = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Leads []lead.Lead `json:"leads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Leads) != 1 || resp.Leads[0].Key != "INS-1" {
		t.Errorf("leads = %+v", resp.Leads)
	}
}

func TestTrigger(t *testing.T) {
	f := newFixture(t)
	cookie := f.login(t)

	if rec := f.do(t, "POST", "/api/runs/trigger", nil, cookie); rec.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d: %s", rec.Code, rec.Body)
	}
	if f.triggered != 1 {
		t.Errorf("triggered = %d, want 1", f.triggered)
	}

	// A run in flight turns the trigger into a conflict.
	f.progress.TryStart()
	if rec := f.do(t, "POST", "/api/runs/trigger", nil, cookie); rec.Code != http.StatusConflict {
		t.Errorf("trigger while running = %d, want 409", rec.Code)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(testSecret, "usr_1", "a@b")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ValidateToken(testSecret, token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "usr_1" || claims.Email != "a@b" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ValidateToken([]byte(strings.Repeat("x", MinSecretLen)), token); err == nil {
		t.Error("token validated with wrong secret")
	}
}

func TestGenerateToken_RejectsShortSecret(t *testing.T) {
	if _, err := GenerateToken([]byte("short"), "u", "e"); err == nil {
		t.Fatal("short secret accepted")
	}
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/health", nil, nil)
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}
