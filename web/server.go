// Package web serves the leadwatch dashboard API: account management,
// run history, extracted leads, live progress and a manual run trigger.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/energum/leadwatch/runlog"
	"github.com/energum/leadwatch/store"
)

// maxLoginFailures within failureWindow blocks further attempts for that
// email, answering brute force without a full rate-limit layer.
const (
	maxLoginFailures = 5
	failureWindow    = 15 * time.Minute
)

// Server is the dashboard HTTP layer.
type Server struct {
	users    *Users
	store    *store.Store
	ledger   *runlog.Ledger
	progress *runlog.Progress
	trigger  func() error
	secret   []byte
	static   string
	log      *slog.Logger
}

// NewServer wires the dashboard. trigger requests a run; it should return
// an error when one is already in flight. static is the directory served
// under /static/ (screenshots live there).
func NewServer(users *Users, st *store.Store, ledger *runlog.Ledger, progress *runlog.Progress,
	trigger func() error, secret []byte, static string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		users: users, store: st, ledger: ledger, progress: progress,
		trigger: trigger, secret: secret, static: static, log: log,
	}
}

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(DefaultHeaders()))
	r.Use(MaxBody(64 << 10))
	r.Use(SessionMiddleware(s.secret))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)
	r.Get("/validate/{token}", s.handleValidate)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth)
		r.Get("/api/leads", s.handleLeads)
		r.Get("/api/runs", s.handleRuns)
		r.Get("/api/status", s.handleStatus)
		r.Post("/api/runs/trigger", s.handleTrigger)
		r.Handle("/static/*", http.StripPrefix("/static/",
			http.FileServer(http.Dir(s.static))))
	})

	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, err := s.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Info("account registered, awaiting validation", "email", req.Email)
	writeJSON(w, http.StatusCreated, map[string]string{
		"validation_url": "/validate/" + token,
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	err := s.users.Validate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown validation token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "validated"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if n, err := s.users.RecentFailures(r.Context(), req.Email, failureWindow); err == nil && n >= maxLoginFailures {
		writeError(w, http.StatusTooManyRequests, "too many failed attempts, retry later")
		return
	}

	usr, err := s.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotValidated):
			writeError(w, http.StatusForbidden, "account not validated")
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			s.log.Error("login", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	token, err := GenerateToken(s.secret, usr.ID, usr.Email)
	if err != nil {
		s.log.Error("generate session token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	SetTokenCookie(w, token, r.TLS != nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	ClearTokenCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.store.Recent(r.Context(), queryLimit(r, 100))
	if err != nil {
		s.log.Error("list leads", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.ledger.Recent(r.Context(), queryLimit(r, 50))
	if err != nil {
		s.log.Error("list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  s.progress.Running(),
		"messages": s.progress.Messages(),
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "manual runs are disabled")
		return
	}
	if err := s.trigger(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "run started"})
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	return nil
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
