// ABOUTME: Console HTTP service: routes, session middleware, CSRF double-submit
// ABOUTME: Key-migration endpoints verify the signed authorization before writing

package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/SanctumAI/sanctum-sub000/internal/event"
	"github.com/SanctumAI/sanctum-sub000/internal/identity"
	"github.com/SanctumAI/sanctum-sub000/internal/store"
)

// CSRFHeaderName is the header checked against the CSRF cookie.
const CSRFHeaderName = "X-CSRF-Token"

// Config holds console service configuration.
type Config struct {
	// BasePath is the API mount point, e.g. "/api".
	BasePath string
	// AdminPasswordHash is the bcrypt hash accepted at login.
	AdminPasswordHash string
	// SessionCookieName and CSRFCookieName default to sanctum_session and
	// sanctum_csrf.
	SessionCookieName string
	CSRFCookieName    string
	// Secure marks issued cookies Secure; enable behind TLS.
	Secure bool
}

// RecordStore is the persistence the service needs.
type RecordStore interface {
	AdminPubkey(ctx context.Context) (string, error)
	Snapshot(ctx context.Context) (*store.MigrationPrepareResponse, error)
	ExecuteMigration(ctx context.Context, newPubkey string, users []store.DecryptedUserRecord, fieldValues []store.DecryptedFieldValueRecord) (*store.MigrationResult, error)
	GetSetting(ctx context.Context, key string) (*store.Setting, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) ([]store.Setting, error)
	ListMigrationAudit(ctx context.Context, limit int) ([]store.MigrationAuditEntry, error)
}

// Server handles console API routes.
type Server struct {
	store    RecordStore
	sessions *SessionManager
	config   Config
	logger   *slog.Logger
}

// New creates a console server.
func New(recordStore RecordStore, sessions *SessionManager, cfg Config) *Server {
	if cfg.BasePath == "" {
		cfg.BasePath = "/api"
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "sanctum_session"
	}
	if cfg.CSRFCookieName == "" {
		cfg.CSRFCookieName = "sanctum_csrf"
	}
	return &Server{
		store:    recordStore,
		sessions: sessions,
		config:   cfg,
		logger:   slog.Default().With("component", "server"),
	}
}

// RegisterRoutes registers all console routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	base := strings.TrimRight(s.config.BasePath, "/")

	mux.HandleFunc("POST "+base+"/admin/login", s.handleLogin)
	mux.HandleFunc("GET "+base+"/admin/health", s.handleHealth)

	mux.HandleFunc("POST "+base+"/admin/key-migration/prepare", s.protect(s.handlePrepare))
	mux.HandleFunc("POST "+base+"/admin/key-migration/execute", s.protect(s.handleExecute))
	mux.HandleFunc("GET "+base+"/admin/key-migration/audit", s.requireSession(s.handleAudit))

	mux.HandleFunc("GET "+base+"/admin/config", s.requireSession(s.handleListSettings))
	mux.HandleFunc("GET "+base+"/admin/config/{key}", s.requireSession(s.handleGetSetting))
	mux.HandleFunc("PATCH "+base+"/admin/config/{key}", s.protect(s.handlePatchSetting))
}

// protect chains session auth and the CSRF check for mutating routes.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return s.requireSession(s.requireCSRF(next))
}

// requireSession rejects requests without a valid session cookie.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.config.SessionCookieName)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if _, err := s.sessions.Verify(cookie.Value); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		}
		next(w, r)
	}
}

// requireCSRF checks the double-submit token: the X-CSRF-Token header must
// match the CSRF cookie issued at login.
func (s *Server) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.config.CSRFCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusForbidden, "missing CSRF cookie")
			return
		}
		header := r.Header.Get(CSRFHeaderName)
		if header == "" || subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
			writeError(w, http.StatusForbidden, "CSRF token mismatch")
			return
		}
		next(w, r)
	}
}

type loginRequest struct {
	Password string `json:"password"`
}

// handleLogin verifies the admin password and issues the session and CSRF
// cookies.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.AdminPasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("failed login attempt", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.sessions.Issue("admin", DefaultSessionTTL)
	if err != nil {
		s.logger.Error("issuing session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	csrfToken, err := generateToken()
	if err != nil {
		s.logger.Error("generating CSRF token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(DefaultSessionTTL),
	})
	// The CSRF cookie is deliberately readable by the client so it can be
	// reflected into the X-CSRF-Token header.
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		Secure:   s.config.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(DefaultSessionTTL),
	})

	writeJSON(w, map[string]string{"message": "logged in"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.AdminPubkey(r.Context()); err != nil && err != store.ErrNoAdminIdentity {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handlePrepare returns the read-only migration snapshot. Repeatable; never
// mutates state.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.store.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("building snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not build migration snapshot")
		return
	}
	writeJSON(w, snapshot)
}

// handleExecute verifies the signed authorization against the current admin
// identity, then applies the re-encryption atomically.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req store.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	newPubkey, err := identity.Normalize(req.NewPubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "new_pubkey is not a valid public key")
		return
	}

	currentPubkey, err := s.store.AdminPubkey(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "no admin identity configured")
		return
	}
	if newPubkey == currentPubkey {
		writeError(w, http.StatusConflict, "new admin key must be different from the current key")
		return
	}

	if err := s.verifyAuthorization(req.Auth, newPubkey, currentPubkey); err != nil {
		s.logger.Warn("rejected migration authorization", "error", err)
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	result, err := s.store.ExecuteMigration(r.Context(), newPubkey, req.Users, req.FieldValues)
	if err != nil {
		s.logger.Error("migration execute failed", "error", err)
		writeError(w, http.StatusConflict, fmt.Sprintf("migration aborted: %v", err))
		return
	}
	writeJSON(w, result)
}

// verifyAuthorization checks the signed event: valid signature, signed by the
// current admin key, correct kind and action, and a new_pubkey tag equal to
// the one being applied.
func (s *Server) verifyAuthorization(auth *event.Event, newPubkey, currentPubkey string) error {
	if auth == nil {
		return fmt.Errorf("missing authorization event")
	}
	if err := auth.Verify(); err != nil {
		return fmt.Errorf("authorization signature invalid: %v", err)
	}
	if auth.Pubkey != currentPubkey {
		return fmt.Errorf("authorization not signed by the current admin key")
	}
	if auth.Kind != event.KindClientAuthorization {
		return fmt.Errorf("authorization has wrong kind %d", auth.Kind)
	}
	if auth.Action() != event.ActionAdminKeyMigration {
		return fmt.Errorf("authorization action %q is not a key migration", auth.Action())
	}
	if auth.NewPubkey() != newPubkey {
		return fmt.Errorf("authorization pubkey mismatch")
	}
	return nil
}

// handleAudit lists completed migrations, newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListMigrationAudit(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not read migration audit")
		return
	}
	writeJSON(w, map[string]any{"entries": entries})
}

type settingRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list settings")
		return
	}
	writeJSON(w, map[string]any{"settings": settings})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := s.store.GetSetting(r.Context(), r.PathValue("key"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not read setting")
		return
	}
	writeJSON(w, setting)
}

func (s *Server) handlePatchSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key := r.PathValue("key")
	if err := s.store.SetSetting(r.Context(), key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update setting")
		return
	}
	setting, err := s.store.GetSetting(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not read setting back")
		return
	}
	writeJSON(w, setting)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
