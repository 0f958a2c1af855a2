// ABOUTME: HTTP server wiring for the passkey authentication API
// ABOUTME: Holds the verification core, JSON helpers, and bearer-token middleware

package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/fold-auth/internal/audit"
	"github.com/2389/fold-auth/internal/auth"
	"github.com/2389/fold-auth/internal/credentials"
	"github.com/2389/fold-auth/internal/recovery"
	"github.com/2389/fold-auth/internal/webauthn"
)

// Server exposes the passkey protocol over HTTP JSON.
type Server struct {
	rp         webauthn.RPConfig
	challenges *webauthn.ChallengeManager
	processor  *webauthn.Processor
	verifier   *webauthn.Verifier
	creds      *credentials.Store
	recovery   *recovery.Service
	tokens     *auth.TokenService
	sink       audit.Sink
	logger     *slog.Logger
}

// NewServer creates an API server around the verification core.
func NewServer(rp webauthn.RPConfig, challenges *webauthn.ChallengeManager, processor *webauthn.Processor, verifier *webauthn.Verifier, creds *credentials.Store, rec *recovery.Service, tokens *auth.TokenService, sink audit.Sink) *Server {
	return &Server{
		rp:         rp,
		challenges: challenges,
		processor:  processor,
		verifier:   verifier,
		creds:      creds,
		recovery:   rec,
		tokens:     tokens,
		sink:       sink,
		logger:     slog.Default().With("component", "api"),
	}
}

// Routes returns the handler for all API endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/passkey/register/begin", s.requireAuth(s.handleRegisterBegin))
	mux.HandleFunc("POST /api/passkey/register/finish", s.requireAuth(s.handleRegisterFinish))
	mux.HandleFunc("POST /api/passkey/login/begin", s.handleLoginBegin)
	mux.HandleFunc("POST /api/passkey/login/finish", s.handleLoginFinish)
	mux.HandleFunc("POST /api/recovery/redeem", s.handleRecoveryRedeem)

	mux.HandleFunc("GET /api/passkey/credentials", s.requireAuth(s.handleCredentialsList))
	mux.HandleFunc("POST /api/passkey/credentials/rename", s.requireAuth(s.handleCredentialRename))
	mux.HandleFunc("POST /api/passkey/credentials/delete", s.requireAuth(s.handleCredentialDelete))
	mux.HandleFunc("POST /api/passkey/reset", s.requireAuth(s.handleReset))

	mux.HandleFunc("GET /api/health", s.handleHealth)

	return mux
}

type contextKey string

const usernameKey contextKey = "username"

// requireAuth extracts and validates the bearer token and stores the
// authenticated username in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			writeError(w, http.StatusUnauthorized, errMsg)
			return
		}

		username, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, username)
		next(w, r.WithContext(ctx))
	}
}

// usernameFromContext returns the authenticated username set by requireAuth.
func usernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verificationError maps a core error onto the deliberately generic API
// response. Detail stays server-side: callers cannot distinguish an unknown
// credential from a bad signature, which prevents account enumeration.
func (s *Server) verificationError(w http.ResponseWriter, flow string, err error) {
	kind := webauthn.Classify(err)
	s.logger.Warn("verification failed", "flow", flow, "kind", kind.String(), "error", err)

	if kind == webauthn.KindStorage {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, http.StatusUnauthorized, "authentication failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// b64 renders binary fields for the wire.
func b64(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// unb64 parses base64url with or without padding.
func unb64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
