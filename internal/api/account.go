// ABOUTME: Credential management and recovery endpoints for authenticated users
// ABOUTME: List/rename/delete passkeys, redeem recovery codes, emergency reset

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/fold-auth/internal/audit"
	"github.com/2389/fold-auth/internal/credentials"
	"github.com/2389/fold-auth/internal/recovery"
)

// credentialView is the wire representation of a registered passkey. The
// public key never leaves the server in management responses.
type credentialView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Transports []string  `json:"transports,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

func credentialSummary(cred *credentials.Credential) credentialView {
	return credentialView{
		ID:         b64(cred.ID),
		Name:       cred.Name,
		Transports: cred.Transports,
		CreatedAt:  cred.CreatedAt,
		LastUsedAt: cred.LastUsedAt,
	}
}

func (s *Server) handleCredentialsList(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r.Context())

	creds, err := s.creds.List(r.Context(), username)
	if err != nil {
		s.logger.Error("failed to list credentials", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]credentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, credentialSummary(cred))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": views})
}

func (s *Server) handleCredentialRename(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r.Context())

	var req struct {
		CredentialID string `json:"credentialId"`
		Name         string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	id, err := unb64(req.CredentialID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	switch err := s.creds.Rename(r.Context(), username, id, req.Name); {
	case errors.Is(err, credentials.ErrNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
		return
	case errors.Is(err, credentials.ErrNameTooLong):
		writeError(w, http.StatusBadRequest, "name too long")
		return
	case err != nil:
		s.logger.Error("failed to rename credential", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.sink.Emit(r.Context(), audit.EventPasskeyRenamed, username, map[string]any{
		"credential_id": req.CredentialID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r.Context())

	var req struct {
		CredentialID string `json:"credentialId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	id, err := unb64(req.CredentialID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	switch err := s.creds.Remove(r.Context(), username, id); {
	case errors.Is(err, credentials.ErrNotFound):
		writeError(w, http.StatusNotFound, "credential not found")
		return
	case err != nil:
		s.logger.Error("failed to remove credential", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.sink.Emit(r.Context(), audit.EventPasskeyRevoked, username, map[string]any{
		"credential_id": req.CredentialID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReset is the irreversible emergency reset: all passkeys and the
// recovery code set are deleted.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r.Context())

	if err := s.recovery.DisableAll(r.Context(), username); err != nil {
		s.logger.Error("failed to reset account", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRecoveryRedeem exchanges a one-time recovery code for a short-lived
// recovery-authentication token. The response is generic on failure: an
// unknown account and a wrong code are indistinguishable.
func (s *Server) handleRecoveryRedeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Code     string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Username == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	token, err := s.recovery.Consume(r.Context(), req.Username, req.Code)
	switch {
	case errors.Is(err, recovery.ErrNoCodes), errors.Is(err, recovery.ErrCodeInvalid):
		s.logger.Warn("recovery redemption failed", "username", req.Username, "error", err)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	case err != nil:
		s.logger.Error("recovery redemption error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recoveryToken": token,
		"expiresIn":     int(recovery.TokenTTL / time.Second),
	})
}
