// ABOUTME: Registration and login endpoints implementing the passkey wire protocol
// ABOUTME: Challenge issuance plus attestation/assertion verification handlers

package api

import (
	"net/http"
	"time"

	"github.com/2389/fold-auth/internal/webauthn"
)

// challengeTimeoutMillis is the client-side ceremony timeout, matching the
// server-side challenge TTL.
const challengeTimeoutMillis = int(webauthn.ChallengeTTL / time.Millisecond)

// pubKeyCredParam advertises an accepted algorithm. Only ES256 is offered.
type pubKeyCredParam struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

// registrationChallengeResponse is the answer to register/begin.
type registrationChallengeResponse struct {
	Challenge        string            `json:"challenge"`
	ChallengeToken   string            `json:"challengeToken"`
	UserID           string            `json:"userId"`
	RPID             string            `json:"rpId"`
	RPName           string            `json:"rpName"`
	Attestation      string            `json:"attestation"`
	PubKeyCredParams []pubKeyCredParam `json:"pubKeyCredParams"`
	Timeout          int               `json:"timeout"`
}

func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r.Context())

	ch, token, err := s.challenges.Issue(r.Context(), webauthn.PurposeRegistration, username)
	if err != nil {
		s.logger.Error("failed to issue registration challenge", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, registrationChallengeResponse{
		Challenge:        b64(ch.Value),
		ChallengeToken:   token,
		UserID:           username,
		RPID:             s.rp.ID,
		RPName:           s.rp.Name,
		Attestation:      "none",
		PubKeyCredParams: []pubKeyCredParam{{Type: "public-key", Alg: -7}},
		Timeout:          challengeTimeoutMillis,
	})
}

// registrationVerifyRequest is the body of register/finish. Binary fields
// are base64url.
type registrationVerifyRequest struct {
	CredentialID      string   `json:"credentialId"`
	ClientDataJSON    string   `json:"clientDataJSON"`
	AttestationObject string   `json:"attestationObject"`
	DeviceName        string   `json:"deviceName"`
	Transports        []string `json:"transports"`
	ChallengeToken    string   `json:"challengeToken"`
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	username := usernameFromContext(r.Context())

	var req registrationVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	resp, err := decodeRegistrationResponse(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := s.processor.Register(r.Context(), username, req.ChallengeToken, resp)
	if err != nil {
		s.verificationError(w, "registration", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"credential":    credentialSummary(result.Credential),
		"recoveryCodes": result.RecoveryCodes,
	})
}

func decodeRegistrationResponse(req *registrationVerifyRequest) (*webauthn.RegistrationResponse, error) {
	credentialID, err := unb64(req.CredentialID)
	if err != nil {
		return nil, err
	}
	clientDataJSON, err := unb64(req.ClientDataJSON)
	if err != nil {
		return nil, err
	}
	attestationObject, err := unb64(req.AttestationObject)
	if err != nil {
		return nil, err
	}
	return &webauthn.RegistrationResponse{
		CredentialID:      credentialID,
		ClientDataJSON:    clientDataJSON,
		AttestationObject: attestationObject,
		DeviceName:        req.DeviceName,
		Transports:        req.Transports,
	}, nil
}

// allowedCredential references a registered credential in login options.
type allowedCredential struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Transports []string `json:"transports,omitempty"`
}

// authChallengeResponse is the answer to login/begin.
type authChallengeResponse struct {
	Challenge        string              `json:"challenge"`
	ChallengeToken   string              `json:"challengeToken"`
	RPID             string              `json:"rpId"`
	AllowCredentials []allowedCredential `json:"allowCredentials"`
	Timeout          int                 `json:"timeout"`
}

func (s *Server) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
	}

	ch, token, err := s.challenges.Issue(r.Context(), webauthn.PurposeAuthentication, req.Username)
	if err != nil {
		s.logger.Error("failed to issue authentication challenge", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// With a hint, narrow the ceremony to that account's credentials. The
	// list is advisory for the client; verification does not depend on it.
	allowed := []allowedCredential{}
	if req.Username != "" {
		creds, err := s.creds.List(r.Context(), req.Username)
		if err != nil {
			s.logger.Warn("failed to list credentials for hint", "error", err)
		}
		for _, cred := range creds {
			allowed = append(allowed, allowedCredential{
				Type:       "public-key",
				ID:         b64(cred.ID),
				Transports: cred.Transports,
			})
		}
	}

	writeJSON(w, http.StatusOK, authChallengeResponse{
		Challenge:        b64(ch.Value),
		ChallengeToken:   token,
		RPID:             s.rp.ID,
		AllowCredentials: allowed,
		Timeout:          challengeTimeoutMillis,
	})
}

// authVerifyRequest is the body of login/finish. Binary fields are base64url.
type authVerifyRequest struct {
	CredentialID      string `json:"credentialId"`
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
	ChallengeToken    string `json:"challengeToken"`
	Username          string `json:"username"`
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req authVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	resp, err := decodeAssertionResponse(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := s.verifier.Authenticate(r.Context(), req.ChallengeToken, req.Username, resp)
	if err != nil {
		s.verificationError(w, "authentication", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     result.Session.Token,
		"role":      result.Session.Role,
		"expiresIn": int(result.Session.ExpiresIn / time.Second),
		"username":  result.Username,
	})
}

func decodeAssertionResponse(req *authVerifyRequest) (*webauthn.AssertionResponse, error) {
	credentialID, err := unb64(req.CredentialID)
	if err != nil {
		return nil, err
	}
	clientDataJSON, err := unb64(req.ClientDataJSON)
	if err != nil {
		return nil, err
	}
	authenticatorData, err := unb64(req.AuthenticatorData)
	if err != nil {
		return nil, err
	}
	signature, err := unb64(req.Signature)
	if err != nil {
		return nil, err
	}
	return &webauthn.AssertionResponse{
		CredentialID:      credentialID,
		ClientDataJSON:    clientDataJSON,
		AuthenticatorData: authenticatorData,
		Signature:         signature,
	}, nil
}
