// ABOUTME: Authentication verification: client data, authenticator data, counter, ECDSA signature
// ABOUTME: Counter regression is advisory only; signature failure is always terminal

package webauthn

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fold-auth/internal/audit"
	"github.com/2389/fold-auth/internal/credentials"
)

// Session is what the external Session Issuer hands back on success.
type Session struct {
	Token     string
	Role      string
	ExpiresIn time.Duration
}

// SessionIssuer is the external collaborator that turns a verified identity
// into a session.
type SessionIssuer interface {
	Issue(ctx context.Context, username, method string) (*Session, error)
}

// AssertionResponse is the client's answer to an authentication challenge.
type AssertionResponse struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
}

// AssertionResult is the outcome of a verified assertion.
type AssertionResult struct {
	Username string
	Session  *Session
}

// Verifier verifies authentication responses against stored credentials.
type Verifier struct {
	rp         RPConfig
	challenges *ChallengeManager
	creds      *credentials.Store
	sessions   SessionIssuer
	sink       audit.Sink
	logger     *slog.Logger
}

// NewVerifier creates an assertion verifier.
func NewVerifier(rp RPConfig, challenges *ChallengeManager, creds *credentials.Store, sessions SessionIssuer, sink audit.Sink) *Verifier {
	return &Verifier{
		rp:         rp,
		challenges: challenges,
		creds:      creds,
		sessions:   sessions,
		sink:       sink,
		logger:     slog.Default().With("component", "assertion"),
	}
}

// Authenticate consumes the challenge, resolves the account, and verifies
// the assertion. On success the counter and last-used timestamp are updated
// and the Session Issuer is invoked with method "passkey".
func (v *Verifier) Authenticate(ctx context.Context, challengeToken, usernameHint string, resp *AssertionResponse) (*AssertionResult, error) {
	ch, err := v.challenges.Consume(ctx, challengeToken, PurposeAuthentication, "")
	if err != nil {
		return nil, err
	}

	username, err := v.resolveOwner(ctx, usernameHint, resp.CredentialID)
	if err != nil {
		return nil, err
	}

	cred, err := v.creds.Get(ctx, username, resp.CredentialID)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, ErrUnknownCredential
	}
	if err != nil {
		return nil, err
	}

	if err := verifyClientData(resp.ClientDataJSON, ceremonyGet, ch.Value, v.rp.Origin); err != nil {
		return nil, err
	}

	authData, err := parseAuthenticatorData(resp.AuthenticatorData)
	if err != nil {
		return nil, err
	}
	if err := authData.verifyRPIDHash(v.rp.ID); err != nil {
		return nil, err
	}
	if !authData.userPresent() {
		return nil, ErrUserNotPresent
	}

	// Counter regression suggests a cloned authenticator, but authenticators
	// that permanently report zero are common, so this never blocks.
	newCount := authData.SignCount
	if newCount != 0 && newCount <= cred.SignCount {
		v.sink.Emit(ctx, audit.EventCloneSuspected, username, map[string]any{
			"credential_id":  base64.RawURLEncoding.EncodeToString(cred.ID),
			"stored_count":   cred.SignCount,
			"received_count": newCount,
		})
		v.logger.Warn("signature counter regression",
			"username", username,
			"stored_count", cred.SignCount,
			"received_count", newCount,
		)
	}

	pub, err := importCredentialKey(cred.PublicKey)
	if err != nil {
		return nil, err
	}

	clientDataHash := sha256.Sum256(resp.ClientDataJSON)
	signedData := make([]byte, 0, len(resp.AuthenticatorData)+len(clientDataHash))
	signedData = append(signedData, resp.AuthenticatorData...)
	signedData = append(signedData, clientDataHash[:]...)
	if err := verifySignature(pub, signedData, resp.Signature); err != nil {
		return nil, err
	}

	if newCount > cred.SignCount {
		cred.SignCount = newCount
	}
	cred.LastUsedAt = time.Now().UTC()
	if err := v.creds.Update(ctx, username, cred); err != nil {
		return nil, fmt.Errorf("updating credential: %w", err)
	}

	session, err := v.sessions.Issue(ctx, username, "passkey")
	if err != nil {
		return nil, fmt.Errorf("issuing session: %w", err)
	}

	v.sink.Emit(ctx, audit.EventPasskeyLogin, username, map[string]any{
		"credential_id": base64.RawURLEncoding.EncodeToString(cred.ID),
	})
	v.logger.Info("assertion verified", "username", username)

	return &AssertionResult{Username: username, Session: session}, nil
}

// resolveOwner determines the account: an explicit hint wins, otherwise the
// reverse credential index is consulted. ErrUsernameRequired when neither
// resolves.
func (v *Verifier) resolveOwner(ctx context.Context, hint string, credentialID []byte) (string, error) {
	if hint != "" {
		return hint, nil
	}

	owner, err := v.creds.OwnerOf(ctx, credentialID)
	if errors.Is(err, credentials.ErrNotFound) {
		return "", ErrUsernameRequired
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}
