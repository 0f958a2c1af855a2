// ABOUTME: Registration verification: attestation object decoding through credential persistence
// ABOUTME: Self-attestation ("none") only; ends with a fresh recovery code set

package webauthn

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/2389/fold-auth/internal/audit"
	"github.com/2389/fold-auth/internal/credentials"
	"github.com/2389/fold-auth/internal/recovery"
)

// RPConfig identifies the relying party. ID is the domain the authenticator
// hashes; Origin is the exact scheme+host+port the client must report.
type RPConfig struct {
	ID     string
	Origin string
	Name   string
}

// RegistrationResponse is the client's answer to a registration challenge.
type RegistrationResponse struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AttestationObject []byte
	DeviceName        string
	Transports        []string
}

// RegistrationResult carries the persisted credential and the plaintext
// recovery codes, which exist only in this return value.
type RegistrationResult struct {
	Credential    *credentials.Credential
	RecoveryCodes []string
}

// attestationObject is the CBOR envelope around the authenticator data.
// attStmt is ignored: only self-attestation ("none") is accepted and it
// carries an empty statement.
type attestationObject struct {
	Format      string          `cbor:"fmt"`
	AttStmt     cbor.RawMessage `cbor:"attStmt"`
	RawAuthData []byte          `cbor:"authData"`
}

// Processor verifies registration responses and persists the resulting
// credential.
type Processor struct {
	rp         RPConfig
	challenges *ChallengeManager
	creds      *credentials.Store
	recovery   *recovery.Service
	sink       audit.Sink
	logger     *slog.Logger
}

// NewProcessor creates an attestation processor.
func NewProcessor(rp RPConfig, challenges *ChallengeManager, creds *credentials.Store, rec *recovery.Service, sink audit.Sink) *Processor {
	return &Processor{
		rp:         rp,
		challenges: challenges,
		creds:      creds,
		recovery:   rec,
		sink:       sink,
		logger:     slog.Default().With("component", "attestation"),
	}
}

// Register consumes the challenge and verifies the registration response end
// to end: client data, attestation object, authenticator data, attested
// credential, and COSE key. On success the credential is persisted under
// username and a fresh recovery code set is generated.
func (p *Processor) Register(ctx context.Context, username, challengeToken string, resp *RegistrationResponse) (*RegistrationResult, error) {
	ch, err := p.challenges.Consume(ctx, challengeToken, PurposeRegistration, username)
	if err != nil {
		return nil, err
	}

	if err := verifyClientData(resp.ClientDataJSON, ceremonyCreate, ch.Value, p.rp.Origin); err != nil {
		return nil, err
	}

	var attObj attestationObject
	if err := cbor.Unmarshal(resp.AttestationObject, &attObj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAttestation, err)
	}
	if len(attObj.RawAuthData) == 0 {
		return nil, fmt.Errorf("%w: missing authData", ErrMalformedAttestation)
	}
	if attObj.Format != "none" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAttestationFormat, attObj.Format)
	}

	authData, err := parseAuthenticatorData(attObj.RawAuthData)
	if err != nil {
		return nil, err
	}
	if err := authData.verifyRPIDHash(p.rp.ID); err != nil {
		return nil, err
	}
	if !authData.userPresent() {
		return nil, ErrUserNotPresent
	}
	if authData.AttestedCredential == nil {
		return nil, ErrMissingAttestedCredentialData
	}

	acd := authData.AttestedCredential
	if !bytes.Equal(acd.CredentialID, resp.CredentialID) {
		return nil, ErrCredentialIDMismatch
	}

	coseKey, err := decodeCOSEKey(acd.PublicKey)
	if err != nil {
		return nil, err
	}
	if _, err := coseKey.ecdsaPublicKey(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cred := &credentials.Credential{
		ID:         acd.CredentialID,
		PublicKey:  acd.PublicKey,
		Algorithm:  coseAlgES256,
		SignCount:  authData.SignCount,
		Transports: resp.Transports,
		Name:       deviceName(resp.DeviceName),
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := p.creds.Add(ctx, username, cred); err != nil {
		return nil, err
	}

	codes, err := p.recovery.Generate(ctx, username)
	if err != nil {
		return nil, err
	}

	p.sink.Emit(ctx, audit.EventPasskeyRegistered, username, map[string]any{
		"device_name": cred.Name,
	})
	p.logger.Info("registration verified", "username", username, "device_name", cred.Name)

	return &RegistrationResult{Credential: cred, RecoveryCodes: codes}, nil
}

// deviceName bounds the user-supplied name and falls back to a default.
func deviceName(name string) string {
	if name == "" {
		return "passkey"
	}
	if len(name) > credentials.MaxNameLength {
		return name[:credentials.MaxNameLength]
	}
	return name
}
