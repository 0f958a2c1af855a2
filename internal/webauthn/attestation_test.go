// ABOUTME: Registration verification tests against the fake authenticator
// ABOUTME: Covers the happy path plus every protocol and crypto rejection

package webauthn

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fold-auth/internal/audit"
	"github.com/2389/fold-auth/internal/credentials"
	"github.com/2389/fold-auth/internal/recovery"
)

func TestRegisterSuccess(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)

	result := env.register(t, auth, "alice")

	assert.Equal(t, auth.credID, result.Credential.ID)
	assert.Equal(t, -7, result.Credential.Algorithm)
	assert.Equal(t, "test device", result.Credential.Name)
	assert.Len(t, result.RecoveryCodes, recovery.CodeCount)

	// The credential is persisted and resolvable both ways.
	list, err := env.creds.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)

	owner, err := env.creds.OwnerOf(context.Background(), auth.credID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	assert.Equal(t, 1, env.sink.CountOf(audit.EventPasskeyRegistered))
	assert.Equal(t, 1, env.sink.CountOf(audit.EventRecoveryCodesGenerated))
}

func TestRegisterChallengeReplay(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	_, err = env.processor.Register(ctx, "alice", token, resp)
	require.NoError(t, err)

	// Replaying the same token with a fresh credential must fail.
	other := newTestAuthenticator(t)
	_, err = env.processor.Register(ctx, "alice", token, other.registrationResponse(t, ch.Value, testOrigin))
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRegisterWrongOrigin(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	// A phishing page would report its own origin in the client data even
	// with a relayed challenge.
	resp := auth.registrationResponse(t, ch.Value, "https://evil.example")
	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrClientDataMismatch)
}

func TestRegisterChallengeOwnership(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	_, err = env.processor.Register(ctx, "mallory", token, auth.registrationResponse(t, ch.Value, testOrigin))
	assert.ErrorIs(t, err, ErrChallengeOwnershipMismatch)
}

func TestRegisterUnsupportedFormat(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	authData := buildAuthData(testRPID, flagUserPresent|flagAttestedCredentialData, 0, auth.attestedCredentialData(t))
	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.AttestationObject = encodeAttestationObject(t, "packed", authData)

	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
}

func TestRegisterMalformedAttestation(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.AttestationObject = []byte{0xff, 0x00, 0x01}

	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrMalformedAttestation)
}

func TestRegisterMissingAuthData(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	// Valid CBOR map without an authData entry.
	raw, err := cbor.Marshal(map[string]any{"fmt": "none", "attStmt": map[string]any{}})
	require.NoError(t, err)

	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.AttestationObject = raw

	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrMalformedAttestation)
}

func TestRegisterUserNotPresent(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	authData := buildAuthData(testRPID, flagAttestedCredentialData, 0, auth.attestedCredentialData(t))
	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.AttestationObject = encodeAttestationObject(t, "none", authData)

	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrUserNotPresent)
}

func TestRegisterMissingAttestedCredential(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	authData := buildAuthData(testRPID, flagUserPresent, 0, nil)
	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.AttestationObject = encodeAttestationObject(t, "none", authData)

	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrMissingAttestedCredentialData)
}

func TestRegisterRPIDMismatch(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	authData := buildAuthData("other.example", flagUserPresent|flagAttestedCredentialData, 0, auth.attestedCredentialData(t))
	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.AttestationObject = encodeAttestationObject(t, "none", authData)

	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrRPIDMismatch)
}

func TestRegisterCredentialIDMismatch(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.CredentialID = []byte("some-other-credential")

	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrCredentialIDMismatch)
}

func TestRegisterDuplicateCredentialID(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	env.register(t, auth, "alice")

	// The same credential ID presented by a different account is rejected at
	// the store layer.
	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "mallory")
	require.NoError(t, err)

	_, err = env.processor.Register(ctx, "mallory", token, auth.registrationResponse(t, ch.Value, testOrigin))
	assert.ErrorIs(t, err, credentials.ErrDuplicateCredentialID)
	assert.Equal(t, KindIdentity, Classify(err))
}

func TestRegisterBadCOSEKey(t *testing.T) {
	env := setupTestEnv(t)
	auth := newTestAuthenticator(t)
	ctx := context.Background()

	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	// RS256 instead of ES256.
	badKey, err := cbor.Marshal(map[int64]any{1: 2, 3: -257, -1: 1, -2: make([]byte, 32), -3: make([]byte, 32)})
	require.NoError(t, err)

	attested := make([]byte, aaguidLength)
	attested = append(attested, 0, byte(len(auth.credID)))
	attested = append(attested, auth.credID...)
	attested = append(attested, badKey...)

	authData := buildAuthData(testRPID, flagUserPresent|flagAttestedCredentialData, 0, attested)
	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.AttestationObject = encodeAttestationObject(t, "none", authData)

	_, err = env.processor.Register(ctx, "alice", token, resp)
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestRegisterDeviceNameDefaultsAndBounds(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	auth := newTestAuthenticator(t)
	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	resp := auth.registrationResponse(t, ch.Value, testOrigin)
	resp.DeviceName = ""
	result, err := env.processor.Register(ctx, "alice", token, resp)
	require.NoError(t, err)
	assert.Equal(t, "passkey", result.Credential.Name)

	long := newTestAuthenticator(t)
	ch, token, err = env.challenges.Issue(ctx, PurposeRegistration, "alice")
	require.NoError(t, err)

	resp = long.registrationResponse(t, ch.Value, testOrigin)
	for len(resp.DeviceName) <= credentials.MaxNameLength {
		resp.DeviceName += "very long device name "
	}
	result, err = env.processor.Register(ctx, "alice", token, resp)
	require.NoError(t, err)
	assert.Len(t, result.Credential.Name, credentials.MaxNameLength)
}
