// ABOUTME: Shared test harness: an in-memory environment and a fake authenticator
// ABOUTME: The fake authenticator holds a real P-256 key and produces real signatures

package webauthn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/2389/fold-auth/internal/audit"
	"github.com/2389/fold-auth/internal/credentials"
	"github.com/2389/fold-auth/internal/kv"
	"github.com/2389/fold-auth/internal/recovery"
)

const (
	testRPID   = "app.example"
	testOrigin = "https://app.example"
)

// stubSessions issues a fixed session without involving JWTs.
type stubSessions struct {
	lastUsername string
	lastMethod   string
}

func (s *stubSessions) Issue(_ context.Context, username, method string) (*Session, error) {
	s.lastUsername = username
	s.lastMethod = method
	return &Session{Token: "session-" + username, Role: "user"}, nil
}

// stubRecoveryTokens satisfies the recovery service's token dependency.
type stubRecoveryTokens struct{}

func (stubRecoveryTokens) IssueRecoveryToken(username string, codeIndex int) (string, error) {
	return "recovery-" + username, nil
}

// testEnv wires the verification core over an in-memory store.
type testEnv struct {
	store      *kv.MemoryStore
	challenges *ChallengeManager
	creds      *credentials.Store
	recovery   *recovery.Service
	sink       *audit.Recorder
	sessions   *stubSessions
	processor  *Processor
	verifier   *Verifier
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	sink := audit.NewRecorder()
	sessions := &stubSessions{}
	creds := credentials.NewStore(store)
	rec := recovery.NewService(store, creds, stubRecoveryTokens{}, sink, 0)
	challenges := NewChallengeManager(store)

	rp := RPConfig{ID: testRPID, Origin: testOrigin, Name: "test"}
	return &testEnv{
		store:      store,
		challenges: challenges,
		creds:      creds,
		recovery:   rec,
		sink:       sink,
		sessions:   sessions,
		processor:  NewProcessor(rp, challenges, creds, rec, sink),
		verifier:   NewVerifier(rp, challenges, creds, sessions, sink),
	}
}

// testAuthenticator emulates a platform authenticator: one resident P-256
// key, a credential ID, and a signature counter under the test's control.
type testAuthenticator struct {
	key    *ecdsa.PrivateKey
	credID []byte
}

func newTestAuthenticator(t *testing.T) *testAuthenticator {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	credID := make([]byte, 16)
	_, err = rand.Read(credID)
	require.NoError(t, err)

	return &testAuthenticator{key: key, credID: credID}
}

// cosePublicKey encodes the authenticator's public key as a CBOR COSE EC2 map.
func (a *testAuthenticator) cosePublicKey(t *testing.T) []byte {
	t.Helper()

	x := a.key.PublicKey.X.FillBytes(make([]byte, 32))
	y := a.key.PublicKey.Y.FillBytes(make([]byte, 32))

	raw, err := cbor.Marshal(map[int64]any{
		1:  2,  // kty: EC2
		3:  -7, // alg: ES256
		-1: 1,  // crv: P-256
		-2: x,
		-3: y,
	})
	require.NoError(t, err)
	return raw
}

// clientDataJSON builds the collected client data a browser would produce.
func clientDataJSON(t *testing.T, ceremony string, challenge []byte, origin string) []byte {
	t.Helper()

	raw, err := json.Marshal(map[string]string{
		"type":      ceremony,
		"challenge": base64.RawURLEncoding.EncodeToString(challenge),
		"origin":    origin,
	})
	require.NoError(t, err)
	return raw
}

// buildAuthData assembles raw authenticator data: rpIdHash, flags, counter,
// and an optional attested credential section.
func buildAuthData(rpID string, flags byte, counter uint32, attested []byte) []byte {
	rpHash := sha256.Sum256([]byte(rpID))

	out := make([]byte, 0, authDataMinLength+len(attested))
	out = append(out, rpHash[:]...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, counter)
	out = append(out, attested...)
	return out
}

// attestedCredentialData assembles the attested credential section for the
// authenticator's credential: zero AAGUID, credential ID, COSE key.
func (a *testAuthenticator) attestedCredentialData(t *testing.T) []byte {
	t.Helper()

	out := make([]byte, aaguidLength)
	out = binary.BigEndian.AppendUint16(out, uint16(len(a.credID)))
	out = append(out, a.credID...)
	out = append(out, a.cosePublicKey(t)...)
	return out
}

// attestationObject wraps authData in a CBOR attestation object.
func encodeAttestationObject(t *testing.T, format string, authData []byte) []byte {
	t.Helper()

	raw, err := cbor.Marshal(map[string]any{
		"fmt":      format,
		"attStmt":  map[string]any{},
		"authData": authData,
	})
	require.NoError(t, err)
	return raw
}

// registrationResponse builds a complete well-formed registration response
// for the given challenge.
func (a *testAuthenticator) registrationResponse(t *testing.T, challenge []byte, origin string) *RegistrationResponse {
	t.Helper()

	authData := buildAuthData(testRPID, flagUserPresent|flagAttestedCredentialData, 0, a.attestedCredentialData(t))
	return &RegistrationResponse{
		CredentialID:      a.credID,
		ClientDataJSON:    clientDataJSON(t, ceremonyCreate, challenge, origin),
		AttestationObject: encodeAttestationObject(t, "none", authData),
		DeviceName:        "test device",
	}
}

// assertionResponse builds an assertion with a real signature over the given
// authenticator data parameters.
func (a *testAuthenticator) assertionResponse(t *testing.T, challenge []byte, origin, rpID string, flags byte, counter uint32) *AssertionResponse {
	t.Helper()

	authData := buildAuthData(rpID, flags, counter, nil)
	cd := clientDataJSON(t, ceremonyGet, challenge, origin)

	cdHash := sha256.Sum256(cd)
	signed := append(append([]byte{}, authData...), cdHash[:]...)
	digest := sha256.Sum256(signed)

	sig, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	require.NoError(t, err)

	return &AssertionResponse{
		CredentialID:      a.credID,
		ClientDataJSON:    cd,
		AuthenticatorData: authData,
		Signature:         sig,
	}
}

// register runs the full registration flow for the authenticator and fails
// the test on any error.
func (env *testEnv) register(t *testing.T, a *testAuthenticator, username string) *RegistrationResult {
	t.Helper()

	ctx := context.Background()
	ch, token, err := env.challenges.Issue(ctx, PurposeRegistration, username)
	require.NoError(t, err)

	result, err := env.processor.Register(ctx, username, token, a.registrationResponse(t, ch.Value, testOrigin))
	require.NoError(t, err)
	return result
}
