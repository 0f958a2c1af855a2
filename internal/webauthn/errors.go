// ABOUTME: Error sentinels and taxonomy classification for the verification core
// ABOUTME: Maps every failure onto protocol/challenge/crypto/identity/storage kinds

package webauthn

import (
	"errors"

	"github.com/2389/fold-auth/internal/credentials"
	"github.com/2389/fold-auth/internal/kv"
)

// Verification errors. All are terminal for the call that produced them:
// verification is deterministic, so retrying the same input changes nothing.
var (
	// ErrClientDataMismatch is returned when the client data JSON has the
	// wrong ceremony type, challenge, or origin.
	ErrClientDataMismatch = errors.New("client data mismatch")

	// ErrMalformedAuthenticatorData is returned when the authenticator data
	// is too short or its attested credential section is truncated.
	ErrMalformedAuthenticatorData = errors.New("malformed authenticator data")

	// ErrRPIDMismatch is returned when the rpIdHash does not match the
	// configured relying party ID.
	ErrRPIDMismatch = errors.New("relying party id mismatch")

	// ErrUserNotPresent is returned when the user-present flag is not set.
	ErrUserNotPresent = errors.New("user present flag not set")

	// ErrMissingAttestedCredentialData is returned when a registration
	// response carries no attested credential data.
	ErrMissingAttestedCredentialData = errors.New("attested credential data missing")

	// ErrCredentialIDMismatch is returned when the attested credential ID
	// differs from the ID asserted in the request.
	ErrCredentialIDMismatch = errors.New("credential id mismatch")

	// ErrMalformedAttestation is returned when the attestation object is not
	// valid CBOR or lacks required fields.
	ErrMalformedAttestation = errors.New("malformed attestation object")

	// ErrUnsupportedAttestationFormat is returned for attestation formats
	// other than "none". Self-attestation is the only supported posture.
	ErrUnsupportedAttestationFormat = errors.New("unsupported attestation format")

	// ErrUnsupportedKeyType is returned when the COSE key is not an EC2
	// P-256 ES256 key with 32-byte coordinates, or fails to decode.
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	// ErrInvalidSignature is returned when ECDSA verification fails.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrChallengeNotFound is returned when a challenge token is unknown,
	// already consumed, or expired. The three are indistinguishable.
	ErrChallengeNotFound = errors.New("challenge not found or expired")

	// ErrChallengeOwnershipMismatch is returned when a registration
	// challenge is redeemed by an identity other than the one it was bound
	// to. This stops a stolen challenge token from being redeemed by a
	// different account.
	ErrChallengeOwnershipMismatch = errors.New("challenge bound to a different identity")

	// ErrUsernameRequired is returned when neither a username hint nor the
	// reverse credential index resolves an account.
	ErrUsernameRequired = errors.New("username required")

	// ErrUnknownCredential is returned when the asserted credential is not
	// registered for the resolved account.
	ErrUnknownCredential = errors.New("unknown credential")
)

// Kind groups verification errors for the API layer, which exposes only a
// generic failure to callers and keeps the detail server-side.
type Kind int

const (
	KindUnknown Kind = iota
	KindProtocol
	KindChallenge
	KindCrypto
	KindIdentity
	KindStorage
)

// String returns the kind name used in logs and audit detail.
func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol_violation"
	case KindChallenge:
		return "challenge_error"
	case KindCrypto:
		return "crypto_error"
	case KindIdentity:
		return "identity_error"
	case KindStorage:
		return "storage_error"
	default:
		return "unknown"
	}
}

// Classify maps an error from the verification core onto its taxonomy kind.
// Unrecognized errors classify as storage: anything the core didn't produce
// itself came from a collaborator and is load-bearing.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrClientDataMismatch),
		errors.Is(err, ErrMalformedAuthenticatorData),
		errors.Is(err, ErrRPIDMismatch),
		errors.Is(err, ErrUserNotPresent),
		errors.Is(err, ErrMissingAttestedCredentialData),
		errors.Is(err, ErrCredentialIDMismatch):
		return KindProtocol
	case errors.Is(err, ErrChallengeNotFound),
		errors.Is(err, ErrChallengeOwnershipMismatch):
		return KindChallenge
	case errors.Is(err, ErrMalformedAttestation),
		errors.Is(err, ErrUnsupportedAttestationFormat),
		errors.Is(err, ErrUnsupportedKeyType),
		errors.Is(err, ErrInvalidSignature):
		return KindCrypto
	case errors.Is(err, ErrUsernameRequired),
		errors.Is(err, ErrUnknownCredential),
		errors.Is(err, credentials.ErrNotFound),
		errors.Is(err, credentials.ErrDuplicateCredentialID):
		return KindIdentity
	case errors.Is(err, kv.ErrNotFound):
		return KindIdentity
	default:
		return KindStorage
	}
}
