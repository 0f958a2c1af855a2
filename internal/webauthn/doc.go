// Package webauthn implements the verification core of the passkey relying
// party: challenges, attestation processing, and assertion verification.
//
// # Ceremonies
//
// Both flows follow the same shape: a challenge is issued, the client's
// authenticator answers it, and the answer is verified end to end.
//
//   - Registration: the ChallengeManager issues a challenge bound to the
//     authenticated account, the Processor verifies the attestation object
//     and persists the resulting credential, and a fresh recovery code set
//     is generated.
//
//   - Authentication: the Verifier resolves the account (explicit hint or
//     the reverse credential index), verifies the assertion signature, and
//     hands the identity to the external SessionIssuer.
//
// # Challenges
//
// A challenge is 32 random bytes stored under an opaque 16-byte token with a
// 10-minute TTL. Consumption is a single fetch-and-delete on the backing
// store, which is what makes replay impossible: an expired, consumed, or
// unknown token all fail with ErrChallengeNotFound.
//
// # Supported Algorithms
//
// Verification is deliberately narrow:
//
//   - Attestation format "none" (self-attestation) only
//   - COSE EC2 keys on P-256 with ES256 (alg -7) only
//   - ASN.1 DER ECDSA signatures over authData || SHA-256(clientDataJSON)
//
// Anything else is rejected with ErrUnsupportedAttestationFormat or
// ErrUnsupportedKeyType.
//
// # Signature Counters
//
// A counter regression (nonzero and not greater than the stored value)
// suggests a cloned authenticator, but authenticators that always report
// zero are common. Regressions raise a single audit event and a warning log;
// they never block authentication, and the stored counter never moves
// backwards.
//
// # Errors
//
// Every failure maps onto a sentinel, and Classify groups the sentinels into
// kinds (protocol, challenge, crypto, identity, storage). The API layer uses
// the kind to pick a status code while keeping the detail server-side, so
// callers cannot distinguish an unknown credential from a bad signature.
package webauthn
