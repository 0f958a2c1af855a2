// ABOUTME: Authenticator data binary parsing: rpIdHash, flags, counter, attested credential
// ABOUTME: Fixed layout per the FIDO2 wire format; extensions after the COSE key are tolerated

package webauthn

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Authenticator data flag bits.
const (
	flagUserPresent            = byte(1)
	flagUserVerified           = byte(1 << 2)
	flagAttestedCredentialData = byte(1 << 6)
	flagExtensionData          = byte(1 << 7)
)

// Fixed offsets in the authenticator data layout.
const (
	rpIDHashLength     = 32
	authDataMinLength  = 37 // rpIdHash(32) + flags(1) + counter(4)
	aaguidLength       = 16
	attestedDataMinLen = aaguidLength + 2 // aaguid + credential id length
)

// AuthenticatorData is the parsed fixed-layout structure every response
// carries: the RP ID hash, flags, the signature counter, and (for
// registrations) the attested credential data.
type AuthenticatorData struct {
	RPIDHash           []byte
	Flags              byte
	SignCount          uint32
	AttestedCredential *AttestedCredentialData
}

// AttestedCredentialData is present only when the attested-credential flag
// is set. PublicKey holds the raw CBOR COSE key bytes.
type AttestedCredentialData struct {
	AAGUID       []byte
	CredentialID []byte
	PublicKey    []byte
}

// parseAuthenticatorData parses the raw authenticator data bytes.
func parseAuthenticatorData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < authDataMinLength {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedAuthenticatorData, len(raw), authDataMinLength)
	}

	ad := &AuthenticatorData{
		RPIDHash:  raw[:rpIDHashLength],
		Flags:     raw[rpIDHashLength],
		SignCount: binary.BigEndian.Uint32(raw[rpIDHashLength+1 : authDataMinLength]),
	}

	if ad.Flags&flagAttestedCredentialData != 0 {
		acd, err := parseAttestedCredentialData(raw[authDataMinLength:])
		if err != nil {
			return nil, err
		}
		ad.AttestedCredential = acd
	}

	return ad, nil
}

// parseAttestedCredentialData parses the attested credential section:
// 16-byte AAGUID, 2-byte big-endian credential ID length, the credential ID,
// then the CBOR COSE public key. Extension data may trail the key; the COSE
// decoder stops at the end of the first CBOR item.
func parseAttestedCredentialData(rest []byte) (*AttestedCredentialData, error) {
	if len(rest) < attestedDataMinLen {
		return nil, fmt.Errorf("%w: attested credential data truncated", ErrMalformedAuthenticatorData)
	}

	idLen := int(binary.BigEndian.Uint16(rest[aaguidLength : aaguidLength+2]))
	if len(rest) < attestedDataMinLen+idLen {
		return nil, fmt.Errorf("%w: credential id truncated", ErrMalformedAuthenticatorData)
	}

	return &AttestedCredentialData{
		AAGUID:       rest[:aaguidLength],
		CredentialID: rest[attestedDataMinLen : attestedDataMinLen+idLen],
		PublicKey:    rest[attestedDataMinLen+idLen:],
	}, nil
}

// verifyRPIDHash checks that the hash matches SHA-256 of the configured RP ID.
func (a *AuthenticatorData) verifyRPIDHash(rpID string) error {
	want := sha256.Sum256([]byte(rpID))
	if !bytes.Equal(a.RPIDHash, want[:]) {
		return ErrRPIDMismatch
	}
	return nil
}

// userPresent reports whether the user-present flag is set.
func (a *AuthenticatorData) userPresent() bool {
	return a.Flags&flagUserPresent != 0
}
