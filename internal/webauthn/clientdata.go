// ABOUTME: Collected client data decoding and validation
// ABOUTME: Checks ceremony type, challenge byte equality, and exact origin match

package webauthn

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Ceremony types set by the client for the two flows.
const (
	ceremonyCreate = "webauthn.create"
	ceremonyGet    = "webauthn.get"
)

// collectedClientData is the contextual binding produced by the client.
// TokenBinding and extra members are ignored.
type collectedClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// verifyClientData decodes raw client data JSON and checks the ceremony
// type, the challenge (byte equality after base64url decoding), and the
// origin (exact string match against the configured origin).
func verifyClientData(raw []byte, wantType string, wantChallenge []byte, origin string) error {
	var cd collectedClientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return fmt.Errorf("%w: parsing client data: %v", ErrClientDataMismatch, err)
	}

	if cd.Type != wantType {
		return fmt.Errorf("%w: type %q, want %q", ErrClientDataMismatch, cd.Type, wantType)
	}

	gotChallenge, err := decodeBase64URL(cd.Challenge)
	if err != nil {
		return fmt.Errorf("%w: decoding challenge: %v", ErrClientDataMismatch, err)
	}
	if !bytes.Equal(gotChallenge, wantChallenge) {
		return fmt.Errorf("%w: challenge", ErrClientDataMismatch)
	}

	if cd.Origin != origin {
		return fmt.Errorf("%w: origin %q, want %q", ErrClientDataMismatch, cd.Origin, origin)
	}

	return nil
}

// decodeBase64URL decodes base64url with or without padding. Clients emit
// the unpadded form; stored values may carry padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
