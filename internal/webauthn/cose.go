// ABOUTME: COSE EC2 public key decoding and ECDSA P-256 signature verification
// ABOUTME: Only kty=2 alg=-7 crv=1 with 32-byte coordinates is accepted

package webauthn

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE parameter values for the single supported key shape.
const (
	coseKeyTypeEC2 = 2
	coseAlgES256   = -7
	coseCurveP256  = 1

	coseCoordinateLength = 32
)

// coseEC2Key is the CBOR map an authenticator encodes the credential public
// key as, with integer labels per RFC 9052.
type coseEC2Key struct {
	KeyType   int64  `cbor:"1,keyasint"`
	Algorithm int64  `cbor:"3,keyasint"`
	Curve     int64  `cbor:"-1,keyasint"`
	X         []byte `cbor:"-2,keyasint"`
	Y         []byte `cbor:"-3,keyasint"`
}

// decodeCOSEKey decodes the raw CBOR COSE key. Trailing bytes are tolerated
// because extension data can follow the key inside authenticator data.
func decodeCOSEKey(raw []byte) (*coseEC2Key, error) {
	var key coseEC2Key
	if _, err := cbor.UnmarshalFirst(raw, &key); err != nil {
		return nil, fmt.Errorf("%w: decoding COSE key: %v", ErrUnsupportedKeyType, err)
	}
	return &key, nil
}

// ecdsaPublicKey validates the key parameters and imports the coordinates as
// an ECDSA P-256 verification key. The point is checked to be on the curve.
func (k *coseEC2Key) ecdsaPublicKey() (*ecdsa.PublicKey, error) {
	if k.KeyType != coseKeyTypeEC2 {
		return nil, fmt.Errorf("%w: kty %d", ErrUnsupportedKeyType, k.KeyType)
	}
	if k.Algorithm != coseAlgES256 {
		return nil, fmt.Errorf("%w: alg %d", ErrUnsupportedKeyType, k.Algorithm)
	}
	if k.Curve != coseCurveP256 {
		return nil, fmt.Errorf("%w: crv %d", ErrUnsupportedKeyType, k.Curve)
	}
	if len(k.X) != coseCoordinateLength || len(k.Y) != coseCoordinateLength {
		return nil, fmt.Errorf("%w: coordinate lengths %d/%d", ErrUnsupportedKeyType, len(k.X), len(k.Y))
	}

	// crypto/ecdh rejects points not on the curve and the identity point.
	uncompressed := make([]byte, 0, 1+2*coseCoordinateLength)
	uncompressed = append(uncompressed, 0x04)
	uncompressed = append(uncompressed, k.X...)
	uncompressed = append(uncompressed, k.Y...)
	if _, err := ecdh.P256().NewPublicKey(uncompressed); err != nil {
		return nil, fmt.Errorf("%w: invalid curve point: %v", ErrUnsupportedKeyType, err)
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}, nil
}

// importCredentialKey decodes and imports a stored raw COSE key in one step.
func importCredentialKey(raw []byte) (*ecdsa.PublicKey, error) {
	key, err := decodeCOSEKey(raw)
	if err != nil {
		return nil, err
	}
	return key.ecdsaPublicKey()
}

// verifySignature checks an ASN.1 DER ECDSA signature over SHA-256 of
// signedData. A failed verification is terminal.
func verifySignature(pub *ecdsa.PublicKey, signedData, sig []byte) error {
	digest := sha256.Sum256(signedData)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return ErrInvalidSignature
	}
	return nil
}
