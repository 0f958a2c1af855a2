// ABOUTME: Challenge manager issuing and consuming single-use TTL-bound challenges
// ABOUTME: Challenges are keyed by an opaque token and deleted on first consumption

package webauthn

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fold-auth/internal/kv"
)

// ChallengePurpose distinguishes registration from authentication challenges.
type ChallengePurpose string

const (
	PurposeRegistration   ChallengePurpose = "registration"
	PurposeAuthentication ChallengePurpose = "authentication"
)

const (
	// ChallengeTTL is how long an issued challenge stays redeemable.
	ChallengeTTL = 600 * time.Second

	challengeSize = 32
	tokenSize     = 16

	challengeKeyPrefix = "challenge:"
)

// Challenge is the stored record for an issued challenge. For registration
// Identity is the username the challenge is bound to; for authentication it
// is an optional hint.
type Challenge struct {
	Value     []byte           `json:"value"`
	Purpose   ChallengePurpose `json:"purpose"`
	Identity  string           `json:"identity,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ChallengeManager issues and consumes challenges backed by the kv store.
// Expiry is enforced by store TTL; an expired challenge is indistinguishable
// from a deleted one.
type ChallengeManager struct {
	store  kv.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewChallengeManager creates a challenge manager with the default TTL.
func NewChallengeManager(store kv.Store) *ChallengeManager {
	return &ChallengeManager{
		store:  store,
		ttl:    ChallengeTTL,
		logger: slog.Default().With("component", "challenges"),
	}
}

// Issue generates a fresh 32-byte challenge and a 16-byte opaque token, and
// stores the challenge record under the token with the manager's TTL.
func (m *ChallengeManager) Issue(ctx context.Context, purpose ChallengePurpose, identity string) (*Challenge, string, error) {
	value := make([]byte, challengeSize)
	if _, err := rand.Read(value); err != nil {
		return nil, "", fmt.Errorf("generating challenge: %w", err)
	}

	tokenBytes := make([]byte, tokenSize)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, "", fmt.Errorf("generating challenge token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)

	ch := &Challenge{
		Value:     value,
		Purpose:   purpose,
		Identity:  identity,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(ch)
	if err != nil {
		return nil, "", fmt.Errorf("marshaling challenge: %w", err)
	}
	if err := m.store.Put(ctx, challengeKeyPrefix+token, data, m.ttl); err != nil {
		return nil, "", fmt.Errorf("storing challenge: %w", err)
	}

	m.logger.Debug("issued challenge", "purpose", purpose, "identity", identity)
	return ch, token, nil
}

// Consume fetches and deletes the challenge for token in a single operation.
// A second call for the same token always returns ErrChallengeNotFound, which
// is what prevents replay. The stored purpose must match, and a registration
// challenge must be redeemed by the identity it was bound to.
func (m *ChallengeManager) Consume(ctx context.Context, token string, purpose ChallengePurpose, authenticatedIdentity string) (*Challenge, error) {
	data, err := m.store.GetDelete(ctx, challengeKeyPrefix+token)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming challenge: %w", err)
	}

	var ch Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("unmarshaling challenge: %w", err)
	}

	if ch.Purpose != purpose {
		m.logger.Warn("challenge purpose mismatch", "stored", ch.Purpose, "requested", purpose)
		return nil, ErrChallengeNotFound
	}

	if ch.Purpose == PurposeRegistration && ch.Identity != authenticatedIdentity {
		m.logger.Warn("challenge ownership mismatch",
			"bound_identity", ch.Identity,
			"caller_identity", authenticatedIdentity,
		)
		return nil, ErrChallengeOwnershipMismatch
	}

	return &ch, nil
}
