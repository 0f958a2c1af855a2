// ABOUTME: One-time recovery codes: generation, PBKDF2 hashing, consumption, emergency reset
// ABOUTME: Plaintext codes are returned exactly once; only hashes are persisted

package recovery

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/2389/fold-auth/internal/audit"
	"github.com/2389/fold-auth/internal/credentials"
	"github.com/2389/fold-auth/internal/kv"
)

// ErrNoCodes is returned when the account has no recovery code set.
var ErrNoCodes = errors.New("no recovery codes")

// ErrCodeInvalid is returned when the code matches no unused entry. A code
// whose index is already used is rejected the same way even though its hash
// remains in storage.
var ErrCodeInvalid = errors.New("recovery code invalid")

const (
	// CodeCount is the number of codes in a generated set.
	CodeCount = 12

	// DefaultCodeLength is the per-code length over the 36-symbol alphabet,
	// roughly 41 bits of entropy per code.
	DefaultCodeLength = 8

	// TokenTTL bounds the recovery-authentication token a consumed code
	// yields. The token is redeemed by an external reset flow, never
	// exchanged directly for a full session.
	TokenTTL = 15 * time.Minute

	codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	pbkdf2Iterations = 100000
	saltLength       = 16
	hashLength       = 32

	setKeyPrefix = "recovery:"
)

// CodeSet is the persisted recovery state for one account: hashed codes, the
// per-set salt, and the indices already consumed. A used index is
// permanently excluded even if the set is never regenerated.
type CodeSet struct {
	Salt        []byte    `json:"salt"`
	Hashes      [][]byte  `json:"hashes"`
	UsedIndices []int     `json:"used_indices"`
	CreatedAt   time.Time `json:"created_at"`
}

func (cs *CodeSet) used(index int) bool {
	for _, u := range cs.UsedIndices {
		if u == index {
			return true
		}
	}
	return false
}

// TokenIssuer mints the short-lived recovery-authentication token a consumed
// code yields.
type TokenIssuer interface {
	IssueRecoveryToken(username string, codeIndex int) (string, error)
}

// Service manages recovery code sets over the kv store.
type Service struct {
	kv         kv.Store
	creds      *credentials.Store
	tokens     TokenIssuer
	sink       audit.Sink
	codeLength int
	logger     *slog.Logger
}

// NewService creates a recovery service. codeLength <= 0 selects the default.
func NewService(store kv.Store, creds *credentials.Store, tokens TokenIssuer, sink audit.Sink, codeLength int) *Service {
	if codeLength <= 0 {
		codeLength = DefaultCodeLength
	}
	return &Service{
		kv:         store,
		creds:      creds,
		tokens:     tokens,
		sink:       sink,
		codeLength: codeLength,
		logger:     slog.Default().With("component", "recovery"),
	}
}

func setKey(username string) string {
	return setKeyPrefix + username
}

// Generate creates a fresh set of codes for username, replacing any existing
// set, and returns the plaintext codes. This is the only time plaintext
// exists; storage holds PBKDF2-SHA256 hashes and the per-set salt.
func (s *Service) Generate(ctx context.Context, username string) ([]string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	codes := make([]string, CodeCount)
	hashes := make([][]byte, CodeCount)
	for i := range codes {
		code, err := randomCode(s.codeLength)
		if err != nil {
			return nil, fmt.Errorf("generating recovery code: %w", err)
		}
		codes[i] = code
		hashes[i] = hashCode(code, salt)
	}

	set := &CodeSet{
		Salt:      salt,
		Hashes:    hashes,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.putSet(ctx, username, set); err != nil {
		return nil, err
	}

	s.sink.Emit(ctx, audit.EventRecoveryCodesGenerated, username, map[string]any{"count": CodeCount})
	s.logger.Info("recovery codes generated", "username", username, "count", CodeCount)
	return codes, nil
}

// Consume verifies code against the unused entries of username's set. The
// first match marks its index permanently used and yields a short-lived
// recovery-authentication token bound to the account and index.
func (s *Service) Consume(ctx context.Context, username, code string) (string, error) {
	set, err := s.getSet(ctx, username)
	if err != nil {
		return "", err
	}

	for i, hash := range set.Hashes {
		if set.used(i) {
			continue
		}
		if verifyCode(code, hash, set.Salt) {
			set.UsedIndices = append(set.UsedIndices, i)
			if err := s.putSet(ctx, username, set); err != nil {
				return "", err
			}

			token, err := s.tokens.IssueRecoveryToken(username, i)
			if err != nil {
				return "", fmt.Errorf("issuing recovery token: %w", err)
			}

			s.sink.Emit(ctx, audit.EventRecoveryCodeRedeemed, username, map[string]any{
				"code_index": i,
				"remaining":  CodeCount - len(set.UsedIndices),
			})
			s.logger.Info("recovery code redeemed", "username", username, "code_index", i)
			return token, nil
		}
	}

	return "", ErrCodeInvalid
}

// Remaining reports how many codes are still unused.
func (s *Service) Remaining(ctx context.Context, username string) (int, error) {
	set, err := s.getSet(ctx, username)
	if err != nil {
		return 0, err
	}
	return len(set.Hashes) - len(set.UsedIndices), nil
}

// DisableAll is the irreversible emergency reset: every credential owned by
// the account is deleted along with its indices, and the recovery code set
// is removed.
func (s *Service) DisableAll(ctx context.Context, username string) error {
	removed, err := s.creds.RemoveAll(ctx, username)
	if err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}

	if err := s.kv.Delete(ctx, setKey(username)); err != nil {
		return fmt.Errorf("deleting recovery code set: %w", err)
	}

	s.sink.Emit(ctx, audit.EventAccountReset, username, map[string]any{"credentials_removed": removed})
	s.logger.Info("account reset", "username", username, "credentials_removed", removed)
	return nil
}

func (s *Service) getSet(ctx context.Context, username string) (*CodeSet, error) {
	data, err := s.kv.Get(ctx, setKey(username))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoCodes
	}
	if err != nil {
		return nil, fmt.Errorf("querying recovery code set: %w", err)
	}

	var set CodeSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("unmarshaling recovery code set: %w", err)
	}
	return &set, nil
}

func (s *Service) putSet(ctx context.Context, username string, set *CodeSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshaling recovery code set: %w", err)
	}
	if err := s.kv.Put(ctx, setKey(username), data, 0); err != nil {
		return fmt.Errorf("storing recovery code set: %w", err)
	}
	return nil
}

// hashCode derives the stored hash for a code with the set's salt.
func hashCode(code string, salt []byte) []byte {
	return pbkdf2.Key([]byte(code), salt, pbkdf2Iterations, hashLength, sha256.New)
}

// verifyCode re-derives and compares in constant time.
func verifyCode(code string, hash, salt []byte) bool {
	return subtle.ConstantTimeCompare(hashCode(code, salt), hash) == 1
}

// randomCode draws length symbols uniformly from the alphabet using
// rejection sampling to avoid modulo bias.
func randomCode(length int) (string, error) {
	const maxAcceptable = byte(252) // largest multiple of 36 below 256

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= maxAcceptable {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
