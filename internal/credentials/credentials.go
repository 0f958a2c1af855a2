// ABOUTME: Credential persistence: per-owner index plus a global reverse index
// ABOUTME: The backing kv store only does point lookups, so enumeration goes through the index

package credentials

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fold-auth/internal/kv"
)

// ErrNotFound is returned when a credential doesn't exist for the owner.
var ErrNotFound = errors.New("credential not found")

// ErrDuplicateCredentialID is returned when a credential ID is already
// registered. A credential ID maps to exactly one owner globally.
var ErrDuplicateCredentialID = errors.New("credential id already registered")

// ErrNameTooLong is returned when a display name exceeds MaxNameLength.
var ErrNameTooLong = errors.New("credential name too long")

// MaxNameLength bounds credential display names.
const MaxNameLength = 64

// Key prefixes. The reverse index (credowner:) exists because the store has
// no query capability; it is the only way to resolve a credential ID to its
// account during usernameless authentication.
const (
	credentialKeyPrefix = "credential:"
	indexKeyPrefix      = "credindex:"
	ownerKeyPrefix      = "credowner:"
)

// Credential is a registered passkey. PublicKey holds the raw COSE bytes as
// received at registration; the algorithm is fixed to ES256.
type Credential struct {
	ID         []byte    `json:"id"`
	PublicKey  []byte    `json:"public_key"`
	Algorithm  int       `json:"algorithm"` // COSE identifier, always -7
	SignCount  uint32    `json:"sign_count"`
	Transports []string  `json:"transports,omitempty"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Store maintains credentials, the per-owner index, and the reverse index
// over the kv collaborator.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

// NewStore creates a credential store over the given kv store.
func NewStore(store kv.Store) *Store {
	return &Store{
		kv:     store,
		logger: slog.Default().With("component", "credentials"),
	}
}

// EncodeID renders a credential ID the way it appears in store keys and on
// the wire.
func EncodeID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// DecodeID parses an ID produced by EncodeID.
func DecodeID(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

func credentialKey(owner string, id []byte) string {
	return credentialKeyPrefix + owner + ":" + EncodeID(id)
}

func indexKey(owner string) string {
	return indexKeyPrefix + owner
}

func ownerKey(id []byte) string {
	return ownerKeyPrefix + EncodeID(id)
}

// Add inserts a credential for owner, claiming the global reverse index
// entry first. Registration of an ID that is already claimed fails with
// ErrDuplicateCredentialID regardless of who holds it.
func (s *Store) Add(ctx context.Context, owner string, cred *Credential) error {
	claimed, err := s.kv.PutIfAbsent(ctx, ownerKey(cred.ID), []byte(owner), 0)
	if err != nil {
		return fmt.Errorf("claiming reverse index entry: %w", err)
	}
	if !claimed {
		return ErrDuplicateCredentialID
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	if err := s.kv.Put(ctx, credentialKey(owner, cred.ID), data, 0); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	if err := s.indexAdd(ctx, owner, cred.ID); err != nil {
		return err
	}

	s.logger.Info("credential registered", "owner", owner, "credential_id", EncodeID(cred.ID))
	return nil
}

// Get retrieves a credential by owner and ID.
func (s *Store) Get(ctx context.Context, owner string, id []byte) (*Credential, error) {
	data, err := s.kv.Get(ctx, credentialKey(owner, id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("unmarshaling credential: %w", err)
	}
	return &cred, nil
}

// OwnerOf resolves a credential ID to its owner through the reverse index.
func (s *Store) OwnerOf(ctx context.Context, id []byte) (string, error) {
	data, err := s.kv.Get(ctx, ownerKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying reverse index: %w", err)
	}
	return string(data), nil
}

// Update overwrites an existing credential, typically after a counter or
// last-used change. The credential must already exist.
func (s *Store) Update(ctx context.Context, owner string, cred *Credential) error {
	key := credentialKey(owner, cred.ID)
	if _, err := s.kv.Get(ctx, key); errors.Is(err, kv.ErrNotFound) {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("querying credential: %w", err)
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	if err := s.kv.Put(ctx, key, data, 0); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// Rename updates a credential's display name, bounded by MaxNameLength.
func (s *Store) Rename(ctx context.Context, owner string, id []byte, newName string) error {
	if len(newName) > MaxNameLength {
		return ErrNameTooLong
	}

	cred, err := s.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	cred.Name = newName
	if err := s.Update(ctx, owner, cred); err != nil {
		return err
	}

	s.logger.Info("credential renamed", "owner", owner, "credential_id", EncodeID(id))
	return nil
}

// Remove deletes a credential, its owner-index entry, and its reverse
// mapping.
func (s *Store) Remove(ctx context.Context, owner string, id []byte) error {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, credentialKey(owner, id)); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	if err := s.indexRemove(ctx, owner, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, ownerKey(id)); err != nil {
		return fmt.Errorf("deleting reverse index entry: %w", err)
	}

	s.logger.Info("credential removed", "owner", owner, "credential_id", EncodeID(id))
	return nil
}

// List returns the owner's credentials via the maintained index. Index
// entries whose credential record is gone are skipped.
func (s *Store) List(ctx context.Context, owner string) ([]*Credential, error) {
	ids, err := s.readIndex(ctx, owner)
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(ids))
	for _, id64 := range ids {
		id, err := DecodeID(id64)
		if err != nil {
			continue
		}
		cred, err := s.Get(ctx, owner, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// RemoveAll deletes every credential owned by owner, the owner index, and
// all corresponding reverse mappings. Returns the number removed.
func (s *Store) RemoveAll(ctx context.Context, owner string) (int, error) {
	ids, err := s.readIndex(ctx, owner)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id64 := range ids {
		id, err := DecodeID(id64)
		if err != nil {
			continue
		}
		if err := s.kv.Delete(ctx, credentialKey(owner, id)); err != nil {
			return removed, fmt.Errorf("deleting credential: %w", err)
		}
		if err := s.kv.Delete(ctx, ownerKey(id)); err != nil {
			return removed, fmt.Errorf("deleting reverse index entry: %w", err)
		}
		removed++
	}

	if err := s.kv.Delete(ctx, indexKey(owner)); err != nil {
		return removed, fmt.Errorf("deleting owner index: %w", err)
	}

	s.logger.Info("all credentials removed", "owner", owner, "count", removed)
	return removed, nil
}

// readIndex returns the owner's index as encoded IDs. A missing index means
// no credentials.
func (s *Store) readIndex(ctx context.Context, owner string) ([]string, error) {
	data, err := s.kv.Get(ctx, indexKey(owner))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying owner index: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("unmarshaling owner index: %w", err)
	}
	return ids, nil
}

func (s *Store) writeIndex(ctx context.Context, owner string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshaling owner index: %w", err)
	}
	if err := s.kv.Put(ctx, indexKey(owner), data, 0); err != nil {
		return fmt.Errorf("storing owner index: %w", err)
	}
	return nil
}

func (s *Store) indexAdd(ctx context.Context, owner string, id []byte) error {
	ids, err := s.readIndex(ctx, owner)
	if err != nil {
		return err
	}

	id64 := EncodeID(id)
	for _, existing := range ids {
		if existing == id64 {
			return nil
		}
	}
	return s.writeIndex(ctx, owner, append(ids, id64))
}

func (s *Store) indexRemove(ctx context.Context, owner string, id []byte) error {
	ids, err := s.readIndex(ctx, owner)
	if err != nil {
		return err
	}

	id64 := EncodeID(id)
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id64 {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		return s.kv.Delete(ctx, indexKey(owner))
	}
	return s.writeIndex(ctx, owner, kept)
}
