// ABOUTME: Tests for credential persistence, indices, and lifecycle operations
// ABOUTME: Runs over the in-memory kv store

package credentials

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fold-auth/internal/kv"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	mem := kv.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	return NewStore(mem)
}

func testCredential(id string) *Credential {
	now := time.Now().UTC().Truncate(time.Second)
	return &Credential{
		ID:         []byte(id),
		PublicKey:  []byte("cose-key-bytes"),
		Algorithm:  -7,
		Name:       "laptop",
		Transports: []string{"internal"},
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func TestAddGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cred := testCredential("cred-1")
	require.NoError(t, store.Add(ctx, "alice", cred))

	got, err := store.Get(ctx, "alice", cred.ID)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, got.ID)
	assert.Equal(t, "laptop", got.Name)
	assert.Equal(t, cred.CreatedAt, got.CreatedAt)
}

func TestGetMissing(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.Get(context.Background(), "alice", []byte("nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddDuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "alice", testCredential("cred-1")))

	// Same ID under the same owner.
	err := store.Add(ctx, "alice", testCredential("cred-1"))
	assert.ErrorIs(t, err, ErrDuplicateCredentialID)

	// Same ID under a different owner: the reverse index is global.
	err = store.Add(ctx, "bob", testCredential("cred-1"))
	assert.ErrorIs(t, err, ErrDuplicateCredentialID)
}

func TestOwnerOf(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "alice", testCredential("cred-1")))

	owner, err := store.OwnerOf(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	_, err = store.OwnerOf(ctx, []byte("unknown"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cred := testCredential("cred-1")
	require.NoError(t, store.Add(ctx, "alice", cred))

	cred.SignCount = 7
	require.NoError(t, store.Update(ctx, "alice", cred))

	got, err := store.Get(ctx, "alice", cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.SignCount)
}

func TestUpdateMissing(t *testing.T) {
	store := setupTestStore(t)

	err := store.Update(context.Background(), "alice", testCredential("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRename(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cred := testCredential("cred-1")
	require.NoError(t, store.Add(ctx, "alice", cred))

	require.NoError(t, store.Rename(ctx, "alice", cred.ID, "work yubikey"))

	got, err := store.Get(ctx, "alice", cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "work yubikey", got.Name)

	err = store.Rename(ctx, "alice", cred.ID, strings.Repeat("x", MaxNameLength+1))
	assert.ErrorIs(t, err, ErrNameTooLong)

	err = store.Rename(ctx, "alice", []byte("ghost"), "anything")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cred := testCredential("cred-1")
	require.NoError(t, store.Add(ctx, "alice", cred))
	require.NoError(t, store.Remove(ctx, "alice", cred.ID))

	_, err := store.Get(ctx, "alice", cred.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The reverse index entry is gone too, so the ID can be registered again.
	_, err = store.OwnerOf(ctx, cred.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Add(ctx, "bob", testCredential("cred-1")))
}

func TestRemoveMissing(t *testing.T) {
	store := setupTestStore(t)

	err := store.Remove(context.Background(), "alice", []byte("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	list, err := store.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, store.Add(ctx, "alice", testCredential("cred-1")))
	require.NoError(t, store.Add(ctx, "alice", testCredential("cred-2")))
	require.NoError(t, store.Add(ctx, "bob", testCredential("cred-3")))

	list, err = store.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []byte("cred-1"), list[0].ID)
	assert.Equal(t, []byte("cred-2"), list[1].ID)
}

func TestRemoveAll(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "alice", testCredential("cred-1")))
	require.NoError(t, store.Add(ctx, "alice", testCredential("cred-2")))
	require.NoError(t, store.Add(ctx, "bob", testCredential("cred-3")))

	removed, err := store.RemoveAll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err := store.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = store.OwnerOf(ctx, []byte("cred-1"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Other accounts are untouched.
	list, err = store.List(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRemoveAllEmpty(t *testing.T) {
	store := setupTestStore(t)

	removed, err := store.RemoveAll(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestEncodeDecodeID(t *testing.T) {
	id := []byte{0x00, 0xff, 0x10, 0x7f}
	decoded, err := DecodeID(EncodeID(id))
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}
