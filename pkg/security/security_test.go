package security

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/terrapool/pkg/storage"
	"github.com/cuemby/terrapool/pkg/types"
)

func testMasterKey() []byte {
	key := make([]byte, MasterKeySize)
	copy(key, []byte("terrapool-test-master-key-32-byt"))
	return key
}

func TestDeriveKeys(t *testing.T) {
	keys, err := DeriveKeys(testMasterKey())
	require.NoError(t, err)
	assert.Len(t, keys.Credentials, 32)
	assert.Len(t, keys.AgentSecret, 32)
	assert.NotEqual(t, keys.Credentials, keys.AgentSecret)

	again, err := DeriveKeys(testMasterKey())
	require.NoError(t, err)
	assert.Equal(t, keys, again, "derivation is deterministic")

	_, err = DeriveKeys(make([]byte, 8))
	assert.Error(t, err)
}

func TestLoadOrCreateMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "master.key")

	key, err := LoadOrCreateMasterKey(path)
	require.NoError(t, err)
	assert.Len(t, key, MasterKeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := LoadOrCreateMasterKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestParseMasterKey(t *testing.T) {
	_, err := ParseMasterKey("not hex")
	assert.Error(t, err)

	_, err = ParseMasterKey("abcd")
	assert.Error(t, err, "too short")

	key, err := ParseMasterKey(strings.Repeat("ab", 32) + "\n")
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestAgentSecrets(t *testing.T) {
	s := NewAgentSecrets([]byte("key"))

	secret := s.AgentSecret("terrapool-aws-small-1")
	assert.Len(t, secret, 64)
	assert.Equal(t, secret, s.AgentSecret("terrapool-aws-small-1"))
	assert.NotEqual(t, secret, s.AgentSecret("terrapool-aws-small-2"))
	assert.NotEqual(t, secret, NewAgentSecrets([]byte("other")).AgentSecret("terrapool-aws-small-1"))

	assert.True(t, s.Verify("terrapool-aws-small-1", secret))
	assert.False(t, s.Verify("terrapool-aws-small-2", secret))
	assert.False(t, s.Verify("terrapool-aws-small-1", ""))
}

func TestSealString(t *testing.T) {
	sm, err := NewSecretsManager(testMasterKey())
	require.NoError(t, err)

	sealed, err := sm.SealString("")
	require.NoError(t, err)
	assert.Nil(t, sealed)

	opened, err := sm.OpenString(nil)
	require.NoError(t, err)
	assert.Empty(t, opened)

	sealed, err = sm.SealString("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "hunter2")

	opened, err = sm.OpenString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", opened)
}

func TestVault(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	sm, err := NewSecretsManager(testMasterKey())
	require.NoError(t, err)
	v := NewVault(store, sm)

	require.NoError(t, v.Add(&types.Credential{ID: "aws", Kind: types.CredentialUsernamePassword, Username: "AKIA", Password: "s3cret"}))
	require.NoError(t, v.Add(&types.Credential{ID: "token", Kind: types.CredentialSecret, Secret: "tok", Description: "API token"}))
	assert.ErrorIs(t, v.Add(&types.Credential{ID: "bad", Kind: "certificate"}), ErrInvalidCredential)
	assert.ErrorIs(t, v.Add(&types.Credential{Kind: types.CredentialSecret}), ErrInvalidCredential)

	record, err := store.GetCredential("aws")
	require.NoError(t, err)
	assert.NotContains(t, string(record.Sealed), "s3cret", "stored sealed")

	list, err := v.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, c := range list {
		assert.Empty(t, c.Password)
		assert.Empty(t, c.Secret)
	}

	creds, err := v.Credentials(context.Background(), []string{"aws", "missing", "token"})
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "s3cret", creds[0].Password)
	assert.Equal(t, "AKIA", creds[0].Username)
	assert.Equal(t, "tok", creds[1].Secret)

	// A different key can no longer open the stored credentials.
	other, err := NewSecretsManagerFromPassword("other")
	require.NoError(t, err)
	creds, err = NewVault(store, other).Credentials(context.Background(), []string{"aws"})
	require.NoError(t, err)
	assert.Empty(t, creds)

	require.NoError(t, v.Remove("aws"))
	assert.ErrorIs(t, v.Remove("aws"), storage.ErrNotFound)
}
