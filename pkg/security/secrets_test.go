package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestNewSecretsManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{name: "32-byte key", key: make([]byte, 32)},
		{name: "short key", key: make([]byte, 16), wantErr: true},
		{name: "long key", key: make([]byte, 64), wantErr: true},
		{name: "empty key", key: []byte{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSecretsManager(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sm)
		})
	}
}

func TestNewSecretsManagerFromPassword(t *testing.T) {
	a, err := NewSecretsManagerFromPassword("correct horse")
	require.NoError(t, err)
	b, err := NewSecretsManagerFromPassword("correct horse")
	require.NoError(t, err)

	sealed, err := a.SealString("s3cret")
	require.NoError(t, err)
	opened, err := b.OpenString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", opened, "same password derives the same key")

	_, err = NewSecretsManagerFromPassword("")
	assert.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	sm, err := NewSecretsManager(testKey(1))
	require.NoError(t, err)

	for _, plaintext := range []string{"", "hunter2", "multi\nline \"quoted\" ${value}", string(make([]byte, 4096))} {
		sealed, err := sm.SealString(plaintext)
		require.NoError(t, err)

		opened, err := sm.OpenString(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestEmptyPayloads(t *testing.T) {
	sm, err := NewSecretsManager(testKey(5))
	require.NoError(t, err)

	sealed, err := sm.SealString("")
	require.NoError(t, err)
	assert.Nil(t, sealed)

	_, err = sm.EncryptSecret(nil)
	assert.Error(t, err)
	_, err = sm.DecryptSecret(nil)
	assert.Error(t, err)
}

func TestSealUsesFreshNonce(t *testing.T) {
	sm, err := NewSecretsManager(testKey(2))
	require.NoError(t, err)

	a, err := sm.SealString("same")
	require.NoError(t, err)
	b, err := sm.SealString("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenErrors(t *testing.T) {
	sm, err := NewSecretsManager(testKey(3))
	require.NoError(t, err)
	other, err := NewSecretsManager(testKey(4))
	require.NoError(t, err)

	sealed, err := sm.SealString("payload")
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name   string
		sm     *SecretsManager
		sealed []byte
	}{
		{name: "shorter than nonce", sm: sm, sealed: []byte{1, 2, 3}},
		{name: "tampered", sm: sm, sealed: tampered},
		{name: "wrong key", sm: other, sealed: sealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sm.OpenString(tt.sealed)
			assert.Error(t, err)
		})
	}
}
