package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct horse battery staple")

	plaintext := []byte(`{"version":1,"lineage":"abc"}`)
	encrypted, err := EncryptState(plaintext)
	require.NoError(t, err)

	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, string(encrypted), "lineage")

	decrypted, err := DecryptState(encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptState_PassthroughWithoutKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	plaintext := []byte(`{"version":1}`)
	out, err := EncryptState(plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
	assert.False(t, IsEncrypted(out))
}

func TestDecryptState_WrongKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "key-one")
	encrypted, err := EncryptState([]byte("secret"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "key-two")
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong key")
}

func TestDecryptState_MissingKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "some-key")
	encrypted, err := EncryptState([]byte("secret"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

func TestManager_EncryptedStateOnDisk(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "deploy-key")

	mgr := NewManager(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	s, err := mgr.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Write(ctx, s))

	raw, err := os.ReadFile(mgr.path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Lineage, got.Lineage)
}
