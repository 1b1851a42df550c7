package strata

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyring(t *testing.T) {
	raw := []byte("32-byte-key-for-aes-256-encrypt!")
	doc := "keys:\n" +
		"  aes-gcm: base64:" + base64.StdEncoding.EncodeToString(raw) + "\n" +
		"  xchacha20: hex:" + hex.EncodeToString(raw) + "\n"

	kr, err := ParseKeyring([]byte(doc))
	require.NoError(t, err)

	key, ok := kr.Key(CipherAESGCM)
	require.True(t, ok)
	assert.Equal(t, raw, key)

	key, ok = kr.Key(CipherXChaCha)
	require.True(t, ok)
	assert.Equal(t, raw, key)
}

func TestParseKeyring_RawValue(t *testing.T) {
	kr, err := ParseKeyring([]byte("keys:\n  aes-gcm: plain-text-key\n"))
	require.NoError(t, err)

	key, ok := kr.Key(CipherAESGCM)
	require.True(t, ok)
	assert.Equal(t, []byte("plain-text-key"), key)
}

func TestParseKeyring_UnknownAlgorithm(t *testing.T) {
	_, err := ParseKeyring([]byte("keys:\n  rot13: secret\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestParseKeyring_BadEncoding(t *testing.T) {
	_, err := ParseKeyring([]byte("keys:\n  aes-gcm: base64:not*base64\n"))
	require.Error(t, err)

	_, err = ParseKeyring([]byte("keys:\n  aes-gcm: hex:zz\n"))
	require.Error(t, err)
}

func TestParseKeyring_InvalidYAML(t *testing.T) {
	_, err := ParseKeyring([]byte("keys: [broken"))
	require.Error(t, err)
}

func TestLoadKeyring(t *testing.T) {
	doc := "keys:\n  aes-gcm: base64:" +
		base64.StdEncoding.EncodeToString([]byte("32-byte-key-for-aes-256-encrypt!")) + "\n"

	kr, err := LoadKeyring(strings.NewReader(doc))
	require.NoError(t, err)

	_, ok := kr.Key(CipherAESGCM)
	assert.True(t, ok)
}

func TestWithKeyring(t *testing.T) {
	kr := &Keyring{keys: map[CipherAlgo][]byte{
		CipherAESGCM: []byte("32-byte-key-for-aes-256-encrypt!"),
	}}

	cfg := modelConfig{keys: make(map[CipherAlgo][]byte)}
	WithKeyring(kr)(&cfg)

	assert.Equal(t, kr.keys[CipherAESGCM], cfg.keys[CipherAESGCM])
}

func TestKey_Absent(t *testing.T) {
	kr, err := ParseKeyring([]byte("keys: {}\n"))
	require.NoError(t, err)

	_, ok := kr.Key(CipherXChaCha)
	assert.False(t, ok)
}
