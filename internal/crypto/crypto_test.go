package crypto

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/cache"
)

var (
	testKey   = bytes.Repeat([]byte{0x42}, 32)
	testNonce = bytes.Repeat([]byte{0x24}, NonceSize)
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKey, testNonce)
	require.NoError(t, err)
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	for _, n := range []int{0, 1, 2, 15, 16, 17, 255, 1024, 4999, 5000} {
		plaintext := strings.Repeat("x", n)
		ct := c.EncryptField(plaintext)
		got, err := c.DecryptField(ct)
		require.NoError(t, err, "length %d", n)
		assert.Equal(t, plaintext, got, "length %d", n)
	}
}

func TestCipherTamperDetected(t *testing.T) {
	c := newTestCipher(t)
	ct := c.EncryptField("hello")
	// flip one hex digit
	tampered := []byte(ct)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	_, err := c.DecryptField(string(tampered))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrDecryptionFailed)
}

func TestCipherWrongKey(t *testing.T) {
	c := newTestCipher(t)
	other, err := NewCipher(bytes.Repeat([]byte{0x43}, 32), testNonce)
	require.NoError(t, err)

	ct := c.EncryptField("secret body")
	_, err = other.DecryptField(ct)
	assert.ErrorIs(t, err, apperr.ErrDecryptionFailed)
}

func TestCipherInvalidHex(t *testing.T) {
	c := newTestCipher(t)
	_, err := c.DecryptField("not hex at all")
	assert.ErrorIs(t, err, apperr.ErrDecryptionFailed)
}

func TestCipherConstruction(t *testing.T) {
	_, err := NewCipher([]byte("short"), testNonce)
	assert.Error(t, err)

	_, err = NewCipher(testKey, []byte("bad"))
	assert.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	if testing.Short() {
		t.Skip("argon2id derivation is expensive")
	}
	k1 := DeriveKey([]byte("tenant password"), []byte("salt-salt"))
	k2 := DeriveKey([]byte("tenant password"), []byte("salt-salt"))
	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)

	k3 := DeriveKey([]byte("tenant password"), []byte("other-salt"))
	assert.NotEqual(t, k1, k3)
}

func TestKeyCacheMemoizes(t *testing.T) {
	if testing.Short() {
		t.Skip("argon2id derivation is expensive")
	}
	mem := cache.NewMemory()
	kc := NewKeyCache(mem, 24*time.Hour)
	ctx := context.Background()

	k1 := kc.DeriveKey(ctx, []byte("pw"), []byte("salt"))
	require.Len(t, k1, 32)

	digest := keyDigest([]byte("pw"), []byte("salt"))
	cached, ok, err := mem.Get(ctx, cache.KeyDigestKey(digest))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, k1, cached)

	k2 := kc.DeriveKey(ctx, []byte("pw"), []byte("salt"))
	assert.Equal(t, k1, k2)
}
