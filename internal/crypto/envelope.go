package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
)

const NonceSize = 12

// Cipher performs authenticated field encryption for one tenant. The nonce is
// fixed per tenant secret rotation: every field encrypted under the same
// secret shares one key+nonce pair. Rotating the secret rotates both.
type Cipher struct {
	aead  cipher.AEAD
	nonce []byte
}

func NewCipher(key, nonce []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, errors.New("AES-256 requires a 32 byte key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes", aead.NonceSize())
	}
	return &Cipher{aead: aead, nonce: nonce}, nil
}

// EncryptField seals a plaintext field value and returns it hex-encoded for
// storage alongside clear identifiers and timestamps.
func (c *Cipher) EncryptField(plaintext string) string {
	ct := c.aead.Seal(nil, c.nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ct)
}

// DecryptField reverses EncryptField. A ciphertext/key mismatch surfaces as
// ErrDecryptionFailed and is never collapsed into an empty value.
func (c *Cipher) DecryptField(hexCiphertext string) (string, error) {
	ct, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrDecryptionFailed, err)
	}
	pt, err := c.aead.Open(nil, c.nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrDecryptionFailed, err)
	}
	return string(pt), nil
}
