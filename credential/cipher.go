package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
)

// Both suites use a 256-bit key and a 96-bit nonce.
const (
	keySize   = 32
	nonceSize = 12
)

// Cipher seals and opens credential fields. Every Encrypt call draws a fresh
// random nonce; nonce reuse under the same key breaks AEAD confidentiality,
// so no counter or derived-nonce scheme is offered.
type Cipher interface {
	// KeyID is the opaque identifier stored next to ciphertext, so the row
	// can name which key sealed it.
	KeyID() string
	Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce []byte) ([]byte, error)
}

// NewKeyID mints an opaque key identifier for a fresh encryption key.
func NewKeyID() string {
	return uuid.NewString()
}

type aeadCipher struct {
	keyID string
	aead  cipher.AEAD
}

// NewAESGCM builds an AES-256-GCM [Cipher]. The key must be 32 bytes.
func NewAESGCM(keyID string, key []byte) (Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: aes-gcm key must be %d bytes, got %d", ErrValidation, keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{keyID: keyID, aead: aead}, nil
}

// NewChaCha20Poly1305 builds a ChaCha20-Poly1305 [Cipher]. The key must be
// 32 bytes.
func NewChaCha20Poly1305(keyID string, key []byte) (Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: chacha20poly1305 key must be %d bytes, got %d", ErrValidation, keySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{keyID: keyID, aead: aead}, nil
}

func (c *aeadCipher) KeyID() string {
	return c.keyID
}

func (c *aeadCipher) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (c *aeadCipher) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrIntegrity, len(nonce))
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// Keyring holds the active encryption cipher plus any historical ciphers
// still referenced by stored rows. New writes always seal under the active
// key; reads resolve whichever key id the row names, which is what lets a
// key rotation proceed without touching rows.
type Keyring struct {
	active Cipher
	byID   map[string]Cipher
}

// NewKeyring builds a [Keyring] from the active cipher and any previous
// ones. Key ids must be unique.
func NewKeyring(active Cipher, previous ...Cipher) (*Keyring, error) {
	if active == nil {
		return nil, fmt.Errorf("%w: active cipher required", ErrValidation)
	}

	byID := make(map[string]Cipher, 1+len(previous))
	byID[active.KeyID()] = active
	for _, c := range previous {
		if _, dup := byID[c.KeyID()]; dup {
			return nil, fmt.Errorf("%w: duplicate key id %q", ErrValidation, c.KeyID())
		}
		byID[c.KeyID()] = c
	}

	return &Keyring{active: active, byID: byID}, nil
}

// Encrypt seals under the active key and returns the key id recorded with
// the row.
func (k *Keyring) Encrypt(plaintext []byte) (keyID string, ciphertext, nonce []byte, err error) {
	ciphertext, nonce, err = k.active.Encrypt(plaintext)
	if err != nil {
		return "", nil, nil, err
	}
	return k.active.KeyID(), ciphertext, nonce, nil
}

// Decrypt opens ciphertext sealed under any key the ring knows. An unknown
// key id is an integrity failure: the row names a key this deployment no
// longer has, so the plaintext is unrecoverable.
func (k *Keyring) Decrypt(keyID string, ciphertext, nonce []byte) ([]byte, error) {
	c, ok := k.byID[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %q", ErrIntegrity, keyID)
	}
	return c.Decrypt(ciphertext, nonce)
}
