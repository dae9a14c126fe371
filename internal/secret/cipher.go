package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Domain errors
var (
	ErrKeyMissing       = errors.New("cipher master key missing")
	ErrCipherTextBroken = errors.New("cipher text malformed")
)

const keyInfo = "tenantgate credential cipher v1"

// Cipher encrypts and decrypts stored tenant credentials with AES-256-GCM.
// The data key is derived from the configured master secret via
// HKDF-SHA256, so rotating the master secret invalidates every stored
// token at once. Decryption is stateless and safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the data key from the master secret and returns a cipher.
func New(masterKey []byte) (*Cipher, error) {
	if len(masterKey) == 0 {
		return nil, ErrKeyMissing
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving data key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewFromBase64 derives a cipher from a base64-encoded master secret.
func NewFromBase64(encoded string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	return New(key)
}

// Encrypt seals the plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plain []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherTextBroken, err)
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, ErrCipherTextBroken
	}
	nonce, cipherText := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherTextBroken, err)
	}
	return plain, nil
}
