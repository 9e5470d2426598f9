package aeswrapper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

var (
	ErrInvalidKeyLength   = errors.New("invalid key length, must be 16 or 32 bytes")
	ErrCipherFailure      = errors.New("cipher creation failure")
	ErrGCMFailure         = errors.New("gcm creation failure")
	ErrRandomNonceFailure = errors.New("random nonce creation failure")
	ErrRandomKeyFailure   = errors.New("random key creation failure")
	ErrOpenDataFailure    = errors.New("open data failure, cannot decrypt data")
	ErrDataTooShort       = errors.New("sealed data is shorter than nonce")
)

const (
	nonceSize = 12
	// KeySize is the size of keys generated by NewKey.
	KeySize = 32
)

// Helper wraps AES encryption and decryption.
// Uses Galois Counter Mode (GCM) for encryption and decryption.
type Helper struct{}

// New creates a new Helper.
func New() Helper {
	return Helper{}
}

// NewKey generates a fresh random AES-256 key.
func (h Helper) NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Join(ErrRandomKeyFailure, err)
	}
	return key, nil
}

// Encrypt encrypts data with key. Output is nonce followed by the cipher text.
func (h Helper) Encrypt(key, data []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrRandomNonceFailure, err)
	}

	return aesgcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt decrypts data sealed by Encrypt with the same key.
func (h Helper) Decrypt(key, data []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < nonceSize {
		return nil, ErrDataTooShort
	}
	nonce, cipherText := data[:nonceSize], data[nonceSize:]

	plaintext, err := aesgcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.Join(ErrOpenDataFailure, err)
	}

	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 && len(key) != 16 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrCipherFailure, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrGCMFailure, err)
	}
	return aesgcm, nil
}
