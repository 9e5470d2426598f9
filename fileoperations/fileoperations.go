package fileoperations

import (
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize      = 16
	argonTime     = 1
	argonMemoryKB = 64 * 1024
	argonThreads  = 4
	argonKeyLen   = 32
)

var (
	ErrEmptyPassphrase = errors.New("wallet passphrase cannot be empty")
	ErrEmptyPath       = errors.New("wallet path cannot be empty")
	ErrCorruptedFile   = errors.New("wallet file is corrupted")
)

// Config holds configuration of the file operator Helper.
type Config struct {
	WalletPath   string `yaml:"wallet_path"`   // wallet path to the encrypted GOB wallet file
	WalletPasswd string `yaml:"wallet_passwd"` // passphrase the wallet file key is derived from
}

// Sealer offers behaviour to seal and open the bytes with a symmetric key.
type Sealer interface {
	Encrypt(key, data []byte) ([]byte, error)
	Decrypt(key, data []byte) ([]byte, error)
}

// Helper holds all file operation methods.
type Helper struct {
	s   Sealer
	cfg Config
}

// New creates new Helper.
func New(cfg Config, s Sealer) Helper {
	return Helper{
		cfg: cfg,
		s:   s,
	}
}

func (h Helper) validate() error {
	if h.cfg.WalletPath == "" {
		return ErrEmptyPath
	}
	if h.cfg.WalletPasswd == "" {
		return ErrEmptyPassphrase
	}
	return nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemoryKB, argonThreads, argonKeyLen)
}
