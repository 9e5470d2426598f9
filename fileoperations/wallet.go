package fileoperations

import (
	"crypto/rand"
	"errors"
	"io"
	"os"

	"github.com/bartossh/Settlementis/wallet"
)

// ReadWallet reads the custodial wallet from the encrypted file.
// File layout is the argon2 salt followed by the sealed GOB wallet.
func (h Helper) ReadWallet() (wallet.Wallet, error) {
	if err := h.validate(); err != nil {
		return wallet.Wallet{}, err
	}
	raw, err := os.ReadFile(h.cfg.WalletPath)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if len(raw) <= saltSize {
		return wallet.Wallet{}, ErrCorruptedFile
	}

	opened, err := h.s.Decrypt(deriveKey(h.cfg.WalletPasswd, raw[:saltSize]), raw[saltSize:])
	if err != nil {
		return wallet.Wallet{}, errors.Join(ErrCorruptedFile, err)
	}

	return wallet.DecodeGOBWallet(opened)
}

// SaveWallet saves wallet to the encrypted file.
func (h Helper) SaveWallet(w *wallet.Wallet) error {
	if err := h.validate(); err != nil {
		return err
	}
	raw, err := w.EncodeGOB()
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}

	closed, err := h.s.Encrypt(deriveKey(h.cfg.WalletPasswd, salt), raw)
	if err != nil {
		return err
	}

	return os.WriteFile(h.cfg.WalletPath, append(salt, closed...), 0600)
}

// SaveToPem saves wallet to the PEM files at given path.
func (h Helper) SaveToPem(w *wallet.Wallet, path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	return w.SaveToPem(path)
}

// ReadFromPem reads wallet from the PEM files at given path.
func (h Helper) ReadFromPem(path string) (wallet.Wallet, error) {
	if path == "" {
		return wallet.Wallet{}, ErrEmptyPath
	}
	return wallet.ReadFromPem(path)
}
