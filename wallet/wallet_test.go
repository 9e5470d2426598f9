package wallet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyCycle(t *testing.T) {
	w, err := New()
	assert.Nil(t, err)

	msg := []byte("vault transaction message")
	hash, sig := w.Sign(msg)
	assert.Nil(t, Verify(msg, sig, hash, w.Address()))

	other, err := New()
	assert.Nil(t, err)
	assert.ErrorIs(t, Verify(msg, sig, hash, other.Address()), ErrInvalidSignature)
	assert.ErrorIs(t, Verify([]byte("changed"), sig, hash, w.Address()), ErrHashMismatch)
}

func TestFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 7
	a, err := FromSeed(seed)
	assert.Nil(t, err)
	b, err := FromSeed(seed)
	assert.Nil(t, err)
	assert.Equal(t, a.Address(), b.Address())

	_, err = FromSeed([]byte("short"))
	assert.ErrorIs(t, err, ErrKeyType)
}

func TestPemCycle(t *testing.T) {
	w, err := New()
	assert.Nil(t, err)
	path := filepath.Join(t.TempDir(), "fee_payer")
	assert.Nil(t, w.SaveToPem(path))

	r, err := ReadFromPem(path)
	assert.Nil(t, err)
	assert.Equal(t, w.Address(), r.Address())
	assert.Equal(t, w.Private, r.Private)
}

func TestGOBCycle(t *testing.T) {
	w, err := New()
	assert.Nil(t, err)
	raw, err := w.EncodeGOB()
	assert.Nil(t, err)

	r, err := DecodeGOBWallet(raw)
	assert.Nil(t, err)
	assert.Equal(t, w.Public, r.Public)
	assert.Equal(t, w.Private, r.Private)
}
