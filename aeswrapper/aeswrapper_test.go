package aeswrapper

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var comprehensive = []byte(`{"custom_fields":{"po":{"type":"string","value":"PO-7781"}},"invoice_number":"INV-1","notes":"net 30"}`)

func TestEncryptDecryptSuccess(t *testing.T) {
	keys := []string{
		"f5f9fb83df631c6746dcc7fe7b21de1e2e33b2584428b37b911cf818a7cd9d84",
		"a531345e49fc6047f780174cbe8958397a70ed9ac5f2cafa9ab6598732cc70db",
		"1d457fe37e4d95c7afaa266952541d52",
	}

	for i, k := range keys {
		pass, err := hex.DecodeString(k)
		assert.Nil(t, err)
		t.Run(fmt.Sprintf("encrypt-decrypt-%d-%d", i, len(pass)), func(t *testing.T) {
			h := New()
			enc, err := h.Encrypt(pass, comprehensive)
			assert.Nil(t, err)
			assert.NotEqual(t, comprehensive, enc)
			dec, err := h.Decrypt(pass, enc)
			assert.Nil(t, err)
			assert.Equal(t, comprehensive, dec)
		})
	}
}

func TestEncryptFailInvalidKey(t *testing.T) {
	keys := []string{
		"f5f9fb83df631c6746dcc7fe7b21de1e2e33b2584428b37b911cf818a7cd9d",
		"a531345e49fc6047f780174cbe8958397a70ed9ac5f2cafa9ab6598732cc70dbaa",
		"1d457fe37e4d95c7afaa266952541d52c2b9ec6115793df5",
	}

	for i, k := range keys {
		pass, err := hex.DecodeString(k)
		assert.Nil(t, err)
		t.Run(fmt.Sprintf("encrypt-invalid-key-%d-%d", i, len(pass)), func(t *testing.T) {
			_, err := New().Encrypt(pass, comprehensive)
			assert.ErrorIs(t, err, ErrInvalidKeyLength)
		})
	}
}

func TestDecryptFailWrongKey(t *testing.T) {
	h := New()
	k1, err := h.NewKey()
	assert.Nil(t, err)
	k2, err := h.NewKey()
	assert.Nil(t, err)
	assert.NotEqual(t, k1, k2)

	enc, err := h.Encrypt(k1, comprehensive)
	assert.Nil(t, err)
	_, err = h.Decrypt(k2, enc)
	assert.ErrorIs(t, err, ErrOpenDataFailure)
}

func TestDecryptFailTooShort(t *testing.T) {
	h := New()
	k, err := h.NewKey()
	assert.Nil(t, err)
	_, err = h.Decrypt(k, []byte("short"))
	assert.ErrorIs(t, err, ErrDataTooShort)
}
