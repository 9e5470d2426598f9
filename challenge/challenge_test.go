package challenge

import (
	"context"
	"testing"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/wallet"
	"github.com/stretchr/testify/assert"
)

func TestGenerateValidateSuccess(t *testing.T) {
	addr := address.FromSeed("approver")
	c := New(context.Background(), Config{Longevity: 1})

	d, err := c.ProvideData(addr)
	assert.Nil(t, err)
	assert.Len(t, d, dataLength)
	assert.True(t, c.ValidateData(addr, d))
}

func TestGenerateValidateFailAddress(t *testing.T) {
	c := New(context.Background(), Config{Longevity: 1})
	d, err := c.ProvideData(address.FromSeed("approver"))
	assert.Nil(t, err)
	assert.False(t, c.ValidateData(address.FromSeed("stranger"), d))
}

func TestGenerateValidateFailData(t *testing.T) {
	addr := address.FromSeed("approver")
	c := New(context.Background(), Config{Longevity: 1})
	_, err := c.ProvideData(addr)
	assert.Nil(t, err)
	assert.False(t, c.ValidateData(addr, []byte{}))
}

func TestGenerateValidateFailTimePassed(t *testing.T) {
	addr := address.FromSeed("approver")
	c := New(context.Background(), Config{Longevity: 1})
	d, err := c.ProvideData(addr)
	assert.Nil(t, err)
	c.mux.Lock()
	entry := c.data[addr]
	entry.expiresAt = time.Now().Add(-time.Millisecond)
	c.data[addr] = entry
	c.mux.Unlock()

	assert.False(t, c.ValidateData(addr, d))
	c.clean()
	assert.Empty(t, c.data)
}

func TestAuthenticate(t *testing.T) {
	w, err := wallet.New()
	assert.Nil(t, err)
	c := New(context.Background(), Config{})

	d, err := c.ProvideData(w.Address())
	assert.Nil(t, err)
	hash, sig := w.Sign(d)
	assert.Nil(t, c.Authenticate(w.Address(), d, sig, hash))

	other, err := wallet.New()
	assert.Nil(t, err)
	hash, sig = other.Sign(d)
	assert.ErrorIs(t, c.Authenticate(w.Address(), d, sig, hash), wallet.ErrInvalidSignature)
	assert.ErrorIs(t, c.Authenticate(other.Address(), d, sig, hash), ErrUnknownData)
}
