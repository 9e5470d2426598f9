package challenge

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/bartossh/Settlementis/address"
	"github.com/bartossh/Settlementis/wallet"
)

const (
	dataLength       = 128
	defaultLongevity = 60
)

var (
	ErrUnknownData = errors.New("challenge data unknown or expired")
	ErrRandomData  = errors.New("challenge data cannot be generated")
)

// Config holds configuration for Cache.
type Config struct {
	Longevity uint64 `yaml:"longevity"` // Data longevity in seconds.
}

type data struct {
	raw       []byte
	expiresAt time.Time
}

// Cache is an in-memory store of random data handed to approvers to sign.
// Signed data proves the caller holds the key of the address.
type Cache struct {
	mux       sync.RWMutex
	data      map[address.Address]data
	longevity time.Duration
}

// New creates new Cache and runs the cleaner until ctx is done.
func New(ctx context.Context, cfg Config) *Cache {
	if cfg.Longevity == 0 {
		cfg.Longevity = defaultLongevity
	}
	c := &Cache{
		data:      make(map[address.Address]data),
		longevity: time.Duration(cfg.Longevity) * time.Second,
	}
	go func() {
		ticker := time.NewTicker(c.longevity * 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.clean()
			}
		}
	}()
	return c
}

func (c *Cache) clean() {
	c.mux.Lock()
	defer c.mux.Unlock()
	now := time.Now()
	for k, v := range c.data {
		if v.expiresAt.Before(now) {
			delete(c.data, k)
		}
	}
}

// ProvideData generates data and stores it referring to given address. Previous data of the address is replaced.
func (c *Cache) ProvideData(addr address.Address) ([]byte, error) {
	buf := make([]byte, dataLength)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Join(ErrRandomData, err)
	}
	c.mux.Lock()
	defer c.mux.Unlock()
	c.data[addr] = data{raw: buf, expiresAt: time.Now().Add(c.longevity)}
	return buf, nil
}

// ValidateData checks if data is stored for given address and is not expired.
func (c *Cache) ValidateData(addr address.Address, raw []byte) bool {
	c.mux.RLock()
	defer c.mux.RUnlock()
	d, ok := c.data[addr]
	if !ok || d.expiresAt.Before(time.Now()) {
		return false
	}
	return bytes.Equal(raw, d.raw)
}

// Authenticate checks that data was provided to the address and is signed by its key.
func (c *Cache) Authenticate(addr address.Address, raw, signature []byte, hash [32]byte) error {
	if !c.ValidateData(addr, raw) {
		return ErrUnknownData
	}
	return wallet.Verify(raw, signature, hash, addr)
}
