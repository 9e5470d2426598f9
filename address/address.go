package address

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Length is the length of the raw address in bytes.
const Length = 32

const derivationMarker = "ProgramDerivedAddress"

var (
	ErrInvalidLength = errors.New("address must be 32 bytes long")
	ErrInvalidFormat = errors.New("address is not a valid base58 string")
)

// Address is a ledger account address. For a wallet it is the raw ed25519 public key,
// for accounts owned by a program it is derived from the program address and seeds.
type Address [Length]byte

// Zero is an empty address.
var Zero Address

// FromString decodes base58 encoded address.
func FromString(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Zero, errors.Join(ErrInvalidFormat, err)
	}
	return FromBytes(raw)
}

// FromBytes creates address from raw bytes.
func FromBytes(raw []byte) (Address, error) {
	if len(raw) != Length {
		return Zero, errors.Join(ErrInvalidLength, fmt.Errorf("received %d bytes", len(raw)))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// FromSeed creates a stable address from the human readable seed.
// It is used for well known program identifiers.
func FromSeed(seed string) Address {
	return Address(sha256.Sum256([]byte(seed)))
}

// Derive derives program owned address from the program address and the seeds.
// The same program and seeds always derive the same address.
func Derive(program Address, seeds ...[]byte) Address {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(derivationMarker))
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// String returns base58 representation of the address.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of raw address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, Length)
	copy(b, a[:])
	return b
}

// IsZero checks if address is empty.
func (a Address) IsZero() bool {
	return a == Zero
}

// Equal compares two addresses.
func (a Address) Equal(b Address) bool {
	return bytes.Equal(a[:], b[:])
}

// MarshalText satisfies encoding.TextMarshaler so addresses are base58 in JSON and YAML.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Zero
		return nil
	}
	v, err := FromString(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// UnmarshalYAML allows to read base58 addresses from yaml.v2 configuration files.
func (a *Address) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return a.UnmarshalText([]byte(s))
}
