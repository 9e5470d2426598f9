package address

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressStringCycle(t *testing.T) {
	a := FromSeed("some wallet")
	b, err := FromString(a.String())
	assert.Nil(t, err)
	assert.Equal(t, a, b)
}

func TestAddressFromBytesInvalidLength(t *testing.T) {
	for _, l := range []int{0, 1, 31, 33, 64} {
		_, err := FromBytes(make([]byte, l))
		assert.ErrorIs(t, err, ErrInvalidLength)
	}
}

func TestAddressFromStringInvalid(t *testing.T) {
	_, err := FromString("0OIl")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDeriveIsDeterministic(t *testing.T) {
	program := FromSeed("program")
	a := Derive(program, []byte("multisig"), []byte("vault"))
	b := Derive(program, []byte("multisig"), []byte("vault"))
	c := Derive(program, []byte("multisig"), []byte("transaction"))
	d := Derive(FromSeed("other program"), []byte("multisig"), []byte("vault"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestAddressJSON(t *testing.T) {
	type holder struct {
		A Address `json:"a"`
		Z Address `json:"z"`
	}
	in := holder{A: FromSeed("json")}
	raw, err := json.Marshal(in)
	assert.Nil(t, err)
	assert.Contains(t, string(raw), in.A.String())

	var out holder
	err = json.Unmarshal(raw, &out)
	assert.Nil(t, err)
	assert.Equal(t, in, out)
	assert.True(t, out.Z.IsZero())
}
