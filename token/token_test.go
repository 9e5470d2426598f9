package token

import (
	"fmt"
	"math"
	"testing"

	"github.com/bartossh/Settlementis/address"
	"github.com/shopspring/decimal"
	"gotest.tools/v3/assert"
)

var usdc = Type{Symbol: "USDC", Mint: address.FromSeed("usdc mint"), Decimals: 6}

func TestToMinorUnitsSuccess(t *testing.T) {
	testcases := []struct {
		amount string
		units  uint64
	}{
		{"100.00", 100_000_000},
		{"0.000001", 1},
		{"1.5", 1_500_000},
		{"0", 0},
		{"18446744073709.551615", math.MaxUint64},
	}

	for i, c := range testcases {
		t.Run(fmt.Sprintf("test case %v", i), func(t *testing.T) {
			units, err := usdc.ToMinorUnits(decimal.RequireFromString(c.amount))
			assert.NilError(t, err)
			assert.Equal(t, units, c.units)
			assert.Assert(t, usdc.FromMinorUnits(units).Equal(decimal.RequireFromString(c.amount)))
		})
	}
}

func TestToMinorUnitsFailure(t *testing.T) {
	testcases := []struct {
		amount string
		err    error
	}{
		{"-1", ErrNegativeAmount},
		{"0.0000001", ErrPrecisionLoss},
		{"18446744073709.551616", ErrValueOverflow},
	}

	for i, c := range testcases {
		t.Run(fmt.Sprintf("test case %v", i), func(t *testing.T) {
			_, err := usdc.ToMinorUnits(decimal.RequireFromString(c.amount))
			assert.ErrorIs(t, err, c.err)
		})
	}
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(usdc)
	assert.NilError(t, err)

	tp, err := r.Lookup("USDC")
	assert.NilError(t, err)
	assert.Equal(t, tp, usdc)

	_, err = r.Lookup("EURC")
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = NewRegistry(Type{Symbol: "BAD", Decimals: 6})
	assert.ErrorIs(t, err, ErrUnknownToken)
}
