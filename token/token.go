package token

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/bartossh/Settlementis/address"
	"github.com/shopspring/decimal"
)

// MaxDecimals is the biggest supported number of decimal places of a token.
const MaxDecimals = 18

var (
	ErrNegativeAmount   = errors.New("amount cannot be negative")
	ErrPrecisionLoss    = errors.New("amount has more decimal places than the token supports")
	ErrValueOverflow    = errors.New("amount overflows token minor unit")
	ErrUnknownToken     = errors.New("unknown token")
	ErrInvalidDecimals  = fmt.Errorf("token decimals must be between 0 and %d", MaxDecimals)
	ErrEmptyTokenSymbol = errors.New("token symbol cannot be empty")
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Type describes a fungible token the payments are settled in.
type Type struct {
	Symbol   string          `yaml:"symbol"   json:"symbol"   bson:"symbol"`
	Mint     address.Address `yaml:"mint"     json:"mint"     bson:"mint"`
	Decimals uint8           `yaml:"decimals" json:"decimals" bson:"decimals"`
}

// Validate checks if token type is well formed.
func (t Type) Validate() error {
	if t.Symbol == "" {
		return ErrEmptyTokenSymbol
	}
	if t.Decimals > MaxDecimals {
		return ErrInvalidDecimals
	}
	if t.Mint.IsZero() {
		return errors.Join(ErrUnknownToken, fmt.Errorf("token %s has no mint", t.Symbol))
	}
	return nil
}

// ToMinorUnits converts the decimal amount to the token minor unit, for example 1.5 USDC to 1500000.
// Amounts that would lose precision are rejected rather than rounded.
func (t Type) ToMinorUnits(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	shifted := amount.Shift(int32(t.Decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, errors.Join(ErrPrecisionLoss, fmt.Errorf("%s has more than %d decimal places", amount, t.Decimals))
	}
	if shifted.GreaterThan(maxUint64) {
		return 0, ErrValueOverflow
	}
	return shifted.BigInt().Uint64(), nil
}

// FromMinorUnits converts the token minor units to decimal amount.
func (t Type) FromMinorUnits(units uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(t.Decimals))
}

// Registry holds token types known to the service by symbol.
type Registry map[string]Type

// NewRegistry creates registry from the list of token types.
func NewRegistry(types ...Type) (Registry, error) {
	r := make(Registry, len(types))
	for _, t := range types {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		r[t.Symbol] = t
	}
	return r, nil
}

// Lookup finds token type by symbol.
func (r Registry) Lookup(symbol string) (Type, error) {
	t, ok := r[symbol]
	if !ok {
		return Type{}, errors.Join(ErrUnknownToken, fmt.Errorf("symbol %q", symbol))
	}
	return t, nil
}
