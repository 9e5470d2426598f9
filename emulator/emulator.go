package emulator

import (
	"github.com/bartossh/Settlementis/address"
)

// Config contains configuration of the ledger emulator.
type Config struct {
	Port              int     `yaml:"port"`
	ConfirmAfterPolls int     `yaml:"confirm_after_polls"` // number of pending status reads before the final status is reported
	Genesis           Genesis `yaml:"genesis"`
}

// Genesis describes initial ledger state.
type Genesis struct {
	Mints     []Mint     `yaml:"mints"`
	Multisigs []Multisig `yaml:"multisigs"`
	Holders   []Holder   `yaml:"holders"`
}

// Mint is a token mint.
type Mint struct {
	Address  address.Address `yaml:"address"`
	Decimals uint8           `yaml:"decimals"`
}

// Multisig is a multisig account with its vault holdings.
type Multisig struct {
	Address   address.Address   `yaml:"address"`
	Threshold uint16            `yaml:"threshold"`
	Members   []address.Address `yaml:"members"`
	Balances  []Balance         `yaml:"balances"` // balances of the default vault
}

// Holder is an owner of associated token accounts.
type Holder struct {
	Owner    address.Address `yaml:"owner"`
	Balances []Balance       `yaml:"balances"`
}

// Balance is amount of tokens of the mint in minor units.
type Balance struct {
	Mint   address.Address `yaml:"mint"`
	Amount uint64          `yaml:"amount"`
}
