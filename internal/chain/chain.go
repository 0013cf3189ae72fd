package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is an incoming transfer to a watched address.
type Transaction struct {
	TxID          string
	Value         decimal.Decimal
	Confirmations int
	Time          time.Time
	From          string
	Memo          string
}

// Lookup lists transfers received by an address.
type Lookup interface {
	AddressTransactions(ctx context.Context, address string) ([]Transaction, error)
}

// Broadcaster signs and broadcasts a payout from the custodial key.
type Broadcaster interface {
	Send(ctx context.Context, to string, amount decimal.Decimal, key string) (txid string, err error)
}

// AddressValidator checks an address against the network's format rules.
type AddressValidator interface {
	ValidateAddress(address string) error
}

// Network bundles the adapters for one coin.
type Network struct {
	Name     string // ltc / ton
	Symbol   string // LTC / TON
	Decimals int32

	Lookup      Lookup
	Broadcaster Broadcaster
	Validator   AddressValidator
}

// Matches reports whether value equals expected within tolerance.
func Matches(value, expected, tolerance decimal.Decimal) bool {
	return value.Sub(expected).Abs().LessThan(tolerance)
}
