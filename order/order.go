// Package order defines sealed-bid orders and the two hash domains that bind
// them: the keccak commitment hash traders commit to during the blind phase,
// and the MiMC leaf hash that feeds the circuit-shaped Merkle accumulator.
// The two domains are deliberately distinct functions with distinct
// separators; they serve different external consumers and must remain
// independently swappable.
package order

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/types"
)

// Order errors.
var (
	ErrOrderZeroAmount = errors.New("order: amount must be > 0")
	ErrOrderZeroPrice  = errors.New("order: limit price must be > 0")
	ErrOrderAmountWide = errors.New("order: amount exceeds 128 bits")
	ErrOrderPriceWide  = errors.New("order: limit price exceeds 128 bits")
	ErrOrderBadSide    = errors.New("order: invalid side")
)

// Side is the direction of an order.
type Side uint8

const (
	// SideBuy bids base asset, paying quote.
	SideBuy Side = iota
	// SideSell offers base asset, receiving quote.
	SideSell
)

// String returns a human-readable side name.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Valid reports whether the side is one of the two defined directions.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Order is the plaintext a trader reveals against a prior commitment.
// Amount is in base-asset units; LimitPrice is quote units per base unit.
// Salt blinds the commitment so equal orders hash differently.
type Order struct {
	Trader     types.Address
	Amount     *uint256.Int
	LimitPrice *uint256.Int
	Side       Side
	Salt       types.Hash
}

// Validate checks the order fields against the engine's numeric bounds.
// Amounts and prices are semantically 128-bit even though they travel in
// 256-bit scalars.
func (o *Order) Validate() error {
	if !o.Side.Valid() {
		return fmt.Errorf("%w: %d", ErrOrderBadSide, o.Side)
	}
	if o.Amount == nil || o.Amount.IsZero() {
		return ErrOrderZeroAmount
	}
	if o.LimitPrice == nil || o.LimitPrice.IsZero() {
		return ErrOrderZeroPrice
	}
	if o.Amount.BitLen() > 128 {
		return fmt.Errorf("%w: %s", ErrOrderAmountWide, o.Amount)
	}
	if o.LimitPrice.BitLen() > 128 {
		return fmt.Errorf("%w: %s", ErrOrderPriceWide, o.LimitPrice)
	}
	return nil
}

// Notional returns Amount * LimitPrice, the quote-asset value a buyer must
// escrow at reveal. With both factors bounded to 128 bits the product cannot
// overflow 256 bits.
func (o *Order) Notional() *uint256.Int {
	return new(uint256.Int).Mul(o.Amount, o.LimitPrice)
}
