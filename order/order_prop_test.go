package order

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/veilmatch/veilmatch/types"
)

func orderFromSeeds(amount, price, traderSeed, saltSeed uint64, isBuy bool) *Order {
	var trader types.Address
	binary.BigEndian.PutUint64(trader[12:], traderSeed)
	var salt types.Hash
	binary.BigEndian.PutUint64(salt[24:], saltSeed)
	side := SideSell
	if isBuy {
		side = SideBuy
	}
	return &Order{
		Trader:     trader,
		Amount:     uint256.NewInt(amount),
		LimitPrice: uint256.NewInt(price),
		Side:       side,
		Salt:       salt,
	}
}

func TestCommitmentRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("reveal succeeds iff the exact fields reproduce the hash", prop.ForAll(
		func(amount, price, traderSeed, saltSeed uint64, isBuy bool) bool {
			o := orderFromSeeds(amount, price, traderSeed, saltSeed, isBuy)
			return VerifyCommitment(o, CommitmentHash(o)) == nil
		},
		gen.UInt64Range(1, math.MaxUint64),
		gen.UInt64Range(1, math.MaxUint64),
		gen.UInt64(),
		gen.UInt64(),
		gen.Bool(),
	))

	properties.Property("a salt perturbation always fails reveal", prop.ForAll(
		func(amount, price, traderSeed, saltSeed uint64, isBuy bool) bool {
			o := orderFromSeeds(amount, price, traderSeed, saltSeed, isBuy)
			stored := CommitmentHash(o)
			o.Salt[0] ^= 0x01
			return VerifyCommitment(o, stored) != nil
		},
		gen.UInt64Range(1, math.MaxUint64),
		gen.UInt64Range(1, math.MaxUint64),
		gen.UInt64(),
		gen.UInt64(),
		gen.Bool(),
	))

	properties.Property("an amount perturbation always fails reveal", prop.ForAll(
		func(amount, price, traderSeed, saltSeed uint64, isBuy bool) bool {
			o := orderFromSeeds(amount, price, traderSeed, saltSeed, isBuy)
			stored := CommitmentHash(o)
			o.Amount = new(uint256.Int).AddUint64(o.Amount, 1)
			return VerifyCommitment(o, stored) != nil
		},
		gen.UInt64Range(1, math.MaxUint64-1),
		gen.UInt64Range(1, math.MaxUint64),
		gen.UInt64(),
		gen.UInt64(),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
