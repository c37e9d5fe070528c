package order

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/veilmatch/veilmatch/types"
)

// leafDomain is the accumulator hash domain, a BN254 scalar derived from a
// fixed tag. Distinct from the keccak commitment domain: the leaf hash must
// match the external circuit's arithmetic representation.
var leafDomain fr.Element

func init() {
	leafDomain.SetBytes([]byte("veilmatch/leaf/v1"))
}

// LeafHash computes the circuit-compatible accumulator leaf for a revealed
// order: MiMC(domain, amount, price, trader, side) over the BN254 scalar
// field. Amounts and prices are bounded to 128 bits by Validate, so their
// 32-byte encodings are always canonical field elements.
func LeafHash(o *Order) fr.Element {
	var amount, price, trader, side fr.Element
	ab := o.Amount.Bytes32()
	amount.SetBytes(ab[:])
	pb := o.LimitPrice.Bytes32()
	price.SetBytes(pb[:])
	trader.SetBytes(o.Trader.Bytes())
	side.SetUint64(uint64(o.Side))

	h := mimc.NewMiMC()
	writeElement(h, &leafDomain)
	writeElement(h, &amount)
	writeElement(h, &price)
	writeElement(h, &trader)
	writeElement(h, &side)

	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// LeafHashBytes returns the leaf as a 32-byte big-endian hash for event
// payloads and read queries.
func LeafHashBytes(o *Order) types.Hash {
	leaf := LeafHash(o)
	b := leaf.Bytes()
	return types.BytesToHash(b[:])
}

// writeElement feeds one canonical field element into the MiMC state.
type mimcWriter interface {
	Write(p []byte) (n int, err error)
}

func writeElement(h mimcWriter, el *fr.Element) {
	b := el.Bytes()
	// Canonical encodings of reduced elements are always accepted.
	_, _ = h.Write(b[:])
}
