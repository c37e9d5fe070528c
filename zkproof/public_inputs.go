// Package zkproof handles the boundary between the settlement engine and the
// external proof system: the fixed-length public-input vector the proof
// attests to, and the gate through which proof verification is invoked.
package zkproof

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/types"
)

// Wire layout: positions 0-8 are the base block, 9.. hold per-order fills in
// reveal order.
const (
	FieldBatchID = iota
	FieldClearingPrice
	FieldBuyVolume
	FieldSellVolume
	FieldOrderCount
	FieldOrdersRoot
	FieldAllowListRoot
	FieldFeeRate
	FieldProtocolFee

	BaseFieldCount = 9
)

// FeeDenominator is the basis-point denominator for protocol fees.
const FeeDenominator = 10_000

// Codec errors.
var (
	ErrNilInput       = errors.New("zkproof: nil public input scalar")
	ErrWrongLength    = errors.New("zkproof: wrong public input vector length")
	ErrFieldOverflow  = errors.New("zkproof: public input exceeds field bound")
	ErrPhantomVolume  = errors.New("zkproof: zero clearing price with non-zero volume")
	ErrFeeMismatch    = errors.New("zkproof: protocol fee does not match derived fee")
	ErrCrossCheck     = errors.New("zkproof: public input disagrees with on-ledger value")
	ErrRootNotCanonic = errors.New("zkproof: orders root is not a canonical field element")
)

// fieldName maps base-block indices to names for diagnostics.
var fieldName = [BaseFieldCount]string{
	"batchId", "clearingPrice", "buyVolume", "sellVolume", "orderCount",
	"ordersRoot", "allowListRoot", "feeRate", "protocolFee",
}

// PublicInputs is the decoded public-input vector.
type PublicInputs struct {
	BatchID       uint64
	ClearingPrice *uint256.Int
	BuyVolume     *uint256.Int
	SellVolume    *uint256.Int
	OrderCount    uint64
	OrdersRoot    types.Hash
	AllowListRoot types.Hash
	FeeRate       uint16
	ProtocolFee   *uint256.Int
	Fills         []*uint256.Int // one per revealed order, reveal order
}

// Expected carries the on-ledger values the decoded vector must agree with.
type Expected struct {
	BatchID       uint64
	OrderCount    uint64
	OrdersRoot    types.Hash
	AllowListRoot types.Hash
	FeeRate       uint16
}

// boundCheck rejects a scalar wider than maxBits, naming the offending index.
func boundCheck(idx int, name string, v *uint256.Int, maxBits int) error {
	if v == nil {
		return fmt.Errorf("%w: field %d (%s)", ErrNilInput, idx, name)
	}
	if v.BitLen() > maxBits {
		return fmt.Errorf("%w: field %d (%s) value %s exceeds 2^%d-1",
			ErrFieldOverflow, idx, name, v, maxBits)
	}
	return nil
}

// Decode parses and bound-checks a raw vector. fillCount is the number of
// fill values the vector must carry (the batch's revealed count); the total
// length must equal BaseFieldCount+fillCount exactly. capacity bounds the
// order-count field.
func Decode(vec []*uint256.Int, fillCount, capacity int) (*PublicInputs, error) {
	want := BaseFieldCount + fillCount
	if len(vec) != want {
		return nil, fmt.Errorf("%w: got %d scalars, want %d", ErrWrongLength, len(vec), want)
	}

	if err := boundCheck(FieldBatchID, fieldName[FieldBatchID], vec[FieldBatchID], 64); err != nil {
		return nil, err
	}
	if err := boundCheck(FieldClearingPrice, fieldName[FieldClearingPrice], vec[FieldClearingPrice], 128); err != nil {
		return nil, err
	}
	if err := boundCheck(FieldBuyVolume, fieldName[FieldBuyVolume], vec[FieldBuyVolume], 128); err != nil {
		return nil, err
	}
	if err := boundCheck(FieldSellVolume, fieldName[FieldSellVolume], vec[FieldSellVolume], 128); err != nil {
		return nil, err
	}
	if err := boundCheck(FieldOrderCount, fieldName[FieldOrderCount], vec[FieldOrderCount], 64); err != nil {
		return nil, err
	}
	if oc := vec[FieldOrderCount].Uint64(); oc > uint64(capacity) {
		return nil, fmt.Errorf("%w: field %d (%s) value %d exceeds capacity %d",
			ErrFieldOverflow, FieldOrderCount, fieldName[FieldOrderCount], oc, capacity)
	}
	if vec[FieldOrdersRoot] == nil {
		return nil, fmt.Errorf("%w: field %d (%s)", ErrNilInput, FieldOrdersRoot, fieldName[FieldOrdersRoot])
	}
	if !isCanonicalFr(vec[FieldOrdersRoot]) {
		return nil, fmt.Errorf("%w: field %d value %s", ErrRootNotCanonic, FieldOrdersRoot, vec[FieldOrdersRoot])
	}
	if vec[FieldAllowListRoot] == nil {
		return nil, fmt.Errorf("%w: field %d (%s)", ErrNilInput, FieldAllowListRoot, fieldName[FieldAllowListRoot])
	}
	if err := boundCheck(FieldFeeRate, fieldName[FieldFeeRate], vec[FieldFeeRate], 16); err != nil {
		return nil, err
	}
	if err := boundCheck(FieldProtocolFee, fieldName[FieldProtocolFee], vec[FieldProtocolFee], 128); err != nil {
		return nil, err
	}

	pi := &PublicInputs{
		BatchID:       vec[FieldBatchID].Uint64(),
		ClearingPrice: new(uint256.Int).Set(vec[FieldClearingPrice]),
		BuyVolume:     new(uint256.Int).Set(vec[FieldBuyVolume]),
		SellVolume:    new(uint256.Int).Set(vec[FieldSellVolume]),
		OrderCount:    vec[FieldOrderCount].Uint64(),
		OrdersRoot:    hashFromScalar(vec[FieldOrdersRoot]),
		AllowListRoot: hashFromScalar(vec[FieldAllowListRoot]),
		FeeRate:       uint16(vec[FieldFeeRate].Uint64()),
		ProtocolFee:   new(uint256.Int).Set(vec[FieldProtocolFee]),
	}
	pi.Fills = make([]*uint256.Int, fillCount)
	for i := 0; i < fillCount; i++ {
		idx := BaseFieldCount + i
		if err := boundCheck(idx, fmt.Sprintf("fill[%d]", i), vec[idx], 128); err != nil {
			return nil, err
		}
		pi.Fills[i] = new(uint256.Int).Set(vec[idx])
	}
	return pi, nil
}

// Encode serializes public inputs back to the wire vector.
func (pi *PublicInputs) Encode() []*uint256.Int {
	vec := make([]*uint256.Int, 0, BaseFieldCount+len(pi.Fills))
	vec = append(vec,
		uint256.NewInt(pi.BatchID),
		new(uint256.Int).Set(pi.ClearingPrice),
		new(uint256.Int).Set(pi.BuyVolume),
		new(uint256.Int).Set(pi.SellVolume),
		uint256.NewInt(pi.OrderCount),
		new(uint256.Int).SetBytes(pi.OrdersRoot.Bytes()),
		new(uint256.Int).SetBytes(pi.AllowListRoot.Bytes()),
		uint256.NewInt(uint64(pi.FeeRate)),
		new(uint256.Int).Set(pi.ProtocolFee),
	)
	for _, f := range pi.Fills {
		vec = append(vec, new(uint256.Int).Set(f))
	}
	return vec
}

// DerivedFee computes floor(min(buyVolume, sellVolume) * feeRate / 10000).
func (pi *PublicInputs) DerivedFee() *uint256.Int {
	matched := pi.BuyVolume
	if pi.SellVolume.Cmp(matched) < 0 {
		matched = pi.SellVolume
	}
	fee := new(uint256.Int).Mul(matched, uint256.NewInt(uint64(pi.FeeRate)))
	return fee.Div(fee, uint256.NewInt(FeeDenominator))
}

// Validate enforces the internal consistency rules: a zero clearing price
// admits no matched volume, and the protocol fee must equal the derived fee
// exactly, with no rounding tolerance.
func (pi *PublicInputs) Validate() error {
	if pi.ClearingPrice.IsZero() {
		if !pi.BuyVolume.IsZero() || !pi.SellVolume.IsZero() {
			return fmt.Errorf("%w: buy %s, sell %s", ErrPhantomVolume, pi.BuyVolume, pi.SellVolume)
		}
	}
	if derived := pi.DerivedFee(); pi.ProtocolFee.Cmp(derived) != 0 {
		return fmt.Errorf("%w: submitted %s, expected %s", ErrFeeMismatch, pi.ProtocolFee, derived)
	}
	return nil
}

// ValidateAgainstExpected cross-checks the decoded vector against on-ledger
// state, rejecting on the first mismatch in a fixed order (batch id, order
// count, orders root, allow-list root, fee rate, protocol fee) so error
// precedence is deterministic.
func (pi *PublicInputs) ValidateAgainstExpected(exp Expected) error {
	if pi.BatchID != exp.BatchID {
		return fmt.Errorf("%w: batchId submitted %d, on-ledger %d", ErrCrossCheck, pi.BatchID, exp.BatchID)
	}
	if pi.OrderCount != exp.OrderCount {
		return fmt.Errorf("%w: orderCount submitted %d, on-ledger %d", ErrCrossCheck, pi.OrderCount, exp.OrderCount)
	}
	if pi.OrdersRoot != exp.OrdersRoot {
		return fmt.Errorf("%w: ordersRoot submitted %s, on-ledger %s", ErrCrossCheck, pi.OrdersRoot.Hex(), exp.OrdersRoot.Hex())
	}
	if pi.AllowListRoot != exp.AllowListRoot {
		return fmt.Errorf("%w: allowListRoot submitted %s, on-ledger %s", ErrCrossCheck, pi.AllowListRoot.Hex(), exp.AllowListRoot.Hex())
	}
	if pi.FeeRate != exp.FeeRate {
		return fmt.Errorf("%w: feeRate submitted %d, on-ledger %d", ErrCrossCheck, pi.FeeRate, exp.FeeRate)
	}
	if derived := pi.DerivedFee(); pi.ProtocolFee.Cmp(derived) != 0 {
		return fmt.Errorf("%w: submitted %s, expected %s", ErrFeeMismatch, pi.ProtocolFee, derived)
	}
	return nil
}

// isCanonicalFr reports whether the scalar is a reduced BN254 field element.
func isCanonicalFr(v *uint256.Int) bool {
	b := v.Bytes32()
	var el fr.Element
	return el.SetBytesCanonical(b[:]) == nil
}

func hashFromScalar(v *uint256.Int) types.Hash {
	b := v.Bytes32()
	return types.BytesToHash(b[:])
}
