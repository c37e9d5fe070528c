package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veilmatch/veilmatch/types"
)

// commitDomain separates veilmatch commitments from any other protocol's use
// of keccak over similar field layouts.
var commitDomain = []byte("veilmatch/commit/v1")

// CommitmentHash computes the blind commitment for an order:
// keccak256(domain || trader || amount || limitPrice || side || salt).
// Amount and limit price are encoded as 32-byte big-endian words so the
// preimage layout is fixed-width and unambiguous.
func CommitmentHash(o *Order) types.Hash {
	amount := o.Amount.Bytes32()
	price := o.LimitPrice.Bytes32()
	h := crypto.Keccak256(
		commitDomain,
		o.Trader.Bytes(),
		amount[:],
		price[:],
		[]byte{byte(o.Side)},
		o.Salt.Bytes(),
	)
	return types.BytesToHash(h)
}

// CommitmentMismatchError reports a failed reveal. It carries the stored and
// recomputed commitment hashes in full, never the individual order fields,
// so a failed reveal does not leak which field differed before the trader
// intentionally discloses the order.
type CommitmentMismatchError struct {
	Stored     types.Hash
	Recomputed types.Hash
}

// Error implements the error interface.
func (e *CommitmentMismatchError) Error() string {
	return fmt.Sprintf("order: commitment mismatch: stored %s, recomputed %s",
		e.Stored.Hex(), e.Recomputed.Hex())
}

// VerifyCommitment recomputes the commitment for the revealed order and
// compares it bit-for-bit against the stored hash.
func VerifyCommitment(o *Order, stored types.Hash) error {
	recomputed := CommitmentHash(o)
	if recomputed != stored {
		return &CommitmentMismatchError{Stored: stored, Recomputed: recomputed}
	}
	return nil
}
