// Package merkle implements the fixed-capacity order accumulator: a binary
// Merkle tree whose width matches the external proving circuit. Leaves are
// MiMC field elements appended in reveal order; unused slots are zero-padded.
// Internal nodes combine children as MiMC(min, max), so the root is invariant
// under sibling-order permutation and the prover and the engine never have to
// agree on a sibling ordering convention.
package merkle

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/veilmatch/veilmatch/types"
)

// DefaultCapacity is the circuit width the production pools are compiled for.
const DefaultCapacity = 16

// Accumulator errors.
var (
	ErrBadCapacity = errors.New("merkle: capacity must be a power of two >= 2")
	ErrFull        = errors.New("merkle: accumulator is full")
	ErrBadIndex    = errors.New("merkle: leaf index out of range")
)

// Accumulator is a statically-sized arena of leaf slots indexed by reveal
// order. It is not safe for concurrent use; the batch engine serializes
// access.
type Accumulator struct {
	depth int
	slots []fr.Element
	count int
}

// New creates an accumulator with the given capacity, which must be a power
// of two of at least 2.
func New(capacity int) (*Accumulator, error) {
	if capacity < 2 || bits.OnesCount(uint(capacity)) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrBadCapacity, capacity)
	}
	return &Accumulator{
		depth: bits.TrailingZeros(uint(capacity)),
		slots: make([]fr.Element, capacity),
	}, nil
}

// Append inserts a leaf into the next free slot.
func (a *Accumulator) Append(leaf fr.Element) error {
	if a.count == len(a.slots) {
		return fmt.Errorf("%w: capacity %d", ErrFull, len(a.slots))
	}
	a.slots[a.count] = leaf
	a.count++
	return nil
}

// Len returns the number of appended leaves.
func (a *Accumulator) Len() int { return a.count }

// Cap returns the fixed capacity.
func (a *Accumulator) Cap() int { return len(a.slots) }

// Depth returns the tree depth (log2 of capacity).
func (a *Accumulator) Depth() int { return a.depth }

// Leaves returns a copy of the appended leaves in reveal order.
func (a *Accumulator) Leaves() []fr.Element {
	out := make([]fr.Element, a.count)
	copy(out, a.slots[:a.count])
	return out
}

// Root computes the tree root over all slots, zero-padded past the appended
// prefix. The root of an empty leaf set is defined as zero. Recomputation is
// O(capacity); settlement calls this once per batch.
func (a *Accumulator) Root() fr.Element {
	var zero fr.Element
	if a.count == 0 {
		return zero
	}
	level := make([]fr.Element, len(a.slots))
	copy(level, a.slots)
	for len(level) > 1 {
		next := level[:len(level)/2]
		for i := 0; i < len(level); i += 2 {
			next[i/2] = combine(level[i], level[i+1])
		}
		level = next
	}
	return level[0]
}

// RootHash returns the root as a 32-byte big-endian hash for storage and
// cross-checks against public inputs.
func (a *Accumulator) RootHash() types.Hash {
	root := a.Root()
	b := root.Bytes()
	return types.BytesToHash(b[:])
}

// Siblings returns the sibling path for the leaf at the given index, from
// the leaf level up to just below the root. Used to build inclusion proofs
// for the read surface and tests.
func (a *Accumulator) Siblings(index int) ([]fr.Element, error) {
	if index < 0 || index >= len(a.slots) {
		return nil, fmt.Errorf("%w: index %d, capacity %d", ErrBadIndex, index, len(a.slots))
	}
	path := make([]fr.Element, 0, a.depth)
	level := make([]fr.Element, len(a.slots))
	copy(level, a.slots)
	for len(level) > 1 {
		path = append(path, level[index^1])
		next := level[:len(level)/2]
		for i := 0; i < len(level); i += 2 {
			next[i/2] = combine(level[i], level[i+1])
		}
		level = next
		index /= 2
	}
	return path, nil
}

// ProveInclusion verifies that leaf sits at index under the current root,
// walking the sibling path with the same sorted-pair rule used to build the
// tree. The sorted combination makes the walk direction-free; the index only
// bounds the claim against capacity.
func (a *Accumulator) ProveInclusion(leaf fr.Element, siblings []fr.Element, index int) bool {
	if index < 0 || index >= len(a.slots) || len(siblings) != a.depth {
		return false
	}
	cur := leaf
	for _, sib := range siblings {
		cur = combine(cur, sib)
	}
	root := a.Root()
	return cur.Equal(&root)
}

// combine hashes an unordered node pair as MiMC(min, max).
func combine(x, y fr.Element) fr.Element {
	lo, hi := x, y
	if lo.Cmp(&hi) > 0 {
		lo, hi = hi, lo
	}
	h := mimc.NewMiMC()
	lb := lo.Bytes()
	hb := hi.Bytes()
	_, _ = h.Write(lb[:])
	_, _ = h.Write(hb[:])
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}
