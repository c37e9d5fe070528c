// Package allowlist implements the membership capability gated pools consume:
// keccak Merkle proofs of account membership under a pool's allow-list root.
// Pairs combine in sorted order, so proofs carry no direction bits.
package allowlist

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veilmatch/veilmatch/types"
)

// Membership errors.
var (
	ErrNotMember = errors.New("allowlist: account is not a member of the root")
	ErrNoLeaves  = errors.New("allowlist: tree needs at least one account")
	ErrNotInTree = errors.New("allowlist: account not present in tree")
)

// leafDomain separates allow-list leaves from other keccak uses, preventing
// a commitment hash from doubling as a membership leaf.
var leafDomain = []byte("veilmatch/allowlist/v1")

// Leaf computes the allow-list leaf for an account.
func Leaf(account types.Address) types.Hash {
	return types.BytesToHash(crypto.Keccak256(leafDomain, account.Bytes()))
}

// combine hashes an unordered node pair in sorted order.
func combine(a, b types.Hash) types.Hash {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return types.BytesToHash(crypto.Keccak256(a.Bytes(), b.Bytes()))
}

// ComputeRoot folds a leaf up a sibling path.
func ComputeRoot(leaf types.Hash, proof []types.Hash) types.Hash {
	cur := leaf
	for _, sib := range proof {
		cur = combine(cur, sib)
	}
	return cur
}

// RequireMember verifies that account is proven a member of root, returning
// a membership error otherwise.
func RequireMember(account types.Address, root types.Hash, proof []types.Hash) error {
	if got := ComputeRoot(Leaf(account), proof); got != root {
		return fmt.Errorf("%w: %s (computed root %s, want %s)",
			ErrNotMember, account.Hex(), got.Hex(), root.Hex())
	}
	return nil
}

// Tree is a full allow-list Merkle tree, used by pool operators to derive
// roots and hand proofs to traders. The engine itself only ever calls
// RequireMember.
type Tree struct {
	accounts []types.Address
	levels   [][]types.Hash // levels[0] = padded leaves, last = root
}

// NewTree builds a tree over the accounts, zero-hash padded to the next
// power of two.
func NewTree(accounts []types.Address) (*Tree, error) {
	if len(accounts) == 0 {
		return nil, ErrNoLeaves
	}
	width := 1
	if len(accounts) > 1 {
		width = 1 << bits.Len(uint(len(accounts)-1))
	}
	leaves := make([]types.Hash, width)
	for i, acct := range accounts {
		leaves[i] = Leaf(acct)
	}

	levels := [][]types.Hash{leaves}
	for len(levels[len(levels)-1]) > 1 {
		prev := levels[len(levels)-1]
		next := make([]types.Hash, len(prev)/2)
		for i := range next {
			next[i] = combine(prev[2*i], prev[2*i+1])
		}
		levels = append(levels, next)
	}

	cp := make([]types.Address, len(accounts))
	copy(cp, accounts)
	return &Tree{accounts: cp, levels: levels}, nil
}

// Root returns the tree root.
func (t *Tree) Root() types.Hash {
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the sibling path for an account.
func (t *Tree) Proof(account types.Address) ([]types.Hash, error) {
	idx := -1
	for i, acct := range t.accounts {
		if acct == account {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotInTree, account.Hex())
	}
	proof := make([]types.Hash, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		proof = append(proof, level[idx^1])
		idx /= 2
	}
	return proof, nil
}
