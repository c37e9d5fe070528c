// Package custody defines the token-custody capability the settlement engine
// consumes: an atomic "move N units from A to B" primitive for the market's
// base and quote assets. The engine escrows into a pot it controls and pays
// out of it; a failed transfer must not have moved funds.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/types"
)

// Custody errors.
var (
	ErrZeroAmount        = errors.New("custody: amount must be > 0")
	ErrInsufficientFunds = errors.New("custody: insufficient balance")
	ErrInsufficientPot   = errors.New("custody: insufficient escrowed funds")
	ErrBadAsset          = errors.New("custody: unknown asset")
	ErrInjectedFailure   = errors.New("custody: injected transfer failure")
)

// Asset selects one of the market's two tokens.
type Asset uint8

const (
	// Base is the auctioned asset.
	Base Asset = iota
	// Quote is the payment asset.
	Quote
)

// String returns a human-readable asset name.
func (a Asset) String() string {
	switch a {
	case Base:
		return "base"
	case Quote:
		return "quote"
	default:
		return "unknown"
	}
}

// Valid reports whether the asset is one of the two market tokens.
func (a Asset) Valid() bool { return a == Base || a == Quote }

// Vault is the custody capability consumed by the engine. Both operations
// are atomic and idempotent on failure.
type Vault interface {
	// Escrow moves amount of asset from the account into the engine pot.
	Escrow(from types.Address, asset Asset, amount *uint256.Int) error
	// Payout moves amount of asset from the engine pot to the account.
	Payout(to types.Address, asset Asset, amount *uint256.Int) error
}

// account tracks one address's free balances per asset.
type account struct {
	balance [2]*uint256.Int
}

func newAccount() *account {
	return &account{balance: [2]*uint256.Int{uint256.NewInt(0), uint256.NewInt(0)}}
}

// MemVault is an in-memory Vault for tests, simulation and the demo binary.
// It keeps double-entry balances: free funds per address plus the engine pot
// per asset. All methods are safe for concurrent use.
type MemVault struct {
	mu       sync.RWMutex
	accounts map[types.Address]*account
	pot      [2]*uint256.Int

	// failNext aborts the next n transfers without moving funds,
	// for exercising the engine's rollback behavior.
	failNext int
}

// NewMemVault creates an empty vault.
func NewMemVault() *MemVault {
	return &MemVault{
		accounts: make(map[types.Address]*account),
		pot:      [2]*uint256.Int{uint256.NewInt(0), uint256.NewInt(0)},
	}
}

// Mint credits free balance to an account.
func (v *MemVault) Mint(to types.Address, asset Asset, amount *uint256.Int) error {
	if !asset.Valid() {
		return fmt.Errorf("%w: %d", ErrBadAsset, asset)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	acct := v.getOrCreate(to)
	acct.balance[asset] = new(uint256.Int).Add(acct.balance[asset], amount)
	return nil
}

// Escrow implements Vault.
func (v *MemVault) Escrow(from types.Address, asset Asset, amount *uint256.Int) error {
	if !asset.Valid() {
		return fmt.Errorf("%w: %d", ErrBadAsset, asset)
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failNext > 0 {
		v.failNext--
		return ErrInjectedFailure
	}
	acct := v.getOrCreate(from)
	if acct.balance[asset].Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s needs %s %s, has %s",
			ErrInsufficientFunds, from.Hex(), amount, asset, acct.balance[asset])
	}
	acct.balance[asset] = new(uint256.Int).Sub(acct.balance[asset], amount)
	v.pot[asset] = new(uint256.Int).Add(v.pot[asset], amount)
	return nil
}

// Payout implements Vault.
func (v *MemVault) Payout(to types.Address, asset Asset, amount *uint256.Int) error {
	if !asset.Valid() {
		return fmt.Errorf("%w: %d", ErrBadAsset, asset)
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failNext > 0 {
		v.failNext--
		return ErrInjectedFailure
	}
	if v.pot[asset].Cmp(amount) < 0 {
		return fmt.Errorf("%w: pot has %s %s, payout wants %s",
			ErrInsufficientPot, v.pot[asset], asset, amount)
	}
	v.pot[asset] = new(uint256.Int).Sub(v.pot[asset], amount)
	acct := v.getOrCreate(to)
	acct.balance[asset] = new(uint256.Int).Add(acct.balance[asset], amount)
	return nil
}

// Balance returns the free balance of an account.
func (v *MemVault) Balance(addr types.Address, asset Asset) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	acct, ok := v.accounts[addr]
	if !ok || !asset.Valid() {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(acct.balance[asset])
}

// Pot returns the engine-held total for an asset.
func (v *MemVault) Pot(asset Asset) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !asset.Valid() {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v.pot[asset])
}

// FailNext makes the next n transfers fail without moving funds.
func (v *MemVault) FailNext(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = n
}

// getOrCreate returns an account, creating it if needed. Caller holds v.mu.
func (v *MemVault) getOrCreate(addr types.Address) *account {
	acct, ok := v.accounts[addr]
	if !ok {
		acct = newAccount()
		v.accounts[addr] = acct
	}
	return acct
}
