package batch

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/types"
)

// Phase duration bounds, in blocks. Sub-two-block windows cannot be
// observed by honest traders; the upper bound caps how long escrow can be
// locked by a misconfigured pool.
const (
	MinPhaseBlocks = 2
	MaxPhaseBlocks = 100_000
)

// MaxFeeBps caps the protocol fee at 10% of matched volume.
const MaxFeeBps = 1_000

var (
	ErrEmptyMarket      = errors.New("batch: empty market symbol")
	ErrBadPhaseDuration = errors.New("batch: phase duration out of range")
	ErrFeeTooHigh       = errors.New("batch: fee rate above maximum")
	ErrNoFeeRecipient   = errors.New("batch: fee configured without recipient")
	ErrNoAllowRoot      = errors.New("batch: gated pool needs an allow-list root")
)

// Mode selects who may commit into a pool's batches.
type Mode uint8

const (
	// ModeOpen accepts commitments from any trader.
	ModeOpen Mode = iota
	// ModeGated requires a Merkle membership proof against AllowRoot.
	ModeGated
)

func (m Mode) String() string {
	switch m {
	case ModeOpen:
		return "open"
	case ModeGated:
		return "gated"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// PoolConfig describes one trading pair's auction parameters. It is fixed
// at pool creation and shared by every batch the pool runs.
type PoolConfig struct {
	Market string
	Mode   Mode

	// Phase durations in blocks, each within [MinPhaseBlocks, MaxPhaseBlocks].
	CommitBlocks uint64
	RevealBlocks uint64
	SettleBlocks uint64
	ClaimBlocks  uint64

	// FeeBps is the protocol fee in basis points of matched volume.
	FeeBps       uint16
	FeeRecipient types.Address

	// Bond is the quote-asset stake escrowed with every commitment.
	Bond *uint256.Int

	// AllowRoot is the allow-list Merkle root for gated pools.
	AllowRoot types.Hash
}

// Validate reports whether the config describes a runnable pool.
func (c *PoolConfig) Validate() error {
	if c.Market == "" {
		return ErrEmptyMarket
	}
	for _, d := range []struct {
		name   string
		blocks uint64
	}{
		{"commit", c.CommitBlocks},
		{"reveal", c.RevealBlocks},
		{"settle", c.SettleBlocks},
		{"claim", c.ClaimBlocks},
	} {
		if d.blocks < MinPhaseBlocks || d.blocks > MaxPhaseBlocks {
			return fmt.Errorf("%w: %s phase %d blocks", ErrBadPhaseDuration, d.name, d.blocks)
		}
	}
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps", ErrFeeTooHigh, c.FeeBps)
	}
	if c.FeeBps > 0 && c.FeeRecipient.IsZero() {
		return ErrNoFeeRecipient
	}
	if c.Mode == ModeGated && c.AllowRoot.IsZero() {
		return ErrNoAllowRoot
	}
	return nil
}

// bond returns the configured bond, treating nil as zero.
func (c *PoolConfig) bond() *uint256.Int {
	if c.Bond == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(c.Bond)
}

// DefaultPoolConfig returns an open pool with moderate phase windows and
// no fee or bond, suitable for tests and local runs.
func DefaultPoolConfig(market string) PoolConfig {
	return PoolConfig{
		Market:       market,
		Mode:         ModeOpen,
		CommitBlocks: 10,
		RevealBlocks: 10,
		SettleBlocks: 10,
		ClaimBlocks:  10,
	}
}
