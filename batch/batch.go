package batch

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/merkle"
	"github.com/veilmatch/veilmatch/order"
	"github.com/veilmatch/veilmatch/types"
)

// Phase is the lifecycle stage of a batch at a given block height. It is
// derived from height and the batch's recorded deadlines, never stored.
type Phase uint8

const (
	PhaseInactive Phase = iota
	PhaseCommit
	PhaseReveal
	PhaseSettle
	PhaseClaim
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhaseSettle:
		return "settle"
	case PhaseClaim:
		return "claim"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// PhaseError reports an operation attempted outside its legal phase.
type PhaseError struct {
	Op       string
	Expected Phase
	Actual   Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("batch: %s requires %s phase, batch is in %s", e.Op, e.Expected, e.Actual)
}

// CommitStatus tracks one trader's commitment through the batch.
type CommitStatus uint8

const (
	StatusNone CommitStatus = iota
	StatusPending
	StatusRevealed
	StatusRefunded
)

func (s CommitStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusRevealed:
		return "revealed"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Commitment is one trader's entry in a batch. Bond is escrowed at commit
// time, Deposit at reveal time. Side is meaningful only once revealed.
type Commitment struct {
	Trader  types.Address
	Hash    types.Hash
	Status  CommitStatus
	Bond    *uint256.Int
	Deposit *uint256.Int
	Side    order.Side
	// SlotIndex is the reveal-order position, -1 until revealed.
	SlotIndex int
}

func (c *Commitment) clone() *Commitment {
	cp := *c
	cp.Bond = new(uint256.Int).Set(c.Bond)
	cp.Deposit = new(uint256.Int).Set(c.Deposit)
	return &cp
}

// RevealedSlot is the public view of one revealed order. Amounts and
// prices are deliberately absent.
type RevealedSlot struct {
	Trader types.Address
	Side   order.Side
}

// Claimable is a trader's settled entitlement, populated exactly once at
// settlement and consumed at most once.
type Claimable struct {
	Base    *uint256.Int
	Quote   *uint256.Int
	Claimed bool
}

func (c *Claimable) clone() *Claimable {
	return &Claimable{
		Base:    new(uint256.Int).Set(c.Base),
		Quote:   new(uint256.Int).Set(c.Quote),
		Claimed: c.Claimed,
	}
}

func (c *Claimable) empty() bool {
	return c.Base.IsZero() && c.Quote.IsZero()
}

// Batch is the public snapshot of one auction round.
type Batch struct {
	ID          uint64
	StartHeight uint64
	CommitEnd   uint64
	RevealEnd   uint64
	SettleEnd   uint64
	ClaimEnd    uint64

	OrderCount    uint64
	RevealedCount uint64

	Settled   bool
	Finalized bool

	// Settlement results, nil until Settled.
	ClearingPrice *uint256.Int
	BuyVolume     *uint256.Int
	SellVolume    *uint256.Int
	FeePaid       *uint256.Int
	OrdersRoot    types.Hash
	SettledAt     uint64
}

// PhaseAt derives the batch's phase at the given height. A settled batch
// stays in the claim phase until finalized. An unsettled batch whose
// settle deadline has elapsed is finalized in the degenerate sense: no
// proof can land anymore, and the explicit Finalize call is only the
// bookkeeping step that detaches it from the pool.
func (b *Batch) PhaseAt(height uint64) Phase {
	switch {
	case b.Finalized:
		return PhaseFinalized
	case height <= b.CommitEnd:
		return PhaseCommit
	case height <= b.RevealEnd:
		return PhaseReveal
	case !b.Settled:
		if height > b.SettleEnd {
			return PhaseFinalized
		}
		return PhaseSettle
	default:
		return PhaseClaim
	}
}

func (b *Batch) clone() *Batch {
	cp := *b
	if b.Settled {
		cp.ClearingPrice = new(uint256.Int).Set(b.ClearingPrice)
		cp.BuyVolume = new(uint256.Int).Set(b.BuyVolume)
		cp.SellVolume = new(uint256.Int).Set(b.SellVolume)
		cp.FeePaid = new(uint256.Int).Set(b.FeePaid)
	}
	return &cp
}

// SettledBatchData is the append-only settlement record exposed through
// the paginated history queries.
type SettledBatchData struct {
	BatchID       uint64
	ClearingPrice *uint256.Int
	BuyVolume     *uint256.Int
	SellVolume    *uint256.Int
	FeePaid       *uint256.Int
	OrderCount    uint64
	RevealedCount uint64
	OrdersRoot    types.Hash
	SettledAt     uint64
}

// PricePoint is one entry of the clearing-price series.
type PricePoint struct {
	BatchID       uint64
	ClearingPrice *uint256.Int
	SettledAt     uint64
}

// batchState is the engine's mutable record of one batch.
type batchState struct {
	Batch

	acc         *merkle.Accumulator
	commitments map[types.Address]*Commitment
	commitOrder []types.Address
	slots       []RevealedSlot
	claimables  map[types.Address]*Claimable
}

// pool holds one market's config, its active batch and its archive.
type pool struct {
	cfg         PoolConfig
	lastBatchID uint64
	active      *batchState
	batches     map[uint64]*batchState
	history     []*SettledBatchData
}
