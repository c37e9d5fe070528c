package batch

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/order"
	"github.com/veilmatch/veilmatch/types"
)

// Event is a state-transition notification. The engine emits exactly one
// event per transition.
type Event interface {
	Name() string
}

// BatchOpened is emitted when a new batch starts its commit phase.
type BatchOpened struct {
	Market      string
	BatchID     uint64
	StartHeight uint64
	CommitEnd   uint64
	RevealEnd   uint64
	SettleEnd   uint64
	ClaimEnd    uint64
}

func (BatchOpened) Name() string { return "batch.opened" }

// OrderCommitted is emitted when a trader's blind commitment is stored.
type OrderCommitted struct {
	Market     string
	BatchID    uint64
	Trader     types.Address
	Commitment types.Hash
	Bond       *uint256.Int
}

func (OrderCommitted) Name() string { return "order.committed" }

// OrderRevealed is emitted on a successful reveal. It deliberately carries
// only the trader and side: individual order sizes stay confidential even
// after reveal. Full order data travels in OrderRevealedAudit.
type OrderRevealed struct {
	Market    string
	BatchID   uint64
	Trader    types.Address
	Side      order.Side
	SlotIndex int
}

func (OrderRevealed) Name() string { return "order.revealed" }

// OrderRevealedAudit carries the full revealed order for audit-only
// consumers; off-ledger matchers re-derive amounts and prices from it.
type OrderRevealedAudit struct {
	Market     string
	BatchID    uint64
	Trader     types.Address
	Side       order.Side
	Amount     *uint256.Int
	LimitPrice *uint256.Int
	Leaf       types.Hash
}

func (OrderRevealedAudit) Name() string { return "order.revealed.audit" }

// BatchSettled is emitted when a proof-backed settlement is accepted.
type BatchSettled struct {
	Market        string
	BatchID       uint64
	Settler       types.Address
	ClearingPrice *uint256.Int
	BuyVolume     *uint256.Int
	SellVolume    *uint256.Int
	FeePaid       *uint256.Int
	OrdersRoot    types.Hash
}

func (BatchSettled) Name() string { return "batch.settled" }

// TokensClaimed is emitted when a trader withdraws a settled claimable.
type TokensClaimed struct {
	Market   string
	BatchID  uint64
	Trader   types.Address
	BaseOut  *uint256.Int
	QuoteOut *uint256.Int
}

func (TokensClaimed) Name() string { return "tokens.claimed" }

// DepositRefunded is emitted when a trader recovers escrow through the
// refund path.
type DepositRefunded struct {
	Market   string
	BatchID  uint64
	Trader   types.Address
	BaseOut  *uint256.Int
	QuoteOut *uint256.Int
}

func (DepositRefunded) Name() string { return "deposit.refunded" }

// BatchFinalized is emitted when a batch is closed. Residuals are
// informational: unclaimed funds remain claimable, finalize sweeps nothing.
type BatchFinalized struct {
	Market         string
	BatchID        uint64
	UnclaimedBase  *uint256.Int
	UnclaimedQuote *uint256.Int
	Degenerate     bool // settle deadline elapsed with no settlement
}

func (BatchFinalized) Name() string { return "batch.finalized" }

// Sink receives engine events.
type Sink interface {
	Emit(ev Event)
}

// NopSink discards events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// Journal is a Sink retaining every event in order, for auditing and tests.
type Journal struct {
	mu     sync.RWMutex
	events []Event
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Emit implements Sink.
func (j *Journal) Emit(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

// Events returns a copy of all recorded events in emission order.
func (j *Journal) Events() []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

// OfName returns all recorded events with the given name.
func (j *Journal) OfName(name string) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Event
	for _, ev := range j.events {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}
