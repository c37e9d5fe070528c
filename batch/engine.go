// Package batch implements the sealed-bid auction lifecycle: pools open
// numbered batches that move through commit, reveal, settle and claim
// phases, with settlement gated on an accepted zero-knowledge proof.
package batch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/allowlist"
	"github.com/veilmatch/veilmatch/custody"
	"github.com/veilmatch/veilmatch/log"
	"github.com/veilmatch/veilmatch/merkle"
	"github.com/veilmatch/veilmatch/metrics"
	"github.com/veilmatch/veilmatch/order"
	"github.com/veilmatch/veilmatch/types"
	"github.com/veilmatch/veilmatch/zkproof"
)

var (
	ErrNilVault         = errors.New("batch: engine needs a vault")
	ErrNilGate          = errors.New("batch: engine needs a proof gate")
	ErrPoolExists       = errors.New("batch: pool already exists")
	ErrUnknownPool      = errors.New("batch: unknown pool")
	ErrBatchActive      = errors.New("batch: pool already has an active batch")
	ErrNoActiveBatch    = errors.New("batch: pool has no active batch")
	ErrUnknownBatch     = errors.New("batch: unknown batch id")
	ErrZeroTrader       = errors.New("batch: zero trader address")
	ErrZeroCommitment   = errors.New("batch: zero commitment hash")
	ErrBatchFull        = errors.New("batch: batch is at capacity")
	ErrDuplicateCommit  = errors.New("batch: trader already committed")
	ErrNoCommitment     = errors.New("batch: no commitment for trader")
	ErrNotPending       = errors.New("batch: commitment is not pending")
	ErrAlreadySettled   = errors.New("batch: batch already settled")
	ErrNotSettled       = errors.New("batch: batch not settled")
	ErrAlreadyClaimed   = errors.New("batch: claimable already consumed")
	ErrNothingToClaim   = errors.New("batch: nothing to claim")
	ErrAlreadyRefunded  = errors.New("batch: commitment already refunded")
	ErrRevealedRefund   = errors.New("batch: revealed commitment settles via claim")
	ErrRefundTooEarly   = errors.New("batch: refund not available before settle phase")
	ErrAlreadyFinalized = errors.New("batch: batch already finalized")
	ErrClaimWindowOpen  = errors.New("batch: claim window still open")
	ErrSettleWindowOpen = errors.New("batch: settle window still open")
	ErrProofRejected    = errors.New("batch: settlement proof rejected")
	ErrVolumeMismatch   = errors.New("batch: fills disagree with attested volumes")
	ErrFillOverrun      = errors.New("batch: fill exceeds trader escrow")
	ErrFeeUnderflow     = errors.New("batch: fee exceeds matched base volume")
)

// EngineConfig carries the engine's optional collaborators.
type EngineConfig struct {
	// Capacity is the per-batch order limit, a power of two. Zero means
	// merkle.DefaultCapacity.
	Capacity int
	Sink     Sink
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Engine runs batch auctions for any number of market pools against a
// shared vault and proof gate. All methods are safe for concurrent use.
type Engine struct {
	mu sync.RWMutex

	vault    custody.Vault
	gate     *zkproof.Gate
	sink     Sink
	log      *log.Logger
	metrics  *metrics.Collector
	capacity int

	pools map[string]*pool
}

// NewEngine wires an engine to its vault and proof gate.
func NewEngine(vault custody.Vault, gate *zkproof.Gate, cfg *EngineConfig) (*Engine, error) {
	if vault == nil {
		return nil, ErrNilVault
	}
	if gate == nil {
		return nil, ErrNilGate
	}
	if cfg == nil {
		cfg = &EngineConfig{}
	}
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = merkle.DefaultCapacity
	}
	// Validate capacity eagerly so OpenBatch cannot fail on it later.
	if _, err := merkle.New(capacity); err != nil {
		return nil, err
	}
	var sink Sink = cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		vault:    vault,
		gate:     gate,
		sink:     sink,
		log:      logger.Module("batch"),
		metrics:  cfg.Metrics,
		capacity: capacity,
		pools:    make(map[string]*pool),
	}, nil
}

// Capacity returns the per-batch order limit.
func (e *Engine) Capacity() int { return e.capacity }

// CreatePool registers a market pool. The config is fixed for the pool's
// lifetime.
func (e *Engine) CreatePool(cfg PoolConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[cfg.Market]; ok {
		return fmt.Errorf("%w: %s", ErrPoolExists, cfg.Market)
	}
	e.pools[cfg.Market] = &pool{
		cfg:     cfg,
		batches: make(map[uint64]*batchState),
	}
	e.log.Info("pool created", "market", cfg.Market, "mode", cfg.Mode.String(),
		"feeBps", cfg.FeeBps, "bond", cfg.bond().String())
	return nil
}

// OpenBatch starts a new batch for the market at the given height. Batch
// ids are strictly increasing per pool and a pool runs at most one batch
// at a time.
func (e *Engine) OpenBatch(market string, height uint64) (*Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pool(market)
	if err != nil {
		return nil, err
	}
	if p.active != nil {
		return nil, fmt.Errorf("%w: batch %d", ErrBatchActive, p.active.ID)
	}

	acc, err := merkle.New(e.capacity)
	if err != nil {
		return nil, err
	}
	p.lastBatchID++
	cfg := p.cfg
	bs := &batchState{
		Batch: Batch{
			ID:          p.lastBatchID,
			StartHeight: height,
			CommitEnd:   height + cfg.CommitBlocks,
			RevealEnd:   height + cfg.CommitBlocks + cfg.RevealBlocks,
			SettleEnd:   height + cfg.CommitBlocks + cfg.RevealBlocks + cfg.SettleBlocks,
			ClaimEnd:    height + cfg.CommitBlocks + cfg.RevealBlocks + cfg.SettleBlocks + cfg.ClaimBlocks,
		},
		acc:         acc,
		commitments: make(map[types.Address]*Commitment),
		claimables:  make(map[types.Address]*Claimable),
	}
	p.active = bs
	p.batches[bs.ID] = bs

	e.log.Info("batch opened", "market", market, "batch", bs.ID,
		"start", bs.StartHeight, "commitEnd", bs.CommitEnd, "claimEnd", bs.ClaimEnd)
	e.count("batch_opened", market)
	e.sink.Emit(BatchOpened{
		Market:      market,
		BatchID:     bs.ID,
		StartHeight: bs.StartHeight,
		CommitEnd:   bs.CommitEnd,
		RevealEnd:   bs.RevealEnd,
		SettleEnd:   bs.SettleEnd,
		ClaimEnd:    bs.ClaimEnd,
	})
	return bs.Batch.clone(), nil
}

// Commit stores a trader's blind commitment in the active batch and
// escrows the pool's bond. For gated pools the trader must supply an
// allow-list membership proof.
func (e *Engine) Commit(market string, trader types.Address, commitment types.Hash, membership []types.Hash, height uint64) error {
	if trader.IsZero() {
		return ErrZeroTrader
	}
	if commitment.IsZero() {
		return ErrZeroCommitment
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, bs, err := e.activeBatch(market)
	if err != nil {
		return err
	}
	if phase := bs.PhaseAt(height); phase != PhaseCommit {
		return &PhaseError{Op: "commit", Expected: PhaseCommit, Actual: phase}
	}
	if p.cfg.Mode == ModeGated {
		if err := allowlist.RequireMember(trader, p.cfg.AllowRoot, membership); err != nil {
			return err
		}
	}
	if bs.OrderCount >= uint64(e.capacity) {
		return fmt.Errorf("%w: %d orders", ErrBatchFull, bs.OrderCount)
	}
	if _, ok := bs.commitments[trader]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommit, trader.Hex())
	}

	bond := p.cfg.bond()
	if err := e.escrow(trader, custody.Quote, bond); err != nil {
		return err
	}
	bs.commitments[trader] = &Commitment{
		Trader:    trader,
		Hash:      commitment,
		Status:    StatusPending,
		Bond:      bond,
		Deposit:   uint256.NewInt(0),
		SlotIndex: -1,
	}
	bs.commitOrder = append(bs.commitOrder, trader)
	bs.OrderCount++

	e.log.Debug("order committed", "market", market, "batch", bs.ID, "trader", trader.Hex())
	e.count("order_committed", market)
	e.sink.Emit(OrderCommitted{
		Market:     market,
		BatchID:    bs.ID,
		Trader:     trader,
		Commitment: commitment,
		Bond:       new(uint256.Int).Set(bond),
	})
	return nil
}

// Reveal opens a trader's commitment. The order must hash to the stored
// commitment; the engine escrows the order's full deposit, appends the
// order's accumulator leaf and assigns the next reveal slot.
func (e *Engine) Reveal(market string, o *order.Order, height uint64) error {
	if err := o.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, bs, err := e.activeBatch(market)
	if err != nil {
		return err
	}
	if phase := bs.PhaseAt(height); phase != PhaseReveal {
		return &PhaseError{Op: "reveal", Expected: PhaseReveal, Actual: phase}
	}
	c, ok := bs.commitments[o.Trader]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCommitment, o.Trader.Hex())
	}
	if c.Status != StatusPending {
		return fmt.Errorf("%w: status %s", ErrNotPending, c.Status)
	}
	if err := order.VerifyCommitment(o, c.Hash); err != nil {
		return err
	}

	// Buyers fund their maximum spend in quote, net of the bond already
	// held. Sellers escrow the offered base amount.
	var deposit *uint256.Int
	var asset custody.Asset
	if o.Side == order.SideBuy {
		notional := o.Notional()
		deposit = uint256.NewInt(0)
		if notional.Gt(c.Bond) {
			deposit.Sub(notional, c.Bond)
		}
		asset = custody.Quote
	} else {
		deposit = new(uint256.Int).Set(o.Amount)
		asset = custody.Base
	}
	if err := e.escrow(o.Trader, asset, deposit); err != nil {
		return err
	}

	c.Status = StatusRevealed
	c.Deposit = deposit
	c.Side = o.Side
	c.SlotIndex = len(bs.slots)
	bs.slots = append(bs.slots, RevealedSlot{Trader: o.Trader, Side: o.Side})
	bs.RevealedCount++
	if err := bs.acc.Append(order.LeafHash(o)); err != nil {
		// OrderCount <= capacity keeps the accumulator from filling.
		return err
	}

	e.log.Debug("order revealed", "market", market, "batch", bs.ID,
		"trader", o.Trader.Hex(), "side", o.Side.String(), "slot", c.SlotIndex)
	e.count("order_revealed", market)
	e.sink.Emit(OrderRevealed{
		Market:    market,
		BatchID:   bs.ID,
		Trader:    o.Trader,
		Side:      o.Side,
		SlotIndex: c.SlotIndex,
	})
	e.sink.Emit(OrderRevealedAudit{
		Market:     market,
		BatchID:    bs.ID,
		Trader:     o.Trader,
		Side:       o.Side,
		Amount:     new(uint256.Int).Set(o.Amount),
		LimitPrice: new(uint256.Int).Set(o.LimitPrice),
		Leaf:       order.LeafHashBytes(o),
	})
	return nil
}

// pool returns the registered pool for market. Caller holds e.mu.
func (e *Engine) pool(market string) (*pool, error) {
	p, ok := e.pools[market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, market)
	}
	return p, nil
}

// activeBatch returns the pool and its active batch. Caller holds e.mu.
func (e *Engine) activeBatch(market string) (*pool, *batchState, error) {
	p, err := e.pool(market)
	if err != nil {
		return nil, nil, err
	}
	if p.active == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoActiveBatch, market)
	}
	return p, p.active, nil
}

// batch returns any batch in the pool's archive. Caller holds e.mu.
func (e *Engine) batch(market string, id uint64) (*pool, *batchState, error) {
	p, err := e.pool(market)
	if err != nil {
		return nil, nil, err
	}
	bs, ok := p.batches[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%d", ErrUnknownBatch, market, id)
	}
	return p, bs, nil
}

// escrow moves funds into the pot, skipping zero amounts.
func (e *Engine) escrow(from types.Address, asset custody.Asset, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return e.vault.Escrow(from, asset, amount)
}

// payout moves funds out of the pot, skipping zero amounts.
func (e *Engine) payout(to types.Address, asset custody.Asset, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return e.vault.Payout(to, asset, amount)
}

func (e *Engine) count(name, market string) {
	e.metrics.Inc("veilmatch."+name, map[string]string{"market": market})
}
