package batch

import (
	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/types"
)

// PoolConfigOf returns the pool's immutable configuration.
func (e *Engine) PoolConfigOf(market string) (PoolConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pool(market)
	if err != nil {
		return PoolConfig{}, err
	}
	cfg := p.cfg
	cfg.Bond = p.cfg.bond()
	return cfg, nil
}

// Markets returns all registered market symbols, in no particular order.
func (e *Engine) Markets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.pools))
	for m := range e.pools {
		out = append(out, m)
	}
	return out
}

// ActiveBatch returns a snapshot of the pool's active batch.
func (e *Engine) ActiveBatch(market string) (*Batch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, bs, err := e.activeBatch(market)
	if err != nil {
		return nil, err
	}
	return bs.Batch.clone(), nil
}

// GetBatch returns a snapshot of any batch the pool has ever run.
func (e *Engine) GetBatch(market string, batchID uint64) (*Batch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, bs, err := e.batch(market, batchID)
	if err != nil {
		return nil, err
	}
	return bs.Batch.clone(), nil
}

// CurrentPhase derives the pool's phase at the given height. A pool with
// no active batch is inactive.
func (e *Engine) CurrentPhase(market string, height uint64) (Phase, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pool(market)
	if err != nil {
		return PhaseInactive, err
	}
	if p.active == nil {
		return PhaseInactive, nil
	}
	return p.active.PhaseAt(height), nil
}

// CommitmentOf returns a trader's commitment in a batch, or StatusNone if
// the trader never committed.
func (e *Engine) CommitmentOf(market string, batchID uint64, trader types.Address) (*Commitment, CommitStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, bs, err := e.batch(market, batchID)
	if err != nil {
		return nil, StatusNone, err
	}
	c, ok := bs.commitments[trader]
	if !ok {
		return nil, StatusNone, nil
	}
	return c.clone(), c.Status, nil
}

// ClaimableOf returns a trader's settled entitlement, or nil before
// settlement or for traders without one.
func (e *Engine) ClaimableOf(market string, batchID uint64, trader types.Address) (*Claimable, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, bs, err := e.batch(market, batchID)
	if err != nil {
		return nil, err
	}
	cl, ok := bs.claimables[trader]
	if !ok {
		return nil, nil
	}
	return cl.clone(), nil
}

// RevealedSlots returns the active batch's reveal-ordered public slots.
func (e *Engine) RevealedSlots(market string) ([]RevealedSlot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, bs, err := e.activeBatch(market)
	if err != nil {
		return nil, err
	}
	out := make([]RevealedSlot, len(bs.slots))
	copy(out, bs.slots)
	return out, nil
}

// AccumulatorRoot returns the active batch's current orders root.
func (e *Engine) AccumulatorRoot(market string) (types.Hash, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, bs, err := e.activeBatch(market)
	if err != nil {
		return types.Hash{}, err
	}
	return bs.acc.RootHash(), nil
}

// SettledHistory returns up to limit settlement records starting at
// offset, oldest first. A zero limit means no cap.
func (e *Engine) SettledHistory(market string, offset, limit int) ([]*SettledBatchData, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pool(market)
	if err != nil {
		return nil, err
	}
	recs := paginate(p.history, offset, limit)
	out := make([]*SettledBatchData, len(recs))
	for i, r := range recs {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

// ClearingPrices returns the pool's clearing-price series with the same
// pagination rules as SettledHistory.
func (e *Engine) ClearingPrices(market string, offset, limit int) ([]PricePoint, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pool(market)
	if err != nil {
		return nil, err
	}
	recs := paginate(p.history, offset, limit)
	out := make([]PricePoint, len(recs))
	for i, r := range recs {
		out[i] = PricePoint{
			BatchID:       r.BatchID,
			ClearingPrice: new(uint256.Int).Set(r.ClearingPrice),
			SettledAt:     r.SettledAt,
		}
	}
	return out, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 || offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
