package batch

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/custody"
	"github.com/veilmatch/veilmatch/order"
	"github.com/veilmatch/veilmatch/types"
	"github.com/veilmatch/veilmatch/zkproof"
)

// settlementPlan is the pure outcome of applying attested fills to a
// batch, computed in full before any state or vault mutation.
type settlementPlan struct {
	claimables map[types.Address]*Claimable
	feePaid    *uint256.Int
}

// Settle closes the active batch's book against a zero-knowledge proof.
// The public input vector is decoded, bounds-checked and cross-checked
// against the batch before the proof gate runs; only a fully validated,
// accepted settlement mutates state. The protocol fee is paid in base and
// deducted pro rata from buy-side fills.
func (e *Engine) Settle(market string, settler types.Address, proof []byte, inputs []*uint256.Int, height uint64) (*SettledBatchData, error) {
	if settler.IsZero() {
		return nil, ErrZeroTrader
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, bs, err := e.activeBatch(market)
	if err != nil {
		return nil, err
	}
	if bs.Settled {
		return nil, fmt.Errorf("%w: batch %d", ErrAlreadySettled, bs.ID)
	}
	if phase := bs.PhaseAt(height); phase != PhaseSettle {
		return nil, &PhaseError{Op: "settle", Expected: PhaseSettle, Actual: phase}
	}

	pi, err := zkproof.Decode(inputs, int(bs.RevealedCount), e.capacity)
	if err != nil {
		return nil, err
	}
	if err := pi.Validate(); err != nil {
		return nil, err
	}
	if err := pi.ValidateAgainstExpected(zkproof.Expected{
		BatchID:       bs.ID,
		OrderCount:    bs.RevealedCount,
		OrdersRoot:    bs.acc.RootHash(),
		AllowListRoot: p.cfg.AllowRoot,
		FeeRate:       p.cfg.FeeBps,
	}); err != nil {
		return nil, err
	}

	plan, err := buildSettlementPlan(bs, pi)
	if err != nil {
		return nil, err
	}

	ok, err := e.gate.Verify(proof, inputs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrProofRejected
	}

	bs.claimables = plan.claimables
	bs.Settled = true
	bs.ClearingPrice = new(uint256.Int).Set(pi.ClearingPrice)
	bs.BuyVolume = new(uint256.Int).Set(pi.BuyVolume)
	bs.SellVolume = new(uint256.Int).Set(pi.SellVolume)
	bs.FeePaid = plan.feePaid
	bs.OrdersRoot = pi.OrdersRoot
	bs.SettledAt = height

	rec := &SettledBatchData{
		BatchID:       bs.ID,
		ClearingPrice: new(uint256.Int).Set(pi.ClearingPrice),
		BuyVolume:     new(uint256.Int).Set(pi.BuyVolume),
		SellVolume:    new(uint256.Int).Set(pi.SellVolume),
		FeePaid:       new(uint256.Int).Set(plan.feePaid),
		OrderCount:    bs.OrderCount,
		RevealedCount: bs.RevealedCount,
		OrdersRoot:    pi.OrdersRoot,
		SettledAt:     height,
	}
	p.history = append(p.history, rec)

	// Fee payout is the only outbound transfer; a failure unwinds the
	// whole settlement so no half-settled batch survives.
	if !p.cfg.FeeRecipient.IsZero() {
		if err := e.payout(p.cfg.FeeRecipient, custody.Base, plan.feePaid); err != nil {
			bs.claimables = make(map[types.Address]*Claimable)
			bs.Settled = false
			bs.ClearingPrice = nil
			bs.BuyVolume = nil
			bs.SellVolume = nil
			bs.FeePaid = nil
			bs.OrdersRoot = types.Hash{}
			bs.SettledAt = 0
			p.history = p.history[:len(p.history)-1]
			return nil, err
		}
	}

	e.log.Info("batch settled", "market", market, "batch", bs.ID,
		"clearingPrice", pi.ClearingPrice.String(), "buyVolume", pi.BuyVolume.String(),
		"sellVolume", pi.SellVolume.String(), "fee", plan.feePaid.String(),
		"backend", e.gate.BackendName())
	e.count("batch_settled", market)
	e.metrics.SetGauge("veilmatch.clearing_price", float64(pi.ClearingPrice.Uint64()),
		map[string]string{"market": market})
	e.sink.Emit(BatchSettled{
		Market:        market,
		BatchID:       bs.ID,
		Settler:       settler,
		ClearingPrice: new(uint256.Int).Set(pi.ClearingPrice),
		BuyVolume:     new(uint256.Int).Set(pi.BuyVolume),
		SellVolume:    new(uint256.Int).Set(pi.SellVolume),
		FeePaid:       new(uint256.Int).Set(plan.feePaid),
		OrdersRoot:    pi.OrdersRoot,
	})
	return cloneRecord(rec), nil
}

// buildSettlementPlan converts attested per-slot fills into per-trader
// claimables. It enforces that the fills sum to the attested volumes,
// that both sides moved the same base amount, and that no fill exceeds
// the trader's escrow. Traders who never revealed become claimable for
// their bond, unless they already took the refund path.
func buildSettlementPlan(bs *batchState, pi *zkproof.PublicInputs) (*settlementPlan, error) {
	plan := &settlementPlan{
		claimables: make(map[types.Address]*Claimable),
		feePaid:    uint256.NewInt(0),
	}

	buySum := uint256.NewInt(0)
	sellSum := uint256.NewInt(0)
	for i, slot := range bs.slots {
		if slot.Side == order.SideBuy {
			buySum.Add(buySum, pi.Fills[i])
		} else {
			sellSum.Add(sellSum, pi.Fills[i])
		}
	}
	if !buySum.Eq(pi.BuyVolume) || !sellSum.Eq(pi.SellVolume) || !buySum.Eq(sellSum) {
		return nil, fmt.Errorf("%w: buys %s/%s sells %s/%s", ErrVolumeMismatch,
			buySum.String(), pi.BuyVolume.String(), sellSum.String(), pi.SellVolume.String())
	}
	if pi.ProtocolFee.Gt(buySum) {
		return nil, fmt.Errorf("%w: fee %s volume %s", ErrFeeUnderflow,
			pi.ProtocolFee.String(), buySum.String())
	}

	for i, slot := range bs.slots {
		c := bs.commitments[slot.Trader]
		fill := pi.Fills[i]
		cl := &Claimable{Base: uint256.NewInt(0), Quote: uint256.NewInt(0)}

		if slot.Side == order.SideBuy {
			cost := new(uint256.Int).Mul(fill, pi.ClearingPrice)
			escrowed := new(uint256.Int).Add(c.Bond, c.Deposit)
			if cost.Gt(escrowed) {
				return nil, fmt.Errorf("%w: buyer %s cost %s escrow %s", ErrFillOverrun,
					slot.Trader.Hex(), cost.String(), escrowed.String())
			}
			feeShare := feeShareOf(fill, pi.ProtocolFee, buySum)
			cl.Base.Sub(fill, feeShare)
			cl.Quote.Sub(escrowed, cost)
			plan.feePaid.Add(plan.feePaid, feeShare)
		} else {
			if fill.Gt(c.Deposit) {
				return nil, fmt.Errorf("%w: seller %s fill %s escrow %s", ErrFillOverrun,
					slot.Trader.Hex(), fill.String(), c.Deposit.String())
			}
			proceeds := new(uint256.Int).Mul(fill, pi.ClearingPrice)
			cl.Quote.Add(proceeds, c.Bond)
			cl.Base.Sub(c.Deposit, fill)
		}
		plan.claimables[slot.Trader] = cl
	}

	for _, trader := range bs.commitOrder {
		c := bs.commitments[trader]
		if c.Status != StatusPending {
			continue
		}
		plan.claimables[trader] = &Claimable{
			Base:  uint256.NewInt(0),
			Quote: new(uint256.Int).Set(c.Bond),
		}
	}
	return plan, nil
}

// feeShareOf returns fill*fee/volume rounded down. The remainder from
// flooring stays with the buyers, never with the pot.
func feeShareOf(fill, fee, volume *uint256.Int) *uint256.Int {
	if volume.IsZero() || fee.IsZero() {
		return uint256.NewInt(0)
	}
	share := new(uint256.Int).Mul(fill, fee)
	return share.Div(share, volume)
}

func cloneRecord(r *SettledBatchData) *SettledBatchData {
	cp := *r
	cp.ClearingPrice = new(uint256.Int).Set(r.ClearingPrice)
	cp.BuyVolume = new(uint256.Int).Set(r.BuyVolume)
	cp.SellVolume = new(uint256.Int).Set(r.SellVolume)
	cp.FeePaid = new(uint256.Int).Set(r.FeePaid)
	return &cp
}
