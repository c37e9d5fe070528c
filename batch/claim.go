package batch

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/custody"
	"github.com/veilmatch/veilmatch/order"
	"github.com/veilmatch/veilmatch/types"
)

// Claim pays out a trader's settled entitlement. It is legal from the
// moment the batch settles and stays legal after finalize; the claim
// window deadline only gates when the batch may be finalized.
func (e *Engine) Claim(market string, batchID uint64, trader types.Address) (*Claimable, error) {
	if trader.IsZero() {
		return nil, ErrZeroTrader
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, bs, err := e.batch(market, batchID)
	if err != nil {
		return nil, err
	}
	if !bs.Settled {
		return nil, fmt.Errorf("%w: batch %d", ErrNotSettled, batchID)
	}
	cl, ok := bs.claimables[trader]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNothingToClaim, trader.Hex())
	}
	if cl.Claimed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, trader.Hex())
	}
	if cl.empty() {
		return nil, fmt.Errorf("%w: %s", ErrNothingToClaim, trader.Hex())
	}

	cl.Claimed = true
	if err := e.payoutBoth(trader, cl.Base, cl.Quote); err != nil {
		cl.Claimed = false
		return nil, err
	}

	e.log.Debug("tokens claimed", "market", market, "batch", batchID,
		"trader", trader.Hex(), "base", cl.Base.String(), "quote", cl.Quote.String())
	e.count("tokens_claimed", market)
	e.sink.Emit(TokensClaimed{
		Market:   market,
		BatchID:  batchID,
		Trader:   trader,
		BaseOut:  new(uint256.Int).Set(cl.Base),
		QuoteOut: new(uint256.Int).Set(cl.Quote),
	})
	return cl.clone(), nil
}

// Refund returns a trader's escrow outside the settlement flow. A pending
// commitment is refundable once the reveal window has closed: directly
// while the batch is unsettled, or by consuming the bond claimable after
// settlement. A revealed commitment refunds only if the batch was
// finalized without ever settling; otherwise its funds move through Claim.
func (e *Engine) Refund(market string, batchID uint64, trader types.Address, height uint64) error {
	if trader.IsZero() {
		return ErrZeroTrader
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, bs, err := e.batch(market, batchID)
	if err != nil {
		return err
	}
	c, ok := bs.commitments[trader]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCommitment, trader.Hex())
	}

	switch c.Status {
	case StatusRefunded:
		return fmt.Errorf("%w: %s", ErrAlreadyRefunded, trader.Hex())

	case StatusRevealed:
		if !bs.Finalized || bs.Settled {
			return fmt.Errorf("%w: %s", ErrRevealedRefund, trader.Hex())
		}
		// Dead batch: the settle deadline passed with no proof, so the
		// revealed escrow comes straight back.
		base := uint256.NewInt(0)
		quote := new(uint256.Int).Set(c.Bond)
		if c.Side == order.SideBuy {
			quote.Add(quote, c.Deposit)
		} else {
			base.Set(c.Deposit)
		}
		c.Status = StatusRefunded
		if err := e.payoutBoth(trader, base, quote); err != nil {
			c.Status = StatusRevealed
			return err
		}
		e.emitRefund(market, batchID, trader, base, quote)
		return nil

	case StatusPending:
		if phase := bs.PhaseAt(height); phase == PhaseCommit || phase == PhaseReveal {
			return fmt.Errorf("%w: batch in %s phase", ErrRefundTooEarly, phase)
		}
		if bs.Settled {
			// Settlement already booked the bond as a claimable.
			cl := bs.claimables[trader]
			if cl.Claimed {
				return fmt.Errorf("%w: %s", ErrAlreadyClaimed, trader.Hex())
			}
			c.Status = StatusRefunded
			cl.Claimed = true
			if err := e.payout(trader, custody.Quote, cl.Quote); err != nil {
				c.Status = StatusPending
				cl.Claimed = false
				return err
			}
			e.emitRefund(market, batchID, trader, uint256.NewInt(0), cl.Quote)
			return nil
		}
		c.Status = StatusRefunded
		if err := e.payout(trader, custody.Quote, c.Bond); err != nil {
			c.Status = StatusPending
			return err
		}
		e.emitRefund(market, batchID, trader, uint256.NewInt(0), c.Bond)
		return nil

	default:
		return fmt.Errorf("%w: status %s", ErrNotPending, c.Status)
	}
}

func (e *Engine) emitRefund(market string, batchID uint64, trader types.Address, base, quote *uint256.Int) {
	e.log.Debug("deposit refunded", "market", market, "batch", batchID,
		"trader", trader.Hex(), "base", base.String(), "quote", quote.String())
	e.count("deposit_refunded", market)
	e.sink.Emit(DepositRefunded{
		Market:   market,
		BatchID:  batchID,
		Trader:   trader,
		BaseOut:  new(uint256.Int).Set(base),
		QuoteOut: new(uint256.Int).Set(quote),
	})
}

// FinalizeOutcome summarizes a finalized batch. Unclaimed amounts stay in
// the pot and remain withdrawable; finalize never sweeps funds.
type FinalizeOutcome struct {
	BatchID        uint64
	Degenerate     bool
	UnclaimedBase  *uint256.Int
	UnclaimedQuote *uint256.Int
}

// Finalize closes the active batch and frees the pool for the next one.
// A settled batch finalizes after its claim deadline; an unsettled one
// after its settle deadline, leaving refunds as the only exit for escrow.
func (e *Engine) Finalize(market string, height uint64) (*FinalizeOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pool(market)
	if err != nil {
		return nil, err
	}
	bs := p.active
	if bs == nil {
		if last, ok := p.batches[p.lastBatchID]; ok && last.Finalized {
			return nil, fmt.Errorf("%w: batch %d", ErrAlreadyFinalized, last.ID)
		}
		return nil, fmt.Errorf("%w: %s", ErrNoActiveBatch, market)
	}
	if bs.Settled {
		if height <= bs.ClaimEnd {
			return nil, fmt.Errorf("%w: until height %d", ErrClaimWindowOpen, bs.ClaimEnd)
		}
	} else {
		if height <= bs.SettleEnd {
			return nil, fmt.Errorf("%w: until height %d", ErrSettleWindowOpen, bs.SettleEnd)
		}
	}

	out := &FinalizeOutcome{
		BatchID:        bs.ID,
		Degenerate:     !bs.Settled,
		UnclaimedBase:  uint256.NewInt(0),
		UnclaimedQuote: uint256.NewInt(0),
	}
	if bs.Settled {
		for _, cl := range bs.claimables {
			if cl.Claimed {
				continue
			}
			out.UnclaimedBase.Add(out.UnclaimedBase, cl.Base)
			out.UnclaimedQuote.Add(out.UnclaimedQuote, cl.Quote)
		}
	} else {
		for _, c := range bs.commitments {
			if c.Status == StatusRefunded {
				continue
			}
			out.UnclaimedQuote.Add(out.UnclaimedQuote, c.Bond)
			if c.Status == StatusRevealed {
				if c.Side == order.SideBuy {
					out.UnclaimedQuote.Add(out.UnclaimedQuote, c.Deposit)
				} else {
					out.UnclaimedBase.Add(out.UnclaimedBase, c.Deposit)
				}
			}
		}
	}

	bs.Finalized = true
	p.active = nil

	e.log.Info("batch finalized", "market", market, "batch", bs.ID,
		"degenerate", out.Degenerate, "unclaimedBase", out.UnclaimedBase.String(),
		"unclaimedQuote", out.UnclaimedQuote.String())
	e.count("batch_finalized", market)
	e.sink.Emit(BatchFinalized{
		Market:         market,
		BatchID:        bs.ID,
		UnclaimedBase:  new(uint256.Int).Set(out.UnclaimedBase),
		UnclaimedQuote: new(uint256.Int).Set(out.UnclaimedQuote),
		Degenerate:     out.Degenerate,
	})
	return out, nil
}

// payoutBoth pays base then quote, returning the base leg to the pot if
// the quote leg fails so a partial payout never leaks funds.
func (e *Engine) payoutBoth(to types.Address, base, quote *uint256.Int) error {
	if err := e.payout(to, custody.Base, base); err != nil {
		return err
	}
	if err := e.payout(to, custody.Quote, quote); err != nil {
		if !base.IsZero() {
			if rbErr := e.vault.Escrow(to, custody.Base, base); rbErr != nil {
				e.log.Error("base leg stranded after quote payout failure",
					"to", to.Hex(), "amount", base.String(), "err", rbErr)
			}
		}
		return err
	}
	return nil
}
