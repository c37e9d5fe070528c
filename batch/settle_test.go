package batch

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/veilmatch/veilmatch/custody"
	"github.com/veilmatch/veilmatch/types"
	"github.com/veilmatch/veilmatch/zkproof"
)

// countingVerifier records invocations so tests can assert the gate
// short-circuits before the backend runs.
type countingVerifier struct {
	calls int
	ok    bool
}

func (c *countingVerifier) Name() string { return "counting" }

func (c *countingVerifier) Verify(_ []byte, _ []*uint256.Int) (bool, error) {
	c.calls++
	return c.ok, nil
}

func settleVector(batchID uint64, root types.Hash, clearing, buyVol, sellVol, orderCount, fee uint64, feeBps uint16, fills ...uint64) []*uint256.Int {
	pi := &zkproof.PublicInputs{
		BatchID:       batchID,
		ClearingPrice: uint256.NewInt(clearing),
		BuyVolume:     uint256.NewInt(buyVol),
		SellVolume:    uint256.NewInt(sellVol),
		OrderCount:    orderCount,
		OrdersRoot:    root,
		FeeRate:       feeBps,
		ProtocolFee:   uint256.NewInt(fee),
	}
	for _, fl := range fills {
		pi.Fills = append(pi.Fills, uint256.NewInt(fl))
	}
	return pi.Encode()
}

// revealedFixture runs one buyer (1000 @ limit 5, bond 700, deposit 4300
// quote) and one seller (1000 base, bond 700) through commit and reveal.
func revealedFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	cfg.FeeBps = 100
	cfg.FeeRecipient = feeAddr
	f := newFixture(t, cfg)

	_, err := f.eng.OpenBatch("VEIL-USD", 100)
	require.NoError(t, err)

	b := buyOrder(1000, 5)
	s := sellOrder(1000, 3)
	f.mint(buyer, custody.Quote, 5_000)
	f.mint(seller, custody.Quote, 700)
	f.mint(seller, custody.Base, 1_000)
	f.commit(b, 105)
	f.commit(s, 105)
	f.reveal(b, 115)
	f.reveal(s, 115)
	return f
}

// goodVector attests clearing price 4, both sides fully filled, fee 10.
func (f *fixture) goodVector() []*uint256.Int {
	f.t.Helper()
	root, err := f.eng.AccumulatorRoot("VEIL-USD")
	require.NoError(f.t, err)
	return settleVector(1, root, 4, 1000, 1000, 2, 10, 100, 1000, 1000)
}

func TestSettleHappyPath(t *testing.T) {
	f := revealedFixture(t)

	rec, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 125)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.BatchID)
	require.Equal(t, uint64(4), rec.ClearingPrice.Uint64())
	require.Equal(t, uint64(10), rec.FeePaid.Uint64())
	require.Equal(t, uint64(2), rec.RevealedCount)

	// Fee paid out immediately, in base.
	require.Equal(t, uint64(10), f.vault.Balance(feeAddr, custody.Base).Uint64())

	// Buyer: 1000 base filled minus 10 fee, 5000-4000 quote back.
	cl, err := f.eng.ClaimableOf("VEIL-USD", 1, buyer)
	require.NoError(t, err)
	require.Equal(t, uint64(990), cl.Base.Uint64())
	require.Equal(t, uint64(1000), cl.Quote.Uint64())

	// Seller: 4000 proceeds plus 700 bond, no base leftover.
	cl, err = f.eng.ClaimableOf("VEIL-USD", 1, seller)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cl.Base.Uint64())
	require.Equal(t, uint64(4700), cl.Quote.Uint64())

	// Settled batch sits in the claim phase.
	phase, err := f.eng.CurrentPhase("VEIL-USD", 126)
	require.NoError(t, err)
	require.Equal(t, PhaseClaim, phase)

	// Re-settling the same batch is rejected.
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 126)
	require.ErrorIs(t, err, ErrAlreadySettled)

	events := f.journal.OfName("batch.settled")
	require.Len(t, events, 1)
	ev := events[0].(BatchSettled)
	require.Equal(t, outsider, ev.Settler)
	require.Equal(t, uint64(4), ev.ClearingPrice.Uint64())
}

func TestSettlePhaseGating(t *testing.T) {
	f := revealedFixture(t)

	for _, h := range []uint64{105, 115} {
		_, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), h)
		var pe *PhaseError
		require.ErrorAs(t, err, &pe, "height %d", h)
		require.Equal(t, PhaseSettle, pe.Expected)
	}
}

func TestSettleAfterDeadlineRejected(t *testing.T) {
	f := revealedFixture(t)

	// SettleEnd is 130; once it elapses the window is shut for good, no
	// matter how much later the proof shows up.
	for _, h := range []uint64{131, 1_000_130} {
		_, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), h)
		var pe *PhaseError
		require.ErrorAs(t, err, &pe, "height %d", h)
		require.Equal(t, PhaseSettle, pe.Expected)
		require.Equal(t, PhaseFinalized, pe.Actual)
	}

	b, err := f.eng.ActiveBatch("VEIL-USD")
	require.NoError(t, err)
	require.False(t, b.Settled)
	_, err = f.eng.Claim("VEIL-USD", 1, buyer)
	require.ErrorIs(t, err, ErrNotSettled)

	// The batch settles fine inside the window.
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 130)
	require.NoError(t, err)
}

func TestSettleFeePayoutFailureUnwinds(t *testing.T) {
	f := revealedFixture(t)

	f.vault.FailNext(1)
	_, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 125)
	require.ErrorIs(t, err, custody.ErrInjectedFailure)

	// Nothing stuck: no settled flag, no claimables, no history entry.
	b, err := f.eng.ActiveBatch("VEIL-USD")
	require.NoError(t, err)
	require.False(t, b.Settled)
	cl, err := f.eng.ClaimableOf("VEIL-USD", 1, buyer)
	require.NoError(t, err)
	require.Nil(t, cl)
	recs, err := f.eng.SettledHistory("VEIL-USD", 0, 0)
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Empty(t, f.journal.OfName("batch.settled"))

	// The identical call succeeds once transfers recover.
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 125)
	require.NoError(t, err)
	require.Equal(t, uint64(10), f.vault.Balance(feeAddr, custody.Base).Uint64())
}

func TestSettleDisabledGate(t *testing.T) {
	f := revealedFixture(t)
	cv := &countingVerifier{ok: true}
	require.NoError(t, f.gate.SetBackend(gateOwner, cv))
	require.NoError(t, f.gate.SetEnabled(gateOwner, false))

	_, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 125)
	require.ErrorIs(t, err, zkproof.ErrGateDisabled)
	require.Zero(t, cv.calls, "backend must not run while the gate is off")

	b, err := f.eng.ActiveBatch("VEIL-USD")
	require.NoError(t, err)
	require.False(t, b.Settled)

	// Re-enabling lets the identical call through.
	require.NoError(t, f.gate.SetEnabled(gateOwner, true))
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 125)
	require.NoError(t, err)
	require.Equal(t, 1, cv.calls)
}

func TestSettleRejectedProof(t *testing.T) {
	f := revealedFixture(t)
	require.NoError(t, f.gate.SetBackend(gateOwner, &countingVerifier{ok: false}))

	_, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 125)
	require.ErrorIs(t, err, ErrProofRejected)

	b, err := f.eng.ActiveBatch("VEIL-USD")
	require.NoError(t, err)
	require.False(t, b.Settled)
}

func TestSettleFeeOffByOne(t *testing.T) {
	f := revealedFixture(t)
	cv := &countingVerifier{ok: true}
	require.NoError(t, f.gate.SetBackend(gateOwner, cv))

	root, err := f.eng.AccumulatorRoot("VEIL-USD")
	require.NoError(t, err)

	// Correct fee for 1000 matched at 100 bps is 10.
	for _, fee := range []uint64{9, 11} {
		vec := settleVector(1, root, 4, 1000, 1000, 2, fee, 100, 1000, 1000)
		_, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
		require.ErrorIs(t, err, zkproof.ErrFeeMismatch, "fee %d", fee)
	}
	require.Zero(t, cv.calls, "validation rejects before the backend runs")

	b, err := f.eng.ActiveBatch("VEIL-USD")
	require.NoError(t, err)
	require.False(t, b.Settled)
}

func TestSettleCrossChecks(t *testing.T) {
	f := revealedFixture(t)
	root, err := f.eng.AccumulatorRoot("VEIL-USD")
	require.NoError(t, err)

	// Wrong batch id.
	vec := settleVector(2, root, 4, 1000, 1000, 2, 10, 100, 1000, 1000)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.ErrorIs(t, err, zkproof.ErrCrossCheck)

	// Wrong orders root.
	vec = settleVector(1, types.BytesToHash([]byte{0x01}), 4, 1000, 1000, 2, 10, 100, 1000, 1000)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.ErrorIs(t, err, zkproof.ErrCrossCheck)

	// Wrong vector length for the revealed count.
	vec = settleVector(1, root, 4, 1000, 1000, 2, 10, 100, 1000)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.ErrorIs(t, err, zkproof.ErrWrongLength)
}

func TestSettleVolumeMismatch(t *testing.T) {
	f := revealedFixture(t)
	root, err := f.eng.AccumulatorRoot("VEIL-USD")
	require.NoError(t, err)

	// Sides disagree: fee matches min(1000,900) so only the fill sums fail.
	vec := settleVector(1, root, 4, 1000, 900, 2, 9, 100, 1000, 900)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.ErrorIs(t, err, ErrVolumeMismatch)
}

func TestSettleFillOverrun(t *testing.T) {
	f := revealedFixture(t)
	root, err := f.eng.AccumulatorRoot("VEIL-USD")
	require.NoError(t, err)

	// Seller deposited 1000 base; a 1500 fill overdraws it. Clearing
	// price 1 keeps the buyer leg within its 5000 quote escrow.
	vec := settleVector(1, root, 1, 1500, 1500, 2, 15, 100, 1500, 1500)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.ErrorIs(t, err, ErrFillOverrun)

	// Buyer cost 1500*4 = 6000 exceeds the 5000 escrow.
	vec = settleVector(1, root, 4, 1500, 1500, 2, 15, 100, 1500, 1500)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.ErrorIs(t, err, ErrFillOverrun)
}

func TestSettlePartialFillZeroFee(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	_, err := f.eng.OpenBatch("VEIL-USD", 100)
	require.NoError(t, err)

	// Buyer wants 100 @ 1000, seller offers 80 @ 950; only 80 base can
	// cross, clearing at the buyer's limit.
	b := buyOrder(100, 1000)
	s := sellOrder(80, 950)
	f.mint(buyer, custody.Quote, 100_000)
	f.mint(seller, custody.Quote, 700)
	f.mint(seller, custody.Base, 80)
	f.commit(b, 105)
	f.commit(s, 105)
	f.reveal(b, 115)
	f.reveal(s, 115)

	root, err := f.eng.AccumulatorRoot("VEIL-USD")
	require.NoError(t, err)
	vec := settleVector(1, root, 1000, 80, 80, 2, 0, 0, 80, 80)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.NoError(t, err)

	// Buyer escrowed 100*1000 = 100000; 80 filled costs 80000.
	cl, err := f.eng.ClaimableOf("VEIL-USD", 1, buyer)
	require.NoError(t, err)
	require.Equal(t, uint64(80), cl.Base.Uint64())
	require.Equal(t, uint64(20_000), cl.Quote.Uint64())

	// Seller sold everything: 80*1000 proceeds plus the bond.
	cl, err = f.eng.ClaimableOf("VEIL-USD", 1, seller)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cl.Base.Uint64())
	require.Equal(t, uint64(80_700), cl.Quote.Uint64())
}

func TestSettleZeroMatch(t *testing.T) {
	f := revealedFixture(t)
	root, err := f.eng.AccumulatorRoot("VEIL-USD")
	require.NoError(t, err)

	// The proof attests no order crossed. Everyone's claimable reduces
	// to a full refund of bond plus deposit.
	vec := settleVector(1, root, 4, 0, 0, 2, 0, 100, 0, 0)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.NoError(t, err)

	cl, err := f.eng.ClaimableOf("VEIL-USD", 1, buyer)
	require.NoError(t, err)
	require.True(t, cl.Base.IsZero())
	require.Equal(t, uint64(5_000), cl.Quote.Uint64())

	cl, err = f.eng.ClaimableOf("VEIL-USD", 1, seller)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), cl.Base.Uint64())
	require.Equal(t, uint64(700), cl.Quote.Uint64())

	require.True(t, f.vault.Balance(feeAddr, custody.Base).IsZero())
}

func TestSettleWrongLengthBeforeBackend(t *testing.T) {
	f := revealedFixture(t)
	cv := &countingVerifier{ok: true}
	require.NoError(t, f.gate.SetBackend(gateOwner, cv))

	root, err := f.eng.AccumulatorRoot("VEIL-USD")
	require.NoError(t, err)
	vec := settleVector(1, root, 4, 1000, 1000, 2, 10, 100, 1000)
	_, err = f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, vec, 125)
	require.ErrorIs(t, err, zkproof.ErrWrongLength)
	require.Zero(t, cv.calls)
}

func TestSettleUnrevealedBondBecomesClaimable(t *testing.T) {
	f := revealedFixture(t)

	// The batch already holds two revealed orders; conservation over the
	// whole flow is covered separately. Here a third trader commits in a
	// fresh batch and never reveals.
	cfg := testConfig()
	cfg.Market = "ALT-USD"
	require.NoError(t, f.eng.CreatePool(cfg))
	_, err := f.eng.OpenBatch("ALT-USD", 100)
	require.NoError(t, err)

	f.mint(outsider, custody.Quote, 700)
	require.NoError(t, f.eng.Commit("ALT-USD", outsider, types.BytesToHash([]byte{0x77}), nil, 105))

	root, err := f.eng.AccumulatorRoot("ALT-USD")
	require.NoError(t, err)
	require.True(t, root.IsZero(), "no reveals, empty accumulator")

	vec := settleVector(1, root, 0, 0, 0, 0, 0, 0)
	_, err = f.eng.Settle("ALT-USD", outsider, []byte{0x01}, vec, 125)
	require.NoError(t, err)

	cl, err := f.eng.ClaimableOf("ALT-USD", 1, outsider)
	require.NoError(t, err)
	require.Equal(t, uint64(700), cl.Quote.Uint64())
	require.True(t, cl.Base.IsZero())
}

func TestSettleConservation(t *testing.T) {
	f := revealedFixture(t)

	_, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 125)
	require.NoError(t, err)
	_, err = f.eng.Claim("VEIL-USD", 1, buyer)
	require.NoError(t, err)
	_, err = f.eng.Claim("VEIL-USD", 1, seller)
	require.NoError(t, err)

	// Every escrowed token is back out: pot drains to zero and the
	// per-asset totals match what was minted.
	require.True(t, f.vault.Pot(custody.Base).IsZero())
	require.True(t, f.vault.Pot(custody.Quote).IsZero())

	baseTotal := f.vault.Balance(buyer, custody.Base).Uint64() +
		f.vault.Balance(seller, custody.Base).Uint64() +
		f.vault.Balance(feeAddr, custody.Base).Uint64()
	require.Equal(t, uint64(1000), baseTotal)

	quoteTotal := f.vault.Balance(buyer, custody.Quote).Uint64() +
		f.vault.Balance(seller, custody.Quote).Uint64()
	require.Equal(t, uint64(5700), quoteTotal)
}

func TestSettleHistoryPagination(t *testing.T) {
	f := revealedFixture(t)

	_, err := f.eng.Settle("VEIL-USD", outsider, []byte{0x01}, f.goodVector(), 125)
	require.NoError(t, err)

	recs, err := f.eng.SettledHistory("VEIL-USD", 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, uint64(1), recs[0].BatchID)
	require.Equal(t, uint64(125), recs[0].SettledAt)

	recs, err = f.eng.SettledHistory("VEIL-USD", 1, 10)
	require.NoError(t, err)
	require.Empty(t, recs)

	prices, err := f.eng.ClearingPrices("VEIL-USD", 0, 0)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.Equal(t, uint64(4), prices[0].ClearingPrice.Uint64())

	_, err = f.eng.SettledHistory("NO-SUCH", 0, 0)
	require.ErrorIs(t, err, ErrUnknownPool)
}
