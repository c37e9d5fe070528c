// Command veilmatch runs a self-contained sealed-bid auction round: it
// spins up an in-memory engine, drives one batch through commit, reveal,
// proof-gated settlement and claims, and prints the resulting ledger.
//
// Usage:
//
//	veilmatch [flags]
//
// Flags:
//
//	--market     Market symbol (default: VEIL-USD)
//	--fee.bps    Protocol fee in basis points (default: 30)
//	--bond       Commitment bond in quote units (default: 500)
//	--capacity   Per-batch order capacity, power of two (default: 16)
//	--verbosity  Log level: debug, info, warn, error (default: info)
//	--version    Print version and exit
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/holiman/uint256"

	"github.com/veilmatch/veilmatch/batch"
	"github.com/veilmatch/veilmatch/custody"
	"github.com/veilmatch/veilmatch/log"
	"github.com/veilmatch/veilmatch/metrics"
	"github.com/veilmatch/veilmatch/order"
	"github.com/veilmatch/veilmatch/types"
	"github.com/veilmatch/veilmatch/zkproof"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

type config struct {
	market    string
	feeBps    uint
	bond      uint64
	capacity  int
	verbosity string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	var cfg config
	fs := flag.NewFlagSet("veilmatch", flag.ContinueOnError)
	fs.StringVar(&cfg.market, "market", "VEIL-USD", "market symbol")
	fs.UintVar(&cfg.feeBps, "fee.bps", 30, "protocol fee in basis points")
	fs.Uint64Var(&cfg.bond, "bond", 500, "commitment bond in quote units")
	fs.IntVar(&cfg.capacity, "capacity", 16, "per-batch order capacity (power of two)")
	fs.StringVar(&cfg.verbosity, "verbosity", "info", "log level: debug, info, warn, error")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if *showVersion {
		fmt.Printf("veilmatch %s (commit %s)\n", version, commit)
		return 0
	}

	logger := log.New(parseLevel(cfg.verbosity))
	log.SetDefault(logger)
	logger.Info("veilmatch starting", "version", version, "market", cfg.market,
		"feeBps", cfg.feeBps, "bond", cfg.bond, "capacity", cfg.capacity)

	if err := demo(cfg, logger); err != nil {
		logger.Error("demo round failed", "err", err)
		return 1
	}
	return 0
}

// demo runs one full batch lifecycle with a buyer, a seller and a trader
// who commits but never reveals.
func demo(cfg config, logger *log.Logger) error {
	var (
		operator = types.BytesToAddress([]byte("operator"))
		feeAddr  = types.BytesToAddress([]byte("treasury"))
		alice    = types.BytesToAddress([]byte("alice"))
		bob      = types.BytesToAddress([]byte("bob"))
		carol    = types.BytesToAddress([]byte("carol"))
	)

	vault := custody.NewMemVault()
	gate, err := zkproof.NewGate(operator, zkproof.PermissiveVerifier{})
	if err != nil {
		return err
	}
	journal := batch.NewJournal()
	collector := metrics.NewCollector(0)
	eng, err := batch.NewEngine(vault, gate, &batch.EngineConfig{
		Capacity: cfg.capacity,
		Sink:     journal,
		Logger:   logger,
		Metrics:  collector,
	})
	if err != nil {
		return err
	}

	poolCfg := batch.DefaultPoolConfig(cfg.market)
	poolCfg.FeeBps = uint16(cfg.feeBps)
	poolCfg.FeeRecipient = feeAddr
	poolCfg.Bond = uint256.NewInt(cfg.bond)
	if err := eng.CreatePool(poolCfg); err != nil {
		return err
	}

	// Fund the players.
	for _, m := range []struct {
		addr   types.Address
		asset  custody.Asset
		amount uint64
	}{
		{alice, custody.Quote, 100_000},
		{bob, custody.Base, 10_000},
		{bob, custody.Quote, cfg.bond},
		{carol, custody.Quote, cfg.bond},
	} {
		if err := vault.Mint(m.addr, m.asset, uint256.NewInt(m.amount)); err != nil {
			return err
		}
	}

	b, err := eng.OpenBatch(cfg.market, 100)
	if err != nil {
		return err
	}

	buy := &order.Order{
		Trader:     alice,
		Amount:     uint256.NewInt(10_000),
		LimitPrice: uint256.NewInt(7),
		Side:       order.SideBuy,
		Salt:       types.BytesToHash([]byte("alice-nonce-1")),
	}
	sell := &order.Order{
		Trader:     bob,
		Amount:     uint256.NewInt(10_000),
		LimitPrice: uint256.NewInt(4),
		Side:       order.SideSell,
		Salt:       types.BytesToHash([]byte("bob-nonce-1")),
	}

	commitH := b.StartHeight + 1
	for _, c := range []struct {
		trader types.Address
		hash   types.Hash
	}{
		{alice, order.CommitmentHash(buy)},
		{bob, order.CommitmentHash(sell)},
		{carol, types.BytesToHash([]byte("carol-opaque-commitment"))},
	} {
		if err := eng.Commit(cfg.market, c.trader, c.hash, nil, commitH); err != nil {
			return err
		}
	}

	revealH := b.CommitEnd + 1
	if err := eng.Reveal(cfg.market, buy, revealH); err != nil {
		return err
	}
	if err := eng.Reveal(cfg.market, sell, revealH); err != nil {
		return err
	}

	// Build the attested public inputs: both orders clear in full at the
	// midpoint price.
	root, err := eng.AccumulatorRoot(cfg.market)
	if err != nil {
		return err
	}
	matched := uint256.NewInt(10_000)
	fee := new(uint256.Int).Mul(matched, uint256.NewInt(uint64(cfg.feeBps)))
	fee.Div(fee, uint256.NewInt(zkproof.FeeDenominator))
	pi := &zkproof.PublicInputs{
		BatchID:       b.ID,
		ClearingPrice: uint256.NewInt(5),
		BuyVolume:     matched,
		SellVolume:    matched,
		OrderCount:    2,
		OrdersRoot:    root,
		FeeRate:       poolCfg.FeeBps,
		ProtocolFee:   fee,
		Fills:         []*uint256.Int{matched.Clone(), matched.Clone()},
	}

	settleH := b.RevealEnd + 1
	rec, err := eng.Settle(cfg.market, operator, []byte("proof"), pi.Encode(), settleH)
	if err != nil {
		return err
	}
	logger.Info("settled", "clearingPrice", rec.ClearingPrice.String(),
		"matched", rec.BuyVolume.String(), "fee", rec.FeePaid.String())

	for _, trader := range []types.Address{alice, bob} {
		cl, err := eng.Claim(cfg.market, b.ID, trader)
		if err != nil {
			return err
		}
		logger.Info("claimed", "trader", trader.Hex(),
			"base", cl.Base.String(), "quote", cl.Quote.String())
	}
	// Carol never revealed; her bond comes back through the refund path.
	if err := eng.Refund(cfg.market, b.ID, carol, settleH); err != nil {
		return err
	}

	out, err := eng.Finalize(cfg.market, b.ClaimEnd+1)
	if err != nil {
		return err
	}
	logger.Info("finalized", "batch", out.BatchID, "degenerate", out.Degenerate,
		"unclaimedBase", out.UnclaimedBase.String(), "unclaimedQuote", out.UnclaimedQuote.String())

	fmt.Println()
	fmt.Printf("batch %d settled at price %s, %s base matched, fee %s\n",
		rec.BatchID, rec.ClearingPrice, rec.BuyVolume, rec.FeePaid)
	fmt.Printf("  alice: %s base / %s quote\n",
		vault.Balance(alice, custody.Base), vault.Balance(alice, custody.Quote))
	fmt.Printf("  bob:   %s base / %s quote\n",
		vault.Balance(bob, custody.Base), vault.Balance(bob, custody.Quote))
	fmt.Printf("  carol: %s base / %s quote\n",
		vault.Balance(carol, custody.Base), vault.Balance(carol, custody.Quote))
	fmt.Printf("  fees:  %s base\n", vault.Balance(feeAddr, custody.Base))
	fmt.Printf("  events recorded: %d\n", len(journal.Events()))
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
