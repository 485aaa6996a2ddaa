package store

import (
	"fmt"
	"testing"

	"github.com/Granola-Team/mina-indexer-sub000/core"
)

// ------------------------------------------------------------
// Pipeline + restart: the witness tree, ledger, and event log
// survive a clean shutdown
// ------------------------------------------------------------

func pipelineConfig(db *IndexerStore) core.IndexerStateConfig {
	return core.IndexerStateConfig{
		GenesisHash:              "genesis",
		GenesisPrevStateHash:     "pre-genesis",
		GenesisLedger:            core.NewLedger(),
		Store:                    db,
		TransitionFrontierLength: 230,
		PruneInterval:            10,
		CanonicalThreshold:       5,
		CanonicalUpdateThreshold: 8,
		LedgerCadence:            10,
		ReportingFreq:            1000,
	}
}

func runPipeline(t *testing.T, state *core.IndexerState, from, to uint32) {
	t.Helper()
	parent := core.StateHash("genesis")
	if from > 2 {
		parent = core.StateHash(fmt.Sprintf("h%d", from-1))
	}
	for h := from; h <= to; h++ {
		hash := core.StateHash(fmt.Sprintf("h%d", h))
		if _, err := state.BlockPipeline(storeBlock(h, hash, parent), 100); err != nil {
			t.Fatalf("pipeline block %d: %v", h, err)
		}
		parent = hash
	}
}

func TestPipelineCanonicalRecords(t *testing.T) {
	db := openTestStore(t)
	state, err := core.NewIndexerState(pipelineConfig(db))
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	runPipeline(t, state, 2, 60)

	if got := state.BestTipBlock().Height; got != 60 {
		t.Fatalf("best tip %d, want 60", got)
	}
	canonicalRoot := state.CanonicalRootBlock().Height
	if canonicalRoot < 60-5-8 || canonicalRoot > 60-5 {
		t.Fatalf("canonical root %d out of range", canonicalRoot)
	}

	// canonical records cover 1..canonicalRoot with no gaps
	maxCanonical, err := db.MaxCanonicalHeight()
	if err != nil {
		t.Fatalf("max canonical: %v", err)
	}
	if maxCanonical != canonicalRoot {
		t.Fatalf("max canonical %d, want %d", maxCanonical, canonicalRoot)
	}
	prevHash := core.StateHash("")
	for h := uint32(1); h <= maxCanonical; h++ {
		hash, err := db.GetCanonicalHashAtHeight(h)
		if err != nil {
			t.Fatalf("missing canonical record at height %d", h)
		}
		if h > 1 {
			blk, _, err := db.GetBlock(hash)
			if err != nil {
				t.Fatalf("canonical block missing: %s", hash)
			}
			if blk.PreviousStateHash() != prevHash {
				t.Fatalf("canonical chain broken at height %d", h)
			}
		}
		prevHash = hash
	}

	// ledger snapshots exist at each canonical multiple of the cadence
	for h := uint32(10); h <= maxCanonical; h += 10 {
		hash, _ := db.GetCanonicalHashAtHeight(h)
		if _, err := db.GetLedger(hash); err != nil {
			t.Fatalf("ledger snapshot missing at height %d", h)
		}
	}
}

func TestRestartSync(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	state, err := core.NewIndexerState(pipelineConfig(db))
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	runPipeline(t, state, 2, 60)

	bestBefore := state.BestTipBlock()
	canonicalBefore := state.CanonicalRootBlock()
	rootLenBefore := state.RootBranch.Len()
	ledgerHashBefore := state.Ledger.Hash()
	seqBefore, _ := db.NextSeqNum()

	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// restart
	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	state2 := core.NewIndexerStateWithoutGenesisEvents(pipelineConfig(db2))
	rootHeight, err := state2.SyncFromDB()
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if rootHeight != 60-5 {
		t.Fatalf("witness tree root height %d, want 55", rootHeight)
	}

	if got := state2.BestTipBlock(); got.StateHash != bestBefore.StateHash || got.Height != bestBefore.Height {
		t.Fatalf("best tip after sync %s, want %s", got.Summary(), bestBefore.Summary())
	}
	if got := state2.CanonicalRootBlock().Height; got < canonicalBefore.Height-5 || got > canonicalBefore.Height {
		t.Fatalf("canonical root after sync %d, want near %d", got, canonicalBefore.Height)
	}
	if got := state2.RootBranch.Len(); got > rootLenBefore {
		t.Fatalf("root branch grew across restart: %d > %d", got, rootLenBefore)
	}

	// the reconstructed ledger matches the canonical root ledger shape:
	// replaying the canonical diffs above the synced root reproduces the
	// pre-restart ledger
	replayed, err := state2.ReconstructLedgerAtHeight(canonicalBefore.Height)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if replayed.Hash() != ledgerHashBefore {
		t.Fatalf("ledger hash after sync differs")
	}

	// the event log sequence resumes where it left off
	seqAfter, _ := db2.NextSeqNum()
	if seqAfter < seqBefore {
		t.Fatalf("event log rewound: %d < %d", seqAfter, seqBefore)
	}
}

// ------------------------------------------------------------
// Replay: the event log re-checks cleanly against the store
// ------------------------------------------------------------

func TestReplayEvents(t *testing.T) {
	db := openTestStore(t)
	state, err := core.NewIndexerState(pipelineConfig(db))
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	runPipeline(t, state, 2, 40)

	replayState := core.NewIndexerStateWithoutGenesisEvents(pipelineConfig(db))
	maxCanonical, err := replayState.ReplayEvents()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if maxCanonical != state.CanonicalRootBlock().Height {
		t.Fatalf("replay max canonical %d, want %d", maxCanonical, state.CanonicalRootBlock().Height)
	}
	// replay rebuilt the same witness tree shape
	if got, want := replayState.BestTipBlock().StateHash, state.BestTipBlock().StateHash; got != want {
		t.Fatalf("replay best tip %s, want %s", got, want)
	}
}

// ------------------------------------------------------------
// Ledger reconstruction between snapshots
// ------------------------------------------------------------

func TestReconstructLedgerBetweenSnapshots(t *testing.T) {
	db := openTestStore(t)
	state, err := core.NewIndexerState(pipelineConfig(db))
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	runPipeline(t, state, 2, 60)

	// height 37 sits between the snapshots at 30 and 40
	ledger, err := state.ReconstructLedgerAtHeight(37)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	// coinbase accrues once per block after genesis; height 37 means 36
	// coinbases minus the producer's creation fee
	producer := core.AccountID{PublicKey: "B62qProducer", Token: core.MinaTokenAddress}
	want := core.Amount(36)*720_000_000_000 - core.MainnetAccountCreationFee
	if got := ledger.Balance(producer); got != want {
		t.Fatalf("producer balance %d, want %d", got, want)
	}
}
