package core

import (
	"fmt"
	"testing"
)

// ------------------------------------------------------------
// Helpers to build chains of test blocks
// ------------------------------------------------------------

func testBlock(height uint32, stateHash, parent StateHash, vrf string) *PrecomputedBlock {
	return &PrecomputedBlock{V1: &BlockV1{blockCommon: blockCommon{
		StateHash:         stateHash,
		PreviousStateHash: parent,
		GenesisStateHash:  "genesis",
		BlockchainLength:  height,
		GlobalSlot:        height,
		LastVRFOutput:     vrf,
		CoinbaseReceiver:  "B62qReceiver",
		CoinbaseReward:    720_000_000_000,
		InternalCommands:  []InternalCommand{{Kind: InternalCoinbase, Receiver: "B62qReceiver", Fee: 720_000_000_000}},
	}}}
}

func testState(t *testing.T, canonicalThreshold, canonicalUpdateThreshold uint32) *IndexerState {
	t.Helper()
	cfg := IndexerStateConfig{
		GenesisHash:              "genesis",
		GenesisPrevStateHash:     "pre-genesis",
		GenesisLedger:            NewLedger(),
		TransitionFrontierLength: 230,
		PruneInterval:            2,
		CanonicalThreshold:       canonicalThreshold,
		CanonicalUpdateThreshold: canonicalUpdateThreshold,
		LedgerCadence:            100,
		ReportingFreq:            1000,
	}
	return NewIndexerStateWithoutGenesisEvents(cfg)
}

// chain produces heights 2..n+1 on top of genesis with hashes h2..h<n+1>.
func extendChain(t *testing.T, s *IndexerState, from, to uint32) {
	t.Helper()
	parent := StateHash("genesis")
	if from > 2 {
		parent = StateHash(fmt.Sprintf("h%d", from-1))
	}
	for h := from; h <= to; h++ {
		hash := StateHash(fmt.Sprintf("h%d", h))
		ext, _, err := s.AddBlockToWitnessTree(testBlock(h, hash, parent, "vrf"), true)
		if err != nil {
			t.Fatalf("add block %d: %v", h, err)
		}
		if ext != ExtensionRootSimple && ext != ExtensionRootComplex {
			t.Fatalf("block %d: extension %s, want root extension", h, ext)
		}
		parent = hash
	}
}

// ------------------------------------------------------------
// Extension classification
// ------------------------------------------------------------

func TestRootSimpleExtension(t *testing.T) {
	s := testState(t, 10, 20)
	ext, wt, err := s.AddBlockToWitnessTree(testBlock(2, "h2", "genesis", "a"), true)
	if err != nil {
		t.Fatalf("add err: %v", err)
	}
	if ext != ExtensionRootSimple {
		t.Fatalf("extension %s, want RootSimple", ext)
	}
	if wt == nil || wt.BestTip.StateHash != "h2" {
		t.Fatalf("best tip not updated to h2")
	}
	if s.BestTipBlock().Height != 2 {
		t.Fatalf("best tip height %d, want 2", s.BestTipBlock().Height)
	}
}

func TestDanglingNewAndMerge(t *testing.T) {
	s := testState(t, 10, 20)

	// h3 arrives before its parent h2: new dangling branch
	ext, _, _ := s.AddBlockToWitnessTree(testBlock(3, "h3", "h2", "a"), true)
	if ext != ExtensionDanglingNew {
		t.Fatalf("extension %s, want DanglingNew", ext)
	}
	if len(s.DanglingBranches) != 1 {
		t.Fatalf("dangling branches %d, want 1", len(s.DanglingBranches))
	}

	// h2 connects genesis to the dangling branch in the same call
	ext, wt, _ := s.AddBlockToWitnessTree(testBlock(2, "h2", "genesis", "a"), true)
	if ext != ExtensionRootComplex {
		t.Fatalf("extension %s, want RootComplex", ext)
	}
	if len(s.DanglingBranches) != 0 {
		t.Fatalf("dangling branch not merged")
	}
	if wt.BestTip.StateHash != "h3" {
		t.Fatalf("best tip %s, want h3", wt.BestTip.StateHash)
	}
}

func TestDanglingForwardAndReverse(t *testing.T) {
	s := testState(t, 10, 20)

	if ext, _, _ := s.AddBlockToWitnessTree(testBlock(5, "h5", "h4", "a"), true); ext != ExtensionDanglingNew {
		t.Fatalf("extension %s, want DanglingNew", ext)
	}
	// forward extension of the dangling branch
	if ext, _, _ := s.AddBlockToWitnessTree(testBlock(6, "h6", "h5", "a"), true); ext != ExtensionDanglingSimpleForward {
		t.Fatalf("extension %s, want DanglingSimpleForward", ext)
	}
	// reverse extension: h4 becomes the new dangling root
	if ext, _, _ := s.AddBlockToWitnessTree(testBlock(4, "h4", "h3", "a"), true); ext != ExtensionDanglingSimpleReverse {
		t.Fatalf("extension %s, want DanglingSimpleReverse", ext)
	}
	if len(s.DanglingBranches) != 1 {
		t.Fatalf("dangling branches %d, want 1", len(s.DanglingBranches))
	}
	if s.DanglingBranches[0].RootBlock().StateHash != "h4" {
		t.Fatalf("dangling root %s, want h4", s.DanglingBranches[0].RootBlock().StateHash)
	}
}

func TestDanglingComplexMerge(t *testing.T) {
	s := testState(t, 10, 20)

	// two disconnected dangling branches
	s.AddBlockToWitnessTree(testBlock(4, "h4", "h3", "a"), true)
	s.AddBlockToWitnessTree(testBlock(6, "h6", "h5", "a"), true)
	if len(s.DanglingBranches) != 2 {
		t.Fatalf("dangling branches %d, want 2", len(s.DanglingBranches))
	}

	// h5 extends the first forward and adopts the second
	ext, _, _ := s.AddBlockToWitnessTree(testBlock(5, "h5", "h4", "a"), true)
	if ext != ExtensionDanglingComplex {
		t.Fatalf("extension %s, want DanglingComplex", ext)
	}
	if len(s.DanglingBranches) != 1 {
		t.Fatalf("dangling branches %d, want 1 after merge", len(s.DanglingBranches))
	}
	if s.DanglingBranches[0].Len() != 3 {
		t.Fatalf("merged branch length %d, want 3", s.DanglingBranches[0].Len())
	}
}

func TestBlockBelowRootRejected(t *testing.T) {
	s := testState(t, 2, 2)
	extendChain(t, s, 2, 8)

	// the canonical root has advanced; a block at the root branch root
	// height is below root
	rootHeight := s.RootBranch.RootBlock().Height
	ext, _, _ := s.AddBlockToWitnessTree(testBlock(rootHeight, "stale", "stale-parent", "a"), true)
	if ext != ExtensionBlockNotAdded {
		t.Fatalf("extension %s, want BlockNotAdded", ext)
	}
}

// ------------------------------------------------------------
// Best tip priority
// ------------------------------------------------------------

func TestBestTipVRFTiebreak(t *testing.T) {
	s := testState(t, 10, 20)
	s.AddBlockToWitnessTree(testBlock(2, "h2", "genesis", "a"), true)

	// two competitors at height 3: the greater VRF output wins,
	// independent of arrival order
	s.AddBlockToWitnessTree(testBlock(3, "h3low", "h2", "aaa"), true)
	s.AddBlockToWitnessTree(testBlock(3, "h3high", "h2", "zzz"), true)
	if s.BestTip.StateHash != "h3high" {
		t.Fatalf("best tip %s, want h3high", s.BestTip.StateHash)
	}

	// reversed arrival order gives the same winner
	s2 := testState(t, 10, 20)
	s2.AddBlockToWitnessTree(testBlock(2, "h2", "genesis", "a"), true)
	s2.AddBlockToWitnessTree(testBlock(3, "h3high", "h2", "zzz"), true)
	s2.AddBlockToWitnessTree(testBlock(3, "h3low", "h2", "aaa"), true)
	if s2.BestTip.StateHash != "h3high" {
		t.Fatalf("best tip %s, want h3high under reordering", s2.BestTip.StateHash)
	}
}

// ------------------------------------------------------------
// Canonicity advance
// ------------------------------------------------------------

func TestCanonicalAdvanceThreshold(t *testing.T) {
	s := testState(t, 2, 4)

	// below the update threshold nothing becomes canonical
	extendChain(t, s, 2, 4)
	if got := s.CanonicalRootBlock().Height; got != 1 {
		t.Fatalf("canonical root height %d, want 1", got)
	}

	// crossing the threshold advances the canonical root to
	// best tip height - canonical threshold
	extendChain(t, s, 5, 5)
	if got := s.CanonicalRootBlock().Height; got != 3 {
		t.Fatalf("canonical root height %d, want 3", got)
	}
}

func TestCanonicalBlocksInHeightOrder(t *testing.T) {
	s := testState(t, 2, 2)
	var canonical []Block
	parent := StateHash("genesis")
	for h := uint32(2); h <= 10; h++ {
		hash := StateHash(fmt.Sprintf("h%d", h))
		_, wt, err := s.AddBlockToWitnessTree(testBlock(h, hash, parent, "vrf"), true)
		if err != nil {
			t.Fatalf("add block %d: %v", h, err)
		}
		if wt != nil {
			canonical = append(canonical, wt.CanonicalBlocks...)
		}
		parent = hash
	}

	if len(canonical) == 0 {
		t.Fatalf("no canonical blocks")
	}
	for i := 1; i < len(canonical); i++ {
		if canonical[i].Height != canonical[i-1].Height+1 {
			t.Fatalf("canonical heights not contiguous: %d then %d", canonical[i-1].Height, canonical[i].Height)
		}
	}
	if canonical[len(canonical)-1].Height != s.CanonicalRootBlock().Height {
		t.Fatalf("last canonical %d, canonical root %d", canonical[len(canonical)-1].Height, s.CanonicalRootBlock().Height)
	}
}

func TestDeepLinearIngestion(t *testing.T) {
	const n = 300
	s := testState(t, 10, 30)
	extendChain(t, s, 2, n)

	if got := s.BestTipBlock().Height; got != n {
		t.Fatalf("best tip height %d, want %d", got, n)
	}
	// canonical root lags the best tip by at least the canonical threshold
	if got := s.CanonicalRootBlock().Height; got < n-10-30 || got > n-10 {
		t.Fatalf("canonical root height %d out of range", got)
	}
	// every ancestor path reaches the witness tree root
	chain := s.BestChain()
	if chain[0].Height != n {
		t.Fatalf("best chain head %d, want %d", chain[0].Height, n)
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].StateHash != chain[i-1].Parent {
			t.Fatalf("broken parent link at %d", chain[i].Height)
		}
	}
}

// ------------------------------------------------------------
// Reorg at depth 2 (scenario: alternative fork wins by VRF)
// ------------------------------------------------------------

func TestReorgDepthTwo(t *testing.T) {
	s := testState(t, 10, 20)
	extendChain(t, s, 2, 5) // h2..h5, vrf "vrf"

	// alternative fork from h3 with higher VRF priority
	s.AddBlockToWitnessTree(testBlock(4, "h4x", "h3", "zzz"), true)
	_, wt, _ := s.AddBlockToWitnessTree(testBlock(5, "h5x", "h4x", "zzz"), true)
	if wt == nil {
		t.Fatalf("expected root extension event")
	}
	if s.BestTip.StateHash != "h5x" {
		t.Fatalf("best tip %s, want h5x", s.BestTip.StateHash)
	}

	// the diff map must hold both forks, no canonicity yet at 4 or 5
	for _, hash := range []StateHash{"h4", "h5", "h4x", "h5x"} {
		if _, ok := s.DiffsMap[hash]; !ok {
			t.Fatalf("diff missing for %s", hash)
		}
	}
	if len(wt.CanonicalBlocks) != 0 {
		t.Fatalf("unexpected canonical blocks during shallow reorg")
	}

	// the best chain runs through the fork
	chain := s.BestChain()
	if chain[1].StateHash != "h4x" {
		t.Fatalf("best chain[1] = %s, want h4x", chain[1].StateHash)
	}
}

// ------------------------------------------------------------
// Pruning
// ------------------------------------------------------------

func TestPruneRootBranch(t *testing.T) {
	s := testState(t, 2, 2)
	s.TransitionFrontierLength = 3
	s.PruneInterval = 2

	extendChain(t, s, 2, 30)
	// pruning has discarded the history beneath the canonical root: the
	// branch root tracks the canonical root and the tree stays bounded
	rootHeight := s.RootBranch.RootBlock().Height
	if rootHeight <= 1 {
		t.Fatalf("root branch never pruned")
	}
	if rootHeight > s.CanonicalRootBlock().Height {
		t.Fatalf("root branch root %d above canonical root %d", rootHeight, s.CanonicalRootBlock().Height)
	}
	if n := s.RootBranch.Len(); n != 30-rootHeight+1 {
		t.Fatalf("root branch length %d, want %d", n, 30-rootHeight+1)
	}
	if s.BestTipBlock().Height != 30 {
		t.Fatalf("best tip height %d, want 30", s.BestTipBlock().Height)
	}
}
