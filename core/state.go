package core

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ExtensionType classifies the outcome of adding a block to the witness
// tree.
type ExtensionType int

const (
	ExtensionBlockNotAdded ExtensionType = iota
	ExtensionRootSimple
	ExtensionRootComplex
	ExtensionDanglingNew
	ExtensionDanglingSimpleForward
	ExtensionDanglingSimpleReverse
	ExtensionDanglingComplex
)

func (e ExtensionType) String() string {
	switch e {
	case ExtensionRootSimple:
		return "RootSimple"
	case ExtensionRootComplex:
		return "RootComplex"
	case ExtensionDanglingNew:
		return "DanglingNew"
	case ExtensionDanglingSimpleForward:
		return "DanglingSimpleForward"
	case ExtensionDanglingSimpleReverse:
		return "DanglingSimpleReverse"
	case ExtensionDanglingComplex:
		return "DanglingComplex"
	default:
		return "BlockNotAdded"
	}
}

// Tip designates a node in the root branch.
type Tip struct {
	StateHash StateHash
	NodeID    NodeID
}

// IndexerStateConfig bundles the knobs for a new indexer state.
type IndexerStateConfig struct {
	GenesisHash              StateHash
	GenesisPrevStateHash     StateHash
	GenesisLedger            *Ledger
	Store                    IndexerStore
	TransitionFrontierLength uint32
	PruneInterval            uint32
	CanonicalThreshold       uint32
	CanonicalUpdateThreshold uint32
	LedgerCadence            uint32
	ReportingFreq            uint32
	DoNotIngestOrphanBlocks  bool
}

// NewIndexerStateConfig fills in the mainnet defaults.
func NewIndexerStateConfig(genesisLedger *Ledger, store IndexerStore, canonicalThreshold, transitionFrontierLength uint32, doNotIngestOrphanBlocks bool) IndexerStateConfig {
	return IndexerStateConfig{
		GenesisHash:              MainnetGenesisHash,
		GenesisPrevStateHash:     MainnetGenesisPrevStateHash,
		GenesisLedger:            genesisLedger,
		Store:                    store,
		TransitionFrontierLength: transitionFrontierLength,
		PruneInterval:            PruneIntervalDefault,
		CanonicalThreshold:       canonicalThreshold,
		CanonicalUpdateThreshold: CanonicalUpdateThreshold,
		LedgerCadence:            LedgerCadence,
		ReportingFreq:            BlockReportingFreq,
		DoNotIngestOrphanBlocks:  doNotIngestOrphanBlocks,
	}
}

// IndexerState is the rooted forest of recent blocks (the witness tree)
// plus the materialized ledger and diff map. A single writer owns it.
type IndexerState struct {
	// BestTip is the head of the highest-priority chain in the root branch.
	BestTip Tip
	// CanonicalRoot is the highest block with threshold confirmations.
	CanonicalRoot Tip

	// Ledger corresponds to the canonical root.
	Ledger *Ledger
	// DiffsMap holds the ledger diff of every uncommitted root-branch
	// block past the canonical root.
	DiffsMap map[StateHash]*LedgerDiff

	// RootBranch connects back to a known ledger state.
	RootBranch *Branch
	// DanglingBranches stem from unknown ledger states and are merged into
	// the root branch as connecting blocks arrive.
	DanglingBranches []*Branch

	// Store is the persistence backend, nil in pure witness-tree tests.
	Store IndexerStore

	// StakingLedgers memoizes epoch to staking ledger hash.
	StakingLedgers map[uint32]LedgerHash

	TransitionFrontierLength uint32
	PruneInterval            uint32
	CanonicalThreshold       uint32
	CanonicalUpdateThreshold uint32
	LedgerCadence            uint32
	ReportingFreq            uint32
	DoNotIngestOrphanBlocks  bool

	BlocksProcessed uint32
	BytesProcessed  uint64

	// PendingSnapshots holds per-height ledger clones taken at the cadence
	// boundary during canonical diff application, drained by the pipeline.
	PendingSnapshots []LedgerSnapshot

	InitTime time.Time
}

// LedgerSnapshot is a ledger clone captured at a canonical cadence height.
type LedgerSnapshot struct {
	Block  Block
	Ledger *Ledger
}

// genesisPrecomputed synthesizes the precomputed record for the genesis
// block, which has no commands of its own.
func genesisPrecomputed(hash, prev StateHash) *PrecomputedBlock {
	return &PrecomputedBlock{V1: &BlockV1{blockCommon: blockCommon{
		StateHash:         hash,
		PreviousStateHash: prev,
		GenesisStateHash:  hash,
		BlockchainLength:  1,
	}}}
}

// NewIndexerState creates a state from the genesis ledger, writing the
// genesis block, ledger, canonicity, and best block to the store.
func NewIndexerState(config IndexerStateConfig) (*IndexerState, error) {
	s := newBareState(config)

	genesis := genesisPrecomputed(config.GenesisHash, config.GenesisPrevStateHash)
	if s.Store != nil {
		err := s.Store.WithBatch(func(b StoreBatch) error {
			if _, err := b.AddBlock(genesis, 0); err != nil {
				return fmt.Errorf("add genesis block: %w", err)
			}
			if err := b.SetBestBlock(config.GenesisHash, 1); err != nil {
				return fmt.Errorf("genesis best block: %w", err)
			}
			if err := b.AddCanonicalBlock(1, 0, config.GenesisHash, config.GenesisHash); err != nil {
				return fmt.Errorf("genesis canonicity: %w", err)
			}
			return b.AddLedger(config.GenesisPrevStateHash, 0, config.GenesisLedger)
		})
		if err != nil {
			return nil, err
		}
		logrus.Info("Genesis block and ledger added to indexer store")
	}

	genesisDiff := LedgerDiffFromPrecomputed(genesis)
	if err := s.Ledger.ApplyDiff(genesisDiff); err != nil {
		return nil, err
	}
	s.DiffsMap[config.GenesisHash] = genesisDiff
	s.BlocksProcessed = 1 // genesis block
	return s, nil
}

// NewIndexerStateWithoutGenesisEvents creates a state whose store records
// already exist, e.g. before a sync from the database.
func NewIndexerStateWithoutGenesisEvents(config IndexerStateConfig) *IndexerState {
	return newBareState(config)
}

func newBareState(config IndexerStateConfig) *IndexerState {
	rootBranch := NewGenesisBranch(config.GenesisHash, config.GenesisPrevStateHash)
	tip := Tip{StateHash: rootBranch.RootBlock().StateHash, NodeID: rootBranch.Root()}
	ledger := config.GenesisLedger
	if ledger == nil {
		ledger = NewLedger()
	}
	return &IndexerState{
		BestTip:                  tip,
		CanonicalRoot:            tip,
		Ledger:                   ledger,
		DiffsMap:                 make(map[StateHash]*LedgerDiff),
		RootBranch:               rootBranch,
		Store:                    config.Store,
		StakingLedgers:           make(map[uint32]LedgerHash),
		TransitionFrontierLength: config.TransitionFrontierLength,
		PruneInterval:            config.PruneInterval,
		CanonicalThreshold:       config.CanonicalThreshold,
		CanonicalUpdateThreshold: config.CanonicalUpdateThreshold,
		LedgerCadence:            config.LedgerCadence,
		ReportingFreq:            config.ReportingFreq,
		DoNotIngestOrphanBlocks:  config.DoNotIngestOrphanBlocks,
		InitTime:                 time.Now(),
	}
}

// CanonicalRootBlock returns the highest known canonical block.
func (s *IndexerState) CanonicalRootBlock() Block {
	return s.RootBranch.Block(s.CanonicalRoot.NodeID)
}

// BestTipBlock returns the head of the best chain.
func (s *IndexerState) BestTipBlock() Block {
	return s.RootBranch.Block(s.BestTip.NodeID)
}

// AddBlockToWitnessTree classifies and installs the block. Store writes are
// the caller's business; the returned WitnessTreeEvent carries the best tip
// and any newly canonical blocks after a root-branch insertion.
func (s *IndexerState) AddBlockToWitnessTree(pcb *PrecomputedBlock, incrementBlocks bool) (ExtensionType, *WitnessTreeEvent, error) {
	if s.RootBranch.RootBlock().Height >= pcb.BlockchainLength() {
		logrus.Errorf("Block %s is too low to be added to the witness tree", pcb.Summary())
		return ExtensionBlockNotAdded, nil, nil
	}

	s.DiffsMap[pcb.StateHash()] = LedgerDiffFromPrecomputed(pcb)
	if incrementBlocks {
		s.BlocksProcessed++
	}

	// forward extension on the root branch
	if s.isLengthWithinRootBounds(pcb) {
		if ext, ok, err := s.rootExtension(pcb); err != nil {
			return ExtensionBlockNotAdded, nil, err
		} else if ok {
			canonical, err := s.pruneRootBranch()
			if err != nil {
				return ext, nil, err
			}
			return ext, &WitnessTreeEvent{BestTip: s.BestTipBlock(), CanonicalBlocks: canonical}, nil
		}
	}

	// a dangling branch may extend forward or reverse, then connect others
	if idx, nodeID, reverse, ok := s.danglingExtension(pcb); ok {
		return s.updateDangling(pcb, idx, nodeID, reverse), nil, nil
	}

	s.DanglingBranches = append(s.DanglingBranches, NewBranch(pcb))
	return ExtensionDanglingNew, nil, nil
}

// rootExtension extends the root branch forward, splicing in any dangling
// branches that now connect.
func (s *IndexerState) rootExtension(pcb *PrecomputedBlock) (ExtensionType, bool, error) {
	newNodeID, ok := s.RootBranch.SimpleExtension(pcb)
	if !ok {
		return ExtensionBlockNotAdded, false, nil
	}
	logrus.Tracef("Root extension block %s", pcb.Summary())
	newBlock := s.RootBranch.Block(newNodeID)

	var mergedTipIDs []NodeID
	var remaining []*Branch
	for _, dangling := range s.DanglingBranches {
		if dangling.RootBlock().Parent == pcb.StateHash() {
			mergedTipIDs = append(mergedTipIDs, s.RootBranch.MergeOn(newNodeID, dangling))
			continue
		}
		remaining = append(remaining, dangling)
	}
	merged := len(remaining) != len(s.DanglingBranches)
	s.DanglingBranches = remaining

	for _, tipID := range mergedTipIDs {
		s.updateBestTip(s.RootBranch.Block(tipID), tipID)
	}
	s.updateBestTip(newBlock, newNodeID)

	if merged {
		return ExtensionRootComplex, true, nil
	}
	return ExtensionRootSimple, true, nil
}

// danglingExtension tries to extend one dangling branch with the block.
func (s *IndexerState) danglingExtension(pcb *PrecomputedBlock) (int, NodeID, bool, bool) {
	for idx, dangling := range s.DanglingBranches {
		minLength := dangling.RootBlock().Height
		maxLength := dangling.MaxHeight()
		if maxLength+1 < pcb.BlockchainLength() || pcb.BlockchainLength()+1 < minLength {
			continue
		}

		// simple reverse: the block is the parent of the branch root
		if dangling.RootBlock().Parent == pcb.StateHash() {
			id := dangling.NewRoot(pcb)
			return idx, id, true, true
		}

		// simple forward
		if id, ok := dangling.SimpleExtension(pcb); ok {
			return idx, id, false, true
		}
	}
	return 0, InvalidNode, false, false
}

// updateDangling merges any dangling branches that connect to the extended
// branch through the new block.
func (s *IndexerState) updateDangling(pcb *PrecomputedBlock, extendedIdx int, newNodeID NodeID, reverse bool) ExtensionType {
	extended := s.DanglingBranches[extendedIdx]

	var remaining []*Branch
	merged := false
	for idx, dangling := range s.DanglingBranches {
		if idx == extendedIdx {
			continue
		}
		if dangling.RootBlock().Parent == pcb.StateHash() {
			extended.MergeOn(newNodeID, dangling)
			merged = true
			continue
		}
		remaining = append(remaining, dangling)
	}

	if merged {
		s.DanglingBranches = append(remaining, extended)
		return ExtensionDanglingComplex
	}
	if reverse {
		return ExtensionDanglingSimpleReverse
	}
	return ExtensionDanglingSimpleForward
}

// isLengthWithinRootBounds checks the block can possibly extend the root
// branch.
func (s *IndexerState) isLengthWithinRootBounds(pcb *PrecomputedBlock) bool {
	return s.BestTipBlock().Height+1 >= pcb.BlockchainLength()
}

// updateBestTip moves the best tip pointer if the incoming block has
// priority.
func (s *IndexerState) updateBestTip(incoming Block, nodeID NodeID) {
	old := s.BestTipBlock()
	if incoming.BetterThan(old) {
		logrus.WithFields(logrus.Fields{
			"old": old.Summary(),
			"new": incoming.Summary(),
		}).Info("Update best tip")
		s.BestTip.NodeID = nodeID
		s.BestTip.StateHash = incoming.StateHash
	} else {
		logrus.Debug("Best block is better than the incoming block")
	}
}

// pruneRootBranch advances the canonical root, then discards the portion of
// the root branch beneath it once the tree grows past the prune interval.
func (s *IndexerState) pruneRootBranch() ([]Block, error) {
	k := s.TransitionFrontierLength
	canonical, err := s.UpdateCanonical()
	if err != nil {
		return nil, err
	}
	if s.RootBranch.Height() > s.PruneInterval*k {
		logrus.Debugf(
			"Pruning transition frontier: k = %d, best tip length = %d, canonical root length = %d",
			k, s.BestTipBlock().Height, s.CanonicalRootBlock().Height,
		)
		s.RootBranch.PruneBelow(s.CanonicalRoot.NodeID)
	}
	return canonical, nil
}

// UpdateCanonical advances the canonical root if enough confirmations have
// accumulated, applying the newly canonical diffs to the ledger. The new
// canonical blocks are returned lowest height first.
func (s *IndexerState) UpdateCanonical() ([]Block, error) {
	if s.BestTipBlock().Height-s.CanonicalRootBlock().Height < s.CanonicalUpdateThreshold {
		return nil, nil
	}
	oldCanonicalRootID := s.CanonicalRoot.NodeID
	canonical := s.newCanonicalBlocks(oldCanonicalRootID)

	if err := s.applyCanonicalDiffs(canonical); err != nil {
		return nil, err
	}
	s.pruneDiffsMap(oldCanonicalRootID)
	return canonical, nil
}

// newCanonicalBlocks walks from the best tip toward the root, skips the
// first canonicalThreshold-1 ancestors, then collects until the old
// canonical root. The deepest unskipped ancestor becomes the new canonical
// root. Blocks are returned lowest height first.
func (s *IndexerState) newCanonicalBlocks(oldCanonicalRootID NodeID) []Block {
	var canonical []Block
	ancestors := s.RootBranch.Ancestors(s.BestTip.NodeID)

	skip := int(s.CanonicalThreshold) - 1
	for i, ancestorID := range ancestors {
		if i < skip {
			continue
		}
		if ancestorID == oldCanonicalRootID {
			break
		}
		block := s.RootBranch.Block(ancestorID)
		if len(canonical) == 0 {
			s.CanonicalRoot.NodeID = ancestorID
			s.CanonicalRoot.StateHash = block.StateHash
		}
		canonical = append(canonical, block)
	}

	// sort lowest to highest
	for i, j := 0, len(canonical)-1; i < j; i, j = i+1, j-1 {
		canonical[i], canonical[j] = canonical[j], canonical[i]
	}
	return canonical
}

// applyCanonicalDiffs applies the new canonical diffs in height order. At
// each ledger cadence boundary the ledger is cloned so the pipeline can
// persist a snapshot reflecting exactly that height.
func (s *IndexerState) applyCanonicalDiffs(canonical []Block) error {
	for _, block := range canonical {
		diff, ok := s.DiffsMap[block.StateHash]
		if !ok {
			logrus.Errorf("Block not in diffs map (length %d): %s", block.Height, block.StateHash)
			continue
		}
		if err := s.Ledger.ApplyDiff(diff); err != nil {
			return err
		}
		if s.LedgerCadence > 0 && block.Height%s.LedgerCadence == 0 {
			s.PendingSnapshots = append(s.PendingSnapshots, LedgerSnapshot{
				Block:  block,
				Ledger: s.Ledger.Clone(),
			})
		}
	}
	return nil
}

// pruneDiffsMap drops diffs of blocks at or beneath the new canonical root,
// keeping the root's own diff.
func (s *IndexerState) pruneDiffsMap(oldCanonicalRootID NodeID) {
	rootBlock := s.CanonicalRootBlock()
	for _, nodeID := range s.RootBranch.LevelOrder(oldCanonicalRootID) {
		block := s.RootBranch.Block(nodeID)
		if block.StateHash != rootBlock.StateHash && block.Height <= rootBlock.Height {
			delete(s.DiffsMap, block.StateHash)
		}
	}
}

// BlockPipeline ingests one block: store write, witness tree insertion,
// best block update, then canonicity side effects per newly canonical block
// in height order (canonicity record first, ledger snapshot after). All of
// the step's writes — block record, command/snark indexes, best block,
// canonical records, ledger snapshots, counters, and their event log
// entries — commit as one atomic batch; readers see either the pre-batch
// or post-batch state.
func (s *IndexerState) BlockPipeline(pcb *PrecomputedBlock, blockBytes uint64) (bool, error) {
	if s.Store == nil {
		return false, fmt.Errorf("block pipeline requires a store")
	}
	added := false
	err := s.Store.WithBatch(func(b StoreBatch) error {
		isNew, err := b.AddBlock(pcb, blockBytes)
		if err != nil {
			return err
		}
		if !isNew {
			logrus.Debugf("Block not added, already stored: %s", pcb.Summary())
			return nil
		}
		added = true
		if err := b.AddCommands(pcb); err != nil {
			return err
		}
		if err := b.AddSnarks(pcb); err != nil {
			return err
		}
		s.BytesProcessed += blockBytes

		_, wt, err := s.AddBlockToWitnessTree(pcb, true)
		if err != nil {
			return err
		}
		if wt != nil {
			if err := b.SetBestBlock(wt.BestTip.StateHash, wt.BestTip.Height); err != nil {
				return err
			}
			for _, cb := range wt.CanonicalBlocks {
				if err := b.AddCanonicalBlock(cb.Height, cb.GlobalSlot, cb.StateHash, cb.GenesisStateHash); err != nil {
					return err
				}
			}
			for _, snap := range s.PendingSnapshots {
				if err := b.AddLedger(snap.Block.StateHash, snap.Block.Height, snap.Ledger); err != nil {
					return err
				}
			}
			s.PendingSnapshots = nil
		}
		return b.SetBlocksProcessed(s.BlocksProcessed, s.BytesProcessed)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// AddBlockToStore persists an orphaned block without touching the witness
// tree.
func (s *IndexerState) AddBlockToStore(pcb *PrecomputedBlock, blockBytes uint64) error {
	if s.DoNotIngestOrphanBlocks {
		return nil
	}
	if s.Store == nil {
		return nil
	}
	isNew, err := s.Store.AddBlock(pcb, blockBytes)
	if err != nil {
		return err
	}
	if isNew {
		s.BlocksProcessed++
		s.BytesProcessed += blockBytes
	}
	return nil
}

// BestChain walks the best chain from the best tip back to the canonical
// root, best tip first.
func (s *IndexerState) BestChain() []Block {
	chain := []Block{s.BestTipBlock()}
	canonicalRoot := s.CanonicalRootBlock()
	for _, id := range s.RootBranch.Ancestors(s.BestTip.NodeID) {
		b := s.RootBranch.Block(id)
		chain = append(chain, b)
		if b.StateHash == canonicalRoot.StateHash {
			break
		}
	}
	return chain
}

// Len counts the blocks across all branches of the witness tree.
func (s *IndexerState) Len() uint32 {
	n := s.RootBranch.Len()
	for _, d := range s.DanglingBranches {
		n += d.Len()
	}
	return n
}

// AddStakingLedger stores the staking ledger and memoizes its epoch.
func (s *IndexerState) AddStakingLedger(sl *StakingLedger) error {
	s.StakingLedgers[sl.Epoch] = sl.LedgerHash
	if s.Store != nil {
		return s.Store.AddStakingLedger(sl, sl.GenesisStateHash)
	}
	return nil
}
