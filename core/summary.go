package core

import "time"

// WitnessTreeSummary describes the in-memory forest.
type WitnessTreeSummary struct {
	BestTipHash         StateHash `json:"best_tip_hash"`
	BestTipLength       uint32    `json:"best_tip_length"`
	CanonicalRootHash   StateHash `json:"canonical_root_hash"`
	CanonicalRootLength uint32    `json:"canonical_root_length"`
	RootHash            StateHash `json:"root_hash"`
	RootHeight          uint32    `json:"root_height"`
	RootLength          uint32    `json:"root_length"`
	NumLeaves           uint32    `json:"num_leaves"`
	NumDangling         uint32    `json:"num_dangling"`
	MaxDanglingHeight   uint32    `json:"max_dangling_height"`
	MaxDanglingLength   uint32    `json:"max_dangling_length"`
}

// SummaryShort is the default status report.
type SummaryShort struct {
	Uptime          time.Duration      `json:"uptime"`
	BlocksProcessed uint32             `json:"blocks_processed"`
	BytesProcessed  uint64             `json:"bytes_processed"`
	WitnessTree     WitnessTreeSummary `json:"witness_tree"`
}

// SummaryVerbose adds the diff map and staking epoch detail.
type SummaryVerbose struct {
	SummaryShort
	NumDiffs          int      `json:"num_diffs"`
	StakingEpochs     []uint32 `json:"staking_epochs"`
	BestChainLength   int      `json:"best_chain_length"`
	DanglingRootHeights []uint32 `json:"dangling_root_heights,omitempty"`
}

// SummaryShort reports the indexer's current shape.
func (s *IndexerState) SummaryShort() SummaryShort {
	var maxDanglingHeight, maxDanglingLength uint32
	for _, d := range s.DanglingBranches {
		if h := d.Height(); h > maxDanglingHeight {
			maxDanglingHeight = h
		}
		if n := d.Len(); n > maxDanglingLength {
			maxDanglingLength = n
		}
	}
	return SummaryShort{
		Uptime:          time.Since(s.InitTime),
		BlocksProcessed: s.BlocksProcessed,
		BytesProcessed:  s.BytesProcessed,
		WitnessTree: WitnessTreeSummary{
			BestTipHash:         s.BestTipBlock().StateHash,
			BestTipLength:       s.BestTipBlock().Height,
			CanonicalRootHash:   s.CanonicalRootBlock().StateHash,
			CanonicalRootLength: s.CanonicalRootBlock().Height,
			RootHash:            s.RootBranch.RootBlock().StateHash,
			RootHeight:          s.RootBranch.Height(),
			RootLength:          s.RootBranch.Len(),
			NumLeaves:           uint32(len(s.RootBranch.Leaves())),
			NumDangling:         uint32(len(s.DanglingBranches)),
			MaxDanglingHeight:   maxDanglingHeight,
			MaxDanglingLength:   maxDanglingLength,
		},
	}
}

// SummaryVerbose reports the indexer's current shape in detail.
func (s *IndexerState) SummaryVerbose() SummaryVerbose {
	epochs := make([]uint32, 0, len(s.StakingLedgers))
	for epoch := range s.StakingLedgers {
		epochs = append(epochs, epoch)
	}
	var danglingRoots []uint32
	for _, d := range s.DanglingBranches {
		danglingRoots = append(danglingRoots, d.RootBlock().Height)
	}
	return SummaryVerbose{
		SummaryShort:        s.SummaryShort(),
		NumDiffs:            len(s.DiffsMap),
		StakingEpochs:       epochs,
		BestChainLength:     len(s.BestChain()),
		DanglingRootHeights: danglingRoots,
	}
}
