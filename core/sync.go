package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SyncFromDB rebuilds the witness tree from an existing store. The witness
// tree is rooted canonical_threshold blocks behind the persisted best tip;
// every stored block at or above that height is replayed through the
// witness tree. Returns the root height filter, zero when the store held no
// usable best tip event.
func (s *IndexerState) SyncFromDB() (uint32, error) {
	if s.Store == nil {
		return 0, fmt.Errorf("fatal sync error: no indexer store")
	}
	logrus.Debug("Looking for witness tree root block")

	_, bestHeight, err := s.Store.GetBestBlock()
	if err != nil && err != ErrNotFound {
		return 0, err
	}
	rootHeight := uint32(1)
	if bestHeight > s.CanonicalThreshold {
		rootHeight = bestHeight - s.CanonicalThreshold
	}

	// most recent NewBestTip event at the root height
	var rootHash StateHash
	err = s.Store.EventsBackward(func(e EventLogEntry) (bool, error) {
		if e.Event.Kind == EventNewBestTip && e.Event.Height == rootHeight {
			rootHash = e.Event.StateHash
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	minLengthFilter := uint32(0)
	if rootHash != "" {
		rootBlock, _, err := s.Store.GetBlock(rootHash)
		if err != nil {
			logrus.Fatalf("Fatal sync error: block missing from db %s", rootHash)
		}
		s.RootBranch = NewBranch(rootBlock)
		tip := Tip{StateHash: s.RootBranch.RootBlock().StateHash, NodeID: s.RootBranch.Root()}
		s.CanonicalRoot = tip
		s.BestTip = tip
		s.DiffsMap = map[StateHash]*LedgerDiff{
			rootHash: LedgerDiffFromPrecomputed(rootBlock),
		}
		logrus.Debugf("Witness tree root block (length %d): %s", rootHeight, rootHash)

		// ledger at the new root: nearest snapshot plus forward diffs
		ledger, err := s.ReconstructLedgerAtHeight(rootHeight)
		if err != nil {
			logrus.Fatalf("Fatal sync error: %v", err)
		}
		s.Ledger = ledger
		minLengthFilter = rootHeight
	}

	// replay stored blocks through the witness tree in ascending height
	// order; with no root event every block is replayed from height 1
	start := minLengthFilter
	if start == 0 {
		start = 1
	}
	var replay []*PrecomputedBlock
	err = s.Store.BlocksAtOrAboveHeight(start, func(height uint32, stateHash StateHash) (bool, error) {
		if rootHash != "" && stateHash == rootHash {
			return true, nil
		}
		block, _, err := s.Store.GetBlock(stateHash)
		if err != nil {
			logrus.Fatalf("Fatal sync error: block missing from db (length %d): %s", height, stateHash)
		}
		if height > 1 {
			replay = append(replay, block)
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	for _, block := range replay {
		logrus.Debugf("Sync: add block %s", block.Summary())
		if _, _, err := s.AddBlockToWitnessTree(block, false); err != nil {
			return 0, err
		}
	}
	// snapshots at these heights were persisted before the restart
	s.PendingSnapshots = nil

	// staking ledger epochs recorded in prior runs
	err = s.Store.StakingLedgerEpochs(func(genesis StateHash, epoch uint32, hash LedgerHash) (bool, error) {
		s.StakingLedgers[epoch] = hash
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	blocks, bytes, err := s.Store.GetBlocksProcessed()
	if err != nil && err != ErrNotFound {
		return 0, err
	}
	if blocks > 0 {
		s.BlocksProcessed = blocks
		s.BytesProcessed = bytes
	}
	return minLengthFilter, nil
}

// ReconstructLedgerAtHeight loads the greatest canonical ledger snapshot at
// or below the height and forward-applies the canonical diffs up to it.
func (s *IndexerState) ReconstructLedgerAtHeight(height uint32) (*Ledger, error) {
	var (
		ledger     *Ledger
		snapHeight uint32
	)
	for h := height; h >= 1; h-- {
		hash, err := s.Store.GetCanonicalHashAtHeight(h)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if l, err := s.Store.GetLedger(hash); err == nil {
			ledger = l
			snapHeight = h
			break
		} else if err != ErrNotFound {
			return nil, err
		}
	}
	if ledger == nil {
		// fall back to the genesis ledger snapshot
		l, err := s.Store.GetLedger(MainnetGenesisPrevStateHash)
		if err != nil {
			return nil, fmt.Errorf("ledger snapshot missing at or below height %d: %w", height, err)
		}
		ledger = l
	}

	for h := snapHeight + 1; h <= height; h++ {
		hash, err := s.Store.GetCanonicalHashAtHeight(h)
		if err != nil {
			return nil, fmt.Errorf("canonical hash missing at height %d: %w", h, err)
		}
		block, _, err := s.Store.GetBlock(hash)
		if err != nil {
			return nil, fmt.Errorf("canonical block missing at height %d: %w", h, err)
		}
		if err := ledger.ApplyDiff(LedgerDiffFromPrecomputed(block)); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

// ReplayEvents walks the event log in order and re-checks each event's
// contract against the store: referenced blocks, ledgers, canonicity
// records, and staking ledgers must be present and consistent. Replay is
// idempotent. Returns the highest canonical height seen.
func (s *IndexerState) ReplayEvents() (uint32, error) {
	if s.Store == nil {
		return 0, fmt.Errorf("replay requires a store")
	}
	var maxCanonical uint32
	err := s.Store.EventsForward(func(e EventLogEntry) (bool, error) {
		if err := s.replayEvent(e.Event); err != nil {
			logrus.Errorf("%v", err)
		}
		if e.Event.Kind == EventNewCanonicalBlock && e.Event.Height > maxCanonical {
			maxCanonical = e.Event.Height
		}
		return true, nil
	})
	s.PendingSnapshots = nil
	return maxCanonical, err
}

func (s *IndexerState) replayEvent(event IndexerEvent) error {
	summary := fmt.Sprintf("(length %d): %s", event.Height, event.StateHash)
	switch event.Kind {
	case EventNewBlock:
		logrus.Infof("Replaying db new block %s", summary)
		block, _, err := s.Store.GetBlock(event.StateHash)
		if err != nil {
			logrus.Fatalf("Fatal: block missing from store %s", summary)
		}
		s.assertBlockMatch(block, event, summary)
		_, _, err = s.AddBlockToWitnessTree(block, true)
		return err

	case EventNewBestTip:
		logrus.Infof("Replaying new best tip %s", summary)
		block, _, err := s.Store.GetBlock(event.StateHash)
		if err != nil {
			logrus.Fatalf("Fatal: block not in store %s", summary)
		}
		s.assertBlockMatch(block, event, summary)
		return nil

	case EventNewCanonicalBlock:
		logrus.Infof("Replay new canonical block %s", summary)
		hash, err := s.Store.GetCanonicalHashAtHeight(event.Height)
		if err != nil {
			logrus.Fatalf("Fatal: canonical block not in store %s", summary)
		}
		if hash != event.StateHash {
			logrus.Fatalf("Fatal: canonical hash mismatch at height %d: %s vs %s", event.Height, hash, event.StateHash)
		}
		block, _, err := s.Store.GetBlock(event.StateHash)
		if err != nil {
			logrus.Fatalf("Fatal: block not in store %s", summary)
		}
		s.assertBlockMatch(block, event, summary)
		return nil

	case EventNewLedger:
		logrus.Infof("Replaying new staged ledger %s %s", event.LedgerHash, summary)
		if _, err := s.Store.GetLedger(event.StateHash); err != nil {
			logrus.Fatalf("Fatal: staged ledger missing from store %s for block %s", event.LedgerHash, summary)
		}
		if _, _, err := s.Store.GetBlock(event.StateHash); err != nil {
			// the genesis ledger is keyed by the pre-genesis state hash,
			// which has no block of its own
			if event.Height != 0 && event.StateHash != MainnetGenesisPrevStateHash {
				logrus.Fatalf("Fatal: block missing from store %s", summary)
			}
		}
		return nil

	case EventNewStakingLedger:
		logrus.Infof("Replaying staking ledger (epoch %d): %s", event.Epoch, event.LedgerHash)
		s.StakingLedgers[event.Epoch] = event.LedgerHash
		sl, err := s.Store.GetStakingLedger(event.LedgerHash)
		if err != nil {
			logrus.Fatalf("Fatal: no staking ledger with hash %s in store", event.LedgerHash)
		}
		if sl.Epoch != event.Epoch {
			logrus.Fatalf("Fatal: staking ledger epoch mismatch: %d vs %d", sl.Epoch, event.Epoch)
		}
		return nil

	case EventAggregateDelegations:
		logrus.Infof("Replaying aggregate delegations epoch %d", event.Epoch)
		sl, err := s.Store.GetStakingLedgerAtEpoch(event.GenesisStateHash, event.Epoch)
		if err != nil {
			logrus.Fatalf("Fatal: no staking ledger epoch %d", event.Epoch)
		}
		if len(sl.AggregateDelegations()) == 0 && len(sl.Entries) > 0 {
			logrus.Fatalf("Fatal: aggregate delegations epoch %d", event.Epoch)
		}
		return nil

	default:
		return fmt.Errorf("unknown event log variant %d, skipping", event.Kind)
	}
}

func (s *IndexerState) assertBlockMatch(block *PrecomputedBlock, event IndexerEvent, summary string) {
	if block.StateHash() != event.StateHash || block.BlockchainLength() != event.Height {
		logrus.Fatalf("Fatal: stored block mismatch %s", summary)
	}
	height, err := s.Store.GetBlockHeight(event.StateHash)
	if err != nil || height != event.Height {
		logrus.Fatalf("Fatal: block height index mismatch %s", summary)
	}
}
