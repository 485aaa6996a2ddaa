package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ParsedBlockKind partitions the blocks of an ingestion directory.
type ParsedBlockKind int

const (
	// ParsedDeepCanonical blocks form the unique chain at least
	// canonical_threshold below the maximum input height; they bypass the
	// witness tree.
	ParsedDeepCanonical ParsedBlockKind = iota
	// ParsedRecent blocks go through the full witness tree pipeline.
	ParsedRecent
	// ParsedOrphaned blocks are off the canonical chain and below the
	// witness tree root; stored but never applied.
	ParsedOrphaned
)

// ParsedBlock is one block from the ingestion directory with its partition.
type ParsedBlock struct {
	Kind  ParsedBlockKind
	Block *PrecomputedBlock
	Bytes uint64
}

// BlockParser scans a directory of precomputed block files named
// <network>-<height>-<state_hash>.json, partitions them, and yields deep
// canonical blocks first, then recent, then orphaned, each in ascending
// height order.
type BlockParser struct {
	NumDeepCanonicalBlocks uint32
	TotalNumBlocks         uint32

	blocks []ParsedBlock
	next   int
}

// blockFileName extracts (height, state hash) from a block file name.
func blockFileName(name string) (uint32, StateHash, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return 0, "", false
	}
	height, err := strconv.ParseUint(parts[len(parts)-2], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(height), StateHash(parts[len(parts)-1]), true
}

// ParseBlockFile decodes one precomputed block file.
func ParseBlockFile(path string) (*PrecomputedBlock, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var pcb PrecomputedBlock
	if err := json.Unmarshal(data, &pcb); err != nil {
		return nil, 0, fmt.Errorf("malformed block %s: %w", filepath.Base(path), err)
	}
	if pcb.V1 == nil && pcb.V2 == nil {
		return nil, 0, fmt.Errorf("malformed block %s: no schema variant", filepath.Base(path))
	}
	return &pcb, uint64(len(data)), nil
}

// NewBlockParser reads every block file in dir and partitions the blocks
// into the deep canonical prefix, recent blocks, and orphans. Malformed
// files are logged and skipped.
func NewBlockParser(dir string, canonicalThreshold uint32) (*BlockParser, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read blocks dir: %w", err)
	}

	type loaded struct {
		block *PrecomputedBlock
		bytes uint64
	}
	byHash := make(map[StateHash]loaded)
	var all []loaded
	start := time.Now()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, _, ok := blockFileName(entry.Name()); !ok {
			continue
		}
		pcb, n, err := ParseBlockFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logrus.Warnf("Skipping %v", err)
			continue
		}
		if _, dup := byHash[pcb.StateHash()]; dup {
			continue
		}
		l := loaded{block: pcb, bytes: n}
		byHash[pcb.StateHash()] = l
		all = append(all, l)
	}
	if len(all) == 0 {
		return &BlockParser{}, nil
	}
	logrus.Debugf("Parsed %d block files in %s", len(all), time.Since(start))

	sort.Slice(all, func(i, j int) bool {
		if all[i].block.BlockchainLength() != all[j].block.BlockchainLength() {
			return all[i].block.BlockchainLength() < all[j].block.BlockchainLength()
		}
		return NewBlock(all[i].block).BetterThan(NewBlock(all[j].block))
	})
	maxHeight := all[len(all)-1].block.BlockchainLength()

	// walk back from the best block at the max height to find the unique
	// deep canonical chain
	var tip *PrecomputedBlock
	for _, l := range all {
		if l.block.BlockchainLength() != maxHeight {
			continue
		}
		if tip == nil || NewBlock(l.block).BetterThan(NewBlock(tip)) {
			tip = l.block
		}
	}

	onChain := make(map[StateHash]struct{})
	for cur := tip; cur != nil; {
		onChain[cur.StateHash()] = struct{}{}
		parent, ok := byHash[cur.PreviousStateHash()]
		if !ok {
			break
		}
		cur = parent.block
	}

	deepBound := uint32(0)
	if maxHeight > canonicalThreshold {
		deepBound = maxHeight - canonicalThreshold
	}

	p := &BlockParser{}
	var deep, recent, orphaned []ParsedBlock
	var deepRootHeight uint32
	for _, l := range all {
		h := l.block.BlockchainLength()
		_, canonical := onChain[l.block.StateHash()]
		switch {
		case canonical && h <= deepBound:
			deep = append(deep, ParsedBlock{Kind: ParsedDeepCanonical, Block: l.block, Bytes: l.bytes})
			if h > deepRootHeight {
				deepRootHeight = h
			}
		case !canonical && deepBound > 0 && h < deepBound:
			orphaned = append(orphaned, ParsedBlock{Kind: ParsedOrphaned, Block: l.block, Bytes: l.bytes})
		default:
			recent = append(recent, ParsedBlock{Kind: ParsedRecent, Block: l.block, Bytes: l.bytes})
		}
	}

	p.blocks = append(append(deep, recent...), orphaned...)
	p.NumDeepCanonicalBlocks = uint32(len(deep))
	p.TotalNumBlocks = uint32(len(p.blocks))
	return p, nil
}

// NextBlock yields the next partitioned block, nil when exhausted.
func (p *BlockParser) NextBlock() *ParsedBlock {
	if p.next >= len(p.blocks) {
		return nil
	}
	b := &p.blocks[p.next]
	p.next++
	return b
}

// InitializeWithCanonicalChainDiscovery ingests a block directory. The deep
// canonical prefix is applied straight-line, bypassing the witness tree:
// each block is persisted, its diff applied, snapshots taken at the ledger
// cadence, and canonicity records appended. The root branch materializes at
// the last deep canonical block; recent blocks then flow through the full
// pipeline and orphans are stored only.
func (s *IndexerState) InitializeWithCanonicalChainDiscovery(parser *BlockParser) error {
	logrus.Info("Initializing indexer with canonical chain blocks")
	start := time.Now()
	if parser.NumDeepCanonicalBlocks > s.ReportingFreq {
		logrus.Infof("Adding blocks to the witness tree, reporting every %d...", s.ReportingFreq)
	} else {
		logrus.Info("Adding blocks to the witness tree...")
	}

	var pending []*LedgerDiff
	for s.BlocksProcessed <= parser.NumDeepCanonicalBlocks {
		s.BlocksProcessed++
		s.reportProgress(start)

		parsed := parser.NextBlock()
		if parsed == nil || parsed.Kind != ParsedDeepCanonical {
			return fmt.Errorf("block unexpectedly missing")
		}
		block := parsed.Block
		s.BytesProcessed += parsed.Bytes

		diff := LedgerDiffFromPrecomputed(block)
		pending = append(pending, diff)

		// compute the ledger at the configured cadence
		atCadence := block.BlockchainLength()%s.LedgerCadence == 0
		if atCadence {
			for _, d := range pending {
				if err := s.Ledger.ApplyDiff(d); err != nil {
					return err
				}
			}
			pending = pending[:0]
		}

		// one atomic batch per deep canonical block
		if s.Store != nil {
			err := s.Store.WithBatch(func(b StoreBatch) error {
				if _, err := b.AddBlock(block, parsed.Bytes); err != nil {
					return err
				}
				if err := b.AddCommands(block); err != nil {
					return err
				}
				if err := b.AddSnarks(block); err != nil {
					return err
				}
				if err := b.SetBestBlock(block.StateHash(), block.BlockchainLength()); err != nil {
					return err
				}
				if err := b.AddCanonicalBlock(block.BlockchainLength(), block.GlobalSlot(), block.StateHash(), block.GenesisStateHash()); err != nil {
					return err
				}
				if atCadence {
					return b.AddLedger(block.StateHash(), block.BlockchainLength(), s.Ledger.Clone())
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		// the last deep canonical block roots the witness tree
		if s.BlocksProcessed > parser.NumDeepCanonicalBlocks {
			for _, d := range pending {
				if err := s.Ledger.ApplyDiff(d); err != nil {
					return err
				}
			}
			pending = pending[:0]
			s.RootBranch = NewBranch(block)
			tip := Tip{StateHash: block.StateHash(), NodeID: s.RootBranch.Root()}
			s.BestTip = tip
			s.CanonicalRoot = tip
			s.DiffsMap = map[StateHash]*LedgerDiff{block.StateHash(): diff}
		}
	}

	logrus.Info("Finished processing deep canonical chain")
	logrus.Info("Adding recent blocks to the witness tree and orphaned blocks to the block store")
	return s.AddBlocks(parser)
}

// AddBlocks runs the remaining parsed blocks through the pipeline.
func (s *IndexerState) AddBlocks(parser *BlockParser) error {
	start := time.Now()
	for {
		parsed := parser.NextBlock()
		if parsed == nil {
			logrus.Infof("Finished ingesting and applying %d blocks to the witness tree in %s",
				s.BlocksProcessed, time.Since(start).Round(time.Millisecond))
			return nil
		}
		switch parsed.Kind {
		case ParsedDeepCanonical, ParsedRecent:
			logrus.Infof("Adding block to witness tree %s", parsed.Block.Summary())
			if _, err := s.BlockPipeline(parsed.Block, parsed.Bytes); err != nil {
				return err
			}
		case ParsedOrphaned:
			logrus.Tracef("Adding orphaned block to store %s", parsed.Block.Summary())
			if err := s.AddBlockToStore(parsed.Block, parsed.Bytes); err != nil {
				return err
			}
		}
	}
}

func (s *IndexerState) reportProgress(start time.Time) {
	if s.ReportingFreq > 0 && s.BlocksProcessed%s.ReportingFreq == 0 {
		logrus.Infof("Processed %d blocks in %s", s.BlocksProcessed, time.Since(start).Round(time.Millisecond))
	}
}

// ParseStakingLedgerFile decodes one staking ledger file.
func ParseStakingLedgerFile(path string) (*StakingLedger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sl StakingLedger
	if err := json.Unmarshal(data, &sl); err != nil {
		return nil, fmt.Errorf("malformed staking ledger %s: %w", filepath.Base(path), err)
	}
	return &sl, nil
}

// AddStartupStakingLedgers parses every staking ledger in dir into the
// store and the epoch memo.
func (s *IndexerState) AddStartupStakingLedgers(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read staking ledgers: %w", err)
	}
	if len(entries) > 0 {
		logrus.Infof("Parsing staking ledgers in %s", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sl, err := ParseStakingLedgerFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logrus.Warnf("Skipping %v", err)
			continue
		}
		if err := s.AddStakingLedger(sl); err != nil {
			return err
		}
		logrus.Infof("Added staking ledger (epoch %d): %s", sl.Epoch, sl.LedgerHash)
	}
	return nil
}
