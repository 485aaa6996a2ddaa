package store

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/Granola-Team/mina-indexer-sub000/core"
)

// storeBatch funnels one ingestion step's writes into a single engine
// transaction. It only exists inside WithBatch.
type storeBatch struct {
	s   *IndexerStore
	txn *badger.Txn
}

var _ core.StoreBatch = (*storeBatch)(nil)

func (b *storeBatch) AddBlock(pcb *core.PrecomputedBlock, blockBytes uint64) (bool, error) {
	return b.s.addBlockTxn(b.txn, pcb, blockBytes)
}

func (b *storeBatch) AddCommands(pcb *core.PrecomputedBlock) error {
	return b.s.addCommandsTxn(b.txn, pcb)
}

func (b *storeBatch) AddSnarks(pcb *core.PrecomputedBlock) error {
	return b.s.addSnarksTxn(b.txn, pcb)
}

func (b *storeBatch) SetBestBlock(stateHash core.StateHash, height uint32) error {
	return b.s.setBestBlockTxn(b.txn, stateHash, height)
}

func (b *storeBatch) AddCanonicalBlock(height, globalSlot uint32, stateHash, genesisStateHash core.StateHash) error {
	return b.s.addCanonicalBlockTxn(b.txn, height, globalSlot, stateHash, genesisStateHash)
}

func (b *storeBatch) AddLedger(stateHash core.StateHash, height uint32, ledger *core.Ledger) error {
	return b.s.addLedgerTxn(b.txn, stateHash, height, ledger)
}

func (b *storeBatch) SetBlocksProcessed(blocks uint32, bytes uint64) error {
	return b.s.setBlocksProcessedTxn(b.txn, blocks, bytes)
}

// WithBatch runs fn against one atomic transaction. Every write fn issues
// through the batch commits together when fn returns nil; any error
// discards the whole batch and readers keep seeing the pre-batch state.
func (s *IndexerStore) WithBatch(fn func(core.StoreBatch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		return fn(&storeBatch{s: s, txn: txn})
	})
}
