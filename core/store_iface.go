package core

import "errors"

// ErrNotFound is returned by store lookups that match nothing.
var ErrNotFound = errors.New("not found")

// StoreBatch groups the writes of one block-ingestion step. Every call
// lands in the same engine transaction: the batch commits as a whole when
// the WithBatch closure returns nil and is discarded otherwise, so readers
// see either the pre-batch or post-batch state, never anything between.
type StoreBatch interface {
	// AddBlock persists the block, its height index entry, and a NewBlock
	// event. It reports false if the block was already stored.
	AddBlock(pcb *PrecomputedBlock, blockBytes uint64) (bool, error)
	// AddCommands indexes the block's user and zkapp commands.
	AddCommands(pcb *PrecomputedBlock) error
	// AddSnarks indexes the block's SNARK work by prover.
	AddSnarks(pcb *PrecomputedBlock) error
	// SetBestBlock records the best tip and appends a NewBestTip event.
	SetBestBlock(stateHash StateHash, height uint32) error
	// AddCanonicalBlock appends the canonicity record and event.
	AddCanonicalBlock(height, globalSlot uint32, stateHash, genesisStateHash StateHash) error
	// AddLedger snapshots the ledger at the block and appends a NewLedger
	// event.
	AddLedger(stateHash StateHash, height uint32, ledger *Ledger) error
	// SetBlocksProcessed persists the ingestion counters.
	SetBlocksProcessed(blocks uint32, bytes uint64) error
}

// IndexerStore is the persistence contract the state driver runs against.
// The badger-backed implementation lives in the store package; the
// interface keeps the dependency pointing outward.
type IndexerStore interface {
	// WithBatch runs fn against a single atomic batch. All writes made
	// through the batch commit together or not at all.
	WithBatch(fn func(StoreBatch) error) error

	// AddBlock persists the block and its height index and appends a
	// NewBlock event. It reports false if the block was already stored.
	AddBlock(pcb *PrecomputedBlock, blockBytes uint64) (bool, error)
	// GetBlock returns the stored block and its byte size.
	GetBlock(stateHash StateHash) (*PrecomputedBlock, uint64, error)
	// GetBlockHeight returns the indexed height of the block.
	GetBlockHeight(stateHash StateHash) (uint32, error)
	// BlocksAtHeight lists state hashes indexed at the height.
	BlocksAtHeight(height uint32) ([]StateHash, error)
	// BlocksAtOrAboveHeight walks the height index in ascending order
	// starting at min. The callback returns false to stop.
	BlocksAtOrAboveHeight(min uint32, fn func(height uint32, stateHash StateHash) (bool, error)) error

	// SetBestBlock records the best tip and appends a NewBestTip event.
	SetBestBlock(stateHash StateHash, height uint32) error
	// GetBestBlock returns the recorded best tip.
	GetBestBlock() (StateHash, uint32, error)

	// AddCanonicalBlock appends the canonicity record and event.
	AddCanonicalBlock(height, globalSlot uint32, stateHash, genesisStateHash StateHash) error
	// GetCanonicalHashAtHeight returns the canonical state hash at height.
	GetCanonicalHashAtHeight(height uint32) (StateHash, error)
	// MaxCanonicalHeight returns the highest canonical height.
	MaxCanonicalHeight() (uint32, error)

	// AddLedger snapshots the ledger at the block and appends a NewLedger
	// event.
	AddLedger(stateHash StateHash, height uint32, ledger *Ledger) error
	// GetLedger returns the snapshot at the block's state hash.
	GetLedger(stateHash StateHash) (*Ledger, error)

	// AddStakingLedger persists the staking ledger and appends an event.
	AddStakingLedger(ledger *StakingLedger, genesisStateHash StateHash) error
	// GetStakingLedger returns the staking ledger by hash.
	GetStakingLedger(hash LedgerHash) (*StakingLedger, error)
	// GetStakingLedgerAtEpoch returns the staking ledger for the epoch.
	GetStakingLedgerAtEpoch(genesisStateHash StateHash, epoch uint32) (*StakingLedger, error)
	// StakingLedgerEpochs walks the (genesis, epoch, hash) index.
	StakingLedgerEpochs(fn func(genesisStateHash StateHash, epoch uint32, hash LedgerHash) (bool, error)) error

	// AddCommands indexes the block's user and zkapp commands by hash and
	// by public key.
	AddCommands(pcb *PrecomputedBlock) error
	// GetCommand returns a user command by transaction hash together with
	// its containing block.
	GetCommand(txnHash string) (*UserCommandWithStatus, StateHash, error)
	// GetCommandsForPK lists command hashes for the key within the height
	// bounds.
	GetCommandsForPK(pk PublicKey, minHeight, maxHeight uint32) ([]string, error)

	// AddSnarks indexes the block's SNARK work by prover.
	AddSnarks(pcb *PrecomputedBlock) error
	// GetSnarksForPK lists SNARK work by the prover.
	GetSnarksForPK(pk PublicKey) ([]SnarkWork, error)

	// NextSeqNum returns the next event log sequence number.
	NextSeqNum() (uint64, error)
	// EventsForward walks the event log in sequence order.
	EventsForward(fn func(EventLogEntry) (bool, error)) error
	// EventsBackward walks the event log in reverse sequence order.
	EventsBackward(fn func(EventLogEntry) (bool, error)) error

	// BlocksProcessed persists and recalls the ingestion counters.
	SetBlocksProcessed(blocks uint32, bytes uint64) error
	GetBlocksProcessed() (uint32, uint64, error)
}
