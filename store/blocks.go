package store

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Granola-Team/mina-indexer-sub000/core"
)

// blockRecord is the stored form of a precomputed block.
type blockRecord struct {
	Block *core.PrecomputedBlock `json:"block"`
	Bytes uint64                 `json:"bytes"`
}

// addBlockTxn writes the block, its height index entry, and a NewBlock
// event inside txn. Reports false if the block was already stored.
func (s *IndexerStore) addBlockTxn(txn *badger.Txn, pcb *core.PrecomputedBlock, blockBytes uint64) (bool, error) {
	stateHash := pcb.StateHash()
	blockKey := key(prefixBlock, []byte(stateHash))
	if _, err := txn.Get(blockKey); err == nil {
		return false, nil
	} else if err != badger.ErrKeyNotFound {
		return false, err
	}

	data, err := json.Marshal(blockRecord{Block: pcb, Bytes: blockBytes})
	if err != nil {
		return false, err
	}
	if err := txn.Set(blockKey, data); err != nil {
		return false, err
	}
	heightKey := key(prefixBlockHeight, u32BE(pcb.BlockchainLength()), []byte(stateHash))
	if err := txn.Set(heightKey, nil); err != nil {
		return false, err
	}
	if err := s.appendEvent(txn, core.IndexerEvent{
		Kind:      core.EventNewBlock,
		Height:    pcb.BlockchainLength(),
		StateHash: stateHash,
	}); err != nil {
		return false, err
	}
	zap.L().Sugar().Debugf("Block added %s", pcb.Summary())
	return true, nil
}

// AddBlock persists the block in its own batch. Ingestion steps that group
// further writes with the block go through WithBatch instead.
func (s *IndexerStore) AddBlock(pcb *core.PrecomputedBlock, blockBytes uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	isNew := false
	err := s.update(func(txn *badger.Txn) error {
		var err error
		isNew, err = s.addBlockTxn(txn, pcb, blockBytes)
		return err
	})
	if err != nil {
		return false, err
	}
	return isNew, nil
}

// GetBlock returns the stored block and its byte size.
func (s *IndexerStore) GetBlock(stateHash core.StateHash) (*core.PrecomputedBlock, uint64, error) {
	var rec blockRecord
	if err := s.get(key(prefixBlock, []byte(stateHash)), &rec); err != nil {
		return nil, 0, err
	}
	return rec.Block, rec.Bytes, nil
}

// GetBlockHeight returns the indexed height of the block.
func (s *IndexerStore) GetBlockHeight(stateHash core.StateHash) (uint32, error) {
	pcb, _, err := s.GetBlock(stateHash)
	if err != nil {
		return 0, err
	}
	return pcb.BlockchainLength(), nil
}

// BlocksAtHeight lists the state hashes indexed at the height.
func (s *IndexerStore) BlocksAtHeight(height uint32) ([]core.StateHash, error) {
	var out []core.StateHash
	prefix := key(prefixBlockHeight, u32BE(height))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().Key()
			out = append(out, core.StateHash(k[len(prefix):]))
		}
		return nil
	})
	return out, err
}

// BlocksAtOrAboveHeight walks the height index ascending from min. The
// callback returns false to stop.
func (s *IndexerStore) BlocksAtOrAboveHeight(min uint32, fn func(height uint32, stateHash core.StateHash) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixBlockHeight
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(key(prefixBlockHeight, u32BE(min))); it.ValidForPrefix(prefixBlockHeight); it.Next() {
			k := it.Item().Key()
			rest := k[len(prefixBlockHeight):]
			if len(rest) < 4 {
				return fmt.Errorf("malformed block height key")
			}
			cont, err := fn(fromU32BE(rest[:4]), core.StateHash(rest[4:]))
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// setBestBlockTxn records the best tip and appends a NewBestTip event
// inside txn.
func (s *IndexerStore) setBestBlockTxn(txn *badger.Txn, stateHash core.StateHash, height uint32) error {
	if err := txn.Set(keyBestBlock, []byte(stateHash)); err != nil {
		return err
	}
	return s.appendEvent(txn, core.IndexerEvent{
		Kind:      core.EventNewBestTip,
		Height:    height,
		StateHash: stateHash,
	})
}

// SetBestBlock records the best tip in its own batch.
func (s *IndexerStore) SetBestBlock(stateHash core.StateHash, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		return s.setBestBlockTxn(txn, stateHash, height)
	})
}

// GetBestBlock returns the recorded best tip hash and height.
func (s *IndexerStore) GetBestBlock() (core.StateHash, uint32, error) {
	var stateHash core.StateHash
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyBestBlock)
		if err == badger.ErrKeyNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			stateHash = core.StateHash(val)
			return nil
		})
	})
	if err != nil {
		return "", 0, err
	}
	height, err := s.GetBlockHeight(stateHash)
	if err != nil {
		return stateHash, 0, nil
	}
	return stateHash, height, nil
}

// addCanonicalBlockTxn appends the canonicity record and event inside txn.
func (s *IndexerStore) addCanonicalBlockTxn(txn *badger.Txn, height, globalSlot uint32, stateHash, genesisStateHash core.StateHash) error {
	val, err := json.Marshal(struct {
		StateHash        core.StateHash `json:"state_hash"`
		GenesisStateHash core.StateHash `json:"genesis_state_hash"`
		GlobalSlot       uint32         `json:"global_slot"`
	}{stateHash, genesisStateHash, globalSlot})
	if err != nil {
		return err
	}
	if err := txn.Set(key(prefixCanonicalHeight, u32BE(height)), val); err != nil {
		return err
	}
	return s.appendEvent(txn, core.IndexerEvent{
		Kind:             core.EventNewCanonicalBlock,
		Height:           height,
		StateHash:        stateHash,
		GenesisStateHash: genesisStateHash,
	})
}

// AddCanonicalBlock appends the canonicity record in its own batch.
func (s *IndexerStore) AddCanonicalBlock(height, globalSlot uint32, stateHash, genesisStateHash core.StateHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		return s.addCanonicalBlockTxn(txn, height, globalSlot, stateHash, genesisStateHash)
	})
}

// GetCanonicalHashAtHeight returns the canonical state hash at the height.
func (s *IndexerStore) GetCanonicalHashAtHeight(height uint32) (core.StateHash, error) {
	var rec struct {
		StateHash core.StateHash `json:"state_hash"`
	}
	if err := s.get(key(prefixCanonicalHeight, u32BE(height)), &rec); err != nil {
		return "", err
	}
	return rec.StateHash, nil
}

// MaxCanonicalHeight returns the highest canonical height, zero when no
// canonicity record exists.
func (s *IndexerStore) MaxCanonicalHeight() (uint32, error) {
	var max uint32
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefixCanonicalHeight
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(key(prefixCanonicalHeight, u32BE(^uint32(0))))
		if it.ValidForPrefix(prefixCanonicalHeight) {
			k := it.Item().Key()
			max = fromU32BE(k[len(prefixCanonicalHeight):])
		}
		return nil
	})
	return max, err
}
