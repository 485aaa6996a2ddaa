package store

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/Granola-Team/mina-indexer-sub000/core"
)

// addLedgerTxn snapshots the ledger keyed by the block's state hash and
// appends a NewLedger event inside txn. Snapshots are immutable once
// written; a duplicate is a quiet no-op.
func (s *IndexerStore) addLedgerTxn(txn *badger.Txn, stateHash core.StateHash, height uint32, ledger *core.Ledger) error {
	ledgerKey := key(prefixLedger, []byte(stateHash))
	if _, err := txn.Get(ledgerKey); err == nil {
		return nil
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	data, err := json.Marshal(ledger)
	if err != nil {
		return err
	}
	if err := txn.Set(ledgerKey, data); err != nil {
		return err
	}
	if err := s.appendEvent(txn, core.IndexerEvent{
		Kind:       core.EventNewLedger,
		Height:     height,
		StateHash:  stateHash,
		LedgerHash: ledger.Hash(),
	}); err != nil {
		return err
	}
	zap.L().Sugar().Debugf("Ledger snapshot stored at %s (length %d)", stateHash, height)
	return nil
}

// AddLedger snapshots the ledger in its own batch.
func (s *IndexerStore) AddLedger(stateHash core.StateHash, height uint32, ledger *core.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		return s.addLedgerTxn(txn, stateHash, height, ledger)
	})
}

// GetLedger returns the ledger snapshot at the block's state hash.
func (s *IndexerStore) GetLedger(stateHash core.StateHash) (*core.Ledger, error) {
	ledger := core.NewLedger()
	if err := s.get(key(prefixLedger, []byte(stateHash)), ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// AddStakingLedger persists the staking ledger by hash, indexes its
// (genesis, epoch), and appends NewStakingLedger and AggregateDelegations
// events.
func (s *IndexerStore) AddStakingLedger(ledger *core.StakingLedger, genesisStateHash core.StateHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(ledger)
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		hashKey := key(prefixStakingLedger, []byte(ledger.LedgerHash))
		if _, err := txn.Get(hashKey); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(hashKey, data); err != nil {
			return err
		}
		epochKey := key(prefixStakingEpoch, []byte(genesisStateHash), u32BE(ledger.Epoch), []byte(ledger.LedgerHash))
		if err := txn.Set(epochKey, nil); err != nil {
			return err
		}
		if err := s.appendEvent(txn, core.IndexerEvent{
			Kind:             core.EventNewStakingLedger,
			Epoch:            ledger.Epoch,
			GenesisStateHash: genesisStateHash,
			LedgerHash:       ledger.LedgerHash,
		}); err != nil {
			return err
		}
		return s.appendEvent(txn, core.IndexerEvent{
			Kind:             core.EventAggregateDelegations,
			Epoch:            ledger.Epoch,
			GenesisStateHash: genesisStateHash,
		})
	})
}

// GetStakingLedger returns the staking ledger by hash.
func (s *IndexerStore) GetStakingLedger(hash core.LedgerHash) (*core.StakingLedger, error) {
	var ledger core.StakingLedger
	if err := s.get(key(prefixStakingLedger, []byte(hash)), &ledger); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// GetStakingLedgerAtEpoch returns the staking ledger for the epoch.
func (s *IndexerStore) GetStakingLedgerAtEpoch(genesisStateHash core.StateHash, epoch uint32) (*core.StakingLedger, error) {
	var hash core.LedgerHash
	prefix := key(prefixStakingEpoch, []byte(genesisStateHash), u32BE(epoch))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(prefix)
		if it.ValidForPrefix(prefix) {
			k := it.Item().Key()
			hash = core.LedgerHash(k[len(prefix):])
			return nil
		}
		return core.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return s.GetStakingLedger(hash)
}

// StakingLedgerEpochs walks the (genesis, epoch, hash) index in order.
func (s *IndexerStore) StakingLedgerEpochs(fn func(genesisStateHash core.StateHash, epoch uint32, hash core.LedgerHash) (bool, error)) error {
	const genesisLen = len(core.MainnetGenesisHash)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixStakingEpoch
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefixStakingEpoch); it.ValidForPrefix(prefixStakingEpoch); it.Next() {
			rest := it.Item().Key()[len(prefixStakingEpoch):]
			if len(rest) < genesisLen+4 {
				continue
			}
			genesis := core.StateHash(rest[:genesisLen])
			epoch := fromU32BE(rest[genesisLen : genesisLen+4])
			hash := core.LedgerHash(rest[genesisLen+4:])
			cont, err := fn(genesis, epoch, hash)
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
