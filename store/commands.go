package store

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/Granola-Team/mina-indexer-sub000/core"
)

// commandRecord is the stored form of an indexed user command.
type commandRecord struct {
	Command   core.UserCommandWithStatus `json:"command"`
	StateHash core.StateHash             `json:"state_hash"`
}

// addCommandsTxn indexes the block's user and zkapp commands by
// transaction hash and by participating public key inside txn.
func (s *IndexerStore) addCommandsTxn(txn *badger.Txn, pcb *core.PrecomputedBlock) error {
	height := pcb.BlockchainLength()
	stateHash := pcb.StateHash()
	for i, cmd := range pcb.UserCommands() {
		if cmd.TxnHash == "" {
			continue
		}
		data, err := json.Marshal(commandRecord{Command: cmd, StateHash: stateHash})
		if err != nil {
			return err
		}
		if err := txn.Set(key(prefixCmdByHash, []byte(cmd.TxnHash)), data); err != nil {
			return err
		}
		for _, pk := range commandKeys(cmd) {
			pkKey := key(prefixCmdByPK, []byte(pk), u32BE(height), u32BE(uint32(i)))
			if err := txn.Set(pkKey, []byte(cmd.TxnHash)); err != nil {
				return err
			}
		}
	}
	for i, zk := range pcb.ZkappCommands() {
		if zk.TxnHash == "" {
			continue
		}
		pkKey := key(prefixCmdByPK, []byte(zk.FeePayer), u32BE(height), u32BE(uint32(len(pcb.UserCommands())+i)))
		if err := txn.Set(pkKey, []byte(zk.TxnHash)); err != nil {
			return err
		}
	}
	return nil
}

// AddCommands indexes the block's commands in their own batch.
func (s *IndexerStore) AddCommands(pcb *core.PrecomputedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		return s.addCommandsTxn(txn, pcb)
	})
}

// commandKeys lists the distinct public keys a command touches.
func commandKeys(cmd core.UserCommandWithStatus) []core.PublicKey {
	seen := map[core.PublicKey]struct{}{cmd.Source: {}}
	out := []core.PublicKey{cmd.Source}
	for _, pk := range []core.PublicKey{cmd.Receiver, cmd.FeePayer} {
		if _, ok := seen[pk]; !ok {
			seen[pk] = struct{}{}
			out = append(out, pk)
		}
	}
	return out
}

// GetCommand returns a user command by transaction hash together with its
// containing block.
func (s *IndexerStore) GetCommand(txnHash string) (*core.UserCommandWithStatus, core.StateHash, error) {
	var rec commandRecord
	if err := s.get(key(prefixCmdByHash, []byte(txnHash)), &rec); err != nil {
		return nil, "", err
	}
	return &rec.Command, rec.StateHash, nil
}

// GetCommandsForPK lists transaction hashes touching the key within the
// height bounds; maxHeight zero means unbounded.
func (s *IndexerStore) GetCommandsForPK(pk core.PublicKey, minHeight, maxHeight uint32) ([]string, error) {
	var out []string
	prefix := key(prefixCmdByPK, []byte(pk))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(key(prefix, u32BE(minHeight))); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			if len(rest) < 4 {
				continue
			}
			height := fromU32BE(rest[:4])
			if maxHeight > 0 && height > maxHeight {
				return nil
			}
			err := it.Item().Value(func(val []byte) error {
				out = append(out, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// addSnarksTxn indexes the block's SNARK work entries by prover inside
// txn.
func (s *IndexerStore) addSnarksTxn(txn *badger.Txn, pcb *core.PrecomputedBlock) error {
	height := pcb.BlockchainLength()
	for i, snark := range pcb.SnarkWorks() {
		data, err := json.Marshal(snark)
		if err != nil {
			return err
		}
		snarkKey := key(prefixSnarkByPK, []byte(snark.Prover), u32BE(height), u32BE(uint32(i)))
		if err := txn.Set(snarkKey, data); err != nil {
			return err
		}
	}
	return nil
}

// AddSnarks indexes the block's SNARK work in its own batch.
func (s *IndexerStore) AddSnarks(pcb *core.PrecomputedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		return s.addSnarksTxn(txn, pcb)
	})
}

// GetSnarksForPK lists the prover's SNARK work across all blocks.
func (s *IndexerStore) GetSnarksForPK(pk core.PublicKey) ([]core.SnarkWork, error) {
	var out []core.SnarkWork
	prefix := key(prefixSnarkByPK, []byte(pk))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var snark core.SnarkWork
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snark)
			})
			if err != nil {
				return err
			}
			out = append(out, snark)
		}
		return nil
	})
	return out, err
}
