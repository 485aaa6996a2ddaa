// Package store persists the indexer core against an ordered key-value
// engine. A single writer owns the writable handle; readers work from the
// engine's snapshots.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Granola-Team/mina-indexer-sub000/core"
)

// GitCommitSHA is stamped by the build.
var GitCommitSHA = "unknown"

// Version components of the store schema.
const (
	VersionMajor uint32 = 0
	VersionMinor uint32 = 1
	VersionPatch uint32 = 0
)

// ErrVersionMismatch is returned when an existing store was written by an
// incompatible schema version.
var ErrVersionMismatch = errors.New("store schema version mismatch")

// IndexerStoreVersion records the schema the store was written with.
type IndexerStoreVersion struct {
	Major        uint32 `json:"major"`
	Minor        uint32 `json:"minor"`
	Patch        uint32 `json:"patch"`
	GitCommitSHA string `json:"git_commit_sha"`
}

func (v IndexerStoreVersion) String() string {
	return fmt.Sprintf("%d.%d.%d-%s", v.Major, v.Minor, v.Patch, v.GitCommitSHA)
}

func currentVersion() IndexerStoreVersion {
	return IndexerStoreVersion{
		Major:        VersionMajor,
		Minor:        VersionMinor,
		Patch:        VersionPatch,
		GitCommitSHA: GitCommitSHA,
	}
}

// IndexerStore is the badger-backed implementation of core.IndexerStore.
type IndexerStore struct {
	db   *badger.DB
	path string

	mu      sync.Mutex
	nextSeq uint64
}

var _ core.IndexerStore = (*IndexerStore)(nil)

// Open opens (or creates) the store at path, verifying the schema version.
func Open(path string) (*IndexerStore, error) {
	logger := zap.L().Sugar()
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &IndexerStore{db: db, path: path}

	if err := s.checkVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadNextSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Infof("Indexer store opened at %s (version %s)", path, currentVersion())
	return s, nil
}

// Close flushes and closes the engine.
func (s *IndexerStore) Close() error {
	return s.db.Close()
}

// Path returns the store directory.
func (s *IndexerStore) Path() string { return s.path }

// checkVersion refuses to open a store written by an incompatible schema.
func (s *IndexerStore) checkVersion() error {
	logger := zap.L().Sugar()
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyDBVersion)
		if err == badger.ErrKeyNotFound {
			data, err := json.Marshal(currentVersion())
			if err != nil {
				return err
			}
			return txn.Set(keyDBVersion, data)
		}
		if err != nil {
			return err
		}
		var stored IndexerStoreVersion
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}
		if stored.Major != VersionMajor || stored.Minor != VersionMinor {
			logger.Errorf("store version %s, binary version %s", stored, currentVersion())
			return fmt.Errorf("%w: store %s, binary %s", ErrVersionMismatch, stored, currentVersion())
		}
		return nil
	})
}

// GetVersion returns the stored schema version.
func (s *IndexerStore) GetVersion() (IndexerStoreVersion, error) {
	var v IndexerStoreVersion
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyDBVersion)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
	})
	return v, err
}

// loadNextSeq scans the tail of the event log to resume the sequence.
func (s *IndexerStore) loadNextSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefixEventLog
		it := txn.NewIterator(opts)
		defer it.Close()

		// seek past the last possible event key
		it.Seek(key(prefixEventLog, u64BE(^uint64(0))))
		if it.ValidForPrefix(prefixEventLog) {
			k := it.Item().Key()
			s.nextSeq = fromU64BE(k[len(prefixEventLog):]) + 1
		}
		return nil
	})
}

// update runs one write transaction with the mutex held by the caller. A
// discarded transaction rolls the event sequence back so a failed batch
// leaves no gap.
func (s *IndexerStore) update(fn func(txn *badger.Txn) error) error {
	seq := s.nextSeq
	err := s.db.Update(fn)
	if err != nil {
		s.nextSeq = seq
	}
	return err
}

// get unmarshals the JSON value at k into v; core.ErrNotFound if absent.
func (s *IndexerStore) get(k []byte, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// appendEvent writes one event log record inside txn. Value layout: 4-byte
// big-endian context height (zero when inapplicable), 1-byte kind, JSON
// body. The prefix makes reverse scans cheap without deserializing bodies.
func (s *IndexerStore) appendEvent(txn *badger.Txn, event core.IndexerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	val := make([]byte, 0, 5+len(body))
	val = append(val, u32BE(event.Height)...)
	val = append(val, byte(event.Kind))
	val = append(val, body...)

	seq := s.nextSeq
	s.nextSeq++
	return txn.Set(key(prefixEventLog, u64BE(seq)), val)
}

// NextSeqNum returns the next event log sequence number.
func (s *IndexerStore) NextSeqNum() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq, nil
}

// EventsForward walks the event log in sequence order.
func (s *IndexerStore) EventsForward(fn func(core.EventLogEntry) (bool, error)) error {
	return s.iterateEvents(false, fn)
}

// EventsBackward walks the event log in reverse sequence order.
func (s *IndexerStore) EventsBackward(fn func(core.EventLogEntry) (bool, error)) error {
	return s.iterateEvents(true, fn)
}

func (s *IndexerStore) iterateEvents(reverse bool, fn func(core.EventLogEntry) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = reverse
		opts.Prefix = prefixEventLog
		it := txn.NewIterator(opts)
		defer it.Close()

		if reverse {
			it.Seek(key(prefixEventLog, u64BE(^uint64(0))))
		} else {
			it.Seek(prefixEventLog)
		}
		for ; it.ValidForPrefix(prefixEventLog); it.Next() {
			k := it.Item().Key()
			seq := fromU64BE(k[len(prefixEventLog):])
			var entry core.EventLogEntry
			err := it.Item().Value(func(val []byte) error {
				if len(val) < 5 {
					return fmt.Errorf("event log record %d too short", seq)
				}
				entry = core.EventLogEntry{Seq: seq}
				return json.Unmarshal(val[5:], &entry.Event)
			})
			if err != nil {
				return err
			}
			cont, err := fn(entry)
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

// setBlocksProcessedTxn persists the ingestion counters inside txn.
func (s *IndexerStore) setBlocksProcessedTxn(txn *badger.Txn, blocks uint32, bytes uint64) error {
	return txn.Set(keyBlocksProcessed, key(u32BE(blocks), u64BE(bytes)))
}

// SetBlocksProcessed persists the ingestion counters in their own batch.
func (s *IndexerStore) SetBlocksProcessed(blocks uint32, bytes uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(txn *badger.Txn) error {
		return s.setBlocksProcessedTxn(txn, blocks, bytes)
	})
}

// GetBlocksProcessed recalls the ingestion counters.
func (s *IndexerStore) GetBlocksProcessed() (uint32, uint64, error) {
	var blocks uint32
	var bytes uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyBlocksProcessed)
		if err == badger.ErrKeyNotFound {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 12 {
				return fmt.Errorf("bad blocks processed record")
			}
			blocks = fromU32BE(val[:4])
			bytes = fromU64BE(val[4:])
			return nil
		})
	})
	return blocks, bytes, err
}

// Checkpoint writes an atomic copy-on-write snapshot of the store into the
// target directory using the engine's backup stream.
func (s *IndexerStore) Checkpoint(dir string) (string, error) {
	logger := zap.L().Sugar()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Join(dir, fmt.Sprintf("checkpoint-%s.bak", uuid.New().String()))
	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	if _, err := s.db.Backup(f, 0); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	logger.Infof("Checkpoint written to %s", name)
	return name, nil
}
