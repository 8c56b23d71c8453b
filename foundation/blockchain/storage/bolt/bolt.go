// Package bolt implements the ability to read and write the ledger to a
// single bbolt database file.
package bolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"go.etcd.io/bbolt"
)

// Set of buckets used by the store.
var (
	bucketOps         = []byte("ops")
	bucketOpsByHash   = []byte("ops_by_hash")
	bucketBlocks      = []byte("blocks")
	bucketSuperblocks = []byte("superblocks")
	bucketSBByHash    = []byte("superblocks_by_hash")
)

// Bolt represents the storage implementation for reading and storing the
// ledger in a bbolt database. This implements the database.Storage
// interface.
type Bolt struct {
	db *bbolt.DB
}

// New opens or creates the database file at the path.
func New(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketOps, bucketOpsByHash, bucketBlocks, bucketSuperblocks, bucketSBByHash} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

// Close releases the database file.
func (s *Bolt) Close() error {
	return s.db.Close()
}

// InsertOperation adds the operation to the pending operations.
func (s *Bolt) InsertOperation(op *database.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		byHash := tx.Bucket(bucketOpsByHash)
		hash := []byte(op.RawHash())

		if byHash.Get(hash) != nil {
			return nil
		}

		ops := tx.Bucket(bucketOps)
		seq, err := ops.NextSequence()
		if err != nil {
			return err
		}

		key := seqKey(seq)
		if err := ops.Put(key, data); err != nil {
			return err
		}

		return byHash.Put(hash, key)
	})
}

// InsertBlock stores the block and takes its operations out of the pending
// operations in one transaction.
func (s *Bolt) InsertBlock(b *database.Block) error {
	data, err := json.Marshal(database.NewBlockData(b))
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).Put([]byte(b.RawHash()), data); err != nil {
			return err
		}

		for _, op := range b.Operations() {
			if _, err := removePending(tx, op.RawHash()); err != nil {
				return err
			}
		}

		return nil
	})
}

// RemoveOperations removes the pending operations with the raw hashes and
// returns how many were removed.
func (s *Bolt) RemoveOperations(hashes []string) (int, error) {
	var n int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		n = 0
		for _, hash := range hashes {
			removed, err := removePending(tx, hash)
			if err != nil {
				return err
			}
			if removed {
				n++
			}
		}
		return nil
	})

	return n, err
}

// RemoveFullBlock removes the block.
func (s *Bolt) RemoveFullBlock(b *database.Block) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)
		hash := []byte(b.RawHash())

		if blocks.Get(hash) == nil {
			return fmt.Errorf("block %s: %w", b, database.ErrNotFound)
		}

		return blocks.Delete(hash)
	})
}

// SaveSuperblock records the superblock and stores any of its blocks that
// aren't stored yet.
func (s *Bolt) SaveSuperblock(sb database.Superblock) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		byHash := tx.Bucket(bucketSBByHash)
		if byHash.Get([]byte(sb.Hash)) != nil {
			return nil
		}

		blocks := tx.Bucket(bucketBlocks)
		for _, b := range sb.Blocks {
			hash := []byte(b.RawHash())
			if blocks.Get(hash) != nil {
				continue
			}

			data, err := json.Marshal(database.NewBlockData(b))
			if err != nil {
				return err
			}
			if err := blocks.Put(hash, data); err != nil {
				return err
			}
		}

		sbs := tx.Bucket(bucketSuperblocks)
		seq, err := sbs.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(database.NewSuperblockData(seq, sb))
		if err != nil {
			return err
		}

		key := seqKey(seq)
		if err := sbs.Put(key, data); err != nil {
			return err
		}

		return byHash.Put([]byte(sb.Hash), key)
	})
}

// LoadSuperblocks returns the recorded superblocks, oldest first.
func (s *Bolt) LoadSuperblocks() ([]database.Superblock, error) {
	var sbs []database.Superblock

	err := s.db.View(func(tx *bbolt.Tx) error {
		blocks := tx.Bucket(bucketBlocks)

		return tx.Bucket(bucketSuperblocks).ForEach(func(k, v []byte) error {
			var sbd database.SuperblockData
			if err := json.Unmarshal(v, &sbd); err != nil {
				return err
			}

			sb := database.Superblock{
				Hash:   sbd.Hash,
				Blocks: make([]*database.Block, 0, len(sbd.Blocks)),
			}

			for _, hash := range sbd.Blocks {
				data := blocks.Get([]byte(hash))
				if data == nil {
					return fmt.Errorf("superblock %s: block %s: %w", sbd.Hash, hash, database.ErrNotFound)
				}

				b, err := decodeBlock(data)
				if err != nil {
					return err
				}
				sb.Blocks = append(sb.Blocks, b)
			}

			sbs = append(sbs, sb)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return sbs, nil
}

// UnloadSuperblock removes the superblock record. The blocks are kept.
func (s *Bolt) UnloadSuperblock(hash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		byHash := tx.Bucket(bucketSBByHash)

		key := byHash.Get([]byte(hash))
		if key == nil {
			return fmt.Errorf("superblock %s: %w", hash, database.ErrNotFound)
		}

		if err := tx.Bucket(bucketSuperblocks).Delete(key); err != nil {
			return err
		}

		return byHash.Delete([]byte(hash))
	})
}

// Operations returns the pending operations in insertion order.
func (s *Bolt) Operations() ([]*database.Operation, error) {
	var ops []*database.Operation

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOps).ForEach(func(k, v []byte) error {
			var op database.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			ops = append(ops, &op)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return ops, nil
}

// Blocks returns every stored block ordered by block id.
func (s *Bolt) Blocks() ([]*database.Block, error) {
	var blocks []*database.Block

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, v []byte) error {
			b, err := decodeBlock(v)
			if err != nil {
				return err
			}
			blocks = append(blocks, b)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	database.SortBlocks(blocks)

	return blocks, nil
}

// =============================================================================

// seqKey encodes the sequence so the keys sort in insertion order.
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// removePending deletes the pending operation and reports if it existed.
func removePending(tx *bbolt.Tx, hash string) (bool, error) {
	byHash := tx.Bucket(bucketOpsByHash)

	key := byHash.Get([]byte(hash))
	if key == nil {
		return false, nil
	}

	if err := tx.Bucket(bucketOps).Delete(key); err != nil {
		return false, err
	}

	if err := byHash.Delete([]byte(hash)); err != nil {
		return false, err
	}

	return true, nil
}

// decodeBlock converts the stored block data into a sealed block.
func decodeBlock(data []byte) (*database.Block, error) {
	var bd database.BlockData
	if err := json.Unmarshal(data, &bd); err != nil {
		return nil, err
	}

	return database.ToBlock(bd), nil
}
