// Package memory implements the ability to read and write the ledger to
// memory using maps and slices.
package memory

import (
	"fmt"
	"sync"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// Memory represents the storage implementation for keeping the ledger in
// memory. This implements the database.Storage interface.
type Memory struct {
	mu          sync.RWMutex
	pending     []*database.Operation
	blocks      map[string]*database.Block
	superblocks []database.SuperblockData
	seq         uint64
}

// New constructs a Memory value for use.
func New() (*Memory, error) {
	return &Memory{
		blocks: make(map[string]*database.Block),
	}, nil
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// InsertOperation adds the operation to the pending operations.
func (m *Memory) InsertOperation(op *database.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingPosition(op.RawHash()) != -1 {
		return nil
	}

	m.pending = append(m.pending, op)

	return nil
}

// InsertBlock stores the block and takes its operations out of the pending
// operations.
func (m *Memory) InsertBlock(b *database.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[b.RawHash()] = b
	for _, op := range b.Operations() {
		m.removePending(op.RawHash())
	}

	return nil
}

// RemoveOperations removes the pending operations with the raw hashes and
// returns how many were removed.
func (m *Memory) RemoveOperations(hashes []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, hash := range hashes {
		if m.removePending(hash) {
			n++
		}
	}

	return n, nil
}

// RemoveFullBlock removes the block and its operations.
func (m *Memory) RemoveFullBlock(b *database.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := b.RawHash()
	if _, exists := m.blocks[hash]; !exists {
		return fmt.Errorf("block %s: %w", b, database.ErrNotFound)
	}

	delete(m.blocks, hash)

	return nil
}

// SaveSuperblock records the superblock. Saving a superblock that is already
// recorded does nothing.
func (m *Memory) SaveSuperblock(sb database.Superblock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sbd := range m.superblocks {
		if sbd.Hash == sb.Hash {
			return nil
		}
	}

	for _, b := range sb.Blocks {
		m.blocks[b.RawHash()] = b
	}

	m.seq++
	m.superblocks = append(m.superblocks, database.NewSuperblockData(m.seq, sb))

	return nil
}

// LoadSuperblocks returns the recorded superblocks, oldest first.
func (m *Memory) LoadSuperblocks() ([]database.Superblock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sbs := make([]database.Superblock, 0, len(m.superblocks))
	for _, sbd := range m.superblocks {
		sb := database.Superblock{
			Hash:   sbd.Hash,
			Blocks: make([]*database.Block, 0, len(sbd.Blocks)),
		}

		for _, hash := range sbd.Blocks {
			b, exists := m.blocks[hash]
			if !exists {
				return nil, fmt.Errorf("superblock %s: block %s: %w", sbd.Hash, hash, database.ErrNotFound)
			}
			sb.Blocks = append(sb.Blocks, b)
		}

		sbs = append(sbs, sb)
	}

	return sbs, nil
}

// UnloadSuperblock removes the superblock record. The blocks are kept.
func (m *Memory) UnloadSuperblock(hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sbd := range m.superblocks {
		if sbd.Hash == hash {
			m.superblocks = append(m.superblocks[:i:i], m.superblocks[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("superblock %s: %w", hash, database.ErrNotFound)
}

// Operations returns the pending operations in insertion order.
func (m *Memory) Operations() ([]*database.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*database.Operation(nil), m.pending...), nil
}

// Blocks returns every stored block ordered by block id.
func (m *Memory) Blocks() ([]*database.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blocks := make([]*database.Block, 0, len(m.blocks))
	for _, b := range m.blocks {
		blocks = append(blocks, b)
	}

	database.SortBlocks(blocks)

	return blocks, nil
}

// =============================================================================

// pendingPosition returns the position of the pending operation or -1.
func (m *Memory) pendingPosition(hash string) int {
	for i, op := range m.pending {
		if op.RawHash() == hash {
			return i
		}
	}
	return -1
}

// removePending removes the pending operation and reports if it existed.
func (m *Memory) removePending(hash string) bool {
	pos := m.pendingPosition(hash)
	if pos == -1 {
		return false
	}

	m.pending = append(m.pending[:pos:pos], m.pending[pos+1:]...)

	return true
}
