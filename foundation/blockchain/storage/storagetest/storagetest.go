// Package storagetest provides the behavior checks every database.Storage
// implementation must pass.
package storagetest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/stretchr/testify/require"
)

// Factory opens an empty storage for one test.
type Factory func(t *testing.T) database.Storage

// Reopener closes the storage and opens it again over the same data.
type Reopener func(t *testing.T, s database.Storage) database.Storage

// Run executes the storage checks against the factory. When reopen is not
// nil the persistence checks are executed too.
func Run(t *testing.T, open Factory, reopen Reopener) {
	t.Run("operations", func(t *testing.T) { testOperations(t, open(t)) })
	t.Run("blocks", func(t *testing.T) { testBlocks(t, open(t)) })
	t.Run("superblocks", func(t *testing.T) { testSuperblocks(t, open(t)) })

	if reopen != nil {
		t.Run("reopen", func(t *testing.T) { testReopen(t, open(t), reopen) })
	}
}

// Operation constructs a hashed, unsigned operation creating one object.
func Operation(t *testing.T, key string) *database.Operation {
	t.Helper()

	op := database.NewOperation("user")
	obj := database.NewObject("user", key)
	require.NoError(t, obj.Set("name", key))
	require.NoError(t, op.AddNew(obj))

	hash, err := op.CalculateHash()
	require.NoError(t, err)
	op.Hash = hash

	return op
}

// Block constructs a hashed, unsigned block on top of prev.
func Block(t *testing.T, prev *database.Block, ops ...*database.Operation) *database.Block {
	t.Helper()

	header := database.BlockHeader{
		Version:  database.BlockVersion,
		Date:     "2024-01-01T00:00:00Z",
		SignedBy: "server",
	}
	if prev != nil {
		header.BlockID = prev.Header.BlockID + 1
		header.PrevBlockHash = prev.Header.Hash
	}

	merkleHash, err := database.MerkleHash(ops)
	require.NoError(t, err)
	header.MerkleTreeHash = merkleHash

	b := database.NewBlock(header, ops)
	hash, err := b.CalculateHash()
	require.NoError(t, err)
	b.Header.Hash = hash
	b.Seal()

	return b
}

// =============================================================================

func testOperations(t *testing.T, s database.Storage) {
	defer s.Close()

	var ops []*database.Operation
	for i := 0; i < 5; i++ {
		op := Operation(t, fmt.Sprintf("user%d", i))
		require.NoError(t, s.InsertOperation(op))
		ops = append(ops, op)
	}

	require.NoError(t, s.InsertOperation(ops[0]), "re-inserting should be a no-op")

	got, err := s.Operations()
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := range ops {
		require.Equal(t, ops[i].Hash, got[i].Hash, "should keep the insertion order")
	}

	n, err := s.RemoveOperations([]string{ops[1].RawHash(), ops[3].RawHash(), "unknown"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err = s.Operations()
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, ops[0].Hash, got[0].Hash)
	require.Equal(t, ops[2].Hash, got[1].Hash)
	require.Equal(t, ops[4].Hash, got[2].Hash)
	require.True(t, got[0].New[0].Equal(ops[0].New[0]))
}

func testBlocks(t *testing.T, s database.Storage) {
	defer s.Close()

	a, b, c := Operation(t, "a"), Operation(t, "b"), Operation(t, "c")
	for _, op := range []*database.Operation{a, b, c} {
		require.NoError(t, s.InsertOperation(op))
	}

	b0 := Block(t, nil, a, b)
	require.NoError(t, s.InsertBlock(b0))

	pending, err := s.Operations()
	require.NoError(t, err)
	require.Len(t, pending, 1, "block operations should leave the queue")
	require.Equal(t, c.Hash, pending[0].Hash)

	b1 := Block(t, b0, c)
	require.NoError(t, s.InsertBlock(b1))

	blocks, err := s.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, b0.Header.Hash, blocks[0].Header.Hash)
	require.Equal(t, b1.Header.Hash, blocks[1].Header.Hash)
	require.Equal(t, 2, blocks[0].OperationsCount())
	require.True(t, blocks[0].IsSealed())

	require.NoError(t, s.RemoveFullBlock(b1))
	require.True(t, errors.Is(s.RemoveFullBlock(b1), database.ErrNotFound))

	blocks, err = s.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func testSuperblocks(t *testing.T, s database.Storage) {
	defer s.Close()

	b0 := Block(t, nil, Operation(t, "a"))
	b1 := Block(t, b0, Operation(t, "b"))
	b2 := Block(t, b1, Operation(t, "c"))
	for _, b := range []*database.Block{b0, b1, b2} {
		require.NoError(t, s.InsertBlock(b))
	}

	first := database.Superblock{Hash: "00000002" + b1.RawHash(), Blocks: []*database.Block{b0, b1}}
	second := database.Superblock{Hash: "00000001" + b2.RawHash(), Blocks: []*database.Block{b2}}
	require.NoError(t, s.SaveSuperblock(first))
	require.NoError(t, s.SaveSuperblock(second))

	sbs, err := s.LoadSuperblocks()
	require.NoError(t, err)
	require.Len(t, sbs, 2)
	require.Equal(t, first.Hash, sbs[0].Hash, "should load oldest first")
	require.Len(t, sbs[0].Blocks, 2)
	require.Equal(t, b1.Header.Hash, sbs[0].Blocks[1].Header.Hash)

	require.NoError(t, s.UnloadSuperblock(second.Hash))
	require.True(t, errors.Is(s.UnloadSuperblock(second.Hash), database.ErrNotFound))

	sbs, err = s.LoadSuperblocks()
	require.NoError(t, err)
	require.Len(t, sbs, 1)

	blocks, err := s.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 3, "unloading should keep the blocks")
}

func testReopen(t *testing.T, s database.Storage, reopen Reopener) {
	a, b := Operation(t, "a"), Operation(t, "b")
	require.NoError(t, s.InsertOperation(a))
	require.NoError(t, s.InsertOperation(b))

	b0 := Block(t, nil, a)
	require.NoError(t, s.InsertBlock(b0))
	require.NoError(t, s.SaveSuperblock(database.Superblock{Hash: "00000001" + b0.RawHash(), Blocks: []*database.Block{b0}}))

	s = reopen(t, s)
	defer s.Close()

	pending, err := s.Operations()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, b.Hash, pending[0].Hash)

	sbs, err := s.LoadSuperblocks()
	require.NoError(t, err)
	require.Len(t, sbs, 1)
	require.Equal(t, b0.Header.Hash, sbs[0].Blocks[0].Header.Hash)
	require.Equal(t, a.Hash, sbs[0].Blocks[0].Operations()[0].Hash)

	// The hash must survive the round trip.
	hash, err := sbs[0].Blocks[0].Operations()[0].CalculateHash()
	require.NoError(t, err)
	require.Equal(t, a.Hash, hash)
}
