// Package database provides the ledger entities: objects, operations and
// blocks, plus the storage behavior required to persist them.
package database

import "errors"

// ErrNotFound is returned by storage when a record doesn't exist.
var ErrNotFound = errors.New("not found")

// Storage interface represents the behavior required to be implemented by any
// package providing support for persisting the ledger. The chain itself never
// performs I/O; the state manager calls storage around chain mutations.
//
// Operations are pending until a block holding them is inserted. Blocks stay
// stored until they are removed, superblock records only group them.
type Storage interface {
	InsertOperation(op *Operation) error
	InsertBlock(b *Block) error
	RemoveOperations(hashes []string) (int, error)
	RemoveFullBlock(b *Block) error
	SaveSuperblock(sb Superblock) error
	LoadSuperblocks() ([]Superblock, error)
	UnloadSuperblock(hash string) error
	Operations() ([]*Operation, error)
	Blocks() ([]*Block, error)
	Close() error
}

// Superblock is a contiguous run of blocks addressed by a single hash. The
// blocks are ordered oldest first.
type Superblock struct {
	Hash   string
	Blocks []*Block
}

// SuperblockData is the serialized form of a superblock record. The blocks
// are referenced by raw hash and are stored on their own.
type SuperblockData struct {
	Seq    uint64   `json:"seq"`
	Hash   string   `json:"hash"`
	Blocks []string `json:"blocks"`
}

// NewSuperblockData constructs the serialized form of the superblock.
func NewSuperblockData(seq uint64, sb Superblock) SuperblockData {
	hashes := make([]string, len(sb.Blocks))
	for i, b := range sb.Blocks {
		hashes[i] = b.RawHash()
	}

	return SuperblockData{
		Seq:    seq,
		Hash:   sb.Hash,
		Blocks: hashes,
	}
}
