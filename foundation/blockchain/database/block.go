package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ardanlabs/opledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
)

// BlockVersion is the version written into newly created blocks.
const BlockVersion = 1

// ErrEmptyBlock is returned when a block would be created without operations.
var ErrEmptyBlock = errors.New("block has no operations")

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	BlockID        int    `json:"block_id"`            // Sequence number of the block, the first block is 0.
	Version        int    `json:"version"`             // Version of the block format.
	Date           string `json:"date"`                // UTC creation time in RFC3339 format.
	PrevBlockHash  string `json:"previous_block_hash"` // Full hash of the previous block, empty for the first.
	MerkleTreeHash string `json:"merkle_tree_hash"`    // Merkle root over the operation hashes.
	SignedBy       string `json:"signed_by"`           // Name of the signer.
	Signature      string `json:"signature,omitempty"` // Signature over the raw hash.
	Hash           string `json:"hash,omitempty"`      // Tagged hash of the header without hash and signature.
	Details        string `json:"details,omitempty"`   // Free form details.
	Extra          int64  `json:"extra,omitempty"`     // Free form extra value.
}

// Block represents a sealed group of operations batched together.
type Block struct {
	Header BlockHeader
	ops    []*Operation
	sealed bool
}

// NewBlock constructs an unsealed block with the specified operations.
func NewBlock(header BlockHeader, ops []*Operation) *Block {
	return &Block{
		Header: header,
		ops:    append([]*Operation(nil), ops...),
	}
}

// Operations returns the operations in the block.
func (b *Block) Operations() []*Operation {
	return append([]*Operation(nil), b.ops...)
}

// OperationsCount returns the number of operations in the block.
func (b *Block) OperationsCount() int {
	return len(b.ops)
}

// RawHash returns the hex digest part of the block hash.
func (b *Block) RawHash() string {
	return signature.RawHash(b.Header.Hash)
}

// CalculateHash returns the tagged sha256 hash of the header without the
// hash and signature fields.
func (b *Block) CalculateHash() (string, error) {
	h := b.Header
	h.Hash = ""
	h.Signature = ""

	data, err := json.Marshal(h)
	if err != nil {
		return "", err
	}

	return signature.Hash(data), nil
}

// CalculateMerkleHash returns the merkle root over the operation hashes.
func (b *Block) CalculateMerkleHash() (string, error) {
	return MerkleHash(b.ops)
}

// Seal makes the block and all of its operations immutable.
func (b *Block) Seal() {
	for _, op := range b.ops {
		op.Seal()
	}
	b.sealed = true
}

// IsSealed reports if the block is immutable.
func (b *Block) IsSealed() bool {
	return b.sealed
}

// String implements the Stringer interface for logging.
func (b *Block) String() string {
	return fmt.Sprintf("%d[%s]", b.Header.BlockID, b.RawHash())
}

// =============================================================================

// opLeaf adapts an operation hash for the merkle tree.
type opLeaf string

func (l opLeaf) Hash() ([]byte, error) {
	return signature.HashBytes(string(l))
}

func (l opLeaf) Equals(other opLeaf) bool {
	return l == other
}

// MerkleHash returns the merkle root over the hashes of the operations.
func MerkleHash(ops []*Operation) (string, error) {
	if len(ops) == 0 {
		return "", ErrEmptyBlock
	}

	leafs := make([]opLeaf, len(ops))
	for i, op := range ops {
		leafs[i] = opLeaf(op.Hash)
	}

	return merkle.RootHash(leafs)
}

// =============================================================================

// BlockData represents what is serialized to storage and over the network.
// Header only listings leave the operations out and fill in the transient
// superblock fields.
type BlockData struct {
	BlockHeader
	SuperblockHash string       `json:"superblock_hash,omitempty"`
	OperationsSize int          `json:"operations_size,omitempty"`
	Ops            []*Operation `json:"ops,omitempty"`
}

// NewBlockData constructs the full value to serialize.
func NewBlockData(b *Block) BlockData {
	return BlockData{
		BlockHeader:    b.Header,
		OperationsSize: len(b.ops),
		Ops:            b.Operations(),
	}
}

// NewBlockHeaderData constructs the header only value used in listings.
func NewBlockHeaderData(b *Block, superblockHash string) BlockData {
	return BlockData{
		BlockHeader:    b.Header,
		SuperblockHash: superblockHash,
		OperationsSize: len(b.ops),
	}
}

// ToBlock converts the block data into a sealed block.
func ToBlock(bd BlockData) *Block {
	b := NewBlock(bd.BlockHeader, bd.Ops)
	b.Seal()
	return b
}

// SortBlocks orders the blocks by block id and then by raw hash.
func SortBlocks(blocks []*Block) {
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Header.BlockID != blocks[j].Header.BlockID {
			return blocks[i].Header.BlockID < blocks[j].Header.BlockID
		}
		return blocks[i].RawHash() < blocks[j].RawHash()
	})
}
