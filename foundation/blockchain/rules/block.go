package rules

import (
	"fmt"
	"time"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
)

// SuperblockHash returns the deterministic hash of a run of blocks from the
// number of blocks and the raw hash of the most recent one.
func SuperblockHash(size int, lastRawHash string) string {
	if size == 0 {
		return ""
	}
	return fmt.Sprintf("%08x", size) + lastRawHash
}

// CreateAndSignBlock assembles the operations into a new block on top of
// the previous block and signs it. The block is validated before it's
// returned and isn't sealed.
func (r *Rules) CreateAndSignBlock(v View, ops []*database.Operation, prev *database.Block, signer string, kp signature.KeyPair) (*database.Block, error) {
	if len(ops) == 0 {
		return nil, Reject(BlockEmpty, "block can't be created without operations")
	}

	header := database.BlockHeader{
		BlockID:  0,
		Version:  database.BlockVersion,
		Date:     r.now().UTC().Format(time.RFC3339),
		SignedBy: signer,
	}

	if prev != nil {
		header.BlockID = prev.Header.BlockID + 1
		header.PrevBlockHash = prev.Header.Hash
	}

	merkleHash, err := database.MerkleHash(ops)
	if err != nil {
		return nil, err
	}
	header.MerkleTreeHash = merkleHash

	b := database.NewBlock(header, ops)

	hash, err := b.CalculateHash()
	if err != nil {
		return nil, err
	}
	b.Header.Hash = hash

	payload, err := signature.HashBytes(hash)
	if err != nil {
		return nil, err
	}

	sig, err := signature.SignBase64(kp, payload, SigAlgo)
	if err != nil {
		return nil, err
	}
	b.Header.Signature = sig

	if err := r.ValidateBlock(v, b, prev); err != nil {
		return nil, err
	}

	return b, nil
}

// ValidateBlock checks the block is a valid successor of the previous block.
func (r *Rules) ValidateBlock(v View, b *database.Block, prev *database.Block) error {
	ops := b.Operations()

	if len(ops) == 0 {
		return Reject(BlockEmpty, "block %s has no operations", b)
	}

	if r.maxBlockOps > 0 && len(ops) > r.maxBlockOps {
		return Reject(BlockTooManyOps, "block %s has %d operations, max %d", b, len(ops), r.maxBlockOps)
	}

	if r.maxBlockBytes > 0 {
		var size int
		for _, op := range ops {
			size += op.Size()
		}
		if size > r.maxBlockBytes {
			return Reject(BlockTooBig, "block %s has %d bytes, max %d", b, size, r.maxBlockBytes)
		}
	}

	var expID int
	var expPrev string
	if prev != nil {
		expID = prev.Header.BlockID + 1
		expPrev = prev.Header.Hash
	}

	if b.Header.BlockID != expID {
		return Reject(BlockIDNotSequential, "block id %d, expected %d", b.Header.BlockID, expID)
	}

	if b.Header.PrevBlockHash != expPrev {
		return Reject(BlockPrevHash, "block %s previous hash %q, expected %q", b, b.Header.PrevBlockHash, expPrev)
	}

	merkleHash, err := database.MerkleHash(ops)
	if err != nil || merkleHash != b.Header.MerkleTreeHash {
		return Reject(BlockMerkleHash, "block %s merkle hash %q doesn't match %q", b, b.Header.MerkleTreeHash, merkleHash)
	}

	hash, err := b.CalculateHash()
	if err != nil || hash != b.Header.Hash {
		return Reject(BlockHashNotCorrect, "block hash %q doesn't match calculated %q", b.Header.Hash, hash)
	}

	pub, err := r.signerKey(v, b.Header.SignedBy, nil)
	if err != nil {
		return Reject(BlockSignatureFailed, "block %s: %s", b, err)
	}

	if err := verify(pub, b.Header.Hash, b.Header.Signature); err != nil {
		return Reject(BlockSignatureFailed, "block %s signed by %s: %s", b, b.Header.SignedBy, err)
	}

	return nil
}
