package chain

import (
	"fmt"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
)

// CreateBlock seals all queued operations into a new block signed by the
// key pair, records the block in this layer and clears the queue.
func (c *Chain) CreateBlock(signer string, kp signature.KeyPair) (*database.Block, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.checkOpen(); err != nil {
		return nil, fmt.Errorf("create block: %w", err)
	}

	ops := c.Operations()
	prev := c.LastBlock()

	b, err := c.rules.CreateAndSignBlock(c, ops, prev, signer, kp)
	if err != nil {
		return nil, err
	}

	err = c.commit("CreateBlock", func() error {
		return c.applyBlock(b)
	})
	if err != nil {
		return nil, err
	}

	c.ev("chain: CreateBlock: blk[%s]: ops[%d]: created", b, len(ops))

	return b, nil
}

// ReplicateBlock validates the operations and header of a block that was
// signed elsewhere and appends it to the layer. The queue must be empty. On
// any rejection the operations already added are removed again so the
// layer is left unchanged.
func (c *Chain) ReplicateBlock(b *database.Block) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.checkOpen(); err != nil {
		return fmt.Errorf("replicate block %s: %w", b, err)
	}

	if len(c.Operations()) > 0 {
		return fmt.Errorf("replicate block %s: %w", b, ErrQueueNotEmpty)
	}

	b.Seal()

	var added int
	for _, op := range b.Operations() {
		p, err := c.validateOp(op)
		if err != nil {
			if rerr := c.rollback(added); rerr != nil {
				return rerr
			}
			return fmt.Errorf("replicate block %s: %w", b, err)
		}

		err = c.commit("ReplicateBlock", func() error {
			return c.applyOperation(op, p)
		})
		if err != nil {
			return err
		}
		added++
	}

	if err := c.rules.ValidateBlock(c, b, c.LastBlock()); err != nil {
		if rerr := c.rollback(added); rerr != nil {
			return rerr
		}
		return fmt.Errorf("replicate block %s: %w", b, err)
	}

	err := c.commit("ReplicateBlock", func() error {
		return c.applyBlock(b)
	})
	if err != nil {
		return err
	}

	c.ev("chain: ReplicateBlock: blk[%s]: ops[%d]: replicated", b, added)

	return nil
}

// RebaseOperations folds the committed blocks of a child layer into this
// layer. The child must be built directly on this layer's current last
// block and have an empty queue. The queue of this layer isn't touched. It
// returns false when the child wasn't built on this layer.
func (c *Chain) RebaseOperations(child *Chain) (bool, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.checkOpen(); err != nil {
		return false, fmt.Errorf("rebase: %w", err)
	}

	if child == nil || child.parent != c {
		return false, nil
	}

	child.wmu.Lock()
	defer child.wmu.Unlock()

	if child.State() == Broken {
		return false, fmt.Errorf("rebase child: %w", ErrBroken)
	}

	if len(child.Operations()) > 0 {
		return false, fmt.Errorf("rebase child: %w", ErrQueueNotEmpty)
	}

	blocks := child.Blocks()
	if len(blocks) > 0 {
		var lastHash string
		if last := c.LastBlock(); last != nil {
			lastHash = last.Header.Hash
		}

		if blocks[0].Header.PrevBlockHash != lastHash {
			return false, nil
		}
	}

	err := c.commit("RebaseOperations", func() error {
		c.blocks = append(c.blocks, blocks...)
		for hash, depth := range child.blockDepth {
			c.blockDepth[hash] = depth
		}

		if err := c.step("blocks"); err != nil {
			return err
		}

		for hash, rec := range child.opsByHash {
			existing, exists := c.opsByHash[hash]
			if !exists {
				c.opsByHash[hash] = &opRecord{
					op:      rec.op,
					deleted: append([]bool(nil), rec.deleted...),
					own:     rec.own,
				}
				continue
			}

			for i, d := range rec.deleted {
				if d && i < len(existing.deleted) {
					existing.deleted[i] = true
				}
			}
			existing.own = existing.own || rec.own
		}

		if err := c.step("deleted"); err != nil {
			return err
		}

		for typ, idx := range child.indexes {
			c.indexFor(typ).Absorb(idx)
			c.touch(typ)
		}

		return c.step("index")
	})
	if err != nil {
		return false, err
	}

	child.mu.Lock()
	child.state = Sealed
	child.mu.Unlock()

	c.ev("chain: RebaseOperations: blocks[%d]: rebased", len(blocks))

	return true, nil
}

// =============================================================================

// applyBlock records the block and moves the queue into it. Must be called
// with the write lock held.
func (c *Chain) applyBlock(b *database.Block) error {
	b.Seal()

	c.blocks = append(c.blocks, b)
	c.blockDepth[b.RawHash()] = b.Header.BlockID

	if err := c.step("block"); err != nil {
		return err
	}

	c.queue = nil

	return nil
}

// rollback removes the most recent operations from the queue.
func (c *Chain) rollback(n int) error {
	if n == 0 {
		return nil
	}

	return c.commit("rollback", func() error {
		for i := 0; i < n; i++ {
			if err := c.removeOperation(len(c.queue) - 1); err != nil {
				return err
			}
		}
		return nil
	})
}
