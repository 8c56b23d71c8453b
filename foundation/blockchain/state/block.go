package state

import (
	"encoding/json"
	"fmt"

	"github.com/ardanlabs/opledger/foundation/blockchain/chain"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
)

// CreateBlock picks the oldest queued operations that fit in a block, signs
// them into a new block on top of the last block and commits it.
func (s *State) CreateBlock() (*database.Block, error) {
	s.evHandler("state: CreateBlock: started")
	defer s.evHandler("state: CreateBlock: completed")

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := s.checkReady(); err != nil {
		return nil, err
	}

	ops, err := s.pickup(s.head.Operations())
	if err != nil {
		return nil, err
	}

	// The block is built in a sibling of the queue layer so the queue is
	// only touched once the block is committed.
	blc := chain.New(s.open(), s.rules, chain.EventHandler(s.evHandler))
	for _, op := range ops {
		if err := blc.AddOperation(op); err != nil {
			return nil, fmt.Errorf("pick op %s: %w", op, err)
		}
	}

	b, err := blc.CreateBlock(s.serverUser, s.serverKey)
	if err != nil {
		return nil, err
	}

	if err := s.commitBlock(blc, b); err != nil {
		return nil, err
	}

	for _, op := range ops {
		if _, err := s.head.RemoveDuplicateOperation(op); err != nil {
			return nil, s.rebuildIfBroken(err)
		}
	}

	metrics.blocksCreated.Inc()
	metrics.queueSize.Set(float64(len(s.head.Operations())))

	if err := s.compactLocked(); err != nil {
		return b, err
	}

	s.blockEvent(b)

	return b, nil
}

// ReplicateBlock validates a block that was signed elsewhere and commits it
// on top of the last block. Queued operations that the block includes or
// that conflict with it are dropped from the queue.
func (s *State) ReplicateBlock(b *database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := s.checkReady(); err != nil {
		return err
	}

	return s.replicateBlockLocked(b)
}

func (s *State) replicateBlockLocked(b *database.Block) error {
	blc := chain.New(s.open(), s.rules, chain.EventHandler(s.evHandler))
	if err := blc.ReplicateBlock(b); err != nil {
		return err
	}

	for _, op := range b.Operations() {
		if err := s.storage.InsertOperation(op); err != nil {
			return fmt.Errorf("store op %s: %w", op, err)
		}
	}

	if err := s.commitBlock(blc, b); err != nil {
		return err
	}

	// The queue was validated against the previous last block.
	if _, err := s.rebuildHead(s.head.Operations()); err != nil {
		return err
	}

	metrics.blocksPulled.Inc()

	if err := s.compactLocked(); err != nil {
		return err
	}

	s.blockEvent(b)

	return nil
}

// commitBlock stores the block and folds the layer holding it into the open
// superblock. Must be called with the lock held.
func (s *State) commitBlock(blc *chain.Chain, b *database.Block) error {
	if err := s.storage.InsertBlock(b); err != nil {
		return fmt.Errorf("store block %s: %w", b, err)
	}

	rebased, err := s.open().RebaseOperations(blc)
	if err != nil {
		return s.rebuildIfBroken(err)
	}

	if !rebased {
		if rerr := s.storage.RemoveFullBlock(b); rerr != nil {
			s.evHandler("state: commitBlock: WARNING: remove block %s: %s", b, rerr)
		}
		return fmt.Errorf("block %s: %w", b, ErrNotRebased)
	}

	return nil
}

// pickup returns the oldest queued operations that fit within the block
// limits. A non empty queue whose first operation doesn't fit is rejected.
func (s *State) pickup(queue []*database.Operation) ([]*database.Operation, error) {
	if len(queue) == 0 {
		return nil, ErrNoOperations
	}

	var size int
	var ops []*database.Operation
	for _, op := range queue {
		if len(ops) == s.genesis.MaxBlockOps {
			break
		}

		l := op.Size()
		if size+l > s.genesis.MaxBlockBytes {
			break
		}

		size += l
		ops = append(ops, op)
	}

	if len(ops) == 0 {
		return nil, rules.Reject(rules.BlockTooBig, "op %s of %d bytes doesn't fit in a block of %d bytes", queue[0], queue[0].Size(), s.genesis.MaxBlockBytes)
	}

	return ops, nil
}

// blockEvent sends the committed block to the viewers.
func (s *State) blockEvent(b *database.Block) {
	header, err := json.Marshal(b.Header)
	if err != nil {
		return
	}

	ops, err := json.Marshal(b.Operations())
	if err != nil {
		return
	}

	s.evHandler(`viewer: block: {"hash":%q,"header":%s,"ops":%s}`, b.RawHash(), string(header), string(ops))
}
