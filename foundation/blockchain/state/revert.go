package state

import (
	"fmt"

	"github.com/ardanlabs/opledger/foundation/blockchain/chain"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// RevertOneBlock removes the last block from the ledger and puts its
// operations back at the front of the queue. When the open superblock has
// no blocks the last sealed superblock is opened first.
func (s *State) RevertOneBlock() (*database.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := s.checkReady(); err != nil {
		return nil, err
	}

	if s.open().LastBlock() == nil {
		return nil, ErrNothingToRevert
	}

	layers := s.layers
	var unload string
	if s.open().SuperblockSize() == 0 {
		var err error
		if layers, unload, err = s.reopen(); err != nil {
			return nil, err
		}
	}

	open := layers[len(layers)-1]
	blocks := open.Blocks()
	last := blocks[len(blocks)-1]

	layer, err := s.replay(open.Parent(), blocks[:len(blocks)-1])
	if err != nil {
		return nil, fmt.Errorf("revert block %s: %w", last, err)
	}

	queue := append(last.Operations(), s.head.Operations()...)

	head, err := s.buildHead(layer, queue)
	if err != nil {
		return nil, fmt.Errorf("revert block %s: %w", last, err)
	}

	if err := s.persistRevert(unload, []*database.Block{last}, queue); err != nil {
		return nil, err
	}

	s.layers = replaceOpen(layers, layer)
	s.head = head

	metrics.reverts.WithLabelValues("block").Inc()
	metrics.queueSize.Set(float64(len(queue)))
	s.evHandler("state: RevertOneBlock: blk[%s]: reverted", last)

	return last, nil
}

// RevertSuperblock puts the operations of every block in the open
// superblock back into the queue. When the open superblock has no blocks
// the last sealed superblock is unloaded and becomes the open one.
func (s *State) RevertSuperblock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := s.checkReady(); err != nil {
		return err
	}

	open := s.open()

	if open.SuperblockSize() == 0 {
		layers, unload, err := s.reopen()
		if err != nil {
			return err
		}

		queue := s.head.Operations()
		head, err := s.buildHead(layers[len(layers)-1], queue)
		if err != nil {
			return fmt.Errorf("revert superblock: %w", err)
		}

		if err := s.persistRevert(unload, nil, queue); err != nil {
			return err
		}

		s.layers = layers
		s.head = head

		metrics.reverts.WithLabelValues("superblock").Inc()
		s.evHandler("state: unload superblock[%s]: opened", unload)
		return nil
	}

	blocks := open.Blocks()

	var queue []*database.Operation
	for _, b := range blocks {
		queue = append(queue, b.Operations()...)
	}
	queue = append(queue, s.head.Operations()...)

	layer := chain.New(open.Parent(), s.rules, chain.EventHandler(s.evHandler))

	head, err := s.buildHead(layer, queue)
	if err != nil {
		return fmt.Errorf("revert superblock: %w", err)
	}

	if err := s.persistRevert("", blocks, queue); err != nil {
		return err
	}

	s.layers = replaceOpen(s.layers, layer)
	s.head = head

	metrics.reverts.WithLabelValues("superblock").Inc()
	metrics.queueSize.Set(float64(len(queue)))
	s.evHandler("state: RevertSuperblock: blocks[%d]: reverted", len(blocks))

	return nil
}

// RemoveOrphanedBlock deletes a stored block that doesn't chain onto the
// ledger.
func (s *State) RemoveOrphanedBlock(rawHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	b, exists := s.orphans[rawHash]
	if !exists {
		return fmt.Errorf("orphaned block %s: %w", rawHash, database.ErrNotFound)
	}

	if err := s.storage.RemoveFullBlock(b); err != nil {
		return fmt.Errorf("remove block %s: %w", b, err)
	}

	delete(s.orphans, rawHash)
	s.evHandler("state: RemoveOrphanedBlock: blk[%s]: removed", b)

	return nil
}

// =============================================================================

// reopen returns the layers with the last sealed superblock replayed as
// the open one and the hash of the record to unload. Nothing is changed.
func (s *State) reopen() ([]*chain.Chain, string, error) {
	sealed := s.sealed()
	if len(sealed) == 0 {
		return nil, "", ErrNothingToRevert
	}

	last := sealed[len(sealed)-1]

	layer, err := s.replay(last.Parent(), last.Blocks())
	if err != nil {
		return nil, "", fmt.Errorf("unload superblock %s: %w", last.SuperblockHash(), err)
	}

	n := len(sealed) - 1
	layers := append(append([]*chain.Chain(nil), sealed[:n]...), layer)

	return layers, last.SuperblockHash(), nil
}

// persistRevert unloads the superblock record, removes the blocks newest
// first and rewrites the pending operations as the queue. When storage fails
// part way the layers are rebuilt from what storage holds. Must be called
// with the lock held and before the layers are swapped.
func (s *State) persistRevert(unload string, blocks []*database.Block, queue []*database.Operation) error {
	err := func() error {
		if unload != "" {
			if err := s.storage.UnloadSuperblock(unload); err != nil {
				return fmt.Errorf("unload superblock %s: %w", unload, err)
			}
		}

		for i := len(blocks) - 1; i >= 0; i-- {
			if err := s.storage.RemoveFullBlock(blocks[i]); err != nil {
				return fmt.Errorf("remove block %s: %w", blocks[i], err)
			}
		}

		if len(blocks) == 0 {
			return nil
		}
		return s.rewritePending(queue)
	}()

	if err == nil {
		return nil
	}

	s.evHandler("state: ERROR: %s: rebuilding from storage", err)
	metrics.rebuilds.Inc()

	if rerr := s.restore(); rerr != nil {
		return fmt.Errorf("%w: rebuild: %s", err, rerr)
	}

	return err
}

// replaceOpen returns a copy of the layers with the open layer replaced.
func replaceOpen(layers []*chain.Chain, open *chain.Chain) []*chain.Chain {
	n := len(layers) - 1
	return append(append([]*chain.Chain(nil), layers[:n]...), open)
}

// buildHead constructs a queue layer on the parent holding every operation.
// Any rejection fails the build.
func (s *State) buildHead(parent *chain.Chain, ops []*database.Operation) (*chain.Chain, error) {
	head := chain.New(parent, s.rules, chain.EventHandler(s.evHandler))

	for _, op := range ops {
		if err := head.AddOperation(op); err != nil {
			return nil, fmt.Errorf("requeue op %s: %w", op, err)
		}
	}

	return head, nil
}

// rewritePending replaces the pending operations in storage so they restore
// in the order of the queue.
func (s *State) rewritePending(queue []*database.Operation) error {
	if _, err := s.storage.RemoveOperations(rawHashes(s.head.Operations())); err != nil {
		return fmt.Errorf("rewrite queue: %w", err)
	}

	for _, op := range queue {
		if err := s.storage.InsertOperation(op); err != nil {
			return fmt.Errorf("rewrite queue: op %s: %w", op, err)
		}
	}

	return nil
}
