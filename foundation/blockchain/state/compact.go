package state

import (
	"fmt"

	"github.com/ardanlabs/opledger/foundation/blockchain/chain"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// Compact seals the open superblock when it's full and merges the oldest
// sealed superblocks while there are more than the genesis allows.
func (s *State) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := s.checkReady(); err != nil {
		return err
	}

	return s.compactLocked()
}

// compactLocked performs the compaction. Must be called with the lock held.
func (s *State) compactLocked() error {
	open := s.open()

	if open.SuperblockSize() >= s.genesis.SuperblockSize {
		sb := database.Superblock{
			Hash:   open.SuperblockHash(),
			Blocks: open.Blocks(),
		}

		if err := s.storage.SaveSuperblock(sb); err != nil {
			return fmt.Errorf("save superblock %s: %w", sb.Hash, err)
		}

		if err := open.Seal(); err != nil {
			return s.rebuildIfBroken(err)
		}

		s.layers = append(s.layers, chain.New(open, s.rules, chain.EventHandler(s.evHandler)))

		if _, err := s.rebuildHead(s.head.Operations()); err != nil {
			return err
		}

		s.evHandler("state: compact: superblock[%s]: blocks[%d]: sealed", sb.Hash, len(sb.Blocks))
	}

	for len(s.sealed()) > s.genesis.MaxLayers {
		if err := s.mergeOldest(); err != nil {
			return err
		}
	}

	return nil
}

// mergeOldest replaces the two oldest sealed superblocks with one holding
// the blocks of both. The layers above are rebuilt on the merged layer.
func (s *State) mergeOldest() error {
	sealed := s.sealed()
	first, second := sealed[0], sealed[1]

	merged, err := s.replay(first.Parent(), append(first.Blocks(), second.Blocks()...))
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	if err := merged.Seal(); err != nil {
		return err
	}

	layers := []*chain.Chain{merged}
	parent := merged
	for _, l := range s.layers[2:] {
		layer, err := s.replay(parent, l.Blocks())
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}

		if l.State() == chain.Sealed {
			if err := layer.Seal(); err != nil {
				return err
			}
		}

		layers = append(layers, layer)
		parent = layer
	}

	sb := database.Superblock{
		Hash:   merged.SuperblockHash(),
		Blocks: merged.Blocks(),
	}

	// The merged record is saved first so a failure in between leaves
	// storage with records that still cover every block.
	if err := s.storage.SaveSuperblock(sb); err != nil {
		return fmt.Errorf("save superblock %s: %w", sb.Hash, err)
	}

	for _, l := range []*chain.Chain{first, second} {
		if err := s.storage.UnloadSuperblock(l.SuperblockHash()); err != nil {
			return fmt.Errorf("unload superblock %s: %w", l.SuperblockHash(), err)
		}
	}

	s.layers = layers

	if _, err := s.rebuildHead(s.head.Operations()); err != nil {
		return err
	}

	metrics.compactions.Inc()
	s.evHandler("state: compact: superblock[%s]: blocks[%d]: merged", sb.Hash, len(sb.Blocks))

	return nil
}
