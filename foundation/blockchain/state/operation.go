package state

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/opledger/foundation/blockchain/chain"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
)

// AddOperation validates the operation against the ledger, adds it to the
// queue and stores it. A rejected operation returns a rules.Rejection.
func (s *State) AddOperation(op *database.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := s.checkReady(); err != nil {
		return err
	}

	if err := s.head.AddOperation(op); err != nil {
		if code := rules.Code(err); code != "" {
			metrics.opsRejected.WithLabelValues(string(code)).Inc()
		}
		return s.rebuildIfBroken(err)
	}

	if err := s.storage.InsertOperation(op); err != nil {
		if _, rerr := s.head.RemoveDuplicateOperation(op); rerr != nil {
			return s.rebuildIfBroken(rerr)
		}
		return fmt.Errorf("store operation %s: %w", op, err)
	}

	metrics.opsAdded.Inc()

	size := len(s.head.Operations())
	metrics.queueSize.Set(float64(size))

	// Wake up the block creation job when a full block is waiting.
	if s.Worker != nil && size >= s.genesis.MaxBlockOps {
		s.Worker.SignalCreateBlock()
	}

	return nil
}

// ValidateOperation runs the validation pipeline for the operation against
// the queue without adding it.
func (s *State) ValidateOperation(op *database.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if s.head == nil {
		return ErrNotReady
	}

	return s.head.ValidateOperation(op)
}

// ClearQueue removes every operation from the queue and from storage. It
// returns the number of operations removed.
func (s *State) ClearQueue() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := s.checkReady(); err != nil {
		return 0, err
	}

	ops := s.head.Operations()

	n, err := s.head.RemoveAllQueueOperations()
	if err != nil {
		return 0, s.rebuildIfBroken(err)
	}

	if _, err := s.storage.RemoveOperations(rawHashes(ops)); err != nil {
		return n, fmt.Errorf("remove operations: %w", err)
	}

	metrics.queueSize.Set(0)
	s.evHandler("state: ClearQueue: ops[%d]: removed", n)

	return n, nil
}

// RemoveQueueOperations removes the operations with the raw hashes from the
// queue. When they aren't the most recent operations the queue is rebuilt
// without them, which also drops the queued operations that depended on
// them. It returns the raw hashes of every operation removed.
func (s *State) RemoveQueueOperations(hashes []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := s.checkReady(); err != nil {
		return nil, err
	}

	remove := make(map[string]bool, len(hashes))
	for _, hash := range hashes {
		remove[hash] = true
	}

	queue := s.head.Operations()

	var deleted []string
	var keep []*database.Operation
	for _, op := range queue {
		if remove[op.RawHash()] {
			deleted = append(deleted, op.RawHash())
			continue
		}
		keep = append(keep, op)
	}

	if len(deleted) == 0 {
		return nil, nil
	}

	_, err := s.head.RemoveQueueOperations(deleted)
	switch {
	case err == nil:
		if _, err := s.storage.RemoveOperations(deleted); err != nil {
			return nil, fmt.Errorf("remove operations: %w", err)
		}

	case errors.Is(err, chain.ErrNotTail):
		s.evHandler("state: RemoveQueueOperations: rebuilding queue without ops[%d]", len(deleted))

		if _, err := s.storage.RemoveOperations(deleted); err != nil {
			return nil, fmt.Errorf("remove operations: %w", err)
		}

		dropped, err := s.rebuildHead(keep)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, dropped...)

	default:
		return nil, s.rebuildIfBroken(err)
	}

	metrics.queueSize.Set(float64(len(s.head.Operations())))
	s.evHandler("state: RemoveQueueOperations: ops[%d]: removed", len(deleted))

	return deleted, nil
}

// Bootstrap adds the bootstrap operations of the genesis to the queue.
// Operations without a signer are signed by the server. Operations that are
// already in the ledger are skipped. It returns the number of operations
// added.
func (s *State) Bootstrap() (int, error) {
	var added int

	for _, bop := range s.genesis.Bootstrap {
		op, err := bop.Clone()
		if err != nil {
			return added, err
		}

		if op.SignedBy == "" {
			if err := rules.SignOperation(op, s.serverUser, s.serverKey); err != nil {
				return added, fmt.Errorf("sign bootstrap op %s: %w", op.Type, err)
			}
		}

		err = s.AddOperation(op)
		switch {
		case err == nil:
			added++
		case rules.Code(err) == rules.OpHashIsDuplicated:
			s.evHandler("state: Bootstrap: op[%s]: already in the ledger", op)
		default:
			return added, fmt.Errorf("bootstrap op %s: %w", op, err)
		}
	}

	s.evHandler("state: Bootstrap: ops[%d]: added", added)

	return added, nil
}

// =============================================================================

// rawHashes returns the raw hashes of the operations.
func rawHashes(ops []*database.Operation) []string {
	hashes := make([]string, len(ops))
	for i, op := range ops {
		hashes[i] = op.RawHash()
	}
	return hashes
}
