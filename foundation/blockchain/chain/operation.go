package chain

import (
	"fmt"
	"sort"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/index"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
)

// prepared holds what validation resolved for an operation so the commit
// doesn't need to look it up again.
type prepared struct {
	deleted    []*database.Object
	deletedOps []*database.Operation
	refs       map[string]*database.Object
}

// AddOperation validates the operation against this layer and its ancestors
// and adds it to the queue. A rejected operation returns a rules.Rejection
// and leaves the layer unchanged.
func (c *Chain) AddOperation(op *database.Operation) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.checkOpen(); err != nil {
		return fmt.Errorf("add operation %s: %w", op, err)
	}

	p, err := c.validateOp(op)
	if err != nil {
		c.ev("chain: AddOperation: op[%s]: rejected: %s", op, err)
		return err
	}

	err = c.commit("AddOperation", func() error {
		return c.applyOperation(op, p)
	})
	if err != nil {
		return err
	}

	c.ev("chain: AddOperation: op[%s]: queued", op)

	return nil
}

// ValidateOperation runs the validation pipeline without changing the layer.
func (c *Chain) ValidateOperation(op *database.Operation) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.checkOpen(); err != nil {
		return fmt.Errorf("validate operation %s: %w", op, err)
	}

	_, err := c.validateOp(op)
	return err
}

// RemoveDuplicateOperation removes a queued operation and reverts its effects
// so the layer is as if it was never added. It returns false when the
// operation isn't queued in this layer.
func (c *Chain) RemoveDuplicateOperation(op *database.Operation) (bool, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.checkOpen(); err != nil {
		return false, fmt.Errorf("remove operation %s: %w", op, err)
	}

	pos := c.queuePosition(op.RawHash())
	if pos == -1 {
		return false, nil
	}

	err := c.commit("RemoveDuplicateOperation", func() error {
		return c.removeOperation(pos)
	})
	if err != nil {
		return false, err
	}

	c.ev("chain: RemoveDuplicateOperation: op[%s]: removed", op)

	return true, nil
}

// RemoveAllQueueOperations removes every queued operation, newest first.
func (c *Chain) RemoveAllQueueOperations() (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.checkOpen(); err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}

	n := len(c.Operations())
	err := c.commit("RemoveAllQueueOperations", func() error {
		for i := len(c.queue) - 1; i >= 0; i-- {
			if err := c.removeOperation(i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

// RemoveQueueOperations removes the specified operations when they are the
// most recent operations of the queue. When other operations were queued
// after them ErrNotTail is returned and the layer is unchanged. Hashes that
// aren't queued are ignored.
func (c *Chain) RemoveQueueOperations(rawHashes []string) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.checkOpen(); err != nil {
		return 0, fmt.Errorf("remove operations: %w", err)
	}

	var positions []int
	for _, hash := range rawHashes {
		if pos := c.queuePosition(hash); pos != -1 {
			positions = append(positions, pos)
		}
	}
	if len(positions) == 0 {
		return 0, nil
	}

	sort.Sort(sort.Reverse(sort.IntSlice(positions)))

	size := len(c.Operations())
	for i, pos := range positions {
		if pos != size-1-i {
			return 0, ErrNotTail
		}
	}

	err := c.commit("RemoveQueueOperations", func() error {
		for _, pos := range positions {
			if err := c.removeOperation(pos); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(positions), nil
}

// =============================================================================

// validateOp runs the validation pipeline in its fixed order: duplicates,
// deleted objects, referenced objects and then the rules.
func (c *Chain) validateOp(op *database.Operation) (prepared, error) {
	hash := op.RawHash()
	if hash == "" {
		return prepared{}, rules.Reject(rules.OpHashNotCorrect, "operation of type %s has no hash", op.Type)
	}

	if _, exists := c.findOperation(hash); exists {
		return prepared{}, rules.Reject(rules.OpHashIsDuplicated, "operation %s is already in the chain", op)
	}

	p := prepared{
		refs: make(map[string]*database.Object),
	}

	seen := make(map[database.DeleteRef]bool)
	for _, ref := range op.Old {
		src, exists := c.findOperation(ref.Hash)
		if !exists || ref.Index < 0 || ref.Index >= len(src.New) {
			return prepared{}, rules.Reject(rules.DelObjNotFound, "operation %s deletes unknown object %s", op, ref)
		}

		if seen[ref] || c.IsDeleted(ref) {
			return prepared{}, rules.Reject(rules.DelObjDoubleDelete, "operation %s deletes object %s that is already deleted", op, ref)
		}
		seen[ref] = true

		p.deleted = append(p.deleted, src.New[ref.Index])
		p.deletedOps = append(p.deletedOps, src)
	}

	names := make([]string, 0, len(op.Ref))
	for name := range op.Ref {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		id := op.Ref[name]
		if len(id) < 2 {
			return prepared{}, rules.Reject(rules.RefObjNotFound, "operation %s reference %s has no type and key", op, name)
		}

		obj := c.ObjectByName(id[0], id[1:]...)
		if obj == nil {
			return prepared{}, rules.Reject(rules.RefObjNotFound, "operation %s reference %s %v not found", op, name, id)
		}
		p.refs[name] = obj
	}

	if err := c.rules.ValidateOp(c, op, p.deleted, p.refs); err != nil {
		return prepared{}, err
	}

	return p, nil
}

// applyOperation indexes a validated operation into the layer. Must be
// called with the write lock held.
func (c *Chain) applyOperation(op *database.Operation, p prepared) error {
	for _, obj := range op.New {
		id := obj.ID()
		if len(id) == 0 {
			continue
		}

		c.indexFor(id[0]).Put(id[1:], obj)
		c.touch(id[0])
	}

	if err := c.step("index"); err != nil {
		return err
	}

	for i, ref := range op.Old {
		rec, exists := c.opsByHash[ref.Hash]
		if !exists {
			src := p.deletedOps[i]
			rec = &opRecord{
				op:      src,
				deleted: make([]bool, len(src.New)),
			}
			c.opsByHash[ref.Hash] = rec
		}
		rec.deleted[ref.Index] = true
	}

	if err := c.step("deleted"); err != nil {
		return err
	}

	c.opsByHash[op.RawHash()] = &opRecord{
		op:      op,
		deleted: make([]bool, len(op.New)),
		own:     true,
	}
	c.queue = append(c.queue, op)
	op.Seal()

	return c.step("queue")
}

// removeOperation reverts the queued operation at the position. Must be
// called with the write lock held.
func (c *Chain) removeOperation(pos int) error {
	op := c.queue[pos]

	queue := make([]*database.Operation, 0, len(c.queue)-1)
	queue = append(queue, c.queue[:pos]...)
	c.queue = append(queue, c.queue[pos+1:]...)

	if err := c.step("queue"); err != nil {
		return err
	}

	hash := op.RawHash()
	if rec, exists := c.opsByHash[hash]; exists {
		switch {
		case rec.anyDeleted():
			rec.own = false
		default:
			delete(c.opsByHash, hash)
		}
	}

	for i := len(op.Old) - 1; i >= 0; i-- {
		ref := op.Old[i]

		rec, exists := c.opsByHash[ref.Hash]
		if !exists || ref.Index >= len(rec.deleted) {
			continue
		}

		rec.deleted[ref.Index] = false
		if !rec.own && !rec.anyDeleted() {
			delete(c.opsByHash, ref.Hash)
		}
	}

	if err := c.step("deleted"); err != nil {
		return err
	}

	for i := len(op.New) - 1; i >= 0; i-- {
		obj := op.New[i]
		id := obj.ID()
		if len(id) == 0 {
			continue
		}

		idx, exists := c.indexes[id[0]]
		if !exists {
			continue
		}

		idx.Remove(id[1:], obj)
		if idx.Len() == 0 {
			delete(c.indexes, id[0])
		}
		c.touch(id[0])
	}

	return c.step("index")
}

// indexFor returns the local index of the type, creating it on first write.
// Must be called with the write lock held.
func (c *Chain) indexFor(typ string) *index.Index {
	idx, exists := c.indexes[typ]
	if !exists {
		idx = index.New(typ)
		c.indexes[typ] = idx
	}
	return idx
}

// queuePosition returns the position of the operation in the local queue or
// -1 when it isn't queued.
func (c *Chain) queuePosition(rawHash string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i, op := range c.queue {
		if op.RawHash() == rawHash {
			return i
		}
	}
	return -1
}
