package chain

import (
	"sort"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/index"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/patrickmn/go-cache"
)

// shapeAll is the cache query shape for all objects of a type.
const shapeAll = "all"

// cacheEntry is a cached query result and the generation it was built at.
type cacheEntry struct {
	gen  uint64
	objs []*database.Object
}

// Status represents the state of a layer for management.
type Status struct {
	State          string `json:"state"`
	QueueSize      int    `json:"queue_size"`
	Blocks         int    `json:"blocks"`
	SuperblockHash string `json:"superblock_hash,omitempty"`
	LastBlockID    int    `json:"last_block_id"`
	Ancestors      int    `json:"ancestors"`
}

// ObjectByName returns the current version of the object identified by the
// type and key, looking through the ancestors when this layer never wrote
// it. It returns nil when the object doesn't exist.
func (c *Chain) ObjectByName(typ string, key ...string) *database.Object {
	for l := c; l != nil; l = l.parent {
		l.mu.RLock()
		var obj *database.Object
		var found bool
		if idx, exists := l.indexes[typ]; exists {
			obj, found = idx.Get(key)
		}
		l.mu.RUnlock()

		if found {
			return obj
		}
	}

	return nil
}

// FetchAllObjects returns the current version of every object of the type
// ordered by key. Results are cached per layer until the type is written in
// this layer or any ancestor.
func (c *Chain) FetchAllObjects(typ string) []*database.Object {
	gen := c.generation(typ)
	key := typ + "|" + shapeAll

	if v, found := c.cache.Get(key); found {
		if e := v.(cacheEntry); e.gen == gen {
			return append([]*database.Object(nil), e.objs...)
		}
	}

	var layers []*Chain
	for l := c; l != nil; l = l.parent {
		layers = append(layers, l)
	}

	merged := make(map[string]*database.Object)
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]

		l.mu.RLock()
		if idx, exists := l.indexes[typ]; exists {
			idx.All(func(k []string, obj *database.Object) bool {
				merged[index.Key(k)] = obj
				return true
			})
		}
		l.mu.RUnlock()
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	objs := make([]*database.Object, len(keys))
	for i, k := range keys {
		objs[i] = merged[k]
	}

	c.cache.Set(key, cacheEntry{gen: gen, objs: objs}, cache.DefaultExpiration)

	return append([]*database.Object(nil), objs...)
}

// IsDeleted reports if the object version the reference points at was
// deleted in this layer or any ancestor.
func (c *Chain) IsDeleted(ref database.DeleteRef) bool {
	for l := c; l != nil; l = l.parent {
		l.mu.RLock()
		rec, exists := l.opsByHash[ref.Hash]
		deleted := exists && ref.Index >= 0 && ref.Index < len(rec.deleted) && rec.deleted[ref.Index]
		l.mu.RUnlock()

		if deleted {
			return true
		}
	}

	return false
}

// OperationByHash returns the operation with the raw hash if it was added to
// this layer or any ancestor.
func (c *Chain) OperationByHash(rawHash string) *database.Operation {
	op, _ := c.findOperation(rawHash)
	return op
}

// BlockByID returns the block with the id from this layer or its ancestors.
func (c *Chain) BlockByID(id int) *database.Block {
	for l := c; l != nil; l = l.parent {
		l.mu.RLock()
		b := l.localBlock(id)
		l.mu.RUnlock()

		if b != nil {
			return b
		}
	}

	return nil
}

// BlockByHash returns the block with the raw hash from this layer or its
// ancestors.
func (c *Chain) BlockByHash(rawHash string) *database.Block {
	for l := c; l != nil; l = l.parent {
		l.mu.RLock()
		var b *database.Block
		if depth, exists := l.blockDepth[rawHash]; exists {
			b = l.localBlock(depth)
		}
		l.mu.RUnlock()

		if b != nil {
			return b
		}
	}

	return nil
}

// BlockDepth returns the depth of the block with the raw hash or -1 when
// the block isn't part of the chain.
func (c *Chain) BlockDepth(rawHash string) int {
	for l := c; l != nil; l = l.parent {
		l.mu.RLock()
		depth, exists := l.blockDepth[rawHash]
		l.mu.RUnlock()

		if exists {
			return depth
		}
	}

	return -1
}

// LastBlock returns the most recent block of this layer or, when it has
// none, of the nearest ancestor with a block.
func (c *Chain) LastBlock() *database.Block {
	for l := c; l != nil; l = l.parent {
		l.mu.RLock()
		var b *database.Block
		if n := len(l.blocks); n > 0 {
			b = l.blocks[n-1]
		}
		l.mu.RUnlock()

		if b != nil {
			return b
		}
	}

	return nil
}

// LastBlockRawHash returns the raw hash of the last block or an empty
// string for an empty chain.
func (c *Chain) LastBlockRawHash() string {
	if b := c.LastBlock(); b != nil {
		return b.RawHash()
	}
	return ""
}

// Operations returns the queued operations of this layer in insertion order.
func (c *Chain) Operations() []*database.Operation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]*database.Operation(nil), c.queue...)
}

// Blocks returns the blocks committed in this layer, oldest first.
func (c *Chain) Blocks() []*database.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]*database.Block(nil), c.blocks...)
}

// SuperblockSize returns the number of blocks committed in this layer.
func (c *Chain) SuperblockSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.blocks)
}

// SuperblockHash returns the hash of the run of blocks in this layer.
func (c *Chain) SuperblockHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.blocks)
	if n == 0 {
		return ""
	}

	return rules.SuperblockHash(n, c.blocks[n-1].RawHash())
}

// Status returns the management status of the layer.
func (c *Chain) Status() Status {
	last := c.LastBlock()

	var ancestors int
	for l := c.parent; l != nil; l = l.parent {
		ancestors++
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		State:       c.state.String(),
		QueueSize:   len(c.queue),
		Blocks:      len(c.blocks),
		LastBlockID: -1,
		Ancestors:   ancestors,
	}

	if n := len(c.blocks); n > 0 {
		s.SuperblockHash = rules.SuperblockHash(n, c.blocks[n-1].RawHash())
	}
	if last != nil {
		s.LastBlockID = last.Header.BlockID
	}

	return s
}

// =============================================================================

// findOperation locates the operation with the raw hash in this layer or
// its ancestors.
func (c *Chain) findOperation(rawHash string) (*database.Operation, bool) {
	for l := c; l != nil; l = l.parent {
		l.mu.RLock()
		rec, exists := l.opsByHash[rawHash]
		l.mu.RUnlock()

		if exists {
			return rec.op, true
		}
	}

	return nil, false
}

// generation returns the sum of the write counters of the type across this
// layer and its ancestors.
func (c *Chain) generation(typ string) uint64 {
	var gen uint64
	for l := c; l != nil; l = l.parent {
		l.mu.RLock()
		gen += l.gens[typ]
		l.mu.RUnlock()
	}
	return gen
}

// localBlock returns the local block with the id. Must be called with the
// read lock held.
func (c *Chain) localBlock(id int) *database.Block {
	if len(c.blocks) == 0 {
		return nil
	}

	first := c.blocks[0].Header.BlockID
	if id < first || id-first >= len(c.blocks) {
		return nil
	}

	return c.blocks[id-first]
}
