// Package chain implements a layer of the ledger. A layer holds the queued
// operations, the committed blocks, the deletion bookkeeping and the object
// indexes for what changed relative to its parent layer. Reads fall through
// to the ancestors; writes are serialized per layer and applied atomically.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/index"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/patrickmn/go-cache"
)

// Set of errors returned for illegal use of a layer.
var (
	ErrNotOpen       = errors.New("chain layer is not open")
	ErrBroken        = errors.New("chain layer is broken")
	ErrQueueNotEmpty = errors.New("chain layer queue is not empty")
	ErrNotTail       = errors.New("operations are not at the tail of the queue")
)

// State represents the lock state of a layer.
type State int32

// Set of lock states. Broken is terminal.
const (
	Open State = iota
	Sealed
	Broken
)

// String implements the Stringer interface.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Sealed:
		return "sealed"
	case Broken:
		return "broken"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// EventHandler defines a function that is called when events occur in the
// processing of the layer.
type EventHandler func(v string, args ...any)

// Rules represents the schema checks the layer delegates to.
type Rules interface {
	ValidateOp(v rules.View, op *database.Operation, deleted []*database.Object, refs map[string]*database.Object) error
	CreateAndSignBlock(v rules.View, ops []*database.Operation, prev *database.Block, signer string, kp signature.KeyPair) (*database.Block, error)
	ValidateBlock(v rules.View, b *database.Block, prev *database.Block) error
}

// View is the read-only surface of a layer.
type View interface {
	rules.View
	BlockByID(id int) *database.Block
	BlockByHash(rawHash string) *database.Block
	BlockDepth(rawHash string) int
	LastBlock() *database.Block
	Operations() []*database.Operation
	IsDeleted(ref database.DeleteRef) bool
	FetchAllObjects(typ string) []*database.Object
}

var _ View = (*Chain)(nil)

// =============================================================================

// opRecord is the deletion bookkeeping for one operation. A layer keeps a
// record for every operation it added and for every ancestor operation whose
// objects it deleted. The deleted flags only hold what this layer deleted.
type opRecord struct {
	op      *database.Operation
	deleted []bool
	own     bool
}

func (r *opRecord) anyDeleted() bool {
	for _, d := range r.deleted {
		if d {
			return true
		}
	}
	return false
}

// Chain represents one layer of the ledger.
type Chain struct {
	parent *Chain
	rules  Rules
	ev     EventHandler

	wmu sync.Mutex

	mu         sync.RWMutex
	state      State
	queue      []*database.Operation
	blocks     []*database.Block
	blockDepth map[string]int
	opsByHash  map[string]*opRecord
	indexes    map[string]*index.Index
	gens       map[string]uint64

	cache *cache.Cache

	// hook is called between the steps of a commit. Only tests set it.
	hook func(step string) error
}

// New constructs a new open layer on top of the parent. A nil parent
// constructs a genesis layer.
func New(parent *Chain, rules Rules, ev EventHandler) *Chain {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	return &Chain{
		parent:     parent,
		rules:      rules,
		ev:         ev,
		state:      Open,
		blockDepth: make(map[string]int),
		opsByHash:  make(map[string]*opRecord),
		indexes:    make(map[string]*index.Index),
		gens:       make(map[string]uint64),
		cache:      cache.New(10*time.Minute, 20*time.Minute),
	}
}

// Parent returns the parent layer or nil for a genesis layer.
func (c *Chain) Parent() *Chain {
	return c.parent
}

// State returns the current lock state of the layer.
func (c *Chain) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Seal makes the layer immutable.
func (c *Chain) Seal() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Broken:
		return ErrBroken
	case Open:
		c.state = Sealed
	}

	return nil
}

// checkOpen returns an error if the layer can't be mutated.
func (c *Chain) checkOpen() error {
	switch c.State() {
	case Open:
		return nil
	case Broken:
		return ErrBroken
	}
	return ErrNotOpen
}

// commit runs the mutation under the write lock. Any error or panic inside
// the mutation leaves the layer broken.
func (c *Chain) commit(name string, fn func() error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		if err != nil {
			c.state = Broken
			c.ev("chain: %s: ERROR: layer is broken and must be rebuilt: %s", name, err)
			err = fmt.Errorf("%w: %s", ErrBroken, err)
		}
	}()

	return fn()
}

// step calls the test hook for the named step of a commit.
func (c *Chain) step(name string) error {
	if c.hook == nil {
		return nil
	}
	return c.hook(name)
}

// touch records a write to the object index of the type. Must be called
// with the write lock held.
func (c *Chain) touch(typ string) {
	c.gens[typ]++
	c.cache.Delete(typ + "|" + shapeAll)
}
