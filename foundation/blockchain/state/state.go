// Package state is the core API for the ledger and manages the lifecycle of
// the chain layers: the queue, the open superblock and the sealed
// superblocks below it.
package state

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/opledger/foundation/blockchain/chain"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
	"github.com/ardanlabs/opledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/opledger/foundation/blockchain/rules"
	"github.com/ardanlabs/opledger/foundation/blockchain/signature"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/time/rate"
)

// Set of errors returned by the state.
var (
	ErrNoOperations    = errors.New("no operations in queue")
	ErrNothingToRevert = errors.New("no blocks to revert")
	ErrNotReady        = errors.New("ledger is not ready")
	ErrNotRebased      = errors.New("block is not built on the last block")
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of the ledger.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for the background jobs.
type Worker interface {
	Shutdown()
	SignalCreateBlock()
}

// =============================================================================

// Config represents the configuration required to start the ledger.
type Config struct {
	Storage       database.Storage
	Genesis       genesis.Genesis
	ServerUser    string
	ServerKey     signature.KeyPair
	Signers       map[string]*secp256k1.PublicKey
	ReplicateURL  string
	ReplicateRate rate.Limit
	Mode          Mode
	Client        *http.Client
	EvHandler     EventHandler
}

// State manages the layers of the ledger and keeps storage in line with
// them.
type State struct {
	serverUser   string
	serverKey    signature.KeyPair
	replicateURL string
	genesis      genesis.Genesis
	rules        *rules.Rules
	storage      database.Storage
	client       *http.Client
	limiter      *rate.Limiter
	evHandler    EventHandler

	mu      sync.Mutex
	mode    Mode
	paused  bool
	layers  []*chain.Chain
	head    *chain.Chain
	orphans map[string]*database.Block
	snap    atomic.Pointer[view]

	Worker Worker
}

// New constructs the ledger and restores it from storage.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if err := cfg.Genesis.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	if cfg.ServerUser == "" || cfg.ServerKey.Private == nil {
		return nil, errors.New("server user and key are required")
	}

	r := rules.New(rules.Config{
		MaxBlockBytes: cfg.Genesis.MaxBlockBytes,
		MaxBlockOps:   cfg.Genesis.MaxBlockOps,
		AllowedTypes:  cfg.Genesis.AllowedTypes,
	})
	for name, pub := range cfg.Signers {
		r.TrustSigner(name, pub)
	}
	r.TrustSigner(cfg.ServerUser, cfg.ServerKey.Public)

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	limit := cfg.ReplicateRate
	if limit == 0 {
		limit = rate.Inf
	}

	s := State{
		serverUser:   cfg.ServerUser,
		serverKey:    cfg.ServerKey,
		replicateURL: cfg.ReplicateURL,
		genesis:      cfg.Genesis,
		rules:        r,
		storage:      cfg.Storage,
		client:       client,
		limiter:      rate.NewLimiter(limit, 1),
		evHandler:    ev,
		mode:         cfg.Mode,
	}

	if err := s.restore(); err != nil {
		return nil, err
	}
	s.publish()

	return &s, nil
}

// Shutdown cleanly brings the ledger down.
func (s *State) Shutdown() error {

	// Make sure the storage is properly closed.
	defer func() {
		s.storage.Close()
	}()

	// Stop all background writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}

// Rules returns the rules the ledger validates with.
func (s *State) Rules() *rules.Rules {
	return s.rules
}

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// =============================================================================

// restore rebuilds every layer from storage. Sealed superblocks are replayed
// first, the remaining blocks are chained onto them by previous hash and the
// pending operations become the queue. Blocks that don't chain are kept as
// orphans. Must be called with the lock held or during construction.
func (s *State) restore() error {
	s.evHandler("state: restore: started")
	defer s.evHandler("state: restore: completed")

	sbs, err := s.storage.LoadSuperblocks()
	if err != nil {
		return fmt.Errorf("load superblocks: %w", err)
	}

	// Merged superblocks are saved after the ones they replace. When the
	// replaced records are still there the larger superblock wins.
	sort.SliceStable(sbs, func(i, j int) bool {
		if a, b := firstBlockID(sbs[i]), firstBlockID(sbs[j]); a != b {
			return a < b
		}
		return len(sbs[i].Blocks) > len(sbs[j].Blocks)
	})

	var layers []*chain.Chain
	var parent *chain.Chain
	used := make(map[string]bool)

	for _, sb := range sbs {
		if len(sb.Blocks) == 0 || used[sb.Blocks[0].RawHash()] {
			s.evHandler("state: restore: WARNING: superblock %s: already covered", sb.Hash)
			continue
		}

		layer, err := s.replay(parent, sb.Blocks)
		if err != nil {
			return fmt.Errorf("superblock %s: %w", sb.Hash, err)
		}

		if hash := layer.SuperblockHash(); hash != sb.Hash {
			return fmt.Errorf("superblock %s: calculated hash %s", sb.Hash, hash)
		}

		if err := layer.Seal(); err != nil {
			return err
		}

		for _, b := range sb.Blocks {
			used[b.RawHash()] = true
		}

		layers = append(layers, layer)
		parent = layer
	}

	open := chain.New(parent, s.rules, chain.EventHandler(s.evHandler))
	layers = append(layers, open)

	stored, err := s.storage.Blocks()
	if err != nil {
		return fmt.Errorf("load blocks: %w", err)
	}

	loose := make(map[string]*database.Block)
	for _, b := range stored {
		if !used[b.RawHash()] {
			loose[b.RawHash()] = b
		}
	}

	for {
		var lastHash string
		if last := open.LastBlock(); last != nil {
			lastHash = last.Header.Hash
		}

		next := nextBlock(loose, lastHash)
		if next == nil {
			break
		}

		if err := open.ReplicateBlock(next); err != nil {
			s.evHandler("state: restore: WARNING: block %s: %s", next, err)
			break
		}
		delete(loose, next.RawHash())
	}

	for _, b := range loose {
		s.evHandler("state: restore: orphaned block %s", b)
	}

	s.layers = layers
	s.orphans = loose

	ops, err := s.storage.Operations()
	if err != nil {
		return fmt.Errorf("load operations: %w", err)
	}

	if _, err := s.rebuildHead(ops); err != nil {
		return err
	}

	return s.compactLocked()
}

// open returns the current open superblock layer.
func (s *State) open() *chain.Chain {
	return s.layers[len(s.layers)-1]
}

// sealed returns the sealed superblock layers, oldest first.
func (s *State) sealed() []*chain.Chain {
	return s.layers[:len(s.layers)-1]
}

// replay constructs a new layer on the parent holding the blocks.
func (s *State) replay(parent *chain.Chain, blocks []*database.Block) (*chain.Chain, error) {
	layer := chain.New(parent, s.rules, chain.EventHandler(s.evHandler))

	for _, b := range blocks {
		if err := layer.ReplicateBlock(b); err != nil {
			return nil, fmt.Errorf("replay block %s: %w", b, err)
		}
	}

	return layer, nil
}

// rebuildHead replaces the queue layer with a new one on top of the open
// superblock holding the operations. Operations that are no longer valid are
// dropped from the queue and from storage and their raw hashes returned.
func (s *State) rebuildHead(ops []*database.Operation) ([]string, error) {
	head := chain.New(s.open(), s.rules, chain.EventHandler(s.evHandler))

	var dropped []string
	for _, op := range ops {
		err := head.AddOperation(op)
		switch {
		case err == nil:
		case rules.IsRejection(err):
			s.evHandler("state: rebuildHead: WARNING: dropping op[%s]: %s", op, err)
			dropped = append(dropped, op.RawHash())
		default:
			return nil, fmt.Errorf("rebuild queue: %w", err)
		}
	}

	if len(dropped) > 0 {
		if _, err := s.storage.RemoveOperations(dropped); err != nil {
			return nil, fmt.Errorf("remove dropped operations: %w", err)
		}
	}

	s.head = head
	metrics.queueSize.Set(float64(len(head.Operations())))

	return dropped, nil
}

// rebuildIfBroken rebuilds the ledger from storage when a layer broke while
// the error was produced. The error is returned either way.
func (s *State) rebuildIfBroken(err error) error {
	if !errors.Is(err, chain.ErrBroken) {
		return err
	}

	s.evHandler("state: ERROR: %s: rebuilding from storage", err)
	metrics.rebuilds.Inc()

	if rerr := s.restore(); rerr != nil {
		return fmt.Errorf("%w: rebuild: %s", err, rerr)
	}

	return err
}

// =============================================================================

// nextBlock returns the loose block built on the previous hash. When more
// than one block claims the same previous block the lowest hash wins.
func nextBlock(loose map[string]*database.Block, prevHash string) *database.Block {
	var next *database.Block
	for _, b := range loose {
		if b.Header.PrevBlockHash != prevHash {
			continue
		}
		if next == nil || b.RawHash() < next.RawHash() {
			next = b
		}
	}
	return next
}

// firstBlockID returns the id of the first block of the superblock.
func firstBlockID(sb database.Superblock) int {
	if len(sb.Blocks) == 0 {
		return -1
	}
	return sb.Blocks[0].Header.BlockID
}
