// Package worker implements the background jobs of the ledger: block
// creation, replication and compaction. Jobs are registered by kind and the
// node picks which kinds to run.
package worker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/opledger/foundation/blockchain/state"
)

// Set of job kinds provided by this package.
const (
	KindBlocks    = "blocks"
	KindReplicate = "replicate"
	KindCompact   = "compact"
)

// Factory constructs the operation a job runs in its own goroutine. The
// operation must return when the worker is shut down.
type Factory func(w *Worker) func()

var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: make(map[string]Factory),
}

// Register makes a job kind available to Run. A later registration for the
// same kind replaces the earlier one.
func Register(kind string, f Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.factories[kind] = f
}

// Kinds returns the registered job kinds in sorted order.
func Kinds() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	kinds := make([]string, 0, len(registry.factories))
	for kind := range registry.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	return kinds
}

func init() {
	Register(KindBlocks, func(w *Worker) func() { return w.blockOperations })
	Register(KindReplicate, func(w *Worker) func() { return w.replicateOperations })
	Register(KindCompact, func(w *Worker) func() { return w.compactOperations })
}

// =============================================================================

// Config represents the jobs to run and how often they run.
type Config struct {
	Jobs              []string
	BlockInterval     time.Duration
	ReplicateInterval time.Duration
	CompactInterval   time.Duration
}

// Worker manages the background jobs for the ledger.
type Worker struct {
	state       *state.State
	cfg         Config
	wg          sync.WaitGroup
	shut        chan struct{}
	createBlock chan bool
	evHandler   state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up the configured jobs.
func Run(st *state.State, cfg Config, evHandler state.EventHandler) (*Worker, error) {
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = 5 * time.Second
	}
	if cfg.ReplicateInterval <= 0 {
		cfg.ReplicateInterval = 15 * time.Second
	}
	if cfg.CompactInterval <= 0 {
		cfg.CompactInterval = time.Minute
	}

	w := Worker{
		state:       st,
		cfg:         cfg,
		shut:        make(chan struct{}),
		createBlock: make(chan bool, 1),
		evHandler:   evHandler,
	}

	// Resolve every job before any goroutine starts.
	operations := make([]func(), 0, len(cfg.Jobs))
	registry.mu.RLock()
	for _, kind := range cfg.Jobs {
		f, exists := registry.factories[kind]
		if !exists {
			registry.mu.RUnlock()
			return nil, fmt.Errorf("unknown job kind %q, registered %v", kind, Kinds())
		}
		operations = append(operations, f(&w))
	}
	registry.mu.RUnlock()

	// Register this worker with the state package.
	st.Worker = &w

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w, nil
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalCreateBlock starts a block creation. If there is already a signal
// pending in the channel, just return since a block will be created.
func (w *Worker) SignalCreateBlock() {
	select {
	case w.createBlock <- true:
		w.evHandler("worker: SignalCreateBlock: signaled")
	default:
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
