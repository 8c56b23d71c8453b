package state

import (
	"github.com/ardanlabs/opledger/foundation/blockchain/chain"
	"github.com/ardanlabs/opledger/foundation/blockchain/database"
)

// QueryLimit is the default number of block headers returned by a listing.
const QueryLimit = 100

// Set of ledger states reported by Status.
const (
	StatusReady  = "READY"
	StatusLocked = "LOCKED"
	StatusError  = "ERROR"
)

// Status represents the management status of the ledger.
type Status struct {
	State         string         `json:"state"`
	Mode          string         `json:"mode"`
	ReplicateURL  string         `json:"replicate_url,omitempty"`
	QueueSize     int            `json:"queue_size"`
	LastBlockID   int            `json:"last_block_id"`
	LastBlockHash string         `json:"last_block_hash,omitempty"`
	Orphans       int            `json:"orphans"`
	Layers        []chain.Status `json:"layers"`
}

// QueryObject returns the current version of the object with the type and
// key, including the effects of queued operations.
func (s *State) QueryObject(typ string, key ...string) *database.Object {
	head, _ := s.current()
	return head.ObjectByName(typ, key...)
}

// QueryObjects returns the current version of every object of the type.
func (s *State) QueryObjects(typ string) []*database.Object {
	head, _ := s.current()
	return head.FetchAllObjects(typ)
}

// QueryOperation returns the queued or committed operation with the raw
// hash.
func (s *State) QueryOperation(rawHash string) *database.Operation {
	head, _ := s.current()
	return head.OperationByHash(rawHash)
}

// QueryBlockByHash returns the full block with the raw hash.
func (s *State) QueryBlockByHash(rawHash string) (database.BlockData, bool) {
	head, _ := s.current()

	b := head.BlockByHash(rawHash)
	if b == nil {
		return database.BlockData{}, false
	}

	return database.NewBlockData(b), true
}

// QueryBlocksFrom returns up to limit block headers, oldest first, starting
// with the block with the raw hash. An empty hash starts at the first block.
// When the hash isn't part of the ledger only the last block is returned so
// the caller can detect the conflict.
func (s *State) QueryBlocksFrom(from string, limit int) []database.BlockData {
	if limit <= 0 {
		limit = QueryLimit
	}

	_, layers := s.current()

	type entry struct {
		block *database.Block
		sb    string
	}

	var all []entry
	for _, l := range layers {
		sb := l.SuperblockHash()
		for _, b := range l.Blocks() {
			all = append(all, entry{block: b, sb: sb})
		}
	}

	if len(all) == 0 {
		return []database.BlockData{}
	}

	start := 0
	if from != "" {
		start = len(all) - 1
		for i, e := range all {
			if e.block.RawHash() == from {
				start = i
				break
			}
		}
	}

	end := min(start+limit, len(all))

	list := make([]database.BlockData, 0, end-start)
	for _, e := range all[start:end] {
		list = append(list, database.NewBlockHeaderData(e.block, e.sb))
	}

	return list
}

// Queue returns the queued operations in the order they will be put into
// blocks.
func (s *State) Queue() []*database.Operation {
	head, _ := s.current()
	return head.Operations()
}

// OrphanedBlocks returns the stored blocks that don't chain onto the
// ledger.
func (s *State) OrphanedBlocks() []*database.Block {
	return append([]*database.Block(nil), s.snap.Load().orphans...)
}

// Status returns the management status of the ledger.
func (s *State) Status() Status {
	v := s.snap.Load()

	st := Status{
		State:        StatusReady,
		Mode:         v.mode.String(),
		ReplicateURL: s.replicateURL,
		QueueSize:    len(v.head.Operations()),
		LastBlockID:  -1,
		Orphans:      len(v.orphans),
	}

	switch {
	case v.head.State() == chain.Broken:
		st.State = StatusError
	case v.paused:
		st.State = StatusLocked
	}

	if b := v.head.LastBlock(); b != nil {
		st.LastBlockID = b.Header.BlockID
		st.LastBlockHash = b.RawHash()
	}

	for _, l := range v.layers {
		st.Layers = append(st.Layers, l.Status())
	}

	return st
}

// =============================================================================

// view is what queries read. A new view replaces the old one once a
// mutation is done, so queries never wait on the lock.
type view struct {
	mode    Mode
	paused  bool
	head    *chain.Chain
	layers  []*chain.Chain
	orphans []*database.Block
}

// publish replaces the view with the current layers. Must be called with
// the lock held.
func (s *State) publish() {
	orphans := make([]*database.Block, 0, len(s.orphans))
	for _, b := range s.orphans {
		orphans = append(orphans, b)
	}
	database.SortBlocks(orphans)

	s.snap.Store(&view{
		mode:    s.mode,
		paused:  s.paused,
		head:    s.head,
		layers:  append([]*chain.Chain(nil), s.layers...),
		orphans: orphans,
	})
}

// current returns the queue layer and the superblock layers of the last
// published view.
func (s *State) current() (*chain.Chain, []*chain.Chain) {
	v := s.snap.Load()
	return v.head, v.layers
}
