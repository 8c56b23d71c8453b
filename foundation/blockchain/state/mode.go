package state

import (
	"fmt"

	"github.com/ardanlabs/opledger/foundation/blockchain/chain"
)

// Mode represents what the background jobs are allowed to do with the
// ledger. Only one of block creation or replication can be on at a time.
type Mode int

// Set of management modes.
const (
	ModeNone Mode = iota
	ModeBlockCreation
	ModeReplication
)

// String implements the Stringer interface.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "NONE"
	case ModeBlockCreation:
		return "BLOCK_CREATION"
	case ModeReplication:
		return "REPLICATION"
	}
	return fmt.Sprintf("MODE(%d)", int(m))
}

// ParseMode converts the configuration value into a mode.
func ParseMode(v string) (Mode, error) {
	switch v {
	case "blocks", "BLOCK_CREATION":
		return ModeBlockCreation, nil
	case "replicate", "REPLICATION":
		return ModeReplication, nil
	case "none", "NONE", "":
		return ModeNone, nil
	}
	return ModeNone, fmt.Errorf("unknown mode %q", v)
}

// =============================================================================

// Mode returns the current management mode.
func (s *State) Mode() Mode {
	return s.snap.Load().mode
}

// IsBlockCreationOn reports if the block creation job may create blocks.
func (s *State) IsBlockCreationOn() bool {
	return s.Mode() == ModeBlockCreation
}

// IsReplicateOn reports if the replication job may pull blocks. A ledger
// without a replication url never replicates.
func (s *State) IsReplicateOn() bool {
	return s.Mode() == ModeReplication && s.replicateURL != ""
}

// SetBlockCreationOn turns block creation on when no mode is active, or off
// when block creation is the active mode. It reports if the mode changed.
func (s *State) SetBlockCreationOn(on bool) bool {
	return s.switchMode(ModeBlockCreation, on)
}

// SetReplicateOn turns replication on when no mode is active, or off when
// replication is the active mode. It reports if the mode changed.
func (s *State) SetReplicateOn(on bool) bool {
	return s.switchMode(ModeReplication, on)
}

func (s *State) switchMode(m Mode, on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	switch {
	case on && s.mode == ModeNone:
		s.mode = m
	case !on && s.mode == m:
		s.mode = ModeNone
	default:
		return false
	}

	s.evHandler("state: mode: %s", s.mode)

	return true
}

// =============================================================================

// Pause stops every write to the ledger until Resume is called. It reports
// false when the ledger was already paused.
func (s *State) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if s.paused {
		return false
	}
	s.paused = true

	s.evHandler("state: paused")

	return true
}

// Resume allows writes to the ledger again. It reports false when the
// ledger wasn't paused.
func (s *State) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if !s.paused {
		return false
	}
	s.paused = false

	s.evHandler("state: resumed")

	return true
}

// checkReady returns ErrNotReady when writes aren't allowed. Must be called
// with the lock held.
func (s *State) checkReady() error {
	if s.paused {
		return ErrNotReady
	}
	if s.head == nil || s.head.State() != chain.Open {
		return ErrNotReady
	}
	return nil
}
