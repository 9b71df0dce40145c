// Package session implements the session slot and the fixed-size
// session pool: admission control, lazy orphan reclamation, and
// per-slot mutual exclusion (§3, §4.1).
package session

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/scidb-shim/shimgate/internal/engine"
	"github.com/scidb-shim/shimgate/internal/staging"
)

// State is the coarse slot lifecycle state (§3).
type State int

const (
	Available State = iota
	Unavailable
)

// SaveKind records whether execute wrapped the query in a save and,
// if so, which drain contract applies to the staged output.
type SaveKind int

const (
	SaveNone SaveKind = iota
	SaveBinary
	SaveText
)

// naID is the reserved id for an AVAILABLE slot; it is never generated
// because it falls outside the id charset.
const naID = "NA"

// Slot bundles one session's engine connections, staging buffers, and
// drain state (§3).
//
// ID and State are guarded by the owning Pool's lock, not mu: they are
// the two fields the pool's admission/lookup path reads and writes
// without ever touching slot I/O. Every other field is guarded by mu
// and is only ever touched by a goroutine that holds it — the slot
// lock half of the two-level hierarchy described in §9. The one
// exception is Executor.Cancel, which reads QueryID and Conn[1] without
// mu because ExecuteQuery holds mu while blocked in Complete.
type Slot struct {
	ID    string
	State State

	mu sync.Mutex

	Conn         [2]*engine.Client
	QueryID      engine.QueryID
	Buffers      *staging.Buffers
	DrainFD      *os.File
	DrainText    *bufio.Reader
	SaveKind     SaveKind
	LastActivity time.Time
}

// Lock acquires the slot's per-session lock.
func (s *Slot) Lock() { s.mu.Lock() }

// Unlock releases the slot's per-session lock.
func (s *Slot) Unlock() { s.mu.Unlock() }

// MarkBusy pushes LastActivity one week into the future so the reaper
// cannot reclaim this slot while a long call is in flight (§3, §9).
// The caller must hold the slot lock.
func (s *Slot) MarkBusy() {
	s.LastActivity = time.Now().Add(7 * 24 * time.Hour)
}

// MarkIdle resets LastActivity to now, making the slot reapable again
// after its timeout elapses. The caller must hold the slot lock.
func (s *Slot) MarkIdle() {
	s.LastActivity = time.Now()
}

// resetLocked clears every slot-local field back to its AVAILABLE
// zero value. The caller must hold the slot lock; ID/State are left
// untouched — the pool resets those under its own lock.
func (s *Slot) resetLocked() {
	s.Conn[0] = nil
	s.Conn[1] = nil
	s.QueryID = engine.QueryID{}
	s.Buffers = nil
	if s.DrainFD != nil {
		s.DrainFD.Close()
		s.DrainFD = nil
	}
	s.DrainText = nil
	s.SaveKind = SaveNone
	s.LastActivity = time.Time{}
}

// disconnectLocked closes both engine connections, ignoring errors —
// disconnect is best-effort during cleanup. The caller must hold the
// slot lock.
func (s *Slot) disconnectLocked() {
	for i := range s.Conn {
		if s.Conn[i] != nil {
			s.Conn[i].Close()
		}
	}
}

// cleanupLocked tears down engine connections, staging buffers, and
// drain descriptors, leaving the slot ready to be handed back to the
// pool as AVAILABLE. The caller must hold the slot lock.
func (s *Slot) cleanupLocked() {
	s.disconnectLocked()
	if s.Buffers != nil {
		s.Buffers.Cleanup()
	}
	s.resetLocked()
}
