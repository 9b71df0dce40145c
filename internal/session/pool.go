package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scidb-shim/shimgate/internal/engine"
	"github.com/scidb-shim/shimgate/internal/gwerr"
	"github.com/scidb-shim/shimgate/internal/staging"
)

const (
	idCharset = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength  = 32
)

// Dialer opens one authenticated engine connection. The pool calls it
// twice per acquisition — conn[0] for the primary query, conn[1] held
// in reserve for cancel.
type Dialer func(ctx context.Context, user, password string) (*engine.Client, error)

// Pool is the fixed-size array of session slots plus the global
// admission lock (§4.1).
type Pool struct {
	mu      sync.Mutex
	slots   []*Slot
	timeout time.Duration
	dial    Dialer
	tempDir string
}

// NewPool builds a pool of maxSessions AVAILABLE slots.
func NewPool(maxSessions int, timeout time.Duration, tempDir string, dial Dialer) *Pool {
	slots := make([]*Slot, maxSessions)
	for i := range slots {
		slots[i] = &Slot{ID: naID, State: Available}
	}
	return &Pool{slots: slots, timeout: timeout, dial: dial, tempDir: tempDir}
}

// Stats reports coarse pool occupancy for metrics.
type Stats struct {
	Total       int
	Available   int
	Unavailable int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{Total: len(p.slots)}
	for _, s := range p.slots {
		if s.State == Available {
			st.Available++
		} else {
			st.Unavailable++
		}
	}
	return st
}

// Acquire runs the allocation algorithm of §4.1: scan for an AVAILABLE
// slot; failing that, reap the first slot (in index order) whose idle
// age exceeds the timeout; failing that, report resource exhaustion. The returned slot is
// unlocked and fully connected with empty staging buffers.
func (p *Pool) Acquire(ctx context.Context, user, password string) (*Slot, error) {
	p.mu.Lock()
	slot, reaped := p.chooseSlotLocked()
	if slot == nil {
		p.mu.Unlock()
		return nil, gwerr.ErrOutOfResources
	}

	slot.mu.Lock()
	id, err := p.generateUniqueIDLocked()
	if err != nil {
		p.mu.Unlock()
		slot.mu.Unlock()
		return nil, fmt.Errorf("%w: generating session id: %v", gwerr.ErrInternal, err)
	}
	slot.ID = id
	slot.State = Unavailable
	p.mu.Unlock()

	ok := false
	defer func() {
		if !ok {
			slot.cleanupLocked()
			p.mu.Lock()
			slot.ID = naID
			slot.State = Available
			p.mu.Unlock()
		}
		slot.mu.Unlock()
	}()

	if reaped {
		slot.cleanupLocked()
	}

	buffers, err := staging.Create(p.tempDir)
	if err != nil {
		return nil, fmt.Errorf("%w: allocating staging buffers: %v", gwerr.ErrInternal, err)
	}
	slot.Buffers = buffers

	conn0, err := p.dial(ctx, user, password)
	if err != nil {
		return nil, classifyConnectError(err)
	}
	slot.Conn[0] = conn0

	conn1, err := p.dial(ctx, user, password)
	if err != nil {
		conn0.Close()
		return nil, classifyConnectError(err)
	}
	slot.Conn[1] = conn1

	slot.MarkIdle()
	ok = true
	return slot, nil
}

func classifyConnectError(err error) error {
	if errors.Is(err, engine.ErrAuthFailed) {
		return fmt.Errorf("%w: %v", gwerr.ErrAuthFailed, err)
	}
	return fmt.Errorf("%w: %v", gwerr.ErrConnectionFatal, err)
}

// chooseSlotLocked implements steps 2-4 of the §4.1 algorithm. The
// caller must hold p.mu. reaped reports whether the returned slot was
// reclaimed from an orphaned occupant rather than already AVAILABLE.
func (p *Pool) chooseSlotLocked() (slot *Slot, reaped bool) {
	for _, s := range p.slots {
		if s.State == Available {
			return s, false
		}
	}
	now := time.Now()
	for _, s := range p.slots {
		if now.Sub(s.LastActivity) > p.timeout {
			return s, true
		}
	}
	return nil, false
}

// generateUniqueIDLocked draws ids until one does not collide with any
// currently UNAVAILABLE slot. The caller must hold p.mu.
func (p *Pool) generateUniqueIDLocked() (string, error) {
	for {
		id, err := randomID()
		if err != nil {
			return "", err
		}
		collision := false
		for _, s := range p.slots {
			if s.State == Unavailable && s.ID == id {
				collision = true
				break
			}
		}
		if !collision {
			return id, nil
		}
	}
}

func randomID() (string, error) {
	raw := make([]byte, idLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, idLength)
	for i, b := range raw {
		out[i] = idCharset[int(b)%len(idCharset)]
	}
	return string(out), nil
}

// Find looks up a slot by id. It only returns slots in state
// UNAVAILABLE — an AVAILABLE slot's id is always "NA" and can never
// match a real lookup.
func (p *Pool) Find(id string) (*Slot, bool) {
	if id == "" || id == naID {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.State == Unavailable && s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Release disconnects both engine connections, cleans the slot's
// staging buffers, and returns it to AVAILABLE. The caller must
// already hold the slot lock (every executor operation does); Release
// itself takes the pool lock only for the final state flip and leaves
// the slot lock held — the caller unlocks it afterwards.
func (p *Pool) Release(slot *Slot) {
	slot.cleanupLocked()
	p.mu.Lock()
	slot.ID = naID
	slot.State = Available
	p.mu.Unlock()
}

// ShutdownCleanup synchronously tears down every slot without
// acquiring any per-slot lock, mirroring the source's signal handler
// (§5, §9): the process is exiting, so cleanup only needs to unlink
// files and close descriptors, not protect concurrent access.
func (p *Pool) ShutdownCleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.State == Unavailable {
			s.disconnectLocked()
			if s.Buffers != nil {
				s.Buffers.Cleanup()
			}
		}
		s.resetLocked()
		s.ID = naID
		s.State = Available
	}
}
