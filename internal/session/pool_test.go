package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/scidb-shim/shimgate/internal/engine"
	"github.com/scidb-shim/shimgate/internal/gwerr"
)

// fakeDial returns a Client backed by an in-process fake engine; these
// tests exercise pool admission and reclamation, not engine I/O.
func fakeDial(ctx context.Context, user, password string) (*engine.Client, error) {
	return engine.DialFake(engine.FakeServerConfig{}), nil
}

func failingDial(ctx context.Context, user, password string) (*engine.Client, error) {
	return nil, errors.New("connection refused")
}

func TestAcquireAssignsDistinctIDs(t *testing.T) {
	p := NewPool(3, time.Minute, t.TempDir(), fakeDial)

	s1, err := p.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire 1 failed: %v", err)
	}
	s2, err := p.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire 2 failed: %v", err)
	}
	if len(s1.ID) != idLength {
		t.Errorf("expected id length %d, got %d", idLength, len(s1.ID))
	}
	if s1.ID == s2.ID {
		t.Error("expected distinct session ids")
	}
	if s1.State != Unavailable || s2.State != Unavailable {
		t.Error("expected acquired slots to be UNAVAILABLE")
	}
}

func TestAcquireOutOfResources(t *testing.T) {
	p := NewPool(1, time.Minute, t.TempDir(), fakeDial)

	if _, err := p.Acquire(context.Background(), "u", "p"); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if _, err := p.Acquire(context.Background(), "u", "p"); !errors.Is(err, gwerr.ErrOutOfResources) {
		t.Errorf("expected ErrOutOfResources, got %v", err)
	}
}

func TestAcquireReapsOrphan(t *testing.T) {
	p := NewPool(1, 10*time.Millisecond, t.TempDir(), fakeDial)

	first, err := p.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	firstID := first.ID // Acquire returns the slot unlocked.

	time.Sleep(20 * time.Millisecond)

	second, err := p.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("reap Acquire failed: %v", err)
	}
	if second.ID == firstID {
		t.Error("expected reaped slot to receive a fresh id")
	}
	if _, ok := p.Find(firstID); ok {
		t.Error("expected the orphaned id to no longer be found")
	}
}

func TestAcquireConnectFailureRollsBack(t *testing.T) {
	p := NewPool(1, time.Minute, t.TempDir(), failingDial)

	_, err := p.Acquire(context.Background(), "u", "p")
	if !errors.Is(err, gwerr.ErrConnectionFatal) {
		t.Fatalf("expected ErrConnectionFatal, got %v", err)
	}

	st := p.Stats()
	if st.Available != 1 {
		t.Errorf("expected the slot to roll back to AVAILABLE, stats=%+v", st)
	}
}

func TestFindOnlyMatchesUnavailable(t *testing.T) {
	p := NewPool(2, time.Minute, t.TempDir(), fakeDial)

	if _, ok := p.Find("NA"); ok {
		t.Error("NA must never be found")
	}
	if _, ok := p.Find("anything"); ok {
		t.Error("expected no match before any acquisition")
	}

	slot, err := p.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	found, ok := p.Find(slot.ID)
	if !ok || found != slot {
		t.Error("expected Find to return the acquired slot")
	}
}

func TestReleaseReturnsSlotToAvailable(t *testing.T) {
	p := NewPool(1, time.Minute, t.TempDir(), fakeDial)

	slot, err := p.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	inputPath := slot.Buffers.InputPath

	slot.Lock()
	p.Release(slot)
	slot.Unlock()

	if slot.State != Available || slot.ID != naID {
		t.Errorf("expected AVAILABLE/NA after release, got state=%v id=%s", slot.State, slot.ID)
	}
	if slot.SaveKind != SaveNone {
		t.Error("expected save kind reset to NONE")
	}
	if _, err := os.Stat(inputPath); !os.IsNotExist(err) {
		t.Error("expected staging input file to be removed")
	}
}
