package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/scidb-shim/shimgate/internal/engine"
	"github.com/scidb-shim/shimgate/internal/gwerr"
	"github.com/scidb-shim/shimgate/internal/session"
)

func newTestPool(t *testing.T, cfg engine.FakeServerConfig) *session.Pool {
	t.Helper()
	dial := func(ctx context.Context, user, password string) (*engine.Client, error) {
		return engine.DialFake(cfg), nil
	}
	return session.NewPool(4, time.Minute, t.TempDir(), dial)
}

func TestExecuteQuerySimple(t *testing.T) {
	pool := newTestPool(t, engine.FakeServerConfig{QueryID: engine.QueryID{Coordinator: 1, Query: 7}})
	slot, err := pool.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ex := New(pool, Config{SaveInstance: 0})
	body, err := ex.ExecuteQuery(context.Background(), Request{ID: slot.ID, Query: "list('instances')"})
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if body != "7" {
		t.Errorf("expected query id body 7, got %s", body)
	}
	if slot.State != session.Unavailable {
		t.Error("expected slot to remain UNAVAILABLE without release=1")
	}
}

func TestExecuteQueryWithReleaseCleansUp(t *testing.T) {
	pool := newTestPool(t, engine.FakeServerConfig{QueryID: engine.QueryID{Coordinator: 1, Query: 3}})
	slot, err := pool.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	id := slot.ID

	ex := New(pool, Config{})
	if _, err := ex.ExecuteQuery(context.Background(), Request{ID: id, Query: "list('instances')", Save: "csv+", Release: true}); err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}

	if slot.State != session.Available || slot.ID != "NA" {
		t.Errorf("expected slot AVAILABLE/NA after release=1, got state=%v id=%s", slot.State, slot.ID)
	}
	if slot.SaveKind != session.SaveNone {
		t.Error("expected save kind reset to NONE after release")
	}
}

func TestExecuteQueryNotFound(t *testing.T) {
	pool := newTestPool(t, engine.FakeServerConfig{})
	ex := New(pool, Config{})
	if _, err := ex.ExecuteQuery(context.Background(), Request{ID: "nosuchid", Query: "x"}); !errors.Is(err, gwerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExecuteQueryLocalErrorLeavesSlotIntact(t *testing.T) {
	pool := newTestPool(t, engine.FakeServerConfig{
		QueryID:    engine.QueryID{Coordinator: 1, Query: 1},
		ExecuteErr: "SCIDB_LE_SYNTAX_ERROR: bad query",
	})
	slot, err := pool.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ex := New(pool, Config{})
	_, err = ex.ExecuteQuery(context.Background(), Request{ID: slot.ID, Query: "broken"})
	if !errors.Is(err, gwerr.ErrQueryLocal) {
		t.Fatalf("expected ErrQueryLocal, got %v", err)
	}
	if slot.State != session.Unavailable {
		t.Error("expected slot to remain UNAVAILABLE after a query-local failure")
	}
}

func TestExecuteQueryConnectionFatalDestroysSlot(t *testing.T) {
	pool := newTestPool(t, engine.FakeServerConfig{
		QueryID:    engine.QueryID{Coordinator: 1, Query: 1},
		ExecuteErr: "SCIDB_LE_CONNECTION_ERROR: reset by peer",
	})
	slot, err := pool.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	id := slot.ID

	ex := New(pool, Config{})
	_, err = ex.ExecuteQuery(context.Background(), Request{ID: id, Query: "broken"})
	if !errors.Is(err, gwerr.ErrConnectionFatal) {
		t.Fatalf("expected ErrConnectionFatal, got %v", err)
	}
	if slot.State != session.Available {
		t.Error("expected slot to be destroyed after a connection-fatal failure")
	}
}

func TestCancelRequiresLiveQuery(t *testing.T) {
	pool := newTestPool(t, engine.FakeServerConfig{})
	slot, err := pool.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ex := New(pool, Config{})
	if err := ex.Cancel(context.Background(), slot.ID); !errors.Is(err, gwerr.ErrNoQueryInFlight) {
		t.Errorf("expected ErrNoQueryInFlight, got %v", err)
	}
}

func TestCancelAfterPrepare(t *testing.T) {
	pool := newTestPool(t, engine.FakeServerConfig{QueryID: engine.QueryID{Coordinator: 2, Query: 9}})
	slot, err := pool.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ex := New(pool, Config{})
	if _, err := ex.ExecuteQuery(context.Background(), Request{ID: slot.ID, Query: "list('instances')"}); err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if err := ex.Cancel(context.Background(), slot.ID); err != nil {
		t.Errorf("Cancel failed: %v", err)
	}
}

func TestSplitPrefixIsNotQuoteAware(t *testing.T) {
	stmts := splitPrefix(`set lang afl; store(build(<v:int64>[i=0:1], i), foo);  `)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(stmts), stmts)
	}

	// A semicolon inside a quoted literal still splits the statement.
	stmts = splitPrefix(`store(build(<v:string>[i=0:0], 'a;b'), foo)`)
	if len(stmts) != 2 {
		t.Fatalf("expected quoted semicolon to split into 2 fragments, got %d: %v", len(stmts), stmts)
	}
}

func TestWrapSaveDefault(t *testing.T) {
	q, kind := wrapSave("list('instances')", "csv+", Config{SaveInstance: 0}, "/tmp/out")
	want := `save(list('instances'), '/tmp/out', 0, 'csv+')`
	if q != want {
		t.Errorf("got %q, want %q", q, want)
	}
	if kind != session.SaveText {
		t.Errorf("expected SaveText, got %v", kind)
	}
}

func TestWrapSaveAccelerated(t *testing.T) {
	q, kind := wrapSave("filter(x, y)", "csv+", Config{SaveInstance: 2, UseAIO: true}, "/tmp/out")
	want := `aio_save(filter(x, y), 'path=/tmp/out', 'instance=2', 'format=csv+')`
	if q != want {
		t.Errorf("got %q, want %q", q, want)
	}
	if kind != session.SaveText {
		t.Errorf("expected SaveText for csv+, got %v", kind)
	}
}

func TestWrapSaveBinaryKind(t *testing.T) {
	_, kind := wrapSave("filter(x, y)", "(int64,double)", Config{}, "/tmp/out")
	if kind != session.SaveBinary {
		t.Errorf("expected SaveBinary for parenthesized format, got %v", kind)
	}
	_, kind = wrapSave("filter(x, y)", "arrow", Config{}, "/tmp/out")
	if kind != session.SaveBinary {
		t.Errorf("expected SaveBinary for arrow, got %v", kind)
	}
}

func TestUploadEmptyBodyIsBadRequest(t *testing.T) {
	pool := newTestPool(t, engine.FakeServerConfig{})
	slot, err := pool.Acquire(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ex := New(pool, Config{})
	_, err = ex.Upload(context.Background(), slot.ID, bytes.NewReader(nil), func(path string, r io.Reader) (int64, error) {
		return 0, nil
	})
	if !errors.Is(err, gwerr.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for empty upload, got %v", err)
	}
}
