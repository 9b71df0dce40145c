// Package executor implements the query execution protocol (§4.3):
// prefix statements, optional save-wrapping, prepare/execute/complete,
// cancel, and the mapping of engine failures to response classes.
package executor

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/scidb-shim/shimgate/internal/engine"
	"github.com/scidb-shim/shimgate/internal/gwerr"
	"github.com/scidb-shim/shimgate/internal/session"
)

// Config carries the engine-wide save defaults (§6 configuration surface).
type Config struct {
	SaveInstance int
	UseAIO       bool
}

// Executor orchestrates query execution against a session pool.
type Executor struct {
	pool *session.Pool
	cfg  Config
}

// New builds an Executor bound to pool.
func New(pool *session.Pool, cfg Config) *Executor {
	return &Executor{pool: pool, cfg: cfg}
}

// Request bundles the query-string arguments of /execute_query (§6).
type Request struct {
	ID      string
	Query   string
	Save    string
	Prefix  string
	Release bool
}

// ExecuteQuery runs the full execution order of §4.3 and returns the
// numeric query id as the response body.
func (e *Executor) ExecuteQuery(ctx context.Context, req Request) (string, error) {
	slot, ok := e.pool.Find(req.ID)
	if !ok {
		return "", gwerr.ErrNotFound
	}

	slot.Lock()
	slot.MarkBusy()

	if req.Prefix != "" {
		for _, stmt := range splitPrefix(req.Prefix) {
			if _, err := e.runStatement(ctx, slot, stmt); err != nil {
				return "", e.fail(slot, err)
			}
		}
	}

	query, kind := wrapSave(req.Query, req.Save, e.cfg, slot.Buffers.OutputPath)

	qid, err := slot.Conn[0].Prepare(ctx, query)
	if err != nil {
		return "", e.fail(slot, err)
	}
	slot.QueryID = qid
	slot.SaveKind = kind

	if err := slot.Conn[0].ExecutePrepared(ctx, qid); err != nil {
		return "", e.fail(slot, err)
	}
	if err := slot.Conn[0].Complete(ctx, qid); err != nil {
		return "", e.fail(slot, err)
	}

	if req.Release {
		e.pool.Release(slot)
		slot.Unlock()
		return strconv.FormatInt(qid.Query, 10), nil
	}

	slot.MarkIdle()
	slot.Unlock()
	return strconv.FormatInt(qid.Query, 10), nil
}

// runStatement runs one prefix statement through the full
// prepare/execute/complete sequence on conn[0].
func (e *Executor) runStatement(ctx context.Context, slot *session.Slot, stmt string) (engine.QueryID, error) {
	qid, err := slot.Conn[0].Prepare(ctx, stmt)
	if err != nil {
		return engine.QueryID{}, err
	}
	if err := slot.Conn[0].ExecutePrepared(ctx, qid); err != nil {
		return engine.QueryID{}, err
	}
	if err := slot.Conn[0].Complete(ctx, qid); err != nil {
		return engine.QueryID{}, err
	}
	return qid, nil
}

// fail applies the §7 propagation policy to an engine failure: release
// the slot lock, and either reset last_activity (query-local) or tear
// the slot down (connection-fatal) — never leave it pinned to the
// far-future timestamp. The caller must still hold the slot lock.
func (e *Executor) fail(slot *session.Slot, err error) error {
	defer slot.Unlock()
	switch engine.ClassifyError(err) {
	case engine.FailureConnectionFatal:
		e.pool.Release(slot)
		return fmt.Errorf("%w: %v", gwerr.ErrConnectionFatal, err)
	default:
		slot.MarkIdle()
		return fmt.Errorf("%w: %v", gwerr.ErrQueryLocal, err)
	}
}

// Cancel issues cancel(...) on the slot's second connection while
// conn[0] may still be blocked in Complete (§4.3, §5). Cancel does not
// clean up the slot; the client remains responsible for release.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	slot, ok := e.pool.Find(id)
	if !ok {
		return gwerr.ErrNotFound
	}
	// The slot lock is deliberately not taken: ExecuteQuery holds it for
	// the whole of Complete, which is exactly when a cancel is needed.
	qid := slot.QueryID
	conn := slot.Conn[1]
	if qid.IsZero() {
		return gwerr.ErrNoQueryInFlight
	}
	if conn == nil {
		return gwerr.ErrNotFound
	}
	if err := conn.Cancel(ctx, qid); err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	return nil
}

// Upload reads the entire request body into the slot's input file.
// last_activity is pushed one week forward for the duration of the
// write so the reaper cannot claim the slot mid-transfer (§6).
func (e *Executor) Upload(ctx context.Context, id string, body io.Reader, writeTo func(path string, body io.Reader) (int64, error)) (string, error) {
	slot, ok := e.pool.Find(id)
	if !ok {
		return "", gwerr.ErrNotFound
	}
	slot.Lock()
	defer slot.Unlock()
	slot.MarkBusy()

	n, err := writeTo(slot.Buffers.InputPath, body)
	if err != nil {
		e.pool.Release(slot)
		return "", fmt.Errorf("%w: writing upload: %v", gwerr.ErrInternal, err)
	}
	if n == 0 {
		slot.MarkIdle()
		return "", fmt.Errorf("%w: Uploaded file is empty", gwerr.ErrBadRequest)
	}
	slot.MarkIdle()
	return slot.Buffers.InputPath, nil
}

// ReleaseSession disconnects both engine connections and returns the
// slot to the pool.
func (e *Executor) ReleaseSession(id string) error {
	slot, ok := e.pool.Find(id)
	if !ok {
		return gwerr.ErrNotFound
	}
	slot.Lock()
	defer slot.Unlock()
	e.pool.Release(slot)
	return nil
}

// splitPrefix splits a semicolon-separated batch of statements. It is
// not quote-aware: a semicolon inside a quoted string literal would
// incorrectly split the statement. This matches the source's own
// splitter; whether that is a deliberate simplification or a bug in
// the original is unclear, so the behavior is carried unchanged.
func splitPrefix(prefix string) []string {
	var stmts []string
	for _, part := range strings.Split(prefix, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			stmts = append(stmts, part)
		}
	}
	return stmts
}

// acceleratedSaveDescriptors lists the save formats eligible for
// aio_save rewriting when accelerated saving is enabled (§4.3).
var acceleratedSaveDescriptors = map[string]bool{
	"csv+":  true,
	"lcsv+": true,
	"arrow": true,
}

// wrapSave rewrites query to save its output to outputPath when save
// is non-empty, choosing between the default save(...) operator and
// the accelerated aio_save(...) operator per §4.3.
func wrapSave(query, save string, cfg Config, outputPath string) (string, session.SaveKind) {
	if save == "" {
		return query, session.SaveNone
	}

	binary := strings.HasPrefix(save, "(") || save == "arrow"
	kind := session.SaveText
	if binary {
		kind = session.SaveBinary
	}

	accelerated := cfg.UseAIO && (strings.HasPrefix(save, "(") || acceleratedSaveDescriptors[save])
	if accelerated {
		wrapped := fmt.Sprintf("aio_save(%s, 'path=%s', 'instance=%d', 'format=%s')",
			query, outputPath, cfg.SaveInstance, save)
		return wrapped, kind
	}

	wrapped := fmt.Sprintf("save(%s, '%s', %d, '%s')", query, outputPath, cfg.SaveInstance, save)
	return wrapped, kind
}
