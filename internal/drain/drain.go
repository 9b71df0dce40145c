// Package drain implements the result-drain protocol (§4.4): bounded
// binary reads and line-oriented text reads over a session's staging
// file, with poll-based readiness and cursor-forwarding partial reads.
package drain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/scidb-shim/shimgate/internal/gwerr"
	"github.com/scidb-shim/shimgate/internal/session"
)

const maxLineBytes = 4096

// Reader drains staged query output on behalf of HTTP clients.
type Reader struct {
	pool *session.Pool
}

// New builds a Reader bound to pool.
func New(pool *session.Pool) *Reader {
	return &Reader{pool: pool}
}

// ReadBytes implements the read-bytes contract of §4.4.
func (d *Reader) ReadBytes(ctx context.Context, id string, n int) ([]byte, error) {
	slot, ok := d.pool.Find(id)
	if !ok {
		return nil, gwerr.ErrNotFound
	}
	slot.Lock()
	defer slot.Unlock()

	if err := requireSaveKind(slot, session.SaveBinary, "binary"); err != nil {
		return nil, err
	}

	if slot.DrainFD == nil {
		f, err := openNonBlocking(slot.Buffers.OutputPath)
		if err != nil {
			d.pool.Release(slot)
			return nil, fmt.Errorf("%w: opening staging file: %v", gwerr.ErrInternal, err)
		}
		slot.DrainFD = f
	}

	info, err := slot.DrainFD.Stat()
	if err != nil {
		d.pool.Release(slot)
		return nil, fmt.Errorf("%w: fstat staging file: %v", gwerr.ErrInternal, err)
	}

	if n < 1 {
		n = int(info.Size())
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	if int64(n) > info.Size() {
		n = int(info.Size())
	}

	if err := pollReadable(slot.DrainFD); err != nil {
		d.pool.Release(slot)
		return nil, fmt.Errorf("%w: polling staging file: %v", gwerr.ErrInternal, err)
	}

	buf := make([]byte, n)
	read, err := slot.DrainFD.Read(buf)
	if err != nil && err != io.EOF {
		d.pool.Release(slot)
		return nil, fmt.Errorf("%w: reading staging file: %v", gwerr.ErrInternal, err)
	}
	if read == 0 {
		return nil, fmt.Errorf("%w: EOF - range out of bounds", gwerr.ErrRangeNotSatisfiable)
	}
	return buf[:read], nil
}

// ReadLines implements the read-lines contract of §4.4.
func (d *Reader) ReadLines(ctx context.Context, id string, n int) ([]byte, error) {
	slot, ok := d.pool.Find(id)
	if !ok {
		return nil, gwerr.ErrNotFound
	}
	slot.Lock()
	defer slot.Unlock()

	if err := requireSaveKind(slot, session.SaveText, "text"); err != nil {
		return nil, err
	}

	maxN := (math.MaxInt32) / maxLineBytes
	if n < 1 || n > maxN {
		n = maxN
	}

	if slot.DrainText == nil {
		f, err := openNonBlocking(slot.Buffers.OutputPath)
		if err != nil {
			d.pool.Release(slot)
			return nil, fmt.Errorf("%w: opening staging file: %v", gwerr.ErrInternal, err)
		}
		slot.DrainFD = f
		slot.DrainText = bufio.NewReader(f)
	}

	var buf bytes.Buffer
	lines := 0
	for lines < n {
		line, err := slot.DrainText.ReadString('\n')
		if len(line) > 0 {
			buf.WriteString(line)
			lines++
		}
		if err != nil {
			break
		}
	}
	if lines == 0 {
		return nil, fmt.Errorf("%w: EOF", gwerr.ErrRangeNotSatisfiable)
	}
	return buf.Bytes(), nil
}

// requireSaveKind enforces the two-step save-kind contract shared by
// both drain operations: no save at all is GONE; a save in the wrong
// format is RANGE_NOT_SATISFIABLE.
func requireSaveKind(slot *session.Slot, want session.SaveKind, label string) error {
	if slot.SaveKind == session.SaveNone {
		return gwerr.ErrGone
	}
	if slot.SaveKind != want {
		return fmt.Errorf("%w: output not saved in %s format", gwerr.ErrRangeNotSatisfiable, label)
	}
	return nil
}

func openNonBlocking(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
}

// pollReadable waits for the descriptor to report readable in 250 ms
// slices, matching the source's poll loop (§4.4).
func pollReadable(f *os.File) error {
	fd := int32(f.Fd())
	for {
		fds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n > 0 && fds[0].Revents&unix.POLLIN != 0 {
			return nil
		}
	}
}
