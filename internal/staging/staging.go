// Package staging creates and tears down the per-session staging
// buffers: one input file, one output file, and one output FIFO, each
// uniquely named under a configured temp directory with permissions
// that let the engine (a different principal) read and write them.
package staging

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Buffers holds the three staging paths allocated for one session.
type Buffers struct {
	InputPath  string
	OutputPath string
	PipePath   string
}

// Create allocates a fresh input file, output file, and FIFO under dir,
// each with a unique name and world read/write permissions.
func Create(dir string) (*Buffers, error) {
	in, err := createFile(dir, "shimgate-in-")
	if err != nil {
		return nil, fmt.Errorf("creating input buffer: %w", err)
	}
	out, err := createFile(dir, "shimgate-out-")
	if err != nil {
		os.Remove(in)
		return nil, fmt.Errorf("creating output buffer: %w", err)
	}
	pipe, err := createFIFO(dir, "shimgate-pipe-")
	if err != nil {
		os.Remove(in)
		os.Remove(out)
		return nil, fmt.Errorf("creating output FIFO: %w", err)
	}
	return &Buffers{InputPath: in, OutputPath: out, PipePath: pipe}, nil
}

// createFile allocates a uniquely-named regular file with 0666
// permissions using os.CreateTemp's mktemp-equivalent name generation.
func createFile(dir, prefix string) (string, error) {
	f, err := os.CreateTemp(dir, prefix+"*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	f.Close()
	if err := os.Chmod(path, 0666); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// createFIFO allocates a unique path via the create-then-remove
// mktemp trick and calls mkfifo(2) at that name, so unique-name
// allocation stays atomic against concurrent pool peers racing on the
// same temp directory.
func createFIFO(dir, prefix string) (string, error) {
	f, err := os.CreateTemp(dir, prefix+"*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	f.Close()
	if err := os.Remove(path); err != nil {
		return "", err
	}
	if err := unix.Mkfifo(path, 0666); err != nil {
		return "", fmt.Errorf("mkfifo %s: %w", path, err)
	}
	// Mkfifo respects umask; force the world-rw permissions the engine
	// process (running as a different principal) needs.
	if err := os.Chmod(path, 0666); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Cleanup unlinks all three staging paths. Missing files are not an
// error — cleanup must be idempotent since it also runs on the reaper
// and signal-shutdown paths.
func (b *Buffers) Cleanup() error {
	var firstErr error
	for _, p := range []string{b.InputPath, b.OutputPath, b.PipePath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("removing %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// AbsDocumentPath guards static file serving against the source's
// .htpasswd exposure (§6, error code 403): it reports whether the
// resolved path falls under root and does not reference a password
// file.
func AbsDocumentPath(root, requested string) (string, bool) {
	clean := filepath.Clean("/" + requested)
	full := filepath.Join(root, clean)
	if filepath.Base(full) == ".htpasswd" {
		return "", false
	}
	return full, true
}
