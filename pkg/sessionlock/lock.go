// Package sessionlock arbitrates mutating access to a project between
// processes (the CLI driver and the observability server) through a JSON lock
// file. Readers always coexist; at most one live process holds the write lock.
package sessionlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LockFileName is the lock file path relative to the project root.
const LockFileName = ".gao-dev/session.lock"

// Interface identifies which surface holds the lock.
type Interface string

// Lock-holding interfaces.
const (
	InterfaceCLI Interface = "cli"
	InterfaceWeb Interface = "web"
)

// Mode is the access mode of a lock holder.
type Mode string

// Lock modes.
const (
	ModeNone  Mode = ""
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// LockHeldError is returned when a write acquire loses to another live holder.
type LockHeldError struct {
	Holder Interface
	PID    int
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session locked by %s (pid %d)", e.Holder, e.PID)
}

// ErrHolderAlive is returned by ForceUnlock when the recorded PID is live.
var ErrHolderAlive = errors.New("lock holder process is still alive")

// lockFile is the on-disk JSON representation.
type lockFile struct {
	Interface Interface `json:"interface"`
	Mode      Mode      `json:"mode"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// State describes the observable lock state. A stale or corrupt lock file
// reports the same state as no lock at all.
type State struct {
	Mode      Mode       `json:"mode"`
	Holder    Interface  `json:"holder,omitempty"`
	PID       int        `json:"pid,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Lock is a cross-process read/write lock backed by a file under the project
// root. All methods serialize on an internal mutex so concurrent use from
// multiple goroutines is safe.
type Lock struct {
	path string
	pid  int

	mu    sync.Mutex
	mode  Mode
	iface Interface

	pidAlive func(pid int) bool // overridable for tests
}

// New creates a lock rooted at projectRoot. No file is touched until Acquire.
func New(projectRoot string) *Lock {
	return &Lock{
		path:     filepath.Join(projectRoot, filepath.FromSlash(LockFileName)),
		pid:      os.Getpid(),
		pidAlive: pidAlive,
	}
}

// Acquire takes the lock in the given mode. Read acquisition always succeeds
// without touching the file. Write acquisition succeeds iff the lock file is
// absent, held by this process, stale (holder dead), or corrupt; otherwise it
// fails with *LockHeldError.
func (l *Lock) Acquire(iface Interface, mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if mode == ModeRead {
		l.mode, l.iface = ModeRead, iface
		return nil
	}

	if lf, ok := l.readFile(); ok {
		if lf.PID != l.pid && l.pidAlive(lf.PID) {
			return &LockHeldError{Holder: lf.Interface, PID: lf.PID}
		}
		// Stale or our own lock — reclaim below.
		if lf.PID != l.pid {
			slog.Warn("Reclaiming stale session lock",
				"holder", lf.Interface, "pid", lf.PID)
		}
	}

	if err := l.writeFile(lockFile{
		Interface: iface,
		Mode:      ModeWrite,
		PID:       l.pid,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	l.mode, l.iface = ModeWrite, iface
	return nil
}

// Release removes the lock file if this process owns it. Releasing a lock
// owned by another process is a no-op with a warning.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lf, ok := l.readFile()
	if !ok {
		l.mode, l.iface = ModeNone, ""
		return nil
	}
	if lf.PID != l.pid {
		slog.Warn("Not releasing session lock owned by another process",
			"holder", lf.Interface, "pid", lf.PID)
		l.mode, l.iface = ModeNone, ""
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	l.mode, l.iface = ModeNone, ""
	return nil
}

// Upgrade acquires the write lock for iface.
func (l *Lock) Upgrade(iface Interface) error {
	return l.Acquire(iface, ModeWrite)
}

// Downgrade releases the write lock and transitions to read mode.
func (l *Lock) Downgrade(iface Interface) error {
	if err := l.Release(); err != nil {
		return err
	}
	return l.Acquire(iface, ModeRead)
}

// IsWriteLockedByOther reports whether the lock file names a different live
// process.
func (l *Lock) IsWriteLockedByOther() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lf, ok := l.readFile()
	if !ok {
		return false
	}
	return lf.PID != l.pid && l.pidAlive(lf.PID)
}

// GetLockState returns the current observable state. Stale and corrupt lock
// files report as unlocked.
func (l *Lock) GetLockState() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	lf, ok := l.readFile()
	if !ok || !l.pidAlive(lf.PID) {
		return State{Mode: ModeNone}
	}
	ts := lf.Timestamp
	return State{Mode: lf.Mode, Holder: lf.Interface, PID: lf.PID, Timestamp: &ts}
}

// ForceUnlock removes the lock file regardless of owner, but refuses with
// ErrHolderAlive while the recorded PID is live. A corrupt file is removed.
func (l *Lock) ForceUnlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	var lf lockFile
	if err := json.Unmarshal(raw, &lf); err == nil && l.pidAlive(lf.PID) {
		return ErrHolderAlive
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// ReclaimStale removes a lock file whose holder is no longer alive. Called on
// boot so a crashed process never wedges the project.
func (l *Lock) ReclaimStale() {
	if err := l.ForceUnlock(); err != nil && !errors.Is(err, ErrHolderAlive) {
		slog.Warn("Failed to reclaim stale session lock", "error", err)
	}
}

// readFile parses the lock file. ok is false when the file is absent or
// corrupt — both are treated as "no lock" by callers.
func (l *Lock) readFile() (lockFile, bool) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return lockFile{}, false
	}
	var lf lockFile
	if err := json.Unmarshal(raw, &lf); err != nil {
		slog.Warn("Corrupt session lock file", "path", l.path, "error", err)
		return lockFile{}, false
	}
	return lf, true
}

// writeFile writes the lock atomically: write to a temp file in the same
// directory, then rename over the destination.
func (l *Lock) writeFile(lf lockFile) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".session.lock.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
