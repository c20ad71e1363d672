package update

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/mverteuil/birdcore/internal/errors"
)

// FileLock guards the apply path with a PID file: a second update daemon
// (or a second invocation of this one) refuses to start an apply while a
// live PID holds the lock, but a stale lock left by a crashed process is
// detected and cleared automatically.
type FileLock struct {
	path string
}

// NewFileLock builds a FileLock backed by the file at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire claims the lock, clearing it first if the PID it names is no
// longer alive.
func (l *FileLock) Acquire() error {
	if pid, ok := l.readPID(); ok {
		if processAlive(pid) {
			return errors.Newf("update already in progress (pid %d)", pid).
				Component("update").Category(errors.CategoryUpdate).Build()
		}
		// Stale lock from a crashed process; clear it and proceed.
		_ = os.Remove(l.path)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.New(err).Component("update").Category(errors.CategoryUpdate).
			Context("path", l.path).Build()
	}
	defer f.Close()

	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	return err
}

// Release removes the lock file.
func (l *FileLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *FileLock) readPID() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid names a live process, using the
// conventional unix signal-0 liveness probe.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	// EPERM means the process exists but we can't signal it: still alive.
	return true
}
