// Package lockfile implements the daemon's single-instance guard: a PID
// file at <app-data>/kubeportal-<port>.lock. On start, if the file exists
// and names a still-live process whose name contains "kubeportal", the
// daemon refuses to start; otherwise it creates or overwrites the file and
// holds an OS file lock for its own lifetime.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Acquire when a live kubeportald process
// already holds the lock file.
var ErrAlreadyRunning = errors.New("kubeportald already running")

// Lock holds an acquired lock file for the daemon's lifetime. Release must
// be called on clean exit to remove the file.
type Lock struct {
	path string
	fl   *flock.Flock
}

// Path returns the path of the given port's lock file:
// <app-data>/kubeportal-<port>.lock.
func Path(appDataDir string, port uint) string {
	return fmt.Sprintf("%s/kubeportal-%d.lock", appDataDir, port)
}

// Acquire checks for a live competing daemon and, finding none, creates or
// overwrites the lock file with the current PID and takes an exclusive OS
// file lock on it so a concurrent Acquire by another process blocks/fails
// rather than racing the liveness check.
func Acquire(path string) (*Lock, error) {
	if pid, ok := readLivePID(path); ok {
		return nil, fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, pid, path)
	}

	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if !locked {
		return nil, fmt.Errorf("%w: %s is held by another process", ErrAlreadyRunning, path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("writing pid to %s: %w", path, err)
	}

	return &Lock{path: path, fl: fl}, nil
}

// Release unlocks and removes the lock file. Safe to call once on clean
// daemon exit.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}

	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", l.path, err)
	}

	return nil
}

// readLivePID reads path's PID and reports whether it names a live process
// whose command line looks like kubeportald. Any failure along the way
// (missing file, unparseable PID, dead process, name mismatch) is treated
// as "no competing daemon" so a stale lock file never blocks startup
// forever.
func readLivePID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	if !processAlive(pid) {
		return 0, false
	}

	if !processNameContains(pid, "kubeportal") {
		return 0, false
	}

	return pid, true
}
