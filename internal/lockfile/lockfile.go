// Package lockfile keeps a second meetvault process from opening the same
// data directory while another one holds its databases.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when a live process holds the lock.
var ErrLocked = errors.New("data directory is in use by another process")

// Holder is what a lock file records about its owner.
type Holder struct {
	PID      int
	Since    time.Time
	Activity string
}

// Lockfile is a PID lock on a data directory. The zero value is not usable;
// construct it with New.
type Lockfile struct {
	path     string
	activity string
	file     *os.File
	locked   bool
}

// New returns an unacquired lock at path. activity is written into the file
// so a blocked process can tell the user what holds the directory.
func New(path, activity string) *Lockfile {
	return &Lockfile{path: path, activity: activity}
}

// TryAcquire takes the lock without waiting. A lock left behind by a
// process that no longer runs is removed and taken over.
func (l *Lockfile) TryAcquire() error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	file, err := create(l.path)
	if os.IsExist(err) {
		holder, stale, reason := l.inspect()
		if !stale {
			return fmt.Errorf("%w: pid %d (%s) since %s", ErrLocked, holder.PID, holder.Activity, holder.Since.Format(time.RFC3339))
		}
		if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("failed to remove stale lockfile (%s): %w", reason, removeErr)
		}
		file, err = create(l.path)
	}
	if err != nil {
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	l.file = file
	l.locked = true

	content := fmt.Sprintf("%d\n%s\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339), l.activity)
	if _, err := file.WriteString(content); err != nil {
		l.Release()
		return fmt.Errorf("failed to write to lockfile: %w", err)
	}
	if err := file.Sync(); err != nil {
		l.Release()
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return nil
}

func create(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
}

// inspect reads the current lock file and decides whether its owner is gone.
func (l *Lockfile) inspect() (Holder, bool, string) {
	holder, err := ReadHolder(l.path)
	if err != nil {
		return Holder{}, true, err.Error()
	}
	if holder.PID == os.Getpid() {
		return holder, true, "lock was left by this process"
	}
	if running, reason := isProcessRunning(holder.PID); !running {
		return holder, true, reason
	}
	return holder, false, ""
}

// ReadHolder parses the lock file at path.
func ReadHolder(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, fmt.Errorf("cannot read lockfile: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return Holder{}, errors.New("invalid PID in lockfile")
	}

	holder := Holder{PID: pid}
	if len(lines) >= 2 {
		holder.Since, _ = time.Parse(time.RFC3339, strings.TrimSpace(lines[1]))
	}
	if len(lines) >= 3 {
		holder.Activity = strings.TrimSpace(lines[2])
	}
	return holder, nil
}

// Release drops the lock and removes the file. Releasing an unheld lock is
// a no-op.
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false

	var errs []error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			errs = append(errs, err)
		}
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lockfile: %w", err))
	}
	return errors.Join(errs...)
}

// Locked reports whether this Lockfile holds the lock.
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}
