package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrRunLocked means another live process holds the run lock.
var ErrRunLocked = errors.New("another archive run holds the lock")

// AcquireLock writes a pid lock file. A stale lock (dead pid or garbage) is
// replaced; a live pid refuses the run.
func AcquireLock(path string) error {
	data, err := os.ReadFile(path)
	if err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pidAlive(pid) {
			return fmt.Errorf("%w (pid %d)", ErrRunLocked, pid)
		}
		// Stale lock from a dead process, fall through and replace it.
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReleaseLock removes the lock file if this process owns it.
func ReleaseLock(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid != os.Getpid() {
		return
	}
	os.Remove(path)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
