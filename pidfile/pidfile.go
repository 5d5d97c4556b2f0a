// Package pidfile creates and checks PID files, so only one metadumpd can
// serve a dump directory at a time.
package pidfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"
)

// Alive returns true if a process with the given pid is running. Only
// positive PIDs are considered.
func Alive(pid int) bool {
	if pid < 1 {
		return false
	}
	switch runtime.GOOS {
	case "darwin":
		// No proc filesystem; signal 0 performs error checking only.
		err := unix.Kill(pid, 0)
		return err == nil || err == unix.EPERM
	default:
		_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
		return err == nil
	}
}

// Read returns the PID stored at path if it belongs to a running process,
// or 0. Malformed content is ignored.
func Read(path string) (pid int, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err = strconv.Atoi(string(bytes.TrimSpace(b)))
	if err != nil {
		return 0, nil
	}
	if pid != 0 && Alive(pid) {
		return pid, nil
	}
	return 0, nil
}

// Write stores pid at path. It fails if the file already names a running
// process.
func Write(path string, pid int) error {
	if pid < 1 {
		return fmt.Errorf("invalid PID (%d): only positive PIDs are allowed", pid)
	}
	oldPID, err := Read(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if oldPID != 0 {
		return fmt.Errorf("process with PID %d is still running", oldPID)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// Remove deletes the PID file, ignoring a missing file.
func Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
