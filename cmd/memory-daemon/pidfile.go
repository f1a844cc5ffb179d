package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFilePath is the daemon's running-instance marker, the same
// PID-file convention the teacher's (now-deprecated) daemon subsystem
// used to track a background process across CLI invocations.
func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "memory-daemon.pid")
}

func writePIDFile(dataDir string) error {
	path := pidFilePath(dataDir)
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(dataDir string) {
	_ = os.Remove(pidFilePath(dataDir))
}

// readPID returns the PID recorded in dataDir's PID file, or 0 if no
// file exists.
func readPID(dataDir string) (int, error) {
	raw, err := os.ReadFile(pidFilePath(dataDir))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("memory-daemon: read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("memory-daemon: parse pid file: %w", err)
	}
	return pid, nil
}

// isRunning reports whether pid names a live process, signaling it
// with syscall.Signal(0) — the standard Unix "is this PID alive"
// probe, since sending signal 0 performs error checking without
// actually delivering a signal.
func isRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
