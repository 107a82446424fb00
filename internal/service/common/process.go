package common

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-ps"
)

// FindConflictingProcess scans the process table for any executable named in
// names and returns the first match. The calling process itself is ignored.
// The notifier uses this to stay silent while a system update runs outside
// the orchestrator's control.
func FindConflictingProcess(names []string) (string, bool, error) {
	processList, err := ps.Processes()
	if err != nil {
		return "", false, fmt.Errorf("list processes: %w", err)
	}

	name, found := findConflicting(processList, names, os.Getpid())

	return name, found, nil
}

// findConflicting matches executable names against the provided process
// list, skipping selfPID.
func findConflicting(processList []ps.Process, names []string, selfPID int) (string, bool) {
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}

	for _, process := range processList {
		if process.Pid() == selfPID {
			continue
		}

		executable := process.Executable()
		if _, found := wanted[executable]; found {
			return executable, true
		}
	}

	return "", false
}
