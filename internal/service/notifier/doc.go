// Package notifier is the service behind the preflight-notify binary.
//
// It decides whether the session wrapper should prompt the user to run
// updates: silent while an update is already in progress or the machine
// booted recently, prompting once the last completed run is older than the
// staleness threshold, and failing loudly when the stamp that records the
// last run is missing or unreadable.
package notifier
