// Package engine drives one update run through its state machine: read the
// inventory, sequence the tasks, execute them strictly one at a time, then
// finalize with a verdict, a reboot decision, and the staleness stamp.
//
// An engine instance is one-shot. Cancellation is honored only at task
// boundaries; the in-flight task always runs to completion under its own
// timeout. Structural failures (unreadable inventory, dependency cycles)
// abort before anything executes and leave the stamp untouched.
package engine
