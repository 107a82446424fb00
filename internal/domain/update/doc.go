// Package update contains the task, result, and run model for one
// orchestration pass: what to run where, how each task resolved, and the
// aggregate verdict the process exit code is derived from.
package update
