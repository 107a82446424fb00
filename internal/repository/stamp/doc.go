// Package stamp implements persistence for the last-run timestamp.
//
// The FileRepository stores the moment the last orchestration run finished as
// Unix seconds in a plain text file and exposes a Repository interface that
// the updater and notifier services depend on. Writes are atomic (temporary
// file plus rename) so a concurrently reading notifier never observes a torn
// value.
package stamp
