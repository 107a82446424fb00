// Package common holds helpers shared by the updater and notifier services.
//
// It provides PID marker files for single-instance guarding with stale-marker
// cleanup, a conflicting-process scan used before prompting the user, and the
// system uptime read that backs the notifier's post-boot grace period.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
