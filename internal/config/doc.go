// Package config defines the settings shared by the preflight binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Defaults follow the platform's conventions (dom0 as the administrative
// domain, the usual sys-* network proxies); a settings file only needs to
// state what differs. Durations are stored as plain seconds and exposed as
// time.Duration through accessors.
package config
