// Package inventory contains the typed VM inventory model consumed by the
// update orchestrator.
//
// A Snapshot is an ordered, validated view of the platform's VMs: names are
// unique, every derives-from edge resolves to a template, and enumeration
// order is preserved so update plans are reproducible run to run.
package inventory
