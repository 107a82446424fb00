// Package qubes adapts the virtualization platform's management tools to the
// orchestrator's interfaces.
//
// The Client shells out to qvm-ls to enumerate VMs into an inventory Snapshot
// and to qvm-run to execute privileged commands inside VMs; commands whose
// target is the administrative domain itself run through the local shell,
// since that is where the orchestrator lives. A FileReader provides the same
// Snapshot from a YAML file for offline plan inspection and tests.
//
// Channel-level trouble (the platform tool missing, a policy denial, an
// unreachable VM) is reported distinctly from a command that ran and exited
// non-zero, so the executor can tell infrastructure failures apart from
// in-VM package failures.
package qubes
