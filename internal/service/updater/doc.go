// Package updater is the service behind the preflight-updater binary.
//
// It loads the settings, guards against concurrent runs with a marker file,
// wires the qubes client into the sequencer, executor, engine, and reporters,
// executes one orchestration run, and maps the finished run to the process
// exit code contract.
package updater
