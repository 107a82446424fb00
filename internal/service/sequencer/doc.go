// Package sequencer turns an inventory snapshot into an ordered update plan.
// Templates are placed before every VM deriving from them, ties are broken by
// inventory order, and the administrative domain's self-update is appended
// last (or placed first, per policy). A cyclic derives-from chain aborts
// planning before anything runs.
package sequencer
