// Package reporter delivers orchestration progress to external consumers.
//
// The engine calls a Reporter synchronously at each step: task started, task
// resolved, run finished. Implementations must return quickly; anything slow
// belongs behind a queue. LogReporter writes structured log lines including
// the final per-VM summary; StreamReporter emits JSON-lines events on a
// writer for a wrapping UI, pumped through a pubsub topic so a slow consumer
// cannot stall the run; Multi fans out to several reporters.
package reporter
