package reporter

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/cskr/pubsub"
	"go.uber.org/zap"

	"github.com/oshokin/qubes-preflight/internal/domain/update"
	"github.com/oshokin/qubes-preflight/internal/logger"
)

// EventType discriminates stream events.
type EventType string

const (
	// EventTaskStart announces a task dispatch.
	EventTaskStart EventType = "task-start"
	// EventTaskResult announces a resolved task, dispatched or skipped.
	EventTaskResult EventType = "task-result"
	// EventRunFinished carries the run's final verdict.
	EventRunFinished EventType = "run-finished"
)

// Event is one JSON-lines progress record consumed by a wrapping UI.
type Event struct {
	// Type discriminates the event.
	Type EventType `json:"type"`
	// VM is the task's target, empty on run-finished events.
	VM string `json:"vm,omitempty"`
	// Role is the target's inventory role.
	Role string `json:"role,omitempty"`
	// Outcome is the task outcome on task-result events.
	Outcome string `json:"outcome,omitempty"`
	// Reason explains skips and channel failures.
	Reason string `json:"reason,omitempty"`
	// ExitCode is the command's exit status for executed tasks.
	ExitCode int `json:"exit_code,omitempty"`
	// DurationSeconds is the task or run duration.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// RunID identifies the run on run-finished events.
	RunID string `json:"run_id,omitempty"`
	// RunOutcome is the overall verdict on run-finished events.
	RunOutcome string `json:"run_outcome,omitempty"`
	// RebootRequired is set when the workstation should be restarted.
	RebootRequired bool `json:"reboot_required,omitempty"`
	// Canceled is set when the run was interrupted at a task boundary.
	Canceled bool `json:"canceled,omitempty"`
	// Counts tallies results per outcome on run-finished events.
	Counts map[string]int `json:"counts,omitempty"`
}

const (
	// streamTopic is the pubsub topic progress events travel on.
	streamTopic = "progress"
	// streamCapacity buffers events so a briefly slow consumer does not
	// stall the engine's synchronous reporter calls.
	streamCapacity = 64
)

// StreamReporter emits progress as JSON lines on a writer. Events pass
// through a pubsub topic and are written by a dedicated pump goroutine, so
// the engine-facing callbacks only enqueue. Close drains the topic and waits
// for the pump to finish; no events are lost on an orderly shutdown.
type StreamReporter struct {
	// bus decouples reporter callbacks from the writing pump.
	bus *pubsub.PubSub
	// events is the pump's subscription to streamTopic.
	events chan interface{}
	// done is closed once the pump has drained.
	done chan struct{}
	// encoder serializes events onto the destination writer.
	encoder *json.Encoder
	// log is the scoped logger captured at construction time.
	log *zap.SugaredLogger
	// closeOnce guards bus shutdown.
	closeOnce sync.Once
}

// NewStreamReporter creates a reporter writing JSON-lines events to w and
// starts its pump goroutine.
func NewStreamReporter(ctx context.Context, w io.Writer) *StreamReporter {
	bus := pubsub.New(streamCapacity)

	r := &StreamReporter{
		bus:     bus,
		events:  bus.Sub(streamTopic),
		done:    make(chan struct{}),
		encoder: json.NewEncoder(w),
		log:     logger.FromContext(ctx).Named("stream"),
	}

	go r.pump()

	return r
}

// OnTaskStart implements Reporter.
func (r *StreamReporter) OnTaskStart(task update.Task) {
	r.bus.Pub(Event{
		Type: EventTaskStart,
		VM:   task.Target,
		Role: string(task.Role),
	}, streamTopic)
}

// OnTaskResult implements Reporter.
func (r *StreamReporter) OnTaskResult(result update.Result) {
	r.bus.Pub(Event{
		Type:            EventTaskResult,
		VM:              result.Task.Target,
		Role:            string(result.Task.Role),
		Outcome:         string(result.Outcome),
		Reason:          result.Reason,
		ExitCode:        result.ExitCode,
		DurationSeconds: result.Duration.Seconds(),
	}, streamTopic)
}

// OnRunFinished implements Reporter.
func (r *StreamReporter) OnRunFinished(run *update.Run) {
	counts := make(map[string]int, len(run.Results))
	for outcome, count := range run.CountByOutcome() {
		counts[string(outcome)] = count
	}

	r.bus.Pub(Event{
		Type:            EventRunFinished,
		RunID:           run.ID,
		RunOutcome:      string(run.Outcome),
		RebootRequired:  run.RebootRequired,
		Canceled:        run.Canceled,
		DurationSeconds: run.Duration().Seconds(),
		Counts:          counts,
	}, streamTopic)
}

// Close shuts the topic down, waits for pending events to reach the writer,
// and stops the pump. Safe to call more than once.
func (r *StreamReporter) Close() {
	r.closeOnce.Do(func() {
		r.bus.Shutdown()
	})

	<-r.done
}

// pump moves events from the topic to the writer until Close drains it.
func (r *StreamReporter) pump() {
	defer close(r.done)

	for message := range r.events {
		event, ok := message.(Event)
		if !ok {
			continue
		}

		if err := r.encoder.Encode(event); err != nil {
			r.log.Warnw("Failed to write progress event", "error", err)
		}
	}
}
