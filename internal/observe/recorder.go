package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/moksori-live/moksori/internal/pipeline"
	"github.com/moksori-live/moksori/internal/status"
)

// Recorder mirrors the status tracker's counter bumps and the pipeline's
// latency reports into the OTel instruments. Wire it into the tracker with
// status.WithObserver and into the pipeline as its latency recorder.
//
// Counter bumps arrive without a caller context, so the instruments receive
// context.Background().
type Recorder struct {
	m *Metrics
}

// NewRecorder creates a [Recorder] over m.
func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{m: m}
}

// ResponseStarted records a started response.
func (r *Recorder) ResponseStarted() { r.responsePhase("started") }

// ResponseCompleted records a completed response.
func (r *Recorder) ResponseCompleted() { r.responsePhase("completed") }

// ResponsePreempted records a preempted response.
func (r *Recorder) ResponsePreempted() { r.responsePhase("preempted") }

func (r *Recorder) responsePhase(phase string) {
	r.m.Responses.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("phase", phase)))
}

// ChatSeen records n chat lines entering the window.
func (r *Recorder) ChatSeen(n int) {
	r.m.ChatLines.Add(context.Background(), int64(n),
		metric.WithAttributes(attribute.String("disposition", "seen")))
}

// ChatDropped records one dropped chat line.
func (r *Recorder) ChatDropped() {
	r.m.ChatLines.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("disposition", "dropped")))
}

// IdleFired records an idle-chatter trigger.
func (r *Recorder) IdleFired() {
	r.m.IdleFires.Add(context.Background(), 1)
}

// MemoryWritten records a memory distillation write.
func (r *Recorder) MemoryWritten() {
	r.m.MemoryWrites.Add(context.Background(), 1)
}

// ResponseLatency records one end-to-end response duration.
func (r *Recorder) ResponseLatency(d time.Duration) {
	r.m.ResponseLatency.Record(context.Background(), d.Seconds())
}

var (
	_ status.Observer          = (*Recorder)(nil)
	_ pipeline.LatencyRecorder = (*Recorder)(nil)
)
