package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/hotword/pkg/wakeword"
)

// Compile-time interface check.
var _ wakeword.Processor = (*Processor)(nil)

// Processor is a [wakeword.Processor] that records frame latency, frame
// counts, detections and failures of the processor it wraps. Detections and
// failures are also added to the span carried by its context.
type Processor struct {
	wakeword.Processor
	ctx    context.Context
	m      *Metrics
	source metric.MeasurementOption
	name   string
}

// WrapProcessor instruments p. source labels the measurements ("file",
// "mic" or "stream"); ctx carries the span the measurements belong to.
func WrapProcessor(ctx context.Context, p wakeword.Processor, m *Metrics, source string) *Processor {
	return &Processor{
		Processor: p,
		ctx:       ctx,
		m:         m,
		source:    metric.WithAttributes(Attr("source", source)),
		name:      source,
	}
}

// Process delegates to the wrapped processor and records the outcome.
func (p *Processor) Process(frame []int16) (int, error) {
	start := time.Now()
	idx, err := p.Processor.Process(frame)
	p.m.ProcessDuration.Record(p.ctx, time.Since(start).Seconds(), p.source)
	p.m.Frames.Add(p.ctx, 1, p.source)

	switch {
	case err != nil:
		status := "unknown"
		var pe *wakeword.ProcessError
		if errors.As(err, &pe) {
			status = pe.Status.String()
		}
		p.m.RecordProcessError(p.ctx, p.name, status)
		FailSpan(p.ctx, err)
	case idx >= 0:
		kw := p.Keyword(idx)
		p.m.RecordDetection(p.ctx, p.name, kw)
		AddDetection(p.ctx, idx, kw)
	}
	return idx, err
}
