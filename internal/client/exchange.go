package client

import (
	"context"
	"sync/atomic"
	"time"
)

// Exchange is one completed HTTP round trip.
type Exchange struct {
	Seq          int64
	Step         string
	Method       string
	URL          string
	Path         string
	RequestBody  []byte
	Status       int
	Location     string
	ResponseBody []byte
	Duration     time.Duration
	Err          string
}

// Recorder receives every exchange the client performs.
// Record must not block for long; it runs on the request path.
type Recorder interface {
	Record(ctx context.Context, ex Exchange)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, ex Exchange)

func (f RecorderFunc) Record(ctx context.Context, ex Exchange) { f(ctx, ex) }

// MultiRecorder fans an exchange out to several recorders in order.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(ctx context.Context, ex Exchange) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, ex)
		}
	}
}

// seqClock hands out monotonically increasing exchange sequence numbers.
// Sequence numbers start at 1 and never repeat within one Client.
type seqClock struct {
	seq atomic.Int64
}

func (c *seqClock) next() int64 {
	return c.seq.Add(1)
}

type stepKey struct{}

// WithStep labels every exchange performed with ctx as belonging to step.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey{}, step)
}

// StepFrom returns the step label carried by ctx.
func StepFrom(ctx context.Context) string {
	step, _ := ctx.Value(stepKey{}).(string)
	return step
}
