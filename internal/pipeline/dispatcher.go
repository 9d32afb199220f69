package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-pipeline/internal/observability"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	PauseMarker string
	Timeout     time.Duration // per chunk; zero means no deadline
	Buffer      int           // capacity of the results channel
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
}

// Dispatcher synthesizes chunks concurrently, one goroutine per chunk, and
// delivers every outcome on Results. A failed synthesis is delivered as a
// result with empty audio so playback can move past it.
type Dispatcher struct {
	synth    Synthesizer
	opts     DispatcherOptions
	results  chan SynthesisResult
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewDispatcher creates a dispatcher backed by synth.
func NewDispatcher(synth Synthesizer, opts DispatcherOptions) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 32
	}
	return &Dispatcher{
		synth:   synth,
		opts:    opts,
		results: make(chan SynthesisResult, opts.Buffer),
	}
}

// Dispatch starts synthesis of chunk. Delivery is abandoned only when ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, chunk Chunk) {
	d.wg.Add(1)
	d.inFlight.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Add(-1)

		result := d.synthesize(ctx, chunk)
		select {
		case d.results <- result:
		case <-ctx.Done():
		}
	}()
}

func (d *Dispatcher) synthesize(ctx context.Context, chunk Chunk) SynthesisResult {
	ctx, span := tracer.Start(ctx, "synthesize chunk", trace.WithAttributes(
		attribute.Int("turn.index", chunk.TurnIndex),
		attribute.Int("chunk.index", chunk.ChunkIndex),
	))
	defer span.End()

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	text := chunk.Speakable(d.opts.PauseMarker)
	start := time.Now()
	audio, err := d.synth.Synthesize(ctx, text, chunk.TurnIndex, chunk.ChunkIndex)
	d.opts.Metrics.ObserveSynthesis(time.Since(start), err == nil)

	result := SynthesisResult{
		TurnIndex:  chunk.TurnIndex,
		ChunkIndex: chunk.ChunkIndex,
		Audio:      audio,
		Label:      chunk.Text,
	}
	if err != nil {
		err = fmt.Errorf("synthesize turn %d chunk %d: %w", chunk.TurnIndex, chunk.ChunkIndex, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.opts.Metrics.RecordError("synthesis_error", "dispatcher")
		d.opts.Logger.Warn().
			Err(err).
			Int("turn", chunk.TurnIndex).
			Int("chunk", chunk.ChunkIndex).
			Msg("Chunk synthesis failed, skipping its audio")
		result.Audio = nil
		result.Err = err
	}
	span.SetAttributes(attribute.Int("audio.bytes", len(result.Audio)))
	return result
}

// Results delivers synthesis outcomes in completion order.
func (d *Dispatcher) Results() <-chan SynthesisResult {
	return d.results
}

// InFlight returns the number of chunks whose result has not been delivered yet.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Wait blocks until every dispatched goroutine has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
