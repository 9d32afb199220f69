package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-pipeline/internal/observability"
)

// Options configures a Coordinator.
type Options struct {
	PauseMarker       string
	SplitOnSentences  bool
	InterruptMinChars int           // interim transcripts with at least this many characters barge in
	SynthesisTimeout  time.Duration // per chunk; zero means none
	EventBuffer       int
	Logger            zerolog.Logger
	Metrics           *observability.Metrics
}

// Snapshot is a point-in-time view of a call's turn state.
type Snapshot struct {
	NextInteraction int
	ActiveTurn      int // -1 when listening
	Generating      bool
	Playing         bool
	PendingMarkers  int
	BufferedResults int
}

type (
	transcriptEvent struct {
		final bool
		text  string
	}
	fragmentEvent struct {
		turn     int
		fragment Fragment
	}
	markEvent struct {
		label string
	}
	speakEvent struct {
		text string
	}
	snapshotEvent struct {
		reply chan Snapshot
	}
)

type activeTurn struct {
	index       int
	chunker     *Chunker
	cancel      context.CancelFunc
	span        trace.Span
	generating  bool
	failed      bool
	outstanding int
	opened      time.Time
	gotFragment bool
}

// Coordinator owns one call's turn state: the interaction counter, the
// marker set and the barge-in policy. All state changes happen on the Run
// goroutine; other goroutines talk to it through the Handle methods.
type Coordinator struct {
	opts       Options
	gen        Generator
	out        Output
	dispatcher *Dispatcher
	sequencer  *Sequencer
	markers    *MarkerSet
	events     chan any
	done       chan struct{}
	logger     zerolog.Logger
	metrics    *observability.Metrics

	// owned by Run
	interaction int
	turn        *activeTurn
}

// NewCoordinator wires a chunker, dispatcher and sequencer between gen, synth and out.
func NewCoordinator(opts Options, gen Generator, synth Synthesizer, out Output) *Coordinator {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.InterruptMinChars <= 0 {
		opts.InterruptMinChars = 1
	}
	logger := observability.ForComponent(opts.Logger, "coordinator")

	c := &Coordinator{
		opts:    opts,
		gen:     gen,
		out:     out,
		markers: NewMarkerSet(),
		events:  make(chan any, opts.EventBuffer),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: opts.Metrics,
	}
	c.dispatcher = NewDispatcher(synth, DispatcherOptions{
		PauseMarker: opts.PauseMarker,
		Timeout:     opts.SynthesisTimeout,
		Buffer:      opts.EventBuffer,
		Logger:      observability.ForComponent(opts.Logger, "dispatcher"),
		Metrics:     opts.Metrics,
	})
	c.sequencer = NewSequencer(c.emit, observability.ForComponent(opts.Logger, "sequencer"), opts.Metrics)
	return c
}

// Run processes events until ctx is done or the transport fails.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.closeTurn("hangup")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
		case result := <-c.dispatcher.Results():
			if err := c.onResult(result); err != nil {
				return err
			}
		}
	}
}

// Speak plays text as a turn of its own without consulting the generator.
func (c *Coordinator) Speak(ctx context.Context, text string) error {
	return c.post(ctx, speakEvent{text: text})
}

// HandleTranscript delivers an interim or final transcript.
func (c *Coordinator) HandleTranscript(ctx context.Context, final bool, text string) error {
	return c.post(ctx, transcriptEvent{final: final, text: text})
}

// HandleMark delivers a marker acknowledgement from the transport.
func (c *Coordinator) HandleMark(ctx context.Context, label string) error {
	return c.post(ctx, markEvent{label: label})
}

// Snapshot returns the current turn state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.post(ctx, snapshotEvent{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return Snapshot{}, ErrCoordinatorStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) post(ctx context.Context, ev any) error {
	select {
	case <-c.done:
		return ErrCoordinatorStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) handle(ctx context.Context, ev any) error {
	switch ev := ev.(type) {
	case transcriptEvent:
		c.metrics.RecordTranscript(ev.final)
		if ev.final {
			c.onFinal(ctx, ev.text)
			return nil
		}
		return c.onInterim(ev.text)

	case fragmentEvent:
		c.onFragment(ctx, ev)

	case markEvent:
		if !c.markers.Remove(ev.label) {
			c.logger.Debug().Str("mark", ev.label).Msg("Acknowledgement for unknown marker")
		}

	case speakEvent:
		t := c.openTurn(ctx, "speak")
		c.feed(ctx, t, ev.text)
		c.flush(ctx, t)
		c.maybeComplete()

	case snapshotEvent:
		ev.reply <- c.snapshot()

	default:
		c.logger.Warn().Str("type", fmt.Sprintf("%T", ev)).Msg("Ignoring unknown coordinator event")
	}
	return nil
}

func (c *Coordinator) onFinal(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	t := c.openTurn(ctx, "utterance")
	c.logger.Info().Int("turn", t.index).Str("text", text).Msg("Utterance finalized, generating reply")

	turnCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	stream, err := c.gen.Generate(turnCtx, text, t.index)
	if err != nil {
		c.failTurn(t, fmt.Errorf("start generation: %w", err))
		c.maybeComplete()
		return
	}
	t.generating = true
	go c.forward(turnCtx, t.index, stream)
}

// forward relays one turn's fragments into the event loop.
func (c *Coordinator) forward(ctx context.Context, turn int, stream <-chan Fragment) {
	for fragment := range stream {
		if err := c.post(ctx, fragmentEvent{turn: turn, fragment: fragment}); err != nil {
			return
		}
		if fragment.Done || fragment.Err != nil {
			return
		}
	}
	if ctx.Err() == nil {
		_ = c.post(ctx, fragmentEvent{turn: turn, fragment: Fragment{Err: ErrIncompleteGeneration}})
	}
}

func (c *Coordinator) onFragment(ctx context.Context, ev fragmentEvent) {
	t := c.turn
	if t == nil || t.index != ev.turn || !t.generating {
		return
	}

	f := ev.fragment
	if !t.gotFragment && (f.Text != "" || f.Done) {
		t.gotFragment = true
		c.metrics.ObserveFirstFragment(time.Since(t.opened))
	}

	switch {
	case f.Err != nil:
		c.failTurn(t, f.Err)
	case f.Done:
		if f.Text != "" {
			c.feed(ctx, t, f.Text)
		}
		c.flush(ctx, t)
		t.generating = false
		t.cancel()
	default:
		c.feed(ctx, t, f.Text)
	}
	c.maybeComplete()
}

// failTurn stops producing chunks for t. Chunks already dispatched still play.
func (c *Coordinator) failTurn(t *activeTurn, err error) {
	t.generating = false
	t.failed = true
	t.cancel()
	t.span.RecordError(err)
	c.metrics.RecordError("generation_error", "coordinator")
	c.logger.Error().Err(err).Int("turn", t.index).Msg("Generation failed, closing turn early")
}

func (c *Coordinator) feed(ctx context.Context, t *activeTurn, text string) {
	for _, chunk := range t.chunker.Feed(text) {
		c.dispatch(ctx, t, chunk)
	}
}

func (c *Coordinator) flush(ctx context.Context, t *activeTurn) {
	if chunk, ok := t.chunker.Flush(); ok {
		c.dispatch(ctx, t, chunk)
	}
}

func (c *Coordinator) dispatch(ctx context.Context, t *activeTurn, chunk Chunk) {
	t.outstanding++
	c.logger.Debug().Int("turn", chunk.TurnIndex).Int("chunk", chunk.ChunkIndex).Str("text", chunk.Text).Msg("Dispatching chunk")
	// the call context, not the turn context: in-flight synthesis is not cancelled on barge-in
	c.dispatcher.Dispatch(ctx, chunk)
}

func (c *Coordinator) onResult(r SynthesisResult) error {
	if c.turn != nil && c.turn.index == r.TurnIndex {
		c.turn.outstanding--
	}
	if _, err := c.sequencer.Submit(r); err != nil {
		return err
	}
	c.maybeComplete()
	return nil
}

func (c *Coordinator) emit(r SynthesisResult) error {
	label, err := c.out.Emit(r.Audio, r.Label)
	if err != nil {
		return fmt.Errorf("emit turn %d chunk %d: %w", r.TurnIndex, r.ChunkIndex, err)
	}
	c.markers.Add(label)
	c.logger.Debug().
		Int("turn", r.TurnIndex).
		Int("chunk", r.ChunkIndex).
		Str("mark", label).
		Int("bytes", len(r.Audio)).
		Msg("Chunk emitted")
	return nil
}

func (c *Coordinator) onInterim(text string) error {
	if c.markers.Len() == 0 {
		return nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < c.opts.InterruptMinChars {
		return nil
	}

	if err := c.out.Clear(); err != nil {
		return fmt.Errorf("clear output: %w", err)
	}
	cleared := c.markers.Clear()
	discarded := c.sequencer.Abandon()
	turn := -1
	if c.turn != nil {
		turn = c.turn.index
	}
	c.closeTurn("interrupted")
	c.metrics.RecordBargeIn()
	c.logger.Info().
		Str("text", text).
		Int("turn", turn).
		Int("cleared_marks", cleared).
		Int("discarded_chunks", discarded).
		Msg("Barge-in, cleared playback")
	return nil
}

// openTurn supersedes any active turn and starts the next interaction.
func (c *Coordinator) openTurn(ctx context.Context, kind string) *activeTurn {
	c.closeTurn("superseded")

	index := c.interaction
	c.interaction++
	_, span := tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.Int("turn.index", index),
		attribute.String("turn.kind", kind),
	))
	t := &activeTurn{
		index: index,
		chunker: NewChunker(index, ChunkerOptions{
			PauseMarker:      c.opts.PauseMarker,
			SplitOnSentences: c.opts.SplitOnSentences,
		}),
		cancel: func() {},
		span:   span,
		opened: time.Now(),
	}
	if discarded := c.sequencer.Begin(index); discarded > 0 {
		c.logger.Debug().Int("turn", index).Int("discarded_chunks", discarded).Msg("Discarded buffered chunks of previous turn")
	}
	c.turn = t
	return t
}

// closeTurn ends the active turn with the given outcome, if there is one.
func (c *Coordinator) closeTurn(outcome string) {
	t := c.turn
	if t == nil {
		return
	}
	c.turn = nil
	t.cancel()
	t.span.SetAttributes(
		attribute.String("turn.outcome", outcome),
		attribute.Int("turn.chunks", t.chunker.Emitted()),
	)
	t.span.End()
	c.metrics.RecordTurn(outcome)
}

// maybeComplete closes the active turn once nothing more will be played for it.
func (c *Coordinator) maybeComplete() {
	t := c.turn
	if t == nil || t.generating || t.outstanding > 0 || c.sequencer.Pending() > 0 {
		return
	}
	outcome := "completed"
	if t.failed {
		outcome = "failed"
	}
	c.closeTurn(outcome)
}

func (c *Coordinator) snapshot() Snapshot {
	s := Snapshot{
		NextInteraction: c.interaction,
		ActiveTurn:      -1,
		PendingMarkers:  c.markers.Len(),
		BufferedResults: c.sequencer.Pending(),
	}
	if c.turn != nil {
		s.ActiveTurn = c.turn.index
		s.Generating = c.turn.generating
	}
	s.Playing = s.PendingMarkers > 0 || s.BufferedResults > 0 || (c.turn != nil && c.turn.outstanding > 0)
	return s
}

// IsStopped reports whether err means the coordinator is gone.
func IsStopped(err error) bool {
	return errors.Is(err, ErrCoordinatorStopped)
}
