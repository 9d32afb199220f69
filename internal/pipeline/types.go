// Package pipeline turns streamed generator text into ordered call audio:
// it chunks text at pause boundaries, synthesizes chunks concurrently,
// replays results in chunk order and cancels playback on barge-in.
package pipeline

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrCoordinatorStopped is returned when posting to a coordinator whose Run loop has exited.
	ErrCoordinatorStopped = errors.New("coordinator stopped")

	// ErrIncompleteGeneration marks a generator stream that closed without a completion signal.
	ErrIncompleteGeneration = errors.New("generation ended without completion signal")
)

// Chunk is a contiguous, speakable slice of one turn's text.
type Chunk struct {
	TurnIndex  int
	ChunkIndex int
	Text       string // raw slice, pause markers included
}

// Speakable returns the text to synthesize: pause markers removed and whitespace collapsed.
func (c Chunk) Speakable(pauseMarker string) string {
	text := c.Text
	if pauseMarker != "" {
		text = strings.ReplaceAll(text, pauseMarker, " ")
	}
	return strings.Join(strings.Fields(text), " ")
}

// SynthesisResult is the audio for one chunk. Audio is empty when synthesis failed.
type SynthesisResult struct {
	TurnIndex  int
	ChunkIndex int
	Audio      []byte
	Label      string
	Err        error
}

// Empty reports whether there is nothing to play for this chunk.
func (r SynthesisResult) Empty() bool {
	return len(r.Audio) == 0
}

// Fragment is one piece of generator output. The last fragment of a turn has
// Done set, or Err when generation failed.
type Fragment struct {
	Text string
	Done bool
	Err  error
}

// Synthesizer converts a chunk's text into encoded call audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, turnIndex, chunkIndex int) ([]byte, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string, turnIndex, chunkIndex int) ([]byte, error)

// Synthesize calls f.
func (f SynthesizerFunc) Synthesize(ctx context.Context, text string, turnIndex, chunkIndex int) ([]byte, error) {
	return f(ctx, text, turnIndex, chunkIndex)
}

// Generator streams the reply to one utterance. The returned channel must be
// closed after the final fragment, and sends must give up when ctx is done.
type Generator interface {
	Generate(ctx context.Context, utterance string, interactionIndex int) (<-chan Fragment, error)
}

// Output is the call's media transport.
type Output interface {
	// Emit sends audio followed by a marker and returns the marker label.
	Emit(audio []byte, chunkLabel string) (string, error)
	// Clear asks the far end to drop any audio it has queued.
	Clear() error
}
