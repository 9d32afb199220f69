package stt

import "context"

// Transcript is one recognition event for the caller's speech.
type Transcript struct {
	// Final is set once an utterance is complete; otherwise Text is a
	// provisional hypothesis for speech still in progress.
	Final bool
	Text  string
}

// Transcriber is a streaming speech-to-text session.
type Transcriber interface {
	// Start opens the session. Transcripts flow until Close.
	Start(ctx context.Context) error

	// SendAudio forwards caller audio (8kHz μ-law).
	SendAudio(audio []byte) error

	// Transcripts delivers interim and final transcripts.
	Transcripts() <-chan Transcript

	// Close ends the session and closes the transcript channel.
	Close() error
}
