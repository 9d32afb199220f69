package telephony

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-pipeline/internal/audio"
	"github.com/lexiqai/voice-pipeline/internal/observability"
)

// ErrStreamNotStarted is returned when output is attempted before the start event.
var ErrStreamNotStarted = errors.New("media stream not started")

// FrameWriter writes one JSON frame to the media socket. *websocket.Conn implements it.
type FrameWriter interface {
	WriteJSON(v any) error
}

// MediaStream is the outbound side of a Twilio media stream. It is the only
// writer on the socket; a mutex keeps each media frame and its mark adjacent.
type MediaStream struct {
	mu        sync.Mutex
	conn      FrameWriter
	streamSid string
	recorder  *audio.WAVRecorder
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewMediaStream wraps conn. Output fails with ErrStreamNotStarted until Bind.
func NewMediaStream(conn FrameWriter, logger zerolog.Logger, metrics *observability.Metrics) *MediaStream {
	return &MediaStream{
		conn:    conn,
		logger:  observability.ForComponent(logger, "media_stream"),
		metrics: metrics,
	}
}

// Bind sets the stream id announced by the start event.
func (m *MediaStream) Bind(streamSid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamSid = streamSid
}

// StreamSid returns the bound stream id, or "" before start.
func (m *MediaStream) StreamSid() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamSid
}

// Record copies every emitted chunk into rec. The stream closes rec on Close.
func (m *MediaStream) Record(rec *audio.WAVRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = rec
}

// Emit sends audio followed by a mark frame with a fresh label, and returns the label.
func (m *MediaStream) Emit(payload []byte, chunkLabel string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamSid == "" {
		return "", ErrStreamNotStarted
	}

	if err := m.conn.WriteJSON(mediaFrame{
		Event:     EventMedia,
		StreamSid: m.streamSid,
		Media:     mediaFramePayload{Payload: base64.StdEncoding.EncodeToString(payload)},
	}); err != nil {
		return "", fmt.Errorf("failed to write media frame: %w", err)
	}

	label := uuid.NewString()
	if err := m.conn.WriteJSON(markFrame{
		Event:     EventMark,
		StreamSid: m.streamSid,
		Mark:      MarkPayload{Name: label},
	}); err != nil {
		return "", fmt.Errorf("failed to write mark frame: %w", err)
	}

	m.metrics.RecordAudioBytes("outbound", int64(len(payload)))
	if m.recorder != nil {
		if err := m.recorder.Write(payload); err != nil {
			m.logger.Warn().Err(err).Str("path", m.recorder.Path()).Msg("Failed to record outbound audio")
		}
	}

	m.logger.Debug().
		Str("mark", label).
		Str("chunk", chunkLabel).
		Int("bytes", len(payload)).
		Msg("Sent media and mark")
	return label, nil
}

// Clear tells Twilio to drop all audio it has buffered for the stream.
func (m *MediaStream) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamSid == "" {
		return ErrStreamNotStarted
	}
	if err := m.conn.WriteJSON(clearFrame{Event: EventClear, StreamSid: m.streamSid}); err != nil {
		return fmt.Errorf("failed to write clear frame: %w", err)
	}
	m.logger.Debug().Msg("Sent clear")
	return nil
}

// Close finalizes the recording, if any.
func (m *MediaStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recorder == nil {
		return nil
	}
	rec := m.recorder
	m.recorder = nil
	if err := rec.Close(); err != nil {
		return fmt.Errorf("failed to close recording: %w", err)
	}
	m.logger.Info().Str("path", rec.Path()).Msg("Saved call recording")
	return nil
}
