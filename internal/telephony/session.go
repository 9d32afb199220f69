package telephony

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-pipeline/internal/audio"
	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/generator"
	"github.com/lexiqai/voice-pipeline/internal/observability"
	"github.com/lexiqai/voice-pipeline/internal/pipeline"
	"github.com/lexiqai/voice-pipeline/internal/stt"
)

// CallSession runs one media stream: it feeds caller audio to the
// transcriber, routes transcripts and marks to the turn coordinator and lets
// the coordinator speak through the stream.
type CallSession struct {
	conn        *websocket.Conn
	cfg         *config.Config
	prompts     generator.Prompts
	stream      *MediaStream
	coordinator *pipeline.Coordinator
	transcriber stt.Transcriber
	recorder    CallPlacer

	mu        sync.RWMutex
	callSid   string
	streamSid string
	started   bool

	correlationID string
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

func newCallSession(conn *websocket.Conn, s *Server) *CallSession {
	correlationID := observability.NewCorrelationID()
	base := s.base.With().Str("correlation_id", correlationID).Logger()
	metrics := observability.NewCallMetrics(correlationID)
	prompts := s.prompts.Get()

	stream := NewMediaStream(conn, base, metrics)
	gen := s.newGenerator(prompts, base)
	coordinator := pipeline.NewCoordinator(pipeline.Options{
		PauseMarker:       s.cfg.PauseMarker,
		SplitOnSentences:  s.cfg.SplitOnSentences,
		InterruptMinChars: s.cfg.InterruptMinChars,
		SynthesisTimeout:  s.cfg.SynthesisTimeout(),
		Logger:            base,
		Metrics:           metrics,
	}, gen, s.synth, stream)

	return &CallSession{
		conn:          conn,
		cfg:           s.cfg,
		prompts:       prompts,
		stream:        stream,
		coordinator:   coordinator,
		transcriber:   s.newTranscriber(base, metrics),
		recorder:      s.placer,
		correlationID: correlationID,
		logger:        observability.ForComponent(base, "session"),
		metrics:       metrics,
	}
}

// Run serves the call until the stream stops, the socket fails or ctx is done.
func (s *CallSession) Run(ctx context.Context) error {
	s.metrics.RecordCallStart()
	defer s.metrics.RecordCallEnd()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.coordinator.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.readLoop(ctx, g)
	})
	g.Go(func() error {
		<-ctx.Done()
		// unblocks ReadMessage
		s.conn.Close()
		return nil
	})

	err := g.Wait()

	if cerr := s.transcriber.Close(); cerr != nil {
		s.logger.Warn().Err(cerr).Msg("Error closing transcriber")
	}
	if cerr := s.stream.Close(); cerr != nil {
		s.logger.Warn().Err(cerr).Msg("Error closing media stream")
	}

	if err != nil {
		s.metrics.RecordError("session_error", "telephony")
		s.logger.Error().Err(err).Str("call_sid", s.CallSid()).Msg("Call session failed")
		return err
	}
	s.logger.Info().Str("call_sid", s.CallSid()).Msg("Call session ended")
	return nil
}

func (s *CallSession) readLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read media stream: %w", err)
		}

		ev, err := ParseEvent(data)
		if err != nil {
			s.metrics.RecordError("malformed_event", "telephony")
			s.logger.Warn().Err(err).Msg("Ignoring malformed media stream event")
			continue
		}

		switch ev.Event {
		case EventConnected:
			s.logger.Debug().Str("protocol", ev.Protocol).Msg("Media stream connected")

		case EventStart:
			if err := s.onStart(ctx, g, ev); err != nil {
				return err
			}

		case EventMedia:
			s.onMedia(ev)

		case EventMark:
			if err := s.coordinator.HandleMark(ctx, ev.Mark.Name); err != nil {
				return stopped(err)
			}

		case EventStop:
			s.logger.Info().Str("call_sid", ev.CallSid()).Msg("Media stream stopped")
			return nil

		case EventDTMF:
			if ev.DTMF != nil {
				s.logger.Info().Str("digit", ev.DTMF.Digit).Msg("DTMF received")
			}

		default:
			s.logger.Debug().Str("event", ev.Event).Msg("Unknown media stream event")
		}
	}
}

func (s *CallSession) onStart(ctx context.Context, g *errgroup.Group, ev *Event) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn().Str("stream_sid", ev.StreamSid).Msg("Duplicate start event ignored")
		return nil
	}
	s.started = true
	s.callSid = ev.Start.CallSid
	s.streamSid = ev.StreamSid
	s.mu.Unlock()

	s.logger = s.logger.With().
		Str("call_sid", ev.Start.CallSid).
		Str("stream_sid", ev.StreamSid).
		Logger()
	s.logger.Info().
		Interface("custom_parameters", ev.Start.CustomParameters).
		Str("encoding", ev.Start.MediaFormat.Encoding).
		Msg("Call started")

	s.stream.Bind(ev.StreamSid)
	if s.cfg.RecordingDir != "" {
		s.startLocalRecording()
	}

	if err := s.transcriber.Start(ctx); err != nil {
		s.metrics.RecordError("stt_start_error", "telephony")
		return fmt.Errorf("failed to start transcription: %w", err)
	}
	g.Go(func() error {
		return s.forwardTranscripts(ctx)
	})

	if s.cfg.RecordingEnabled && s.recorder != nil {
		callSid := ev.Start.CallSid
		go func() {
			if err := s.recorder.StartRecording(ctx, callSid); err != nil {
				s.logger.Error().Err(err).Msg("Failed to start call recording")
			}
		}()
	}

	if s.prompts.Greeting != "" {
		if err := s.coordinator.Speak(ctx, s.prompts.Greeting); err != nil {
			return stopped(err)
		}
	}
	return nil
}

func (s *CallSession) startLocalRecording() {
	if err := os.MkdirAll(s.cfg.RecordingDir, 0o755); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to create recording directory")
		return
	}
	name := s.CallSid()
	if name == "" {
		name = s.StreamSid()
	}
	path := filepath.Join(s.cfg.RecordingDir, name+".wav")
	rec, err := audio.NewWAVRecorder(path, audio.TwilioSampleRate)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to open recording")
		return
	}
	s.stream.Record(rec)
}

func (s *CallSession) onMedia(ev *Event) {
	data, err := ev.Audio()
	if err != nil {
		s.metrics.RecordError("malformed_event", "telephony")
		s.logger.Warn().Err(err).Msg("Ignoring undecodable media payload")
		return
	}
	if !s.Started() {
		return
	}
	if err := s.transcriber.SendAudio(data); err != nil {
		s.logger.Debug().Err(err).Msg("Dropped caller audio")
	}
}

func (s *CallSession) forwardTranscripts(ctx context.Context) error {
	transcripts := s.transcriber.Transcripts()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-transcripts:
			if !ok {
				return nil
			}
			if err := s.coordinator.HandleTranscript(ctx, t.Final, t.Text); err != nil {
				return stopped(err)
			}
		}
	}
}

// stopped maps a failed post to the coordinator to the session result. The
// coordinator's own error, if any, is reported by its Run goroutine.
func stopped(err error) error {
	if pipeline.IsStopped(err) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// CallSid returns the call id once the stream has started.
func (s *CallSession) CallSid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callSid
}

// StreamSid returns the stream id once the stream has started.
func (s *CallSession) StreamSid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSid
}

// Started reports whether the start event has been handled.
func (s *CallSession) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Snapshot exposes the coordinator's turn state.
func (s *CallSession) Snapshot(ctx context.Context) (pipeline.Snapshot, error) {
	return s.coordinator.Snapshot(ctx)
}
