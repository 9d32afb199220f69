package stt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/observability"
	"github.com/lexiqai/voice-pipeline/internal/resilience"
)

// ErrNotActive is returned when audio is sent outside an open session.
var ErrNotActive = errors.New("deepgram session is not active")

// callbackHandler embeds the SDK's default handler and overrides the events
// the pipeline cares about.
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	client *DeepgramClient
}

func (h *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	h.client.handleMessage(msg)
	return nil
}

func (h *callbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	h.client.handleUtteranceEnd()
	return nil
}

func (h *callbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	h.client.handleError(er)
	return nil
}

// DeepgramClient streams caller audio to Deepgram live transcription.
type DeepgramClient struct {
	config         *config.Config
	client         *listenClient.WSCallback
	transcripts    chan Transcript
	aggregator     Aggregator
	aggMu          sync.Mutex
	mu             sync.RWMutex
	isActive       bool
	reconnecting   bool
	closed         bool
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
	metrics        *observability.Metrics
}

// NewDeepgramClient creates a client for one call.
func NewDeepgramClient(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) *DeepgramClient {
	return &DeepgramClient{
		config:      cfg,
		transcripts: make(chan Transcript, 100),
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger:  observability.ForComponent(logger, "stt"),
		metrics: metrics,
	}
}

func (d *DeepgramClient) options() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: strconv.Itoa(d.config.DeepgramUtteranceEndMs),
		Endpointing:    strconv.Itoa(d.config.DeepgramEndpointing),
		VadEvents:      true,
		Encoding:       "mulaw",
		Channels:       1,
		SampleRate:     8000,
	}
}

// Start opens the live transcription websocket.
func (d *DeepgramClient) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.ctx == nil {
		d.ctx, d.cancel = context.WithCancel(ctx)
	}
	d.mu.Unlock()
	return d.connect()
}

func (d *DeepgramClient) connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrNotActive
	}
	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	callback := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		client:                 d,
	}
	client, err := listenClient.NewWSUsingCallback(d.ctx, d.config.DeepgramAPIKey, nil, d.options(), callback)
	if err != nil {
		d.recordFailure()
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		d.recordFailure()
		return fmt.Errorf("failed to connect to Deepgram")
	}

	d.client = client
	d.isActive = true
	d.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram live transcription started")
	return nil
}

func (d *DeepgramClient) recordFailure() {
	d.circuitBreaker.RecordResult(false)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	observability.IncrementCircuitBreakerFailures("deepgram")
	d.metrics.RecordError("stt_error", "stt")
}

func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := msg.Channel.Alternatives[0].Transcript

	d.aggMu.Lock()
	out := d.aggregator.Result(text, msg.IsFinal, msg.SpeechFinal)
	d.aggMu.Unlock()

	for _, t := range out {
		d.deliver(t)
	}
}

func (d *DeepgramClient) handleUtteranceEnd() {
	d.aggMu.Lock()
	t, ok := d.aggregator.UtteranceEnd()
	d.aggMu.Unlock()

	if ok {
		d.deliver(t)
	}
}

func (d *DeepgramClient) handleError(er *msginterfaces.ErrorResponse) {
	d.logger.Error().
		Str("type", er.Type).
		Str("code", er.ErrCode).
		Str("description", er.Description).
		Msg("Deepgram error")
	d.recordFailure()

	d.mu.Lock()
	d.isActive = false
	closed := d.closed
	d.mu.Unlock()

	if !closed {
		go d.attemptReconnect()
	}
}

// deliver hands a transcript to the reader without blocking the SDK's read loop.
func (d *DeepgramClient) deliver(t Transcript) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.transcripts <- t:
		d.logger.Debug().Bool("final", t.Final).Str("text", t.Text).Msg("Transcript")
	default:
		d.logger.Warn().Bool("final", t.Final).Msg("Transcript channel full, dropping transcript")
	}
}

// SendAudio forwards a frame of caller audio.
func (d *DeepgramClient) SendAudio(audio []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return ErrNotActive
		}
		if _, err := client.Write(audio); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
		return err
	}
	d.metrics.RecordAudioBytes("inbound", int64(len(audio)))
	return nil
}

func (d *DeepgramClient) attemptReconnect() {
	d.mu.Lock()
	if d.closed || d.reconnecting || d.ctx == nil || d.ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	d.reconnecting = true
	d.isActive = false
	old := d.client
	d.client = nil
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.reconnecting = false
		d.mu.Unlock()
	}()

	if old != nil {
		old.Stop()
	}

	cfg := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
	if err := resilience.Reconnect(d.ctx, d.connect, cfg, d.logger); err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram client")
		return
	}
	d.logger.Info().Msg("Reconnected Deepgram client")
}

// Transcripts returns the transcript channel. It is closed by Close.
func (d *DeepgramClient) Transcripts() <-chan Transcript {
	return d.transcripts
}

// Close finishes the session. It is safe to call more than once.
func (d *DeepgramClient) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	if d.client != nil {
		d.client.Finish()
		d.client = nil
	}
	d.isActive = false
	close(d.transcripts)

	d.logger.Info().Msg("Deepgram live transcription stopped")
	return nil
}

// IsActive reports whether the websocket is open.
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
